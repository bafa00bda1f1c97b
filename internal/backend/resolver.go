// Package backend talks to the admin backend: URL resolution, collection
// fetches, page cache checks and page uploads.
package backend

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	absoluteWithScheme = regexp.MustCompile(`(?i)^https?://`)
	specialProtocol    = regexp.MustCompile(`(?i)^(?:blob|data):`)
)

const defaultScheme = "http:"

// Resolver turns backend-relative paths and loopback URLs into URLs the
// agent can reach.
type Resolver struct {
	base string
}

// NewResolver builds a resolver. An explicit base URL wins (a missing scheme
// becomes http); otherwise the base is http://<host>:<port> with loopback
// hosts normalized to localhost.
func NewResolver(explicit, host, port string) *Resolver {
	return &Resolver{base: resolveBase(strings.TrimSpace(explicit), strings.TrimSpace(host), strings.TrimSpace(port))}
}

func resolveBase(explicit, host, port string) string {
	if explicit != "" {
		if absoluteWithScheme.MatchString(explicit) {
			return stripTrailingSlashes(explicit)
		}
		return defaultScheme + "//" + stripTrailingSlashes(explicit)
	}
	if host == "" {
		return ""
	}
	if isLoopback(host) {
		host = "localhost"
	}
	if port != "" {
		host += ":" + port
	}
	return defaultScheme + "//" + host
}

// Base returns the resolved origin, or "" when none could be derived.
func (r *Resolver) Base() string {
	return r.base
}

// Resolve maps path onto the backend.
//   - data: and blob: URLs pass through
//   - absolute URLs pointing at loopback are rebased, others are untouched
//   - relative paths are joined to the base
func (r *Resolver) Resolve(path string) string {
	if path == "" || specialProtocol.MatchString(path) {
		return path
	}
	if absoluteWithScheme.MatchString(path) {
		u, err := url.Parse(path)
		if err != nil {
			return path
		}
		if isLoopback(u.Hostname()) && r.base != "" {
			rest := u.EscapedPath()
			if u.RawQuery != "" {
				rest += "?" + u.RawQuery
			}
			if u.Fragment != "" {
				rest += "#" + u.EscapedFragment()
			}
			return join(r.base, rest)
		}
		return u.String()
	}
	if r.base == "" {
		return path
	}
	return join(r.base, path)
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}

func stripTrailingSlashes(v string) string {
	return strings.TrimRight(v, "/")
}

func join(base, path string) string {
	base = stripTrailingSlashes(base)
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
