package raster

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// Fetcher downloads document bytes; backend.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
	FetchViaProxy(ctx context.Context, rawURL string) ([]byte, error)
}

// ObjectReader reads gs:// document sources.
type ObjectReader interface {
	ReadObject(ctx context.Context, rawURL string) ([]byte, error)
}

// resolver is implemented by fetchers that understand backend-relative URLs.
type resolver interface {
	Resolve(path string) string
}

// fetchDocument obtains the bytes behind rawURL: data URLs are decoded in
// place, local files are read from disk, gs:// objects come from objects, and
// anything else is fetched directly and then through the backend proxy.
func fetchDocument(ctx context.Context, f Fetcher, objects ObjectReader, rawURL string) ([]byte, error) {
	lower := strings.ToLower(rawURL)
	switch {
	case rawURL == "":
		return nil, fmt.Errorf("%w: empty url", ErrFetch)
	case strings.HasPrefix(lower, "data:"):
		data, err := decodeDataURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return data, nil
	case strings.HasPrefix(lower, "blob:"):
		return nil, fmt.Errorf("%w: blob urls are local to the browser that created them", ErrFetch)
	case strings.HasPrefix(lower, "gs://"):
		if objects == nil {
			return nil, fmt.Errorf("%w: no object store configured for %s", ErrFetch, rawURL)
		}
		data, err := objects.ReadObject(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return data, nil
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return readLocal(u.Path)
	}

	// Bare paths are only treated as local files when one exists; otherwise
	// they are backend-relative, e.g. /uploads/plan.pdf.
	if !strings.Contains(rawURL, "://") {
		if info, err := os.Stat(rawURL); err == nil && !info.IsDir() {
			return readLocal(rawURL)
		}
	}

	data, _, directErr := f.Fetch(ctx, rawURL)
	if directErr == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	target := rawURL
	if r, ok := f.(resolver); ok {
		target = r.Resolve(rawURL)
	}
	slog.Warn("Direct fetch failed, retrying through proxy.", "url", rawURL, "error", directErr)
	data, proxyErr := f.FetchViaProxy(ctx, target)
	if proxyErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, errors.Join(directErr, proxyErr))
	}
	return data, nil
}

func readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return data, nil
}

// decodeDataURL decodes data:[<mediatype>][;base64],<payload>.
func decodeDataURL(raw string) ([]byte, error) {
	header, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url")
	}
	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed base64 payload: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data url payload: %w", err)
	}
	return []byte(s), nil
}
