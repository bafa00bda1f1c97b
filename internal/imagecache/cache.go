// Package imagecache keeps rendered page images and proxied kiosk images
// close to the display, with timestamp-based expiry.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDuration is how long an entry stays valid after it was written.
const DefaultDuration = 7 * 24 * time.Hour

// ErrMiss is returned by a Store when the key is absent.
var ErrMiss = errors.New("cache miss")

// Entry is one cached image. Entries are only ever replaced as a whole.
type Entry struct {
	Key         string
	URL         string
	Data        []byte
	ContentType string
	Timestamp   time.Time
	Size        int
}

// Meta is an Entry without its payload.
type Meta struct {
	Key       string
	URL       string
	Timestamp time.Time
	Size      int
}

// Store is the persistence behind a Cache.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Meta, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats summarizes the cache contents.
type Stats struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"totalSize"`
}

// Key derives the storage key of a URL. The query string and fragment are
// ignored so signed or cache-busted URLs share an entry.
func Key(url string) string {
	base := url
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	sum := sha256.Sum256([]byte(base))
	return "img_" + hex.EncodeToString(sum[:])[:40]
}

// Cache is a best-effort image cache. Store failures are logged and reported
// as misses; they never reach the caller as errors on the read path.
type Cache struct {
	store    Store
	clock    clock.Clock
	duration time.Duration

	initOnce sync.Once
}

type Option func(*Cache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithDuration overrides DefaultDuration.
func WithDuration(d time.Duration) Option {
	return func(cache *Cache) {
		if d > 0 {
			cache.duration = d
		}
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		clock:    clock.New(),
		duration: DefaultDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// init drops expired entries once, on first use.
func (c *Cache) init(ctx context.Context) {
	c.initOnce.Do(func() {
		if n, err := c.Cleanup(ctx); err != nil {
			slog.Warn("Initial image cache cleanup failed.", "error", err)
		} else if n > 0 {
			slog.Info("Removed expired image cache entries.", "removed", n)
		}
	})
}

func (c *Cache) valid(ts time.Time) bool {
	return c.clock.Now().Sub(ts) <= c.duration
}

// Get returns the cached bytes of url. Expired entries are deleted on the way out.
func (c *Cache) Get(ctx context.Context, url string) (*Entry, bool) {
	c.init(ctx)
	key := Key(url)
	e, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			slog.Warn("Image cache read failed, treating as miss.", "key", key, "error", err)
		}
		return nil, false
	}
	if !c.valid(e.Timestamp) {
		if err := c.store.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete expired image cache entry.", "key", key, "error", err)
		}
		return nil, false
	}
	return e, true
}

// Put stores data for url, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, url string, data []byte, contentType string) error {
	c.init(ctx)
	e := &Entry{
		Key:         Key(url),
		URL:         url,
		Data:        data,
		ContentType: contentType,
		Timestamp:   c.clock.Now(),
		Size:        len(data),
	}
	if err := c.store.Put(ctx, e); err != nil {
		return fmt.Errorf("failed to cache %s: %w", url, err)
	}
	return nil
}

// Remove deletes the entry of url if present.
func (c *Cache) Remove(ctx context.Context, url string) error {
	if err := c.store.Delete(ctx, Key(url)); err != nil && !errors.Is(err, ErrMiss) {
		return fmt.Errorf("failed to remove %s: %w", url, err)
	}
	return nil
}

// Cleanup deletes every expired entry and returns how many were removed.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	metas, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}
	removed := 0
	for _, m := range metas {
		if c.valid(m.Timestamp) {
			continue
		}
		if err := c.store.Delete(ctx, m.Key); err != nil && !errors.Is(err, ErrMiss) {
			return removed, fmt.Errorf("failed to delete %s: %w", m.Key, err)
		}
		removed++
	}
	return removed, nil
}

// Stats counts the valid entries and their total size.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	metas, err := c.store.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list cache entries: %w", err)
	}
	var s Stats
	for _, m := range metas {
		if !c.valid(m.Timestamp) {
			continue
		}
		s.Count++
		s.TotalSize += int64(m.Size)
	}
	return s, nil
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// RunCleanup removes expired entries every interval until ctx is done.
func (c *Cache) RunCleanup(ctx context.Context, interval time.Duration) error {
	c.init(ctx)
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.Cleanup(ctx)
			if err != nil {
				slog.Warn("Image cache cleanup failed.", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Removed expired image cache entries.", "removed", n)
			}
		}
	}
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
