package imagecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	return mock
}

func TestKey(t *testing.T) {
	a := Key("http://localhost:5000/uploads/plasa-page-1.jpg")
	b := Key("http://localhost:5000/uploads/plasa-page-1.jpg?v=2")
	c := Key("http://localhost:5000/uploads/plasa-page-2.jpg")

	assert.Equal(t, a, b, "query string must not change the key")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len("img_")+40)
	assert.Regexp(t, `^img_[0-9a-f]{40}$`, a)
}

// storeFactories lets every store run the same behavioural tests.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": func() Store {
			mr := miniredis.RunT(t)
			return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "kiosk:img:", 0)
		},
	}
}

func TestCache_TTLBoundary(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mock := newMockClock()
			store := factory()
			cache := New(store, WithClock(mock), WithDuration(DefaultDuration))
			t.Cleanup(func() { _ = cache.Close() })

			url := "http://localhost:5000/uploads/doc/page-00001.jpg"
			require.NoError(t, cache.Put(ctx, url, []byte("jpeg-bytes"), "image/jpeg"))

			mock.Add(DefaultDuration - time.Millisecond)
			e, ok := cache.Get(ctx, url)
			require.True(t, ok, "entry must be valid just before expiry")
			assert.Equal(t, []byte("jpeg-bytes"), e.Data)
			assert.Equal(t, "image/jpeg", e.ContentType)
			assert.Equal(t, url, e.URL)

			mock.Add(2 * time.Millisecond)
			_, ok = cache.Get(ctx, url)
			assert.False(t, ok, "entry must be gone just after expiry")

			_, err := store.Get(ctx, Key(url))
			assert.True(t, errors.Is(err, ErrMiss), "expired entry is deleted on read")
		})
	}
}

func TestCache_PutReplacesEntry(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cache := New(factory(), WithClock(newMockClock()))
			t.Cleanup(func() { _ = cache.Close() })

			url := "http://example.test/a.jpg"
			require.NoError(t, cache.Put(ctx, url, []byte("one"), "image/jpeg"))
			require.NoError(t, cache.Put(ctx, url+"?bust=1", []byte("two-two"), "image/png"))

			e, ok := cache.Get(ctx, url)
			require.True(t, ok)
			assert.Equal(t, []byte("two-two"), e.Data)
			assert.Equal(t, 7, e.Size)

			stats, err := cache.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Count: 1, TotalSize: 7}, stats)

			require.NoError(t, cache.Remove(ctx, url))
			_, ok = cache.Get(ctx, url)
			assert.False(t, ok)
		})
	}
}

func TestCache_CleanupRemovesOnlyExpired(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mock := newMockClock()
			cache := New(factory(), WithClock(mock), WithDuration(time.Hour))
			t.Cleanup(func() { _ = cache.Close() })

			require.NoError(t, cache.Put(ctx, "http://x/old.jpg", []byte("old"), "image/jpeg"))
			mock.Add(50 * time.Minute)
			require.NoError(t, cache.Put(ctx, "http://x/new.jpg", []byte("new"), "image/jpeg"))
			mock.Add(20 * time.Minute)

			removed, err := cache.Cleanup(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, ok := cache.Get(ctx, "http://x/new.jpg")
			assert.True(t, ok)

			require.NoError(t, cache.Clear(ctx))
			stats, err := cache.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.Count)
		})
	}
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) Get(context.Context, string) (*Entry, error) {
	return nil, errors.New("disk on fire")
}

func (f *failingStore) List(context.Context) ([]Meta, error) { return nil, nil }

func TestCache_StoreFailureIsAMiss(t *testing.T) {
	cache := New(&failingStore{MemoryStore: NewMemoryStore()})
	_, ok := cache.Get(context.Background(), "http://x/a.jpg")
	assert.False(t, ok)
}

func TestCache_RunCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := newMockClock()
	store := NewMemoryStore()
	cache := New(store, WithClock(mock), WithDuration(time.Minute))
	require.NoError(t, cache.Put(ctx, "http://x/a.jpg", []byte("a"), "image/jpeg"))

	done := make(chan error, 1)
	go func() { done <- cache.RunCleanup(ctx, 10*time.Minute) }()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Minute)
		metas, _ := store.List(ctx)
		return len(metas) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
