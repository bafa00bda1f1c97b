package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/displayagent/internal/backend"
	"github.com/Lllllllleong/displayagent/internal/config"
	"github.com/Lllllllleong/displayagent/internal/imagecache"
	"github.com/Lllllllleong/displayagent/internal/kiosk"
	"github.com/Lllllllleong/displayagent/internal/ledger"
	"github.com/Lllllllleong/displayagent/internal/livesync"
	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/raster"
	"github.com/Lllllllleong/displayagent/internal/viewer"
)

// Agent wires the display pipeline: live sync feeds the slots, the slots
// rasterize through the backend, and the kiosk server shows the result.
type Agent struct {
	clock      clock.Clock
	backend    *backend.Client
	images     *imagecache.Cache
	rasterizer *raster.Rasterizer
	documents  *livesync.DocumentStore
	officers   *livesync.OfficerStore
	syncer     *livesync.Syncer
	broker     *kiosk.Broker
	display    *viewer.Display
	server     *kiosk.Server

	mu      sync.Mutex
	cfg     *config.Config
	remote  models.DisplaySettings
	closers []func() error
}

// NewBackendClient builds the backend client from configuration.
func NewBackendClient(cfg *config.Config) *backend.Client {
	resolver := backend.NewResolver(cfg.Backend.URL, cfg.Backend.Host, cfg.Backend.Port)
	bc := backend.DefaultConfig()
	bc.Timeout = cfg.Backend.Timeout.Duration
	bc.RetryCount = cfg.Backend.RetryCount
	bc.UploadRate = cfg.Backend.UploadRate
	return backend.NewClient(resolver, bc)
}

// OpenImageStore opens the configured image cache backend.
func OpenImageStore(ctx context.Context, cfg *config.Config) (imagecache.Store, error) {
	switch cfg.Cache.Driver {
	case "memory":
		return imagecache.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		return imagecache.NewRedisStore(client, cfg.Cache.RedisPrefix, cfg.Cache.TTL.Duration), nil
	default:
		store, err := imagecache.NewSQLiteStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open image cache: %w", err)
		}
		return store, nil
	}
}

// NewRasterizer builds a rasterizer with the configured sink and ledger. The
// returned closer releases any cloud clients.
func NewRasterizer(ctx context.Context, cfg *config.Config, client *backend.Client, cache raster.PageCache) (*raster.Rasterizer, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	var sink raster.Sink = raster.NewBackendSink(client)
	var objects raster.ObjectReader
	if cfg.Render.Sink == "gcs" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		closers = append(closers, storageClient.Close)
		gcsSink := raster.NewGCSSink(storageClient, cfg.Render.Bucket, cfg.Render.PublicBase)
		sink, objects = gcsSink, gcsSink
	}

	var renders ledger.Ledger = ledger.NewMemory()
	if cfg.Render.Ledger == "firestore" {
		firestoreClient, err := ledger.NewFirestoreClient(ctx, cfg.Render.ProjectID)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		closers = append(closers, firestoreClient.Close)
		renders = ledger.NewFirestore(firestoreClient, cfg.Render.Collection)
	}

	opts := raster.DefaultOptions()
	opts.MaxDim = cfg.Render.MaxDimension
	opts.MaxScale = cfg.Render.MaxScale
	opts.Quality = cfg.Render.Quality
	opts.PageTimeout = cfg.Render.PageTimeout.Duration
	opts.PagePause = cfg.Render.PageDelay.Duration

	r := raster.New(raster.Deps{
		Fetcher: client,
		Objects: objects,
		Sink:    sink,
		Checker: client,
		Images:  client,
		Ledger:  renders,
		Cache:   cache,
	}, opts)
	slog.Info("Rasterizer initialized.", "sink", cfg.Render.Sink, "ledger", cfg.Render.Ledger)
	return r, closeAll, nil
}

func NewAgent(ctx context.Context, cfg *config.Config) (*Agent, error) {
	a := &Agent{clock: clock.New(), cfg: cfg, remote: models.DefaultDisplaySettings()}
	a.backend = NewBackendClient(cfg)

	store, err := OpenImageStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.images = imagecache.New(store, imagecache.WithDuration(cfg.Cache.TTL.Duration))
	a.closers = append(a.closers, a.images.Close)

	r, closeRaster, err := NewRasterizer(ctx, cfg, a.backend, a.images)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.rasterizer = r
	a.closers = append(a.closers, closeRaster)

	a.broker = kiosk.NewBroker(a.clock)
	slots := []*viewer.Slot{
		a.newSlot(models.DocumentPlan, viewer.PagesLoader{Rasterizer: r}),
		a.newSlot(models.DocumentRoster, viewer.FirstPageLoader{Rasterizer: r}),
		a.newSlot(models.DocumentMenu, viewer.FirstPageLoader{Rasterizer: r}),
	}
	a.display = viewer.NewDisplay(a.clock, a.effectiveSettings(), slots...)
	sources := []string{a.backend.Resolver().Base()}
	if cfg.Render.Sink == "gcs" {
		sources = append(sources, raster.PublicBase(cfg.Render.Bucket, cfg.Render.PublicBase))
	}
	a.server = kiosk.NewServer(a.display, a.broker, a.images, a.backend, sources...)

	a.documents = livesync.NewDocumentStore()
	a.officers = livesync.NewOfficerStore()
	a.syncer = livesync.NewSyncer(a.backend, a.documents, a.officers, livesync.DefaultOptions())
	a.documents.Subscribe(a.display.ApplyDocuments)
	a.officers.Subscribe(a.broker.PublishOfficers)

	slog.Info("Display agent initialized.", "backend", a.backend.Resolver().Base(), "kioskAddr", cfg.Kiosk.Addr)
	return a, nil
}

func (a *Agent) newSlot(name models.DocumentType, loader viewer.Loader) *viewer.Slot {
	return viewer.NewSlot(viewer.SlotConfig{
		Name:        name,
		Loader:      loader,
		Publisher:   a.broker,
		Clock:       a.clock,
		SettleDelay: a.cfg.Display.SettleDelay.Duration,
	})
}

// Run blocks until ctx is done or a component fails.
func (a *Agent) Run(ctx context.Context) error {
	a.refreshSettings(ctx)

	a.mu.Lock()
	addr := a.cfg.Kiosk.Addr
	cleanupEvery := a.cfg.Cache.CleanupInterval.Duration
	a.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx, addr) })
	g.Go(func() error { return a.syncer.Run(ctx) })
	g.Go(func() error { return a.display.Run(ctx) })
	g.Go(func() error { return a.images.RunCleanup(ctx, cleanupEvery) })
	g.Go(func() error { return a.settingsLoop(ctx) })

	err := g.Wait()
	a.display.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Agent) settingsLoop(ctx context.Context) error {
	a.mu.Lock()
	every := a.cfg.Display.SettingsRefresh.Duration
	a.mu.Unlock()
	if every <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := a.clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.refreshSettings(ctx)
		}
	}
}

func (a *Agent) refreshSettings(ctx context.Context) {
	s, err := a.backend.DisplaySettings(ctx)
	if err != nil {
		slog.Warn("Failed to fetch display settings, keeping current values.", "error", err)
		return
	}
	a.mu.Lock()
	a.remote = s
	a.mu.Unlock()
	a.applySettings()
}

// Reconfigure applies the parts of a reloaded configuration that can change
// at runtime.
func (a *Agent) Reconfigure(cfg *config.Config) {
	a.mu.Lock()
	a.cfg.Display.ScrollSpeed = cfg.Display.ScrollSpeed
	a.mu.Unlock()
	a.applySettings()
}

func (a *Agent) applySettings() {
	s := a.effectiveSettings()
	a.display.ApplySettings(s)
	a.broker.PublishSettings(s)
}

// effectiveSettings layers the local scroll speed override over the admin settings.
func (a *Agent) effectiveSettings() models.DisplaySettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.remote
	switch speed := models.ScrollSpeed(a.cfg.Display.ScrollSpeed); speed {
	case models.ScrollSlow, models.ScrollNormal, models.ScrollFast:
		s.ScrollSpeed = speed
	}
	return s.Sanitized()
}

func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
