// Package config loads the agent configuration: built-in defaults, then an
// optional TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Lllllllleong/displayagent/internal/gcp"
)

// Duration reads TOML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Backend struct {
	URL        string   `toml:"url"`
	Host       string   `toml:"host"`
	Port       string   `toml:"port"`
	Timeout    Duration `toml:"timeout"`
	RetryCount int      `toml:"retry_count"`
	UploadRate float64  `toml:"upload_rate"`
}

type Kiosk struct {
	Addr string `toml:"addr"`
}

type Cache struct {
	// Driver is sqlite, redis or memory.
	Driver          string   `toml:"driver"`
	Dir             string   `toml:"dir"`
	RedisAddr       string   `toml:"redis_addr"`
	RedisPrefix     string   `toml:"redis_prefix"`
	TTL             Duration `toml:"ttl"`
	CleanupInterval Duration `toml:"cleanup_interval"`
}

type Render struct {
	MaxDimension int      `toml:"max_dimension"`
	MaxScale     float64  `toml:"max_scale"`
	Quality      int      `toml:"quality"`
	PageTimeout  Duration `toml:"page_timeout"`
	PageDelay    Duration `toml:"page_delay"`
	// Sink is backend or gcs.
	Sink       string `toml:"sink"`
	Bucket     string `toml:"bucket"`
	PublicBase string `toml:"public_base"`
	// Ledger is memory or firestore.
	Ledger     string `toml:"ledger"`
	ProjectID  string `toml:"project_id"`
	Collection string `toml:"collection"`
}

type Display struct {
	SettleDelay     Duration `toml:"settle_delay"`
	SettingsRefresh Duration `toml:"settings_refresh"`
	// ScrollSpeed overrides the admin setting when set.
	ScrollSpeed string `toml:"scroll_speed"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Backend Backend `toml:"backend"`
	Kiosk   Kiosk   `toml:"kiosk"`
	Cache   Cache   `toml:"cache"`
	Render  Render  `toml:"render"`
	Display Display `toml:"display"`
	Log     Log     `toml:"log"`
}

func Default() *Config {
	return &Config{
		Backend: Backend{
			Host:       "localhost",
			Port:       "3001",
			Timeout:    Duration{30 * time.Second},
			RetryCount: 2,
			UploadRate: 4,
		},
		Kiosk: Kiosk{Addr: ":8090"},
		Cache: Cache{
			Driver:          "sqlite",
			Dir:             defaultDataDir(),
			RedisPrefix:     "display:img:",
			TTL:             Duration{7 * 24 * time.Hour},
			CleanupInterval: Duration{time.Hour},
		},
		Render: Render{
			MaxDimension: 2048,
			MaxScale:     1.5,
			Quality:      85,
			PageTimeout:  Duration{30 * time.Second},
			PageDelay:    Duration{200 * time.Millisecond},
			Sink:         "backend",
			Ledger:       "memory",
			Collection:   "render_records",
		},
		Display: Display{
			SettleDelay:     Duration{time.Second},
			SettingsRefresh: Duration{5 * time.Minute},
		},
		Log: Log{Level: "info"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + string(os.PathSeparator) + "display-agent"
	}
	return ".display-agent"
}

// Load reads path when it is non-empty and exists, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("Config file not found, using defaults.", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.URL = gcp.GetEnv("DISPLAY_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.Host = gcp.GetEnv("DISPLAY_BACKEND_HOST", cfg.Backend.Host)
	cfg.Backend.Port = gcp.GetEnv("DISPLAY_BACKEND_PORT", cfg.Backend.Port)
	cfg.Kiosk.Addr = gcp.GetEnv("DISPLAY_KIOSK_ADDR", cfg.Kiosk.Addr)
	cfg.Cache.Driver = gcp.GetEnv("DISPLAY_CACHE_DRIVER", cfg.Cache.Driver)
	cfg.Cache.Dir = gcp.GetEnv("DISPLAY_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.RedisAddr = gcp.GetEnv("DISPLAY_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Render.Sink = gcp.GetEnv("DISPLAY_PAGE_SINK", cfg.Render.Sink)
	cfg.Render.Bucket = gcp.GetEnv("GCS_BUCKET", cfg.Render.Bucket)
	cfg.Render.PublicBase = gcp.GetEnv("DISPLAY_PUBLIC_BASE", cfg.Render.PublicBase)
	cfg.Render.Ledger = gcp.GetEnv("DISPLAY_LEDGER", cfg.Render.Ledger)
	cfg.Render.ProjectID = gcp.GetEnv("GOOGLE_CLOUD_PROJECT", cfg.Render.ProjectID)
	cfg.Display.ScrollSpeed = gcp.GetEnv("DISPLAY_SCROLL_SPEED", cfg.Display.ScrollSpeed)
	cfg.Log.Level = gcp.GetEnv("DISPLAY_LOG_LEVEL", cfg.Log.Level)
	if v, err := strconv.Atoi(gcp.GetEnv("DISPLAY_RENDER_QUALITY", "")); err == nil {
		cfg.Render.Quality = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Driver {
	case "sqlite", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache driver %q", c.Cache.Driver))
	}
	switch c.Render.Sink {
	case "backend":
	case "gcs":
		if c.Render.Bucket == "" {
			errs = append(errs, errors.New("render.bucket is required for the gcs sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown page sink %q", c.Render.Sink))
	}
	switch c.Render.Ledger {
	case "memory":
	case "firestore":
		if c.Render.ProjectID == "" {
			errs = append(errs, errors.New("render.project_id is required for the firestore ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown render ledger %q", c.Render.Ledger))
	}
	if c.Cache.TTL.Duration <= 0 || c.Cache.CleanupInterval.Duration <= 0 {
		errs = append(errs, errors.New("cache.ttl and cache.cleanup_interval must be positive"))
	}
	if c.Render.Quality < 1 || c.Render.Quality > 100 {
		errs = append(errs, fmt.Errorf("render.quality %d out of range 1..100", c.Render.Quality))
	}
	return errors.Join(errs...)
}

// LogLevel maps the configured level name; unknown names mean info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
