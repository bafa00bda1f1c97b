package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Kiosk.Addr)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL.Duration)
	assert.Equal(t, time.Second, cfg.Display.SettleDelay.Duration)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[backend]
host = "10.0.0.5"
port = "4000"
timeout = "10s"

[cache]
driver = "memory"
ttl = "48h"

[render]
quality = 70
page_delay = "50ms"

[log]
level = "debug"
`)
	t.Setenv("DISPLAY_BACKEND_PORT", "5000")
	t.Setenv("DISPLAY_KIOSK_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Backend.Host)
	assert.Equal(t, "5000", cfg.Backend.Port)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout.Duration)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Cache.TTL.Duration)
	assert.Equal(t, 70, cfg.Render.Quality)
	assert.Equal(t, 50*time.Millisecond, cfg.Render.PageDelay.Duration)
	assert.Equal(t, "127.0.0.1:9000", cfg.Kiosk.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"bad toml", `[backend`},
		{"bad duration", "[cache]\nttl = \"forever\""},
		{"unknown driver", "[cache]\ndriver = \"dynamo\""},
		{"redis without addr", "[cache]\ndriver = \"redis\""},
		{"gcs without bucket", "[render]\nsink = \"gcs\""},
		{"firestore without project", "[render]\nledger = \"firestore\""},
		{"quality range", "[render]\nquality = 0"},
	}
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, dir, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	} {
		c := Config{Log: Log{Level: in}}
		assert.Equal(t, want, c.LogLevel(), in)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[log]\nlevel = \"info\"\n")

	var level atomic.Value
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Watch(ctx, path, func(c *Config) { level.Store(c.Log.Level) })
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("[log]\nlevel = \"error\"\n"), 0o600)
		v, _ := level.Load().(string)
		return v == "error"
	}, 3*time.Second, 50*time.Millisecond)
}
