package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func resetSetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		setSpeed, setRosterInterval, setMenuInterval, setRestartDelay = "", 0, 0, 0
		for _, name := range []string{"speed", "roster-interval", "menu-interval", "restart-delay"} {
			if f := settingsSetCmd.Flags().Lookup(name); f != nil {
				f.Changed = false
			}
		}
	})
}

func settingsBackend(t *testing.T, patches *[]map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/display-settings", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"scrollSpeed":"fast","escalaAlternateInterval":20000,"cardapioAlternateInterval":60000,"autoRestartDelay":4}`)
	})
	mux.HandleFunc("PUT /api/display-settings", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		*patches = append(*patches, body)
		_, _ = io.WriteString(w, `{"scrollSpeed":"slow","escalaAlternateInterval":45000,"cardapioAlternateInterval":60000,"autoRestartDelay":4}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Setenv("DISPLAY_BACKEND_URL", srv.URL)
	t.Setenv("DISPLAY_CACHE_DRIVER", "memory")
}

func TestSettingsShow(t *testing.T) {
	var patches []map[string]any
	settingsBackend(t, &patches)

	out, err := execute(t, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "scroll speed:    fast")
	assert.Contains(t, out, "roster interval: 20s")
	assert.Contains(t, out, "restart delay:   4s")
}

func TestSettingsSet(t *testing.T) {
	var patches []map[string]any
	settingsBackend(t, &patches)
	resetSetFlags(t)

	out, err := execute(t, "settings", "set", "--speed", "slow", "--roster-interval", "45s")
	require.NoError(t, err)
	assert.Contains(t, out, "Settings updated.")
	require.Len(t, patches, 1)
	assert.Equal(t, map[string]any{"scrollSpeed": "slow", "escalaAlternateInterval": float64(45000)}, patches[0])
}

func TestSettingsSet_Rejects(t *testing.T) {
	var patches []map[string]any
	settingsBackend(t, &patches)
	resetSetFlags(t)

	_, err := execute(t, "settings", "set", "--speed", "warp")
	assert.ErrorContains(t, err, "invalid speed")

	resetSetFlags(t)
	setSpeed = ""
	settingsSetCmd.Flags().Lookup("speed").Changed = false
	_, err = execute(t, "settings", "set")
	assert.ErrorContains(t, err, "nothing to change")
	assert.Empty(t, patches)
}

func TestCacheCommands(t *testing.T) {
	t.Setenv("DISPLAY_CACHE_DRIVER", "sqlite")
	t.Setenv("DISPLAY_CACHE_DIR", t.TempDir())

	out, err := execute(t, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "entries: 0")

	out, err = execute(t, "cache", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired entries")

	out, err = execute(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "image cache cleared")
}

func TestRenderRequiresID(t *testing.T) {
	t.Setenv("DISPLAY_CACHE_DRIVER", "memory")
	renderID = ""
	_, err := execute(t, "render", "/uploads/a.pdf")
	assert.Error(t, err)
}

func TestDefaultLogLevelFollowsConfig(t *testing.T) {
	t.Setenv("DISPLAY_LOG_LEVEL", "warn")
	t.Setenv("DISPLAY_CACHE_DRIVER", "memory")
	t.Setenv("DISPLAY_CACHE_DIR", t.TempDir())
	_, err := execute(t, "cache", "stats")
	require.NoError(t, err)
	assert.Equal(t, "WARN", logLevel.Level().String())
}
