package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/displayagent/internal/imagecache"
	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/scroll"
	"github.com/Lllllllleong/displayagent/internal/viewer"
)

const maxBodyBytes = 1 << 16

// Fetcher downloads images the cache does not have yet.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Server is the agent's HTTP surface for the kiosk browser.
type Server struct {
	display *viewer.Display
	broker  *Broker
	images  *imagecache.Cache
	fetcher Fetcher
	sources []*url.URL
	mux     *http.ServeMux
}

// NewServer serves the kiosk. The image proxy only fetches backend-relative
// paths, loopback URLs and URLs under one of the sources prefixes.
func NewServer(display *viewer.Display, broker *Broker, images *imagecache.Cache, fetcher Fetcher, sources ...string) *Server {
	s := &Server{
		display: display,
		broker:  broker,
		images:  images,
		fetcher: fetcher,
		mux:     http.NewServeMux(),
	}
	for _, src := range sources {
		u, err := url.Parse(strings.TrimRight(src, "/"))
		if err != nil || u.Host == "" {
			slog.Warn("Ignoring invalid image source.", "source", src)
			continue
		}
		s.sources = append(s.sources, u)
	}
	s.mux.HandleFunc("GET /kiosk/events", s.handleEvents)
	s.mux.HandleFunc("POST /kiosk/layout", s.handleLayout)
	s.mux.HandleFunc("POST /kiosk/slots/{slot}/{action}", s.handleControl)
	s.mux.HandleFunc("GET /kiosk/state", s.handleState)
	s.mux.HandleFunc("GET /kiosk/images", s.handleImage)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Kiosk server listening.", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("kiosk server failed: %w", err)
	case <-ctx.Done():
	}
	s.broker.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("kiosk server shutdown: %w", err)
	}
	return ctx.Err()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		q := r.URL.Query()
		q.Set("stream", StreamName)
		r.URL.RawQuery = q.Encode()
	}
	s.broker.server.ServeHTTP(w, r)
}

// LayoutReport is the body of POST /kiosk/layout.
type LayoutReport struct {
	Slot         string  `json:"slot"`
	Generation   uint64  `json:"generation"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var report LayoutReport
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &report)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid layout report")
		return
	}
	slot, ok := s.slot(report.Slot)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown slot")
		return
	}
	err = slot.ReportLayout(report.Generation, scroll.Metrics{
		ScrollHeight: report.ScrollHeight,
		ClientHeight: report.ClientHeight,
	})
	if errors.Is(err, viewer.ErrStaleGeneration) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(r.PathValue("slot"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown slot")
		return
	}
	action := r.PathValue("action")
	var err error
	switch action {
	case "pause":
		err = slot.Pause()
	case "resume":
		err = slot.Resume()
	case "restart":
		err = slot.Restart()
	case "retry":
		err = slot.Retry()
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	slog.Info("Slot control applied.", "slot", string(slot.Name()), "action", action)
	writeJSON(w, http.StatusOK, slot.State())
}

// StateResponse is the body of GET /kiosk/state.
type StateResponse struct {
	Slots    []viewer.State         `json:"slots"`
	Officers OfficersEvent          `json:"officers"`
	Settings models.DisplaySettings `json:"settings"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	officers, settings := s.broker.Latest()
	writeJSON(w, http.StatusOK, StateResponse{
		Slots:    s.display.States(),
		Officers: officersEvent(officers),
		Settings: settings,
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	src := strings.TrimSpace(r.URL.Query().Get("src"))
	if src == "" || strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "blob:") {
		writeError(w, http.StatusBadRequest, "src must be a fetchable url")
		return
	}
	if !s.allowedSource(src) {
		writeError(w, http.StatusForbidden, "src is not a backend or page storage url")
		return
	}
	ctx := r.Context()
	if entry, ok := s.images.Get(ctx, src); ok {
		w.Header().Set("X-Cache", "hit")
		serveImage(w, entry.ContentType, entry.Data)
		return
	}

	data, contentType, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		slog.Warn("Failed to fetch image for kiosk.", "src", src, "error", err)
		writeError(w, http.StatusBadGateway, "image unavailable")
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if err := s.images.Put(ctx, src, data, contentType); err != nil {
		slog.Warn("Failed to cache image.", "src", src, "error", err)
	}
	w.Header().Set("X-Cache", "miss")
	serveImage(w, contentType, data)
}

// allowedSource keeps the image proxy from reaching arbitrary hosts. Relative
// paths and loopback URLs are resolved onto the backend by the fetcher.
func (s *Server) allowedSource(src string) bool {
	if strings.HasPrefix(src, "/") && !strings.HasPrefix(src, "//") {
		return true
	}
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
		return true
	}
	for _, allowed := range s.sources {
		if !strings.EqualFold(u.Scheme, allowed.Scheme) || !strings.EqualFold(u.Host, allowed.Host) {
			continue
		}
		prefix := allowed.Path
		if prefix == "" || u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/") {
			return true
		}
	}
	return false
}

func serveImage(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) slot(name string) (*viewer.Slot, bool) {
	kind, err := models.ParseDocumentType(name)
	if err != nil {
		return nil, false
	}
	return s.display.Slot(kind)
}
