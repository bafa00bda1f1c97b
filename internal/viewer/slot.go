// Package viewer orchestrates one kiosk slot: loading a document's pages,
// waiting for the kiosk layout, auto-scrolling and restarting.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/raster"
	"github.com/Lllllllleong/displayagent/internal/scroll"
)

type Phase string

const (
	PhaseNoDocument     Phase = "no_document"
	PhaseLoading        Phase = "loading"
	PhaseAwaitingLayout Phase = "awaiting_layout"
	PhaseScrolling      Phase = "scrolling"
	PhaseAtEnd          Phase = "at_end"
	PhasePaused         Phase = "paused"
	PhaseError          Phase = "error"
)

const (
	DefaultSettleDelay  = time.Second
	DefaultRestartDelay = 3 * time.Second
)

var (
	ErrStaleGeneration = errors.New("generation is no longer current")
	ErrInvalidAction   = errors.New("action not valid in the current phase")
)

// EventKind tells a Publisher which part of the slot changed.
type EventKind string

const (
	EventPages      EventKind = "pages"
	EventPhase      EventKind = "phase"
	EventDiagnostic EventKind = "diagnostic"
)

// Publisher receives slot changes for the kiosk surface. Implementations
// must not call back into the slot.
type Publisher interface {
	PublishSlot(kind EventKind, state State)
	PublishScroll(slot models.DocumentType, generation uint64, position float64)
}

// State is a point-in-time copy of a slot.
type State struct {
	Slot       models.DocumentType `json:"slot"`
	Phase      Phase               `json:"phase"`
	Generation uint64              `json:"generation"`
	Document   *models.Document    `json:"document,omitempty"`
	Pages      []models.PageEntry  `json:"pages"`
	Position   float64             `json:"position"`
	Progress   *raster.Progress    `json:"progress,omitempty"`
	Diagnostic *Diagnostic         `json:"diagnostic,omitempty"`
}

type SlotConfig struct {
	Name         models.DocumentType
	Loader       Loader
	Publisher    Publisher
	Clock        clock.Clock
	Speed        scroll.Speed
	Dwell        time.Duration
	SettleDelay  time.Duration
	RestartDelay time.Duration
}

// Slot owns at most one scroller and one pending timer at a time. Every
// asynchronous continuation carries the generation it was started for and
// is dropped when the generation has moved on.
type Slot struct {
	cfg    SlotConfig
	logCtx *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	phase        Phase
	pausedFrom   Phase
	generation   uint64
	doc          *models.Document
	pages        []models.PageEntry
	progress     *raster.Progress
	diag         *Diagnostic
	metrics      scroll.Metrics
	scroller     *scroll.Scroller
	timer        *clock.Timer
	cancelLoad   context.CancelFunc
	speed        scroll.Speed
	restartDelay time.Duration
}

func NewSlot(cfg SlotConfig) *Slot {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Speed <= 0 {
		cfg.Speed = scroll.SpeedNormal
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Slot{
		cfg:          cfg,
		logCtx:       slog.With("slot", string(cfg.Name)),
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseNoDocument,
		speed:        cfg.Speed,
		restartDelay: cfg.RestartDelay,
	}
	s.diag = noDocumentDiagnostic(string(cfg.Name), cfg.Clock.Now())
	return s
}

func (s *Slot) Name() models.DocumentType { return s.cfg.Name }

// SetDocument switches the slot to doc. The same document (id and url) is a
// no-op; nil shows the no-document diagnostic.
func (s *Slot) SetDocument(doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc != nil && s.doc != nil && s.doc.SameContent(doc) {
		return
	}
	if doc == nil && s.doc == nil && s.phase == PhaseNoDocument {
		return
	}
	s.teardown()
	s.pages = nil
	s.progress = nil
	s.diag = nil
	s.generation++
	if doc == nil {
		s.doc = nil
		s.phase = PhaseNoDocument
		s.diag = noDocumentDiagnostic(string(s.cfg.Name), s.cfg.Clock.Now())
		s.logCtx.Info("No active document.", "generation", s.generation)
		s.publish(EventPages)
		s.publish(EventDiagnostic)
		return
	}
	d := *doc
	s.doc = &d
	s.publish(EventPages)
	s.beginLoad()
}

// Retry reloads the current document after a failure.
func (s *Slot) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseError || s.doc == nil {
		return ErrInvalidAction
	}
	s.teardown()
	s.diag = nil
	s.generation++
	s.beginLoad()
	return nil
}

// beginLoad must be called with the lock held and a fresh generation.
func (s *Slot) beginLoad() {
	s.phase = PhaseLoading
	gen := s.generation
	doc := *s.doc
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelLoad = cancel
	s.logCtx.Info("Loading document.", "documentId", doc.ID, "generation", gen)
	s.publish(EventPhase)

	go func() {
		pages, err := s.cfg.Loader.Load(ctx, &doc, func(p raster.Progress) { s.loadProgress(gen, p) })
		s.loadDone(gen, pages, err)
	}()
}

func (s *Slot) loadProgress(gen uint64, p raster.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.phase != PhaseLoading {
		return
	}
	s.progress = &p
	s.publish(EventPhase)
}

func (s *Slot) loadDone(gen uint64, pages []models.PageEntry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logCtx.Info("Discarding stale load result.", "generation", gen, "current", s.generation)
		return
	}
	s.cancelLoad = nil
	s.progress = nil
	if err != nil {
		s.phase = PhaseError
		s.diag = diagnose(err, s.cfg.Clock.Now())
		s.logCtx.Error("Failed to load document.", "documentId", s.doc.ID, "error", err)
		s.publish(EventDiagnostic)
		s.publish(EventPhase)
		return
	}
	s.pages = pages
	s.phase = PhaseAwaitingLayout
	s.logCtx.Info("Document loaded.", "documentId", s.doc.ID, "pages", len(pages), "generation", gen)
	s.publish(EventPages)
	s.publish(EventPhase)
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.SettleDelay, func() { s.settled(gen) })
}

// ReportLayout records the kiosk's measurements for a generation. While the
// slot is waiting for layout it also acts as the settle signal.
func (s *Slot) ReportLayout(gen uint64, m scroll.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return ErrStaleGeneration
	}
	s.metrics = m
	if s.phase == PhaseAwaitingLayout {
		s.cancelTimer()
		s.startCycle()
	}
	return nil
}

func (s *Slot) settled(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.phase != PhaseAwaitingLayout {
		return
	}
	s.timer = nil
	s.logCtx.Warn("No layout report before settle delay, starting with last known layout.", "generation", gen)
	s.startCycle()
}

// startCycle discards any previous scroller and scrolls from the top. Must be
// called with the lock held.
func (s *Slot) startCycle() {
	s.stopScroller()
	gen := s.generation
	name := s.cfg.Name
	pub := s.cfg.Publisher
	var sc *scroll.Scroller
	sc = scroll.New(scroll.Config{
		Speed: s.speed,
		Dwell: s.cfg.Dwell,
		Clock: s.cfg.Clock,
		OnScroll: func(pos float64) {
			if pub != nil {
				pub.PublishScroll(name, gen, pos)
			}
		},
		// The scroller holds its own lock here; hop off it before taking ours.
		OnComplete: func() { go s.cycleDone(gen, sc) },
	})
	s.scroller = sc
	s.phase = PhaseScrolling
	s.publish(EventPhase)
	if pub != nil {
		pub.PublishScroll(name, gen, 0)
	}
	if err := s.scroller.Start(s.metrics); err != nil {
		s.logCtx.Error("Failed to start scroller.", "error", err)
	}
}

// cycleDone only counts for the scroller that is still current; a replaced
// scroller may finish its dwell just before a manual restart takes the lock.
func (s *Slot) cycleDone(gen uint64, sc *scroll.Scroller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || sc != s.scroller || s.phase != PhaseScrolling {
		return
	}
	s.phase = PhaseAtEnd
	s.publish(EventPhase)
	s.scheduleRestart()
}

// scheduleRestart must be called with the lock held.
func (s *Slot) scheduleRestart() {
	gen := s.generation
	s.cancelTimer()
	s.timer = s.cfg.Clock.AfterFunc(s.restartDelay, func() { s.autoRestart(gen) })
}

func (s *Slot) autoRestart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.phase != PhaseAtEnd {
		return
	}
	s.timer = nil
	s.startCycle()
}

// Pause freezes the slot where it is.
func (s *Slot) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseAwaitingLayout, PhaseScrolling, PhaseAtEnd:
	default:
		return ErrInvalidAction
	}
	s.cancelTimer()
	if s.scroller != nil {
		s.scroller.Stop()
	}
	s.pausedFrom = s.phase
	s.phase = PhasePaused
	s.publish(EventPhase)
	return nil
}

// Resume continues from where Pause left off.
func (s *Slot) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePaused {
		return ErrInvalidAction
	}
	s.cancelTimer()
	switch s.pausedFrom {
	case PhaseScrolling:
		s.phase = PhaseScrolling
		s.publish(EventPhase)
		if err := s.scroller.Start(s.metrics); err != nil {
			s.logCtx.Error("Failed to resume scroller.", "error", err)
		}
	case PhaseAtEnd:
		s.phase = PhaseAtEnd
		s.publish(EventPhase)
		s.scheduleRestart()
	default:
		s.startCycle()
	}
	return nil
}

// Restart scrolls the current pages again from the top.
func (s *Slot) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseAwaitingLayout, PhaseScrolling, PhaseAtEnd, PhasePaused:
	default:
		return ErrInvalidAction
	}
	s.cancelTimer()
	s.startCycle()
	return nil
}

// SetTiming applies new display settings from the next cycle on.
func (s *Slot) SetTiming(speed scroll.Speed, restartDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if speed > 0 {
		s.speed = speed
	}
	if restartDelay > 0 {
		s.restartDelay = restartDelay
	}
}

func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Close stops every timer, the scroller and any load in flight.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
	s.generation++
	s.cancel()
}

// teardown cancels the pending timer, the scroller and the load in flight.
func (s *Slot) teardown() {
	s.cancelTimer()
	s.stopScroller()
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
}

func (s *Slot) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Slot) stopScroller() {
	if s.scroller != nil {
		s.scroller.Stop()
		s.scroller = nil
	}
}

func (s *Slot) snapshot() State {
	st := State{
		Slot:       s.cfg.Name,
		Phase:      s.phase,
		Generation: s.generation,
		Pages:      append([]models.PageEntry(nil), s.pages...),
		Diagnostic: s.diag,
	}
	if s.doc != nil {
		d := *s.doc
		st.Document = &d
	}
	if s.progress != nil {
		p := *s.progress
		st.Progress = &p
	}
	if s.scroller != nil {
		st.Position = s.scroller.Position()
	}
	return st
}

func (s *Slot) publish(kind EventKind) {
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.PublishSlot(kind, s.snapshot())
	}
}
