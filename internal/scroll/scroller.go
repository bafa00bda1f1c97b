// Package scroll drives the continuous top-to-bottom scroll of one kiosk
// container.
package scroll

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// FrameInterval is one animation frame at 60 fps.
	FrameInterval = time.Second / 60
	// DefaultDwell is how long the end of the document stays on screen.
	DefaultDwell = 2 * time.Second
	// epsilon below which the remaining distance snaps to the bound.
	epsilon = 0.5
)

// ErrNotIdle is returned by Start while a cycle is already running.
var ErrNotIdle = errors.New("scroller is not idle")

type State int

const (
	Idle State = iota
	Scrolling
	Completing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scrolling:
		return "scrolling"
	case Completing:
		return "completing"
	}
	return "unknown"
}

// Metrics are the container measurements taken when a cycle starts.
type Metrics struct {
	ScrollHeight float64
	ClientHeight float64
}

// Config configures a Scroller. OnScroll receives every applied position and
// OnComplete fires once per finished cycle; both are called with the
// scroller's lock held and must not call back into it.
type Config struct {
	Speed      Speed
	Dwell      time.Duration
	Clock      clock.Clock
	OnScroll   func(pos float64)
	OnComplete func()
}

// Scroller is a single-use-per-cycle state machine: Idle, Scrolling,
// Completing, back to Idle.
type Scroller struct {
	mu  sync.Mutex
	cfg Config

	state    State
	position float64
	maxPos   float64

	// run is bumped on every Start and Stop; frames and dwell timers from an
	// older run are ignored.
	run    uint64
	ticker *clock.Ticker
	halt   chan struct{}
	dwell  *clock.Timer
}

func New(cfg Config) *Scroller {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Speed <= 0 {
		cfg.Speed = SpeedNormal
	}
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultDwell
	}
	return &Scroller{cfg: cfg}
}

// Start captures the scroll bound and begins a cycle. Content that fits the
// viewport goes straight to the dwell.
func (s *Scroller) Start(m Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return ErrNotIdle
	}
	s.run++
	s.maxPos = m.ScrollHeight - m.ClientHeight
	if s.maxPos <= 0 {
		s.maxPos = 0
		s.position = 0
		s.apply()
		s.beginDwell()
		return nil
	}
	if s.position > s.maxPos {
		s.position = s.maxPos
	}

	s.state = Scrolling
	s.ticker = s.cfg.Clock.Ticker(FrameInterval)
	s.halt = make(chan struct{})
	go s.loop(s.run, s.ticker, s.halt)
	return nil
}

func (s *Scroller) loop(run uint64, ticker *clock.Ticker, halt chan struct{}) {
	for {
		select {
		case <-halt:
			return
		case <-ticker.C:
			if done := s.advance(run); done {
				return
			}
		}
	}
}

// advance moves one frame and reports whether the frame loop should exit.
func (s *Scroller) advance(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run != s.run || s.state != Scrolling {
		return true
	}
	s.position = min(s.position+float64(s.cfg.Speed), s.maxPos)
	if s.maxPos-s.position <= epsilon {
		s.position = s.maxPos
		s.apply()
		s.stopFrames()
		s.beginDwell()
		return true
	}
	s.apply()
	return false
}

// beginDwell must be called with the lock held.
func (s *Scroller) beginDwell() {
	s.state = Completing
	run := s.run
	s.dwell = s.cfg.Clock.AfterFunc(s.cfg.Dwell, func() { s.finish(run) })
}

func (s *Scroller) finish(run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run != s.run || s.state != Completing {
		return
	}
	s.state = Idle
	s.dwell = nil
	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete()
	}
}

func (s *Scroller) apply() {
	if s.cfg.OnScroll != nil {
		s.cfg.OnScroll(s.position)
	}
}

func (s *Scroller) stopFrames() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.halt != nil {
		close(s.halt)
		s.halt = nil
	}
}

// Stop cancels the frame loop and the dwell, keeping the position. It is
// safe to call in any state, any number of times.
func (s *Scroller) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scroller) stopLocked() {
	s.run++
	s.stopFrames()
	if s.dwell != nil {
		s.dwell.Stop()
		s.dwell = nil
	}
	s.state = Idle
}

// Reset stops the scroller and returns the container to the top.
func (s *Scroller) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.position = 0
	s.apply()
}

func (s *Scroller) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scroller) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// MaxScroll is the bound captured by the last Start.
func (s *Scroller) MaxScroll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPos
}
