package viewer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/scroll"
)

// Display owns the three kiosk slots and decides which document each shows.
type Display struct {
	clock clock.Clock
	slots map[models.DocumentType]*Slot

	// assign orders choosing documents with handing them to the slots, so a
	// rotation tick never lands after a newer document set. Taken before mu.
	assign sync.Mutex

	mu        sync.Mutex
	settings  models.DisplaySettings
	rotations map[models.DocumentType]*Rotation
	// changed is closed and replaced whenever the rotation intervals change.
	changed chan struct{}
}

// NewDisplay takes the slots keyed by their name.
func NewDisplay(clk clock.Clock, settings models.DisplaySettings, slots ...*Slot) *Display {
	if clk == nil {
		clk = clock.New()
	}
	d := &Display{
		clock:     clk,
		slots:     make(map[models.DocumentType]*Slot, len(slots)),
		settings:  settings.Sanitized(),
		rotations: make(map[models.DocumentType]*Rotation),
		changed:   make(chan struct{}),
	}
	for _, s := range slots {
		d.slots[s.Name()] = s
		d.rotations[s.Name()] = &Rotation{}
	}
	d.applyTiming(d.settings)
	return d
}

func (d *Display) Slot(name models.DocumentType) (*Slot, bool) {
	s, ok := d.slots[name]
	return s, ok
}

// States returns the slots in plan, roster, menu order.
func (d *Display) States() []State {
	var out []State
	for _, name := range []models.DocumentType{models.DocumentPlan, models.DocumentRoster, models.DocumentMenu} {
		if s, ok := d.slots[name]; ok {
			out = append(out, s.State())
		}
	}
	return out
}

func (d *Display) Settings() models.DisplaySettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// ApplyDocuments recomputes every slot's candidates from the full document
// set. The plan slot always shows the newest plan; rotating slots keep the
// document on screen when it is still active.
func (d *Display) ApplyDocuments(docs []models.Document) {
	d.assign.Lock()
	defer d.assign.Unlock()

	d.mu.Lock()
	selected := make(map[models.DocumentType]*models.Document, len(d.slots))
	for name, rot := range d.rotations {
		candidates := Candidates(docs, name)
		if name == models.DocumentPlan {
			rot.docs, rot.index = candidates, 0
		} else {
			rot.Update(candidates)
		}
		selected[name] = rot.Current()
	}
	d.mu.Unlock()

	for name, doc := range selected {
		d.slots[name].SetDocument(doc)
	}
}

// ApplySettings takes effect on the next scroll cycle and rotation tick.
func (d *Display) ApplySettings(settings models.DisplaySettings) {
	settings = settings.Sanitized()
	d.mu.Lock()
	prev := d.settings
	d.settings = settings
	if prev.RosterInterval() != settings.RosterInterval() || prev.MenuInterval() != settings.MenuInterval() {
		close(d.changed)
		d.changed = make(chan struct{})
	}
	d.mu.Unlock()

	d.applyTiming(settings)
	slog.Info("Display settings applied.",
		"scrollSpeed", settings.ScrollSpeed,
		"rosterInterval", settings.RosterInterval(),
		"menuInterval", settings.MenuInterval(),
		"restartDelay", settings.RestartDelay())
}

func (d *Display) applyTiming(settings models.DisplaySettings) {
	for _, s := range d.slots {
		s.SetTiming(scroll.SpeedFor(settings.ScrollSpeed), settings.RestartDelay())
	}
}

// Run drives the roster and menu rotations until ctx is done.
func (d *Display) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, name := range []models.DocumentType{models.DocumentRoster, models.DocumentMenu} {
		if _, ok := d.slots[name]; !ok {
			continue
		}
		wg.Add(1)
		go func(name models.DocumentType) {
			defer wg.Done()
			d.rotate(ctx, name)
		}(name)
	}
	wg.Wait()
	return ctx.Err()
}

func (d *Display) rotate(ctx context.Context, name models.DocumentType) {
	for {
		interval, changed := d.interval(name)
		timer := d.clock.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-changed:
			timer.Stop()
		case <-timer.C:
			d.advance(name)
		}
	}
}

func (d *Display) interval(name models.DocumentType) (time.Duration, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name == models.DocumentMenu {
		return d.settings.MenuInterval(), d.changed
	}
	return d.settings.RosterInterval(), d.changed
}

// advance shows the next candidate; a single candidate stays put.
func (d *Display) advance(name models.DocumentType) {
	d.assign.Lock()
	defer d.assign.Unlock()

	d.mu.Lock()
	rot := d.rotations[name]
	if rot.Len() < 2 {
		d.mu.Unlock()
		return
	}
	next := rot.Next()
	d.mu.Unlock()

	slog.Info("Rotating document.", "slot", string(name), "documentId", next.ID)
	d.slots[name].SetDocument(next)
}

// Close stops every slot.
func (d *Display) Close() {
	for _, s := range d.slots {
		s.Close()
	}
}
