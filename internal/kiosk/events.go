// Package kiosk serves the display surface: a CloudEvents SSE feed of slot
// changes, the layout and control endpoints, and the cached image proxy.
package kiosk

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"

	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/viewer"
)

const (
	// StreamName is the SSE stream the kiosk subscribes to.
	StreamName  = "kiosk"
	EventSource = "display-agent"

	TypeSlotPages      = "display.slot.pages"
	TypeSlotScroll     = "display.slot.scroll"
	TypeSlotPhase      = "display.slot.phase"
	TypeSlotDiagnostic = "display.slot.diagnostic"
	TypeOfficers       = "display.officers"
	TypeSettings       = "display.settings"
)

// ScrollEvent is the payload of display.slot.scroll.
type ScrollEvent struct {
	Slot       models.DocumentType `json:"slot"`
	Generation uint64              `json:"generation"`
	Position   float64             `json:"position"`
}

// OfficersEvent is the payload of display.officers, ready to print.
type OfficersEvent struct {
	Officers    *models.DutyOfficers `json:"officers"`
	OfficerLine string               `json:"officerLine"`
	MasterLine  string               `json:"masterLine"`
}

func officersEvent(o *models.DutyOfficers) OfficersEvent {
	return OfficersEvent{Officers: o, OfficerLine: o.OfficerDisplay(), MasterLine: o.MasterDisplay()}
}

// Broker wraps every change in a CloudEvent and fans it out on the kiosk
// stream. It implements viewer.Publisher.
type Broker struct {
	server *sse.Server
	clock  clock.Clock

	mu       sync.RWMutex
	officers *models.DutyOfficers
	settings models.DisplaySettings
}

func NewBroker(clk clock.Clock) *Broker {
	if clk == nil {
		clk = clock.New()
	}
	server := sse.New()
	// Late subscribers fetch /kiosk/state instead of replaying history.
	server.AutoReplay = false
	server.CreateStream(StreamName)
	return &Broker{server: server, clock: clk, settings: models.DefaultDisplaySettings()}
}

func (b *Broker) PublishSlot(kind viewer.EventKind, state viewer.State) {
	var typ string
	switch kind {
	case viewer.EventPages:
		typ = TypeSlotPages
	case viewer.EventDiagnostic:
		typ = TypeSlotDiagnostic
	default:
		typ = TypeSlotPhase
	}
	b.publish(typ, string(state.Slot), state)
}

func (b *Broker) PublishScroll(slot models.DocumentType, generation uint64, position float64) {
	b.publish(TypeSlotScroll, string(slot), ScrollEvent{Slot: slot, Generation: generation, Position: position})
}

func (b *Broker) PublishOfficers(o *models.DutyOfficers) {
	b.mu.Lock()
	b.officers = o
	b.mu.Unlock()
	b.publish(TypeOfficers, "officers", officersEvent(o))
}

func (b *Broker) PublishSettings(s models.DisplaySettings) {
	b.mu.Lock()
	b.settings = s
	b.mu.Unlock()
	b.publish(TypeSettings, "settings", s)
}

// Latest returns the last officers and settings published.
func (b *Broker) Latest() (*models.DutyOfficers, models.DisplaySettings) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.officers, b.settings
}

func (b *Broker) publish(typ, subject string, data any) {
	payload, err := b.encode(typ, subject, data)
	if err != nil {
		slog.Error("Failed to encode kiosk event.", "type", typ, "error", err)
		return
	}
	b.server.Publish(StreamName, &sse.Event{Event: []byte(typ), Data: payload})
}

func (b *Broker) encode(typ, subject string, data any) ([]byte, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(EventSource)
	e.SetType(typ)
	e.SetSubject(subject)
	e.SetTime(b.clock.Now())
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return nil, fmt.Errorf("failed to set event data: %w", err)
	}
	return json.Marshal(e)
}

// Close disconnects every subscriber.
func (b *Broker) Close() {
	b.server.Close()
}
