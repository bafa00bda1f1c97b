package viewer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/displayagent/internal/models"
)

func typed(id string, kind models.DocumentType, uploaded time.Time, active bool) models.Document {
	return models.Document{ID: id, URL: "/uploads/" + id + ".pdf", Type: kind, Active: active, UploadDate: uploaded}
}

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestCandidates(t *testing.T) {
	docs := []models.Document{
		typed("1", models.DocumentPlan, base, true),
		typed("2", models.DocumentPlan, base.Add(time.Hour), true),
		typed("3", models.DocumentPlan, base.Add(2*time.Hour), false),
		typed("4", models.DocumentRoster, base.Add(3*time.Hour), true),
		typed("0", models.DocumentPlan, base, true),
	}
	got := Candidates(docs, models.DocumentPlan)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2", "0", "1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Empty(t, Candidates(docs, models.DocumentMenu))
}

func TestRotation(t *testing.T) {
	var r Rotation
	assert.Nil(t, r.Current())
	assert.Nil(t, r.Next())

	r.Update([]models.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	assert.Equal(t, "a", r.Current().ID)
	assert.Equal(t, "b", r.Next().ID)
	assert.Equal(t, "c", r.Next().ID)
	assert.Equal(t, "a", r.Next().ID)
	r.Next()

	r.Update([]models.Document{{ID: "z"}, {ID: "b"}})
	assert.Equal(t, "b", r.Current().ID, "document on screen keeps its place")

	r.Update([]models.Document{{ID: "x"}, {ID: "y"}})
	assert.Equal(t, "x", r.Current().ID)
}

func newTestDisplay(t *testing.T, settings models.DisplaySettings) (*Display, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	var slots []*Slot
	for _, name := range []models.DocumentType{models.DocumentPlan, models.DocumentRoster, models.DocumentMenu} {
		slots = append(slots, NewSlot(SlotConfig{Name: name, Loader: newFakeLoader(), Clock: mock}))
	}
	d := NewDisplay(mock, settings, slots...)
	t.Cleanup(d.Close)
	return d, mock
}

func slotDocID(d *Display, name models.DocumentType) string {
	s, _ := d.Slot(name)
	st := s.State()
	if st.Document == nil {
		return ""
	}
	return st.Document.ID
}

func TestDisplay_ApplyDocumentsSelectsPerSlot(t *testing.T) {
	d, _ := newTestDisplay(t, models.DefaultDisplaySettings())
	d.ApplyDocuments([]models.Document{
		typed("p1", models.DocumentPlan, base, true),
		typed("p2", models.DocumentPlan, base.Add(time.Hour), true),
		typed("r1", models.DocumentRoster, base, true),
	})

	assert.Equal(t, "p2", slotDocID(d, models.DocumentPlan))
	assert.Equal(t, "r1", slotDocID(d, models.DocumentRoster))
	assert.Equal(t, "", slotDocID(d, models.DocumentMenu))

	states := d.States()
	require.Len(t, states, 3)
	assert.Equal(t, PhaseNoDocument, states[2].Phase)

	d.ApplyDocuments(nil)
	assert.Equal(t, "", slotDocID(d, models.DocumentPlan))
}

func TestDisplay_RotatesRosterOnInterval(t *testing.T) {
	settings := models.DefaultDisplaySettings()
	d, mock := newTestDisplay(t, settings)
	d.ApplyDocuments([]models.Document{
		typed("r1", models.DocumentRoster, base.Add(time.Hour), true),
		typed("r2", models.DocumentRoster, base, true),
		typed("m1", models.DocumentMenu, base, true),
	})
	require.Equal(t, "r1", slotDocID(d, models.DocumentRoster))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		mock.Add(settings.RosterInterval())
		return slotDocID(d, models.DocumentRoster) == "r2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "m1", slotDocID(d, models.DocumentMenu), "a single candidate stays put")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDisplay_RotationNeverRestoresDeactivatedDocument(t *testing.T) {
	d, _ := newTestDisplay(t, models.DefaultDisplaySettings())
	both := []models.Document{
		typed("r1", models.DocumentRoster, base.Add(time.Hour), true),
		typed("r2", models.DocumentRoster, base, true),
	}
	onlyFirst := []models.Document{
		typed("r1", models.DocumentRoster, base.Add(time.Hour), true),
		typed("r2", models.DocumentRoster, base, false),
	}

	for i := 0; i < 200; i++ {
		d.ApplyDocuments(both)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.advance(models.DocumentRoster)
		}()
		d.ApplyDocuments(onlyFirst)
		wg.Wait()

		require.Equal(t, "r1", slotDocID(d, models.DocumentRoster), "iteration %d", i)
	}
}

func TestDisplay_ApplySettingsUpdatesTiming(t *testing.T) {
	d, _ := newTestDisplay(t, models.DefaultDisplaySettings())
	s := models.DefaultDisplaySettings()
	s.ScrollSpeed = models.ScrollFast
	s.AutoRestartDelay = 10

	d.ApplySettings(s)
	assert.Equal(t, models.ScrollFast, d.Settings().ScrollSpeed)

	plan, _ := d.Slot(models.DocumentPlan)
	plan.mu.Lock()
	defer plan.mu.Unlock()
	assert.Equal(t, 10*time.Second, plan.restartDelay)
}
