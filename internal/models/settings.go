package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// ScrollSpeed is the admin-facing speed name.
type ScrollSpeed string

const (
	ScrollSlow   ScrollSpeed = "slow"
	ScrollNormal ScrollSpeed = "normal"
	ScrollFast   ScrollSpeed = "fast"
)

const (
	minAlternateInterval = 1000
	maxAlternateInterval = 60 * 60 * 1000
	minRestartDelay      = 1
	maxRestartDelay      = 600
)

// DisplaySettings are the kiosk tunables managed from the admin panel.
// Intervals are in milliseconds, AutoRestartDelay in seconds.
type DisplaySettings struct {
	ScrollSpeed               ScrollSpeed `json:"scrollSpeed"`
	EscalaAlternateInterval   int         `json:"escalaAlternateInterval"`
	CardapioAlternateInterval int         `json:"cardapioAlternateInterval"`
	AutoRestartDelay          int         `json:"autoRestartDelay"`
	UpdatedAt                 time.Time   `json:"updatedAt"`
}

// DefaultDisplaySettings returns the values used before the backend answers.
func DefaultDisplaySettings() DisplaySettings {
	return DisplaySettings{
		ScrollSpeed:               ScrollNormal,
		EscalaAlternateInterval:   30000,
		CardapioAlternateInterval: 30000,
		AutoRestartDelay:          3,
		UpdatedAt:                 time.Unix(0, 0).UTC(),
	}
}

// RosterInterval is the roster rotation period.
func (s DisplaySettings) RosterInterval() time.Duration {
	return time.Duration(s.EscalaAlternateInterval) * time.Millisecond
}

// MenuInterval is the menu rotation period.
func (s DisplaySettings) MenuInterval() time.Duration {
	return time.Duration(s.CardapioAlternateInterval) * time.Millisecond
}

// RestartDelay is the pause between the end of a scroll and the next cycle.
func (s DisplaySettings) RestartDelay() time.Duration {
	return time.Duration(s.AutoRestartDelay) * time.Second
}

// UnmarshalJSON sanitizes the payload: camelCase or snake_case keys, numbers
// or numeric strings, out-of-range values clamped, unknown speeds defaulted.
func (s *DisplaySettings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = DefaultDisplaySettings()
		return nil
	}
	pick := func(keys ...string) json.RawMessage {
		for _, k := range keys {
			if v, ok := raw[k]; ok && string(v) != "null" {
				return v
			}
		}
		return nil
	}
	def := DefaultDisplaySettings()

	*s = DisplaySettings{
		ScrollSpeed: parseSpeed(pick("scrollSpeed", "scroll_speed"), def.ScrollSpeed),
		EscalaAlternateInterval: parseBounded(pick("escalaAlternateInterval", "escala_alternate_interval"),
			def.EscalaAlternateInterval, minAlternateInterval, maxAlternateInterval),
		CardapioAlternateInterval: parseBounded(pick("cardapioAlternateInterval", "cardapio_alternate_interval"),
			def.CardapioAlternateInterval, minAlternateInterval, maxAlternateInterval),
		AutoRestartDelay: parseBounded(pick("autoRestartDelay", "auto_restart_delay"),
			def.AutoRestartDelay, minRestartDelay, maxRestartDelay),
		UpdatedAt: time.Now().UTC(),
	}
	if v := pick("updatedAt", "updated_at"); v != nil {
		var ts time.Time
		if err := json.Unmarshal(v, &ts); err == nil {
			s.UpdatedAt = ts
		}
	}
	return nil
}

// Sanitized clamps values that did not come through UnmarshalJSON, e.g. CLI flags.
func (s DisplaySettings) Sanitized() DisplaySettings {
	def := DefaultDisplaySettings()
	switch s.ScrollSpeed {
	case ScrollSlow, ScrollNormal, ScrollFast:
	default:
		s.ScrollSpeed = def.ScrollSpeed
	}
	s.EscalaAlternateInterval = clampOr(s.EscalaAlternateInterval, def.EscalaAlternateInterval, minAlternateInterval, maxAlternateInterval)
	s.CardapioAlternateInterval = clampOr(s.CardapioAlternateInterval, def.CardapioAlternateInterval, minAlternateInterval, maxAlternateInterval)
	s.AutoRestartDelay = clampOr(s.AutoRestartDelay, def.AutoRestartDelay, minRestartDelay, maxRestartDelay)
	return s
}

// SettingsPatch is the body of PUT /api/display-settings.
type SettingsPatch struct {
	ScrollSpeed               *ScrollSpeed `json:"scrollSpeed,omitempty"`
	EscalaAlternateInterval   *int         `json:"escalaAlternateInterval,omitempty"`
	CardapioAlternateInterval *int         `json:"cardapioAlternateInterval,omitempty"`
	AutoRestartDelay          *int         `json:"autoRestartDelay,omitempty"`
}

func parseSpeed(raw json.RawMessage, fallback ScrollSpeed) ScrollSpeed {
	var v string
	if raw == nil || json.Unmarshal(raw, &v) != nil {
		return fallback
	}
	switch ScrollSpeed(v) {
	case ScrollSlow, ScrollNormal, ScrollFast:
		return ScrollSpeed(v)
	}
	return fallback
}

func parseBounded(raw json.RawMessage, fallback, lo, hi int) int {
	if raw == nil {
		return fallback
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return fallback
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return fallback
		}
		f = float64(n)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return clamp(int(math.Trunc(f)), lo, hi)
}

func clampOr(v, fallback, lo, hi int) int {
	if v == 0 {
		return fallback
	}
	return clamp(v, lo, hi)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
