package scroll

import "github.com/Lllllllleong/displayagent/internal/models"

// Speed is the scroll advance in pixels per frame.
type Speed int

const (
	SpeedSlow   Speed = 1
	SpeedNormal Speed = 3
	SpeedFast   Speed = 5
)

// SpeedFor maps the admin setting to pixels per frame.
func SpeedFor(s models.ScrollSpeed) Speed {
	switch s {
	case models.ScrollSlow:
		return SpeedSlow
	case models.ScrollFast:
		return SpeedFast
	}
	return SpeedNormal
}

func (s Speed) String() string {
	switch s {
	case SpeedSlow:
		return "slow"
	case SpeedNormal:
		return "normal"
	case SpeedFast:
		return "fast"
	}
	return "custom"
}
