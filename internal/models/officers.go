package models

import (
	"regexp"
	"strings"
	"time"
)

// DutyOfficers is the single current duty assignment.
type DutyOfficers struct {
	OfficerName string    `json:"officerName"`
	OfficerRank string    `json:"officerRank,omitempty"`
	MasterName  string    `json:"masterName"`
	MasterRank  string    `json:"masterRank,omitempty"`
	ValidFrom   time.Time `json:"validFrom"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// rankDisplay maps the rank codes stored by the admin panel to their on-screen form.
var rankDisplay = map[string]string{
	"CT":  "CT",
	"CC":  "CC",
	"CF":  "CMG",
	"1T":  "1º TEN",
	"2T":  "2º TEN",
	"1SG": "1º SG",
	"2SG": "2º SG",
	"3SG": "3º SG",
}

var dutyNamePattern = regexp.MustCompile(`^([A-Z0-9]+)\s*(?:\(([^)]+)\))?\s+(.+)$`)

// NormalizeDutyName upper-cases a name and strips a leading known rank code,
// optionally followed by a parenthesized specialty ("1T (RM2-T) LARISSA CASTRO").
func NormalizeDutyName(value string) string {
	upper := strings.ToUpper(strings.TrimSpace(value))
	if upper == "" {
		return ""
	}
	if m := dutyNamePattern.FindStringSubmatch(upper); m != nil {
		if _, known := rankDisplay[m[1]]; known {
			return strings.TrimSpace(m[3])
		}
	}
	return upper
}

// DisplayRank renders a rank code, passing unknown ranks through upper-cased.
func DisplayRank(rank string) string {
	code := strings.ToUpper(strings.TrimSpace(rank))
	if shown, ok := rankDisplay[code]; ok {
		return shown
	}
	return code
}

// DisplayName joins rank and name when both are present, otherwise returns
// whichever is present. A rank already embedded in the name is not repeated.
func DisplayName(rank, name string) string {
	n := NormalizeDutyName(name)
	r := DisplayRank(rank)
	switch {
	case n == "":
		return ""
	case r == "":
		return n
	}
	return r + " " + n
}

// OfficerDisplay is the officer line shown on the kiosk.
func (o *DutyOfficers) OfficerDisplay() string {
	if o == nil {
		return ""
	}
	return DisplayName(o.OfficerRank, o.OfficerName)
}

// MasterDisplay is the master line shown on the kiosk.
func (o *DutyOfficers) MasterDisplay() string {
	if o == nil {
		return ""
	}
	return DisplayName(o.MasterRank, o.MasterName)
}
