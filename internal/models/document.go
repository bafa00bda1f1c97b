package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DocumentType identifies which display slot a document belongs to.
type DocumentType string

const (
	DocumentPlan   DocumentType = "plan"
	DocumentRoster DocumentType = "roster"
	DocumentMenu   DocumentType = "menu"
)

// ParseDocumentType accepts both the canonical names and the aliases the admin
// backend stores ("plasa", "bono", "escala", "cardapio").
func ParseDocumentType(raw string) (DocumentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "plan", "plasa", "bono":
		return DocumentPlan, nil
	case "roster", "escala":
		return DocumentRoster, nil
	case "menu", "cardapio", "cardápio":
		return DocumentMenu, nil
	}
	return "", fmt.Errorf("unknown document type %q", raw)
}

// Document is the admin-managed record describing one displayable document.
// The agent never mutates it.
type Document struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	URL        string       `json:"url"`
	Type       DocumentType `json:"type"`
	Category   string       `json:"category,omitempty"`
	Unit       string       `json:"unit,omitempty"`
	Active     bool         `json:"active"`
	Tags       []string     `json:"tags"`
	UploadDate time.Time    `json:"uploadDate"`
}

// SameContent reports whether two records would render the same thing.
func (d *Document) SameContent(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.ID == other.ID && d.URL == other.URL
}

// wireDocument mirrors what the backend actually sends: numeric or string ids,
// type aliases, and a handful of alternative timestamp fields.
type wireDocument struct {
	ID         json.RawMessage `json:"id"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Unit       string          `json:"unit"`
	Active     *bool           `json:"active"`
	Tags       json.RawMessage `json:"tags"`
	UploadDate string          `json:"uploadDate"`
	UpdatedAt  string          `json:"updatedAt"`
	CreatedAt  string          `json:"createdAt"`
}

// UnmarshalJSON normalizes backend payloads into a Document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return fmt.Errorf("document id: %w", err)
	}
	// "cardapio-EAGM" carries the unit as a suffix.
	rawType, unitSuffix, _ := strings.Cut(w.Type, "-")
	docType, err := ParseDocumentType(rawType)
	if err != nil {
		return err
	}
	unit := strings.TrimSpace(w.Unit)
	if unit == "" {
		unit = strings.TrimSpace(unitSuffix)
	}

	*d = Document{
		ID:       id,
		Title:    strings.TrimSpace(w.Title),
		URL:      w.URL,
		Type:     docType,
		Category: w.Category,
		Unit:     unit,
		Active:   w.Active == nil || *w.Active,
		Tags:     decodeTags(w.Tags),
	}
	for _, ts := range []string{w.UploadDate, w.UpdatedAt, w.CreatedAt} {
		if ts == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			d.UploadDate = parsed
			break
		}
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("empty")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		var one string
		if err := json.Unmarshal(raw, &one); err != nil || strings.TrimSpace(one) == "" {
			return []string{}
		}
		many = []string{one}
	}
	tags := make([]string, 0, len(many))
	for _, t := range many {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// PageEntry is one rasterized page of a document, in display order.
type PageEntry struct {
	PageIndex int    `json:"pageIndex"`
	ImageURL  string `json:"imageUrl"`
	// Inline is set when the image could not be persisted and ImageURL is a data URL.
	Inline bool `json:"inline,omitempty"`
	// Failed marks a placeholder substituted for a page that did not render.
	Failed bool `json:"failed,omitempty"`
}
