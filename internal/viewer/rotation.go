package viewer

import (
	"sort"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// Candidates returns the active documents of one type, newest upload first,
// ties broken by id so the order is stable.
func Candidates(docs []models.Document, kind models.DocumentType) []models.Document {
	var out []models.Document
	for _, d := range docs {
		if d.Active && d.Type == kind {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].UploadDate.After(out[j].UploadDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Rotation cycles round-robin through a slot's candidate documents.
type Rotation struct {
	docs  []models.Document
	index int
}

// Update replaces the candidates. The document on screen keeps its place when
// it is still a candidate; otherwise the rotation starts over.
func (r *Rotation) Update(docs []models.Document) {
	current := r.Current()
	r.docs = docs
	r.index = 0
	if current == nil {
		return
	}
	for i := range docs {
		if docs[i].ID == current.ID {
			r.index = i
			return
		}
	}
}

// Current is nil when there are no candidates.
func (r *Rotation) Current() *models.Document {
	if len(r.docs) == 0 {
		return nil
	}
	d := r.docs[r.index]
	return &d
}

// Next advances to the following candidate and returns it.
func (r *Rotation) Next() *models.Document {
	if len(r.docs) == 0 {
		return nil
	}
	r.index = (r.index + 1) % len(r.docs)
	return r.Current()
}

func (r *Rotation) Len() int { return len(r.docs) }
