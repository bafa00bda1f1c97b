// Package ledger records the conversion status of each document revision so
// a revision already rendered elsewhere is not rendered again.
package ledger

import (
	"context"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// Update carries the optional fields written alongside a status change.
type Update struct {
	PageCount    int
	PageURLs     []string
	ErrorDetails string
}

// Ledger stores render records keyed by document key.
type Ledger interface {
	// FindReady returns a READY record for fileHash, or nil when there is none.
	FindReady(ctx context.Context, fileHash string) (*models.RenderRecord, error)
	// Create writes a new record, replacing an earlier attempt with the same key.
	Create(ctx context.Context, rec *models.RenderRecord) error
	Update(ctx context.Context, documentKey string, status models.RenderStatus, u Update) error
}
