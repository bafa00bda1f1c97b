package raster

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/Lllllllleong/displayagent/internal/backend"
)

// Sink persists rendered pages and returns the URL they are served from.
type Sink interface {
	SavePage(ctx context.Context, documentKey string, pageNumber int, data []byte) (string, error)
}

// Purger is implemented by sinks that can drop pages of superseded revisions.
type Purger interface {
	// PurgeStale deletes the pages of every revision under revisionPrefix
	// other than currentKey and returns the purged revision keys.
	PurgeStale(ctx context.Context, revisionPrefix, currentKey string) ([]string, error)
}

// PagePath is the deterministic location of a page under its document key.
func PagePath(documentKey string, pageNumber int) string {
	return fmt.Sprintf("%s/%s", documentKey, pageFilename(pageNumber))
}

func pageFilename(pageNumber int) string {
	return fmt.Sprintf("page-%05d.jpg", pageNumber)
}

// inlineURL keeps a page in memory when it could not be persisted.
func inlineURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// BackendSink uploads pages to the admin backend.
type BackendSink struct {
	client *backend.Client
}

func NewBackendSink(client *backend.Client) *BackendSink {
	return &BackendSink{client: client}
}

func (s *BackendSink) SavePage(ctx context.Context, documentKey string, pageNumber int, data []byte) (string, error) {
	return s.client.UploadPage(ctx, documentKey, pageNumber, pageFilename(pageNumber), data)
}
