package ledger

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// NewFirestoreClient creates a Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// Firestore keeps render records in a collection, one document per document key.
// Kiosks sharing a project share their conversions through it.
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ Ledger = (*Firestore)(nil)

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	return &Firestore{client: client, collection: collection}
}

func (f *Firestore) FindReady(ctx context.Context, fileHash string) (*models.RenderRecord, error) {
	docs, err := f.client.Collection(f.collection).Where("fileHash", "==", fileHash).Limit(10).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	for _, snap := range docs {
		var rec models.RenderRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode render record %s: %w", snap.Ref.ID, err)
		}
		if rec.Status == models.StatusReady {
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *Firestore) Create(ctx context.Context, rec *models.RenderRecord) error {
	if _, err := f.client.Collection(f.collection).Doc(rec.DocumentKey).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to create render record: %w", err)
	}
	return nil
}

func (f *Firestore) Update(ctx context.Context, documentKey string, status models.RenderStatus, u Update) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if u.PageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: u.PageCount})
	}
	if u.PageURLs != nil {
		updates = append(updates, firestore.Update{Path: "pageUrls", Value: u.PageURLs})
	}
	if u.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: u.ErrorDetails})
	}
	if _, err := f.client.Collection(f.collection).Doc(documentKey).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update render record %s: %w", documentKey, err)
	}
	return nil
}
