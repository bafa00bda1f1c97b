package raster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/displayagent/internal/gcp"
)

// GCSSink writes pages to a Cloud Storage bucket. Objects are write-once:
// a page path only ever holds the bytes of one document revision.
type GCSSink struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	publicBase string
	maxRetries int
	backoff    time.Duration
}

// PublicBase is the URL prefix pages of bucketName are served from: publicBase
// when set, otherwise the public storage.googleapis.com endpoint.
func PublicBase(bucketName, publicBase string) string {
	if publicBase == "" {
		publicBase = "https://storage.googleapis.com/" + bucketName
	}
	return strings.TrimRight(publicBase, "/")
}

func NewGCSSink(client *storage.Client, bucketName, publicBase string) *GCSSink {
	return &GCSSink{
		client:     client,
		bucket:     client.Bucket(bucketName),
		publicBase: PublicBase(bucketName, publicBase),
		maxRetries: 4,
		backoff:    time.Second,
	}
}

// ReadObject reads a gs:// document source from any bucket the client can see.
func (s *GCSSink) ReadObject(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, object, err := gcp.ParseGSURL(rawURL)
	if err != nil {
		return nil, err
	}
	return gcp.ReadObject(ctx, s.client, bucket, object)
}

func (s *GCSSink) SavePage(ctx context.Context, documentKey string, pageNumber int, data []byte) (string, error) {
	object := PagePath(documentKey, pageNumber)
	if err := s.upload(ctx, object, data); err != nil {
		return "", err
	}
	return s.publicBase + "/" + object, nil
}

func (s *GCSSink) upload(ctx context.Context, object string, data []byte) error {
	backoff := s.backoff
	var lastErr error

	for i := 0; i < s.maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()
			return gcp.SaveToGCSAtomically(writeCtx, s.bucket, object, "image/jpeg", data)
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", s.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}

// PurgeStale deletes the pages of every revision under revisionPrefix other
// than currentKey.
func (s *GCSSink) PurgeStale(ctx context.Context, revisionPrefix, currentKey string) ([]string, error) {
	names, err := gcp.ListObjects(ctx, s.bucket, revisionPrefix)
	if err != nil {
		return nil, err
	}
	var stale []string
	seen := map[string]bool{}
	for _, name := range names {
		key, _, ok := strings.Cut(name, "/")
		if !ok || key == currentKey || seen[key] || !isRevisionKey(key, revisionPrefix) {
			continue
		}
		seen[key] = true
		stale = append(stale, key)
	}
	var purged []string
	for _, key := range stale {
		// A partly deleted revision is no longer usable either.
		purged = append(purged, key)
		if _, err := gcp.DeletePrefix(ctx, s.bucket, key+"/"); err != nil {
			return purged, err
		}
	}
	return purged, nil
}
