package raster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// ImageStore keeps the single converted image of roster and menu documents.
type ImageStore interface {
	CheckImage(ctx context.Context, documentID string) (string, bool, error)
	UploadImage(ctx context.Context, documentID, filename string, data []byte) (string, error)
}

// RasterizeSingle converts only the first page of doc at a lower resolution.
// The image is stored under the revision key so later loads skip rendering.
func (r *Rasterizer) RasterizeSingle(ctx context.Context, doc *models.Document) (models.PageEntry, error) {
	logCtx := slog.With("documentId", doc.ID, "documentType", doc.Type)

	data, err := fetchDocument(ctx, r.deps.Fetcher, r.deps.Objects, doc.URL)
	if err != nil {
		logCtx.Error("Failed to fetch document", "error", err)
		return models.PageEntry{}, err
	}
	if !hasPDFSignature(data) {
		return models.PageEntry{PageIndex: 0, ImageURL: r.resolve(doc.URL)}, nil
	}

	key := DocumentKey(doc, fileHash(data))
	logCtx = logCtx.With("documentKey", key)

	if r.deps.Images != nil {
		url, ok, err := r.deps.Images.CheckImage(ctx, key)
		switch {
		case err != nil:
			logCtx.Warn("Image cache check failed, rendering instead.", "error", err)
		case ok:
			logCtx.Info("Converted image already stored, skipping render.")
			return models.PageEntry{PageIndex: 0, ImageURL: url}, nil
		}
	}

	handle, err := r.deps.Renderer.Open(data)
	if err != nil {
		logCtx.Error("Failed to open PDF for rendering", "error", err)
		return models.PageEntry{}, err
	}
	if handle.NumPage() == 0 {
		_ = handle.Close()
		return models.PageEntry{}, ErrNoPages
	}

	encoded, retired, err := r.renderPage(ctx, handle, 0, r.opts.SingleMaxDim, r.opts.SingleTimeout)
	if !retired {
		_ = handle.Close()
	}
	if err != nil {
		logCtx.Error("Failed to render first page", "error", err)
		return models.PageEntry{}, err
	}

	if r.deps.Images != nil {
		url, err := r.deps.Images.UploadImage(ctx, key, fmt.Sprintf("%s.jpg", key), encoded)
		if err == nil {
			r.cachePut(ctx, logCtx, url, encoded)
			logCtx.Info("Converted image stored.", "url", url)
			return models.PageEntry{PageIndex: 0, ImageURL: url}, nil
		}
		logCtx.Warn("Failed to store converted image, keeping it inline.", "error", err)
	}
	return models.PageEntry{PageIndex: 0, ImageURL: inlineURL(encoded), Inline: true}, nil
}
