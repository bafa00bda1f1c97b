// Package raster turns PDF documents into ordered page images the kiosk can
// show directly.
package raster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Lllllllleong/displayagent/internal/ledger"
	"github.com/Lllllllleong/displayagent/internal/models"
)

const jpegContentType = "image/jpeg"

// Options bound the cost of rasterization.
type Options struct {
	MaxDim      int
	MaxScale    float64
	Quality     int
	PageTimeout time.Duration
	// PagePause is slept between pages to keep the upload rate sustainable.
	PagePause time.Duration

	SingleMaxDim  int
	SingleTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxDim:        2048,
		MaxScale:      1.5,
		Quality:       85,
		PageTimeout:   30 * time.Second,
		PagePause:     200 * time.Millisecond,
		SingleMaxDim:  1024,
		SingleTimeout: 60 * time.Second,
	}
}

// PageChecker reports pages already converted by the backend.
type PageChecker interface {
	CheckPages(ctx context.Context, documentID string, totalPages int) (models.CheckPagesResponse, error)
}

// PageCache receives a copy of every persisted page.
type PageCache interface {
	Put(ctx context.Context, url string, data []byte, contentType string) error
}

// Deps are the collaborators of a Rasterizer. Checker, Ledger, Cache and
// Objects are optional.
type Deps struct {
	Fetcher   Fetcher
	Objects   ObjectReader
	Inspector Inspector
	Renderer  Renderer
	Sink      Sink
	Checker   PageChecker
	Images    ImageStore
	Ledger    ledger.Ledger
	Cache     PageCache
	Clock     clock.Clock
}

// Rasterizer converts documents page by page, sequentially.
type Rasterizer struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Rasterizer {
	if deps.Inspector == nil {
		deps.Inspector = PDFCPUInspector{}
	}
	if deps.Renderer == nil {
		deps.Renderer = FitzRenderer{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Rasterizer{deps: deps, opts: opts}
}

// Progress is reported after every page.
type Progress struct {
	Page  int `json:"page"`
	Total int `json:"total"`
}

// Result is the outcome of a rasterization.
type Result struct {
	DocumentKey string
	Pages       []models.PageEntry
	// ImageOnly is set when the source was not a PDF and is shown as is.
	ImageOnly bool
	// FromCache is set when no page had to be rendered.
	FromCache bool
	Failed    int
	Inline    int
}

// URLs returns the page image URLs in display order.
func (r Result) URLs() []string {
	urls := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		urls[i] = p.ImageURL
	}
	return urls
}

// revisionHashLen is how much of the content hash a revision key keeps.
const revisionHashLen = 12

// DocumentKey names one revision of a document: a new upload under the same
// id hashes differently and never reuses old pages.
func DocumentKey(doc *models.Document, fileHash string) string {
	short := fileHash
	if len(short) > revisionHashLen {
		short = short[:revisionHashLen]
	}
	return fmt.Sprintf("%s-%s-%s", doc.Type, doc.ID, short)
}

func revisionPrefix(doc *models.Document) string {
	return fmt.Sprintf("%s-%s-", doc.Type, doc.ID)
}

// isRevisionKey reports whether key is a revision key under prefix. The
// hash suffix must be complete so that id "7" never matches id "7-b".
func isRevisionKey(key, prefix string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || len(rest) != revisionHashLen {
		return false
	}
	for _, c := range rest {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

func fileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *Rasterizer) resolve(rawURL string) string {
	if res, ok := r.deps.Fetcher.(resolver); ok {
		return res.Resolve(rawURL)
	}
	return rawURL
}

// Rasterize produces the page images of doc. Page-level failures are replaced
// by placeholders; only failures that leave nothing to show are returned.
func (r *Rasterizer) Rasterize(ctx context.Context, doc *models.Document, progress func(Progress)) (*Result, error) {
	logCtx := slog.With("documentId", doc.ID, "documentType", doc.Type)
	logCtx.Info("Rasterizing document.", "url", doc.URL)

	data, err := fetchDocument(ctx, r.deps.Fetcher, r.deps.Objects, doc.URL)
	if err != nil {
		logCtx.Error("Failed to fetch document", "error", err)
		return nil, err
	}
	if !hasPDFSignature(data) {
		logCtx.Info("Source is not a PDF, showing it as an image.")
		return &Result{
			DocumentKey: doc.ID,
			Pages:       []models.PageEntry{{PageIndex: 0, ImageURL: r.resolve(doc.URL)}},
			ImageOnly:   true,
		}, nil
	}

	hash := fileHash(data)
	key := DocumentKey(doc, hash)
	logCtx = logCtx.With("documentKey", key)

	pageCount, err := r.deps.Inspector.PageCount(data)
	if err != nil {
		logCtx.Error("Failed to inspect PDF", "error", err)
		return nil, err
	}
	if pageCount == 0 {
		return nil, ErrNoPages
	}

	if urls, ok := r.checkExisting(ctx, logCtx, key, pageCount); ok {
		logCtx.Info("All pages already converted, skipping render.", "pageCount", pageCount)
		return cachedResult(key, urls), nil
	}
	if urls, ok := r.findInLedger(ctx, logCtx, hash, pageCount); ok {
		logCtx.Info("Reusing pages from an earlier conversion.", "pageCount", pageCount)
		return cachedResult(key, urls), nil
	}

	r.beginRecord(ctx, logCtx, doc, key, hash)

	handle, err := r.deps.Renderer.Open(data)
	if err != nil {
		return nil, r.handleError(ctx, logCtx, key, "failed to open PDF for rendering", err)
	}
	defer func() {
		if handle != nil {
			_ = handle.Close()
		}
	}()

	r.updateRecord(ctx, logCtx, key, models.StatusRendering, ledger.Update{PageCount: pageCount})
	logCtx.Info("Rendering pages.", "pageCount", pageCount)

	res := &Result{DocumentKey: key, Pages: make([]models.PageEntry, 0, pageCount)}
	for i := 0; i < pageCount; i++ {
		if i > 0 && r.opts.PagePause > 0 {
			select {
			case <-r.deps.Clock.After(r.opts.PagePause):
			case <-ctx.Done():
				return nil, r.handleError(ctx, logCtx, key, "rasterization cancelled", ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, r.handleError(ctx, logCtx, key, "rasterization cancelled", err)
		}

		if handle == nil {
			// The previous handle is still busy with an abandoned render.
			handle, err = r.deps.Renderer.Open(data)
			if err != nil {
				return nil, r.handleError(ctx, logCtx, key, "failed to reopen PDF after a page timeout", err)
			}
		}

		pageNumber := i + 1
		encoded, retired, renderErr := r.renderPage(ctx, handle, i, r.opts.MaxDim, r.opts.PageTimeout)
		if retired {
			handle = nil
		}
		if renderErr != nil {
			if ctx.Err() != nil {
				return nil, r.handleError(ctx, logCtx, key, "rasterization cancelled", ctx.Err())
			}
			logCtx.Warn("Page failed, substituting placeholder.", "page", pageNumber, "error", renderErr)
			placeholder, err := encodeJPEG(placeholderImage(pageNumber), 0, r.opts.Quality)
			if err != nil {
				return nil, r.handleError(ctx, logCtx, key, "failed to encode placeholder", err)
			}
			// Page paths are write-once, so a placeholder never goes to the sink.
			res.Failed++
			res.Pages = append(res.Pages, models.PageEntry{PageIndex: i, ImageURL: inlineURL(placeholder), Inline: true, Failed: true})
		} else {
			entry := r.persist(ctx, logCtx, key, i, encoded)
			if entry.Inline {
				res.Inline++
			}
			res.Pages = append(res.Pages, entry)
		}

		if progress != nil {
			progress(Progress{Page: pageNumber, Total: pageCount})
		}
	}

	r.finishRecord(ctx, logCtx, key, res)
	r.purgeStale(ctx, logCtx, doc, key)
	logCtx.Info("Document rasterized.", "pageCount", pageCount, "failedPages", res.Failed, "inlinePages", res.Inline)
	return res, nil
}

func cachedResult(key string, urls []string) *Result {
	pages := make([]models.PageEntry, len(urls))
	for i, u := range urls {
		pages[i] = models.PageEntry{PageIndex: i, ImageURL: u}
	}
	return &Result{DocumentKey: key, Pages: pages, FromCache: true}
}

// checkExisting asks the backend for already converted pages. Every failure
// is a miss.
func (r *Rasterizer) checkExisting(ctx context.Context, logCtx *slog.Logger, key string, pageCount int) ([]string, bool) {
	if r.deps.Checker == nil {
		return nil, false
	}
	resp, err := r.deps.Checker.CheckPages(ctx, key, pageCount)
	if err != nil {
		logCtx.Warn("Page cache check failed, rendering instead.", "error", err)
		return nil, false
	}
	if !resp.AllPagesExist {
		return nil, false
	}
	if len(resp.PageURLs) != pageCount {
		logCtx.Warn("Page cache check returned the wrong number of pages.", "expected", pageCount, "got", len(resp.PageURLs))
		return nil, false
	}
	return resp.PageURLs, true
}

func (r *Rasterizer) findInLedger(ctx context.Context, logCtx *slog.Logger, hash string, pageCount int) ([]string, bool) {
	if r.deps.Ledger == nil {
		return nil, false
	}
	rec, err := r.deps.Ledger.FindReady(ctx, hash)
	if err != nil {
		logCtx.Warn("Render ledger lookup failed.", "error", err)
		return nil, false
	}
	if rec == nil || rec.PageCount != pageCount || len(rec.PageURLs) != pageCount {
		return nil, false
	}
	return rec.PageURLs, true
}

// renderPage rasterizes and encodes one page within timeout. A render that
// overruns is abandoned and the handle is retired: it is closed once the
// abandoned render returns, and the caller must not use it again.
func (r *Rasterizer) renderPage(ctx context.Context, handle Document, i, maxDim int, timeout time.Duration) ([]byte, bool, error) {
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		img, err := handle.RenderPage(i, maxDim, r.opts.MaxScale)
		if err != nil {
			done <- outcome{err: fmt.Errorf("%w: %v", ErrRender, err)}
			return
		}
		data, err := encodeJPEG(img, maxDim, r.opts.Quality)
		if err != nil {
			done <- outcome{err: fmt.Errorf("%w: %v", ErrRender, err)}
			return
		}
		done <- outcome{data: data}
	}()

	select {
	case o := <-done:
		return o.data, false, o.err
	case <-pageCtx.Done():
		go func() {
			<-done
			_ = handle.Close()
		}()
		if ctx.Err() != nil {
			return nil, true, ctx.Err()
		}
		return nil, true, fmt.Errorf("page %d: %w", i+1, ErrRenderTimeout)
	}
}

// persist stores one encoded page, falling back to an inline data URL.
func (r *Rasterizer) persist(ctx context.Context, logCtx *slog.Logger, key string, index int, data []byte) models.PageEntry {
	pageNumber := index + 1
	if r.deps.Sink != nil {
		url, err := r.deps.Sink.SavePage(ctx, key, pageNumber, data)
		if err == nil {
			r.cachePut(ctx, logCtx, url, data)
			return models.PageEntry{PageIndex: index, ImageURL: url}
		}
		logCtx.Warn("Failed to persist page, keeping it inline.", "page", pageNumber, "error", err)
	}
	return models.PageEntry{PageIndex: index, ImageURL: inlineURL(data), Inline: true}
}

func (r *Rasterizer) cachePut(ctx context.Context, logCtx *slog.Logger, url string, data []byte) {
	if r.deps.Cache == nil {
		return
	}
	if err := r.deps.Cache.Put(ctx, url, data, jpegContentType); err != nil {
		logCtx.Warn("Failed to cache page image.", "url", url, "error", err)
	}
}

func (r *Rasterizer) beginRecord(ctx context.Context, logCtx *slog.Logger, doc *models.Document, key, hash string) {
	if r.deps.Ledger == nil {
		return
	}
	rec := &models.RenderRecord{
		DocumentKey: key,
		DocumentID:  doc.ID,
		FileHash:    hash,
		Status:      models.StatusValidating,
		CreatedAt:   r.deps.Clock.Now(),
	}
	if err := r.deps.Ledger.Create(ctx, rec); err != nil {
		logCtx.Warn("Failed to create render record.", "error", err)
	}
}

func (r *Rasterizer) updateRecord(ctx context.Context, logCtx *slog.Logger, key string, status models.RenderStatus, u ledger.Update) {
	if r.deps.Ledger == nil {
		return
	}
	if err := r.deps.Ledger.Update(ctx, key, status, u); err != nil {
		logCtx.Warn("Failed to update render record.", "status", status, "error", err)
	}
}

// finishRecord marks a revision reusable only when every page was rendered
// and persisted.
func (r *Rasterizer) finishRecord(ctx context.Context, logCtx *slog.Logger, key string, res *Result) {
	if res.Failed == 0 && res.Inline == 0 {
		r.updateRecord(ctx, logCtx, key, models.StatusReady, ledger.Update{PageURLs: res.URLs()})
		return
	}
	details := fmt.Sprintf("%d pages failed, %d pages kept inline", res.Failed, res.Inline)
	r.updateRecord(ctx, logCtx, key, models.StatusFailed, ledger.Update{ErrorDetails: details})
}

// purgeStale drops older revisions from the sink and retires their ledger
// records so no later load reuses the deleted URLs.
func (r *Rasterizer) purgeStale(ctx context.Context, logCtx *slog.Logger, doc *models.Document, key string) {
	p, ok := r.deps.Sink.(Purger)
	if !ok {
		return
	}
	purged, err := p.PurgeStale(ctx, revisionPrefix(doc), key)
	for _, old := range purged {
		r.updateRecord(ctx, logCtx, old, models.StatusPurged, ledger.Update{ErrorDetails: "pages deleted after revision " + key})
	}
	if err != nil {
		logCtx.Warn("Failed to purge pages of older revisions.", "error", err)
		return
	}
	if len(purged) > 0 {
		logCtx.Info("Purged pages of older revisions.", "revisions", purged)
	}
}

func (r *Rasterizer) handleError(ctx context.Context, logCtx *slog.Logger, key, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	if r.deps.Ledger != nil {
		u := ledger.Update{ErrorDetails: fmt.Sprintf("%s: %v", message, originalErr)}
		if err := r.deps.Ledger.Update(ctx, key, models.StatusFailed, u); err != nil && !errors.Is(err, context.Canceled) {
			logCtx.Error("Failed to record FAILED status after a processing error.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
