package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/displayagent/internal/imagecache"
	"github.com/Lllllllleong/displayagent/internal/ledger"
	"github.com/Lllllllleong/displayagent/internal/models"
)

var samplePDF = []byte("%PDF-1.7\n% fake body for tests\n")

type fakeFetcher struct {
	data     []byte
	directOK bool
	proxied  atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, string, error) {
	if !f.directOK {
		return nil, "", errors.New("cors")
	}
	return f.data, "application/pdf", nil
}

func (f *fakeFetcher) FetchViaProxy(_ context.Context, rawURL string) ([]byte, error) {
	f.proxied.Add(1)
	return f.data, nil
}

func (f *fakeFetcher) Resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return "http://backend.test" + path
	}
	return path
}

type fakeInspector struct {
	pages int
	err   error
}

func (f fakeInspector) PageCount([]byte) (int, error) { return f.pages, f.err }

type fakeRenderer struct {
	pages   int
	failOn  map[int]bool
	blockOn map[int]chan struct{}
	renders atomic.Int32
	opens   atomic.Int32
	closes  atomic.Int32
}

func (f *fakeRenderer) Open([]byte) (Document, error) {
	f.opens.Add(1)
	return &fakeDocument{r: f}, nil
}

// fakeDocument serializes renders and Close on one lock like the MuPDF handle.
type fakeDocument struct {
	mu sync.Mutex
	r  *fakeRenderer
}

func (d *fakeDocument) NumPage() int { return d.r.pages }

func (d *fakeDocument) RenderPage(i int, maxDim int, maxScale float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.renders.Add(1)
	if ch, ok := d.r.blockOn[i]; ok {
		<-ch
	}
	if d.r.failOn[i] {
		return nil, fmt.Errorf("corrupt content stream on page %d", i+1)
	}
	return image.NewRGBA(image.Rect(0, 0, 40, 60)), nil
}

func (d *fakeDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.closes.Add(1)
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	fail  bool
	saved []string
}

func (s *fakeSink) SavePage(_ context.Context, key string, pageNumber int, _ []byte) (string, error) {
	if s.fail {
		return "", errors.New("backend unavailable")
	}
	url := "http://backend.test/uploads/" + PagePath(key, pageNumber)
	s.mu.Lock()
	s.saved = append(s.saved, url)
	s.mu.Unlock()
	return url, nil
}

type fakeChecker struct {
	resp  models.CheckPagesResponse
	err   error
	calls atomic.Int32
}

func (c *fakeChecker) CheckPages(_ context.Context, _ string, _ int) (models.CheckPagesResponse, error) {
	c.calls.Add(1)
	return c.resp, c.err
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PagePause = 0
	opts.PageTimeout = 2 * time.Second
	return opts
}

func planDoc() *models.Document {
	return &models.Document{ID: "7", Type: models.DocumentPlan, URL: "/uploads/plan.pdf", Active: true}
}

func TestRasterize_FullCacheHitSkipsRendering(t *testing.T) {
	for _, n := range []int{1, 3, 12} {
		t.Run(fmt.Sprintf("%d pages", n), func(t *testing.T) {
			urls := make([]string, n)
			for i := range urls {
				urls[i] = fmt.Sprintf("http://backend.test/uploads/p-%d.jpg", i+1)
			}
			renderer := &fakeRenderer{pages: n}
			r := New(Deps{
				Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
				Inspector: fakeInspector{pages: n},
				Renderer:  renderer,
				Sink:      &fakeSink{},
				Checker:   &fakeChecker{resp: models.CheckPagesResponse{AllPagesExist: true, PageURLs: urls}},
			}, testOptions())

			res, err := r.Rasterize(context.Background(), planDoc(), nil)
			require.NoError(t, err)
			assert.True(t, res.FromCache)
			assert.Equal(t, urls, res.URLs())
			assert.Zero(t, renderer.renders.Load())
		})
	}
}

func TestRasterize_CacheCheckFailureIsAMiss(t *testing.T) {
	renderer := &fakeRenderer{pages: 2}
	checker := &fakeChecker{err: errors.New("connection refused")}
	sink := &fakeSink{}
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 2},
		Renderer:  renderer,
		Sink:      sink,
		Checker:   checker,
	}, testOptions())

	res, err := r.Rasterize(context.Background(), planDoc(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, checker.calls.Load())
	assert.EqualValues(t, 2, renderer.renders.Load())
	assert.False(t, res.FromCache)
	assert.Len(t, res.Pages, 2)
	assert.Equal(t, sink.saved, res.URLs())
}

func TestRasterize_WrongCountFromCacheCheckIsAMiss(t *testing.T) {
	renderer := &fakeRenderer{pages: 3}
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 3},
		Renderer:  renderer,
		Sink:      &fakeSink{},
		Checker:   &fakeChecker{resp: models.CheckPagesResponse{AllPagesExist: true, PageURLs: []string{"/only-one.jpg"}}},
	}, testOptions())

	res, err := r.Rasterize(context.Background(), planDoc(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, renderer.renders.Load())
	assert.Len(t, res.Pages, 3)
}

func TestRasterize_PageFailureBecomesPlaceholder(t *testing.T) {
	renderer := &fakeRenderer{pages: 4, failOn: map[int]bool{1: true}}
	sink := &fakeSink{}
	var progress []Progress
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 4},
		Renderer:  renderer,
		Sink:      sink,
	}, testOptions())

	res, err := r.Rasterize(context.Background(), planDoc(), func(p Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	require.Len(t, res.Pages, 4)
	assert.Equal(t, 1, res.Failed)
	for i, p := range res.Pages {
		assert.Equal(t, i, p.PageIndex)
		assert.Equal(t, i == 1, p.Failed, "page %d", i+1)
	}
	assert.EqualValues(t, 4, renderer.renders.Load(), "pages after the failure still render")
	assert.True(t, strings.HasPrefix(res.Pages[1].ImageURL, "data:image/jpeg;base64,"))
	assert.Len(t, sink.saved, 3)
	assert.NotContains(t, sink.saved, "http://backend.test/uploads/"+PagePath(res.DocumentKey, 2),
		"placeholders never reach the write-once page path")
	assert.Zero(t, res.Inline)
	assert.Equal(t, Progress{Page: 4, Total: 4}, progress[len(progress)-1])
	assert.Len(t, progress, 4)
}

func TestRasterize_TimeoutBecomesPlaceholder(t *testing.T) {
	release := make(chan struct{})
	renderer := &fakeRenderer{pages: 3, blockOn: map[int]chan struct{}{0: release}}
	opts := testOptions()
	opts.PageTimeout = 30 * time.Millisecond
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 3},
		Renderer:  renderer,
		Sink:      &fakeSink{},
	}, opts)

	start := time.Now()
	res, err := r.Rasterize(context.Background(), planDoc(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "result waited for the hung render")
	require.Len(t, res.Pages, 3)
	assert.True(t, res.Pages[0].Failed)
	assert.False(t, res.Pages[1].Failed)
	assert.False(t, res.Pages[2].Failed)
	assert.EqualValues(t, 2, renderer.opens.Load(), "remaining pages render on a fresh handle")
	assert.EqualValues(t, 1, renderer.closes.Load())

	close(release)
	require.Eventually(t, func() bool { return renderer.closes.Load() == 2 }, time.Second, time.Millisecond,
		"abandoned handle closed once its render returns")
}

func TestRasterize_SinkFailureFallsBackInline(t *testing.T) {
	l := ledger.NewMemory()
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 2},
		Renderer:  &fakeRenderer{pages: 2},
		Sink:      &fakeSink{fail: true},
		Ledger:    l,
	}, testOptions())

	res, err := r.Rasterize(context.Background(), planDoc(), nil)
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	for _, p := range res.Pages {
		assert.True(t, p.Inline)
		assert.True(t, strings.HasPrefix(p.ImageURL, "data:image/jpeg;base64,"))
	}

	rec, ok := l.Get(res.DocumentKey)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, rec.Status, "inline pages are not reusable")
}

func TestRasterize_LedgerReuse(t *testing.T) {
	l := ledger.NewMemory()
	renderer := &fakeRenderer{pages: 2}
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 2},
		Renderer:  renderer,
		Sink:      &fakeSink{},
		Ledger:    l,
	}, testOptions())
	ctx := context.Background()

	first, err := r.Rasterize(ctx, planDoc(), nil)
	require.NoError(t, err)
	rec, ok := l.Get(first.DocumentKey)
	require.True(t, ok)
	assert.Equal(t, models.StatusReady, rec.Status)

	second, err := r.Rasterize(ctx, planDoc(), nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.URLs(), second.URLs())
	assert.EqualValues(t, 2, renderer.renders.Load())
}

func TestRasterize_WritesThroughImageCache(t *testing.T) {
	cache := imagecache.New(imagecache.NewMemoryStore())
	sink := &fakeSink{}
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{pages: 2},
		Renderer:  &fakeRenderer{pages: 2},
		Sink:      sink,
		Cache:     cache,
	}, testOptions())
	ctx := context.Background()

	_, err := r.Rasterize(ctx, planDoc(), nil)
	require.NoError(t, err)

	for _, url := range sink.saved {
		e, ok := cache.Get(ctx, url)
		require.True(t, ok, url)
		_, err := jpeg.Decode(bytes.NewReader(e.Data))
		assert.NoError(t, err)
	}
}

func TestRasterize_NonPDFIsShownAsImage(t *testing.T) {
	renderer := &fakeRenderer{}
	r := New(Deps{
		Fetcher:  &fakeFetcher{data: []byte("\xff\xd8\xff\xe0 jpeg"), directOK: true},
		Renderer: renderer,
	}, testOptions())

	doc := planDoc()
	doc.URL = "/uploads/plan.jpg"
	res, err := r.Rasterize(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.True(t, res.ImageOnly)
	assert.Equal(t, []string{"http://backend.test/uploads/plan.jpg"}, res.URLs())
	assert.Zero(t, renderer.renders.Load())
}

func TestRasterize_InvalidPDF(t *testing.T) {
	r := New(Deps{
		Fetcher:   &fakeFetcher{data: samplePDF, directOK: true},
		Inspector: fakeInspector{err: fmt.Errorf("%w: xref table broken", ErrInvalidPDF)},
		Renderer:  &fakeRenderer{},
	}, testOptions())

	_, err := r.Rasterize(context.Background(), planDoc(), nil)
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestRasterize_FetchFallsBackToProxy(t *testing.T) {
	fetcher := &fakeFetcher{data: samplePDF}
	r := New(Deps{
		Fetcher:   fetcher,
		Inspector: fakeInspector{pages: 1},
		Renderer:  &fakeRenderer{pages: 1},
		Sink:      &fakeSink{},
	}, testOptions())

	res, err := r.Rasterize(context.Background(), planDoc(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Pages, 1)
	assert.EqualValues(t, 1, fetcher.proxied.Load())
}

func TestDocumentKey_ChangesWithContent(t *testing.T) {
	doc := planDoc()
	a := DocumentKey(doc, fileHash([]byte("%PDF-1.7 first upload")))
	b := DocumentKey(doc, fileHash([]byte("%PDF-1.7 second upload")))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "plan-7-"))
	assert.Len(t, a, len("plan-7-")+12)
}

func TestIsRevisionKey(t *testing.T) {
	doc := planDoc()
	key := DocumentKey(doc, fileHash(samplePDF))
	prefix := revisionPrefix(doc)

	assert.True(t, isRevisionKey(key, prefix))
	assert.False(t, isRevisionKey("plan-7-b-5c75ff5c5d30", prefix), "longer id sharing the prefix")
	assert.False(t, isRevisionKey("plan-7-5c75ff5c5d3", prefix))
	assert.False(t, isRevisionKey("plan-7-5C75FF5C5D30", prefix))
	assert.False(t, isRevisionKey("roster-7-5c75ff5c5d30", prefix))
}

// purgingSink keeps stored pages per revision and deletes them like GCSSink.
type purgingSink struct {
	mu    sync.Mutex
	pages map[string]map[int]bool
}

func newPurgingSink() *purgingSink {
	return &purgingSink{pages: make(map[string]map[int]bool)}
}

func (s *purgingSink) SavePage(_ context.Context, key string, pageNumber int, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages[key] == nil {
		s.pages[key] = make(map[int]bool)
	}
	s.pages[key][pageNumber] = true
	return "https://storage.test/" + PagePath(key, pageNumber), nil
}

func (s *purgingSink) PurgeStale(_ context.Context, prefix, currentKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged []string
	for key := range s.pages {
		if key != currentKey && isRevisionKey(key, prefix) {
			delete(s.pages, key)
			purged = append(purged, key)
		}
	}
	return purged, nil
}

func (s *purgingSink) exists(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, pages := range s.pages {
		for n := range pages {
			if "https://storage.test/"+PagePath(key, n) == url {
				return true
			}
		}
	}
	return false
}

func TestRasterize_RevertAfterPurgeRendersAgain(t *testing.T) {
	l := ledger.NewMemory()
	sink := newPurgingSink()
	fetcher := &fakeFetcher{directOK: true}
	renderer := &fakeRenderer{pages: 1}
	r := New(Deps{
		Fetcher:   fetcher,
		Inspector: fakeInspector{pages: 1},
		Renderer:  renderer,
		Sink:      sink,
		Ledger:    l,
	}, testOptions())
	ctx := context.Background()
	v1 := []byte("%PDF-1.7 first upload")
	v2 := []byte("%PDF-1.7 second upload")

	fetcher.data = v1
	first, err := r.Rasterize(ctx, planDoc(), nil)
	require.NoError(t, err)

	fetcher.data = v2
	second, err := r.Rasterize(ctx, planDoc(), nil)
	require.NoError(t, err)
	rec, ok := l.Get(first.DocumentKey)
	require.True(t, ok)
	assert.Equal(t, models.StatusPurged, rec.Status)

	fetcher.data = v1
	third, err := r.Rasterize(ctx, planDoc(), nil)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.EqualValues(t, 3, renderer.renders.Load())
	for _, u := range third.URLs() {
		assert.True(t, sink.exists(u), u)
	}
	rec, ok = l.Get(second.DocumentKey)
	require.True(t, ok)
	assert.Equal(t, models.StatusPurged, rec.Status)
}

func TestDecodeDataURL(t *testing.T) {
	data, err := decodeDataURL("data:application/pdf;base64,JVBERi0xLjc=")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	data, err = decodeDataURL("data:text/plain,hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = decodeDataURL("data:nocomma")
	assert.Error(t, err)
}

func TestPageScale(t *testing.T) {
	// A4 at 72 dpi is 595x842: capped at 1.5.
	assert.InDelta(t, 1.5, pageScale(595, 842, 2048, 1.5), 1e-9)
	// A large drawing is bounded by maxDim.
	assert.InDelta(t, 2048.0/4000, pageScale(4000, 3000, 2048, 1.5), 1e-9)
}

func TestPlaceholderImage(t *testing.T) {
	img := placeholderImage(3)
	assert.Equal(t, image.Rect(0, 0, 800, 1100), img.Bounds())
}

type mapObjects map[string][]byte

func (m mapObjects) ReadObject(_ context.Context, rawURL string) ([]byte, error) {
	data, ok := m[rawURL]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func TestFetchDocument_GSObjects(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{}
	objects := mapObjects{"gs://plans/bono.pdf": samplePDF}

	data, err := fetchDocument(ctx, f, objects, "gs://plans/bono.pdf")
	require.NoError(t, err)
	assert.Equal(t, samplePDF, data)

	_, err = fetchDocument(ctx, f, objects, "gs://plans/missing.pdf")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = fetchDocument(ctx, f, nil, "gs://plans/bono.pdf")
	assert.ErrorIs(t, err, ErrFetch)
}
