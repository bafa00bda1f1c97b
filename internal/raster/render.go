package raster

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// Renderer opens documents for page rasterization.
type Renderer interface {
	Open(data []byte) (Document, error)
}

// Document is an opened PDF. Pages are zero-indexed.
type Document interface {
	NumPage() int
	// RenderPage rasterizes page i so that its longest side is at most maxDim
	// pixels and the scale never exceeds maxScale.
	RenderPage(i int, maxDim int, maxScale float64) (image.Image, error)
	Close() error
}

// FitzRenderer rasterizes with MuPDF through go-fitz.
type FitzRenderer struct{}

func (FitzRenderer) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return &fitzDocument{doc: doc}, nil
}

// fitzDocument serializes access to the underlying MuPDF context, which is
// not safe for concurrent use. A render abandoned on timeout keeps the lock
// until MuPDF returns.
type fitzDocument struct {
	mu  sync.Mutex
	doc *fitz.Document
}

func (d *fitzDocument) NumPage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *fitzDocument) RenderPage(i int, maxDim int, maxScale float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bounds, err := d.doc.Bound(i)
	if err != nil {
		return nil, fmt.Errorf("page %d bounds: %w", i+1, err)
	}
	scale := pageScale(bounds.Dx(), bounds.Dy(), maxDim, maxScale)
	// Bounds are in points at 72 dpi.
	img, err := d.doc.ImageDPI(i, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", i+1, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}

// pageScale is min(maxScale, maxDim/longest side).
func pageScale(w, h, maxDim int, maxScale float64) float64 {
	longest := math.Max(float64(w), float64(h))
	if longest <= 0 || maxDim <= 0 {
		return maxScale
	}
	return math.Min(maxScale, float64(maxDim)/longest)
}
