package raster

import "errors"

var (
	// ErrFetch means the document bytes could not be obtained, directly or via the proxy.
	ErrFetch = errors.New("failed to fetch document")
	// ErrInvalidPDF means the bytes carry a PDF signature but do not parse.
	ErrInvalidPDF = errors.New("invalid PDF")
	// ErrNoPages means the document parsed but has nothing to show.
	ErrNoPages = errors.New("document has no pages")
	// ErrRender is a page-level rasterization failure.
	ErrRender = errors.New("failed to render page")
	// ErrRenderTimeout is a page render that exceeded its time bound.
	ErrRenderTimeout = errors.New("page render timed out")
)
