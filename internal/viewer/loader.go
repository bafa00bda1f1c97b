package viewer

import (
	"context"

	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/raster"
)

// Loader produces the page images of a document.
type Loader interface {
	Load(ctx context.Context, doc *models.Document, progress func(raster.Progress)) ([]models.PageEntry, error)
}

// PagesLoader renders every page; used by the plan slot.
type PagesLoader struct {
	Rasterizer *raster.Rasterizer
}

func (l PagesLoader) Load(ctx context.Context, doc *models.Document, progress func(raster.Progress)) ([]models.PageEntry, error) {
	res, err := l.Rasterizer.Rasterize(ctx, doc, progress)
	if err != nil {
		return nil, err
	}
	return res.Pages, nil
}

// FirstPageLoader renders only the first page; used by the roster and menu slots.
type FirstPageLoader struct {
	Rasterizer *raster.Rasterizer
}

func (l FirstPageLoader) Load(ctx context.Context, doc *models.Document, progress func(raster.Progress)) ([]models.PageEntry, error) {
	entry, err := l.Rasterizer.RasterizeSingle(ctx, doc)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(raster.Progress{Page: 1, Total: 1})
	}
	return []models.PageEntry{entry}, nil
}
