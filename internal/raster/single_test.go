package raster

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/displayagent/internal/models"
)

type fakeImages struct {
	existing  string
	failPut   bool
	uploaded  []string
	checkedAs []string
}

func (f *fakeImages) CheckImage(_ context.Context, key string) (string, bool, error) {
	f.checkedAs = append(f.checkedAs, key)
	if f.existing != "" {
		return f.existing, true, nil
	}
	return "", false, nil
}

func (f *fakeImages) UploadImage(_ context.Context, key, filename string, _ []byte) (string, error) {
	if f.failPut {
		return "", errors.New("disk full")
	}
	f.uploaded = append(f.uploaded, filename)
	return "http://backend.test/uploads/" + filename, nil
}

func rosterDoc() *models.Document {
	return &models.Document{ID: "9", Type: models.DocumentRoster, URL: "/uploads/escala.pdf", Active: true}
}

func TestRasterizeSingle_StoredImageSkipsRender(t *testing.T) {
	renderer := &fakeRenderer{pages: 1}
	images := &fakeImages{existing: "http://backend.test/uploads/escala-9.jpg"}
	r := New(Deps{
		Fetcher:  &fakeFetcher{data: samplePDF, directOK: true},
		Renderer: renderer,
		Images:   images,
	}, testOptions())

	entry, err := r.RasterizeSingle(context.Background(), rosterDoc())
	require.NoError(t, err)
	assert.Equal(t, images.existing, entry.ImageURL)
	assert.Zero(t, renderer.renders.Load())
	require.Len(t, images.checkedAs, 1)
	assert.True(t, strings.HasPrefix(images.checkedAs[0], "roster-9-"))
}

func TestRasterizeSingle_RendersAndStores(t *testing.T) {
	renderer := &fakeRenderer{pages: 5}
	images := &fakeImages{}
	r := New(Deps{
		Fetcher:  &fakeFetcher{data: samplePDF, directOK: true},
		Renderer: renderer,
		Images:   images,
	}, testOptions())

	entry, err := r.RasterizeSingle(context.Background(), rosterDoc())
	require.NoError(t, err)
	assert.EqualValues(t, 1, renderer.renders.Load(), "only the first page is rendered")
	require.Len(t, images.uploaded, 1)
	assert.Equal(t, "http://backend.test/uploads/"+images.uploaded[0], entry.ImageURL)
	assert.False(t, entry.Inline)
}

func TestRasterizeSingle_UploadFailureKeepsInline(t *testing.T) {
	r := New(Deps{
		Fetcher:  &fakeFetcher{data: samplePDF, directOK: true},
		Renderer: &fakeRenderer{pages: 1},
		Images:   &fakeImages{failPut: true},
	}, testOptions())

	entry, err := r.RasterizeSingle(context.Background(), rosterDoc())
	require.NoError(t, err)
	assert.True(t, entry.Inline)
	assert.True(t, strings.HasPrefix(entry.ImageURL, "data:image/jpeg;base64,"))
}

func TestRasterizeSingle_RenderFailureIsReturned(t *testing.T) {
	r := New(Deps{
		Fetcher:  &fakeFetcher{data: samplePDF, directOK: true},
		Renderer: &fakeRenderer{pages: 1, failOn: map[int]bool{0: true}},
	}, testOptions())

	_, err := r.RasterizeSingle(context.Background(), rosterDoc())
	assert.ErrorIs(t, err, ErrRender)
}
