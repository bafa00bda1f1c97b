package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// flatten draws img onto an opaque white canvas, scaling it down when its
// longest side exceeds maxDim.
func flatten(img image.Image, maxDim int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); maxDim > 0 && longest > maxDim {
		w = w * maxDim / longest
		h = h * maxDim / longest
	}
	canvas := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	if w == b.Dx() && h == b.Dy() {
		xdraw.Draw(canvas, canvas.Bounds(), img, b.Min, xdraw.Over)
	} else {
		xdraw.CatmullRom.Scale(canvas, canvas.Bounds(), img, b, xdraw.Over, nil)
	}
	return canvas
}

// encodeJPEG flattens and encodes a page.
func encodeJPEG(img image.Image, maxDim, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img, maxDim), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
