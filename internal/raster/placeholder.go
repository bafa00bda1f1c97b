package raster

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderWidth  = 800
	placeholderHeight = 1100
)

var (
	placeholderBorder = color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff}
	placeholderText   = color.RGBA{R: 0xb9, G: 0x1c, B: 0x1c, A: 0xff}
)

// placeholderImage stands in for a page that failed to render.
func placeholderImage(pageNumber int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	const border = 6
	for _, r := range []image.Rectangle{
		image.Rect(0, 0, placeholderWidth, border),
		image.Rect(0, placeholderHeight-border, placeholderWidth, placeholderHeight),
		image.Rect(0, 0, border, placeholderHeight),
		image.Rect(placeholderWidth-border, 0, placeholderWidth, placeholderHeight),
	} {
		xdraw.Draw(img, r, image.NewUniform(placeholderBorder), image.Point{}, xdraw.Src)
	}

	drawCentered(img, fmt.Sprintf("Page %d failed to render", pageNumber), placeholderHeight/2-10)
	drawCentered(img, "It will be retried on the next load.", placeholderHeight/2+20)
	return img
}

func drawCentered(img *image.RGBA, text string, y int) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(placeholderText),
		Face: face,
	}
	width := d.MeasureString(text).Round()
	d.Dot = fixed.P((placeholderWidth-width)/2, y)
	d.DrawString(text)
}
