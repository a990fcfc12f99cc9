// Package bitmap holds the 1-bit raster a banner is quantized into. Bitmaps
// are packed row-major, 8 pixels per byte, which is the layout a thermal print
// head consumes. A set bit means ink.
package bitmap

import (
	"fmt"
	"image"
	"image/color"
)

// FromGray packs a grayscale canvas, setting a bit wherever ink reports true
// for the pixel's gray level
func FromGray(g *image.Gray, ink func(gray uint8) bool) *PackedBitmap {
	width, height := g.Rect.Dx(), g.Rect.Dy()
	out := NewPackedBitmap(width, height)
	for y := range height {
		start := g.PixOffset(g.Rect.Min.X, g.Rect.Min.Y+y)
		for x, gray := range g.Pix[start : start+width] {
			if ink(gray) {
				out.SetBit(x, y, 1)
			}
		}
	}
	return out
}

// FromPaletted packs a two colour image. Whichever palette entry is closest
// to black prints as ink, the other is left as blank paper.
func FromPaletted(i *image.Paletted) (*PackedBitmap, error) {
	if len(i.Palette) != 2 {
		return nil, fmt.Errorf("Image passed to FromPaletted must have only 2 colours in palette")
	}
	ink := uint8(i.Palette.Index(color.Black))

	width, height := i.Rect.Dx(), i.Rect.Dy()
	out := NewPackedBitmap(width, height)
	for y := range height {
		start := i.PixOffset(i.Rect.Min.X, i.Rect.Min.Y+y)
		for x, index := range i.Pix[start : start+width] {
			if index == ink {
				out.SetBit(x, y, 1)
			}
		}
	}
	return out, nil
}
