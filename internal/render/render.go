// Package render rasterizes laid out banner content onto a canvas of
// resolved dimensions and quantizes it into a printable bitmap.
package render

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/density"
	"tomgalvin.uk/phogobanner/internal/fonts"
	"tomgalvin.uk/phogobanner/internal/measure"
)

type Renderer struct {
	fonts  *fonts.Set
	logger *slog.Logger
}

// NewRenderer must be given the same font set as the measurer whose layouts
// it will draw.
func NewRenderer(f *fonts.Set, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{fonts: f, logger: logger}
}

// rotatedGray is a view of a gray canvas with its axes swapped, so drawing
// horizontally into the view lays text along the feed of the canvas. Seen
// the usual way up the canvas shows the text turned 90 degrees clockwise.
// It implements draw.RGBA64Image so glyphs blend exactly as they would on
// the canvas itself.
type rotatedGray struct {
	dst *image.Gray
}

func (r *rotatedGray) ColorModel() color.Model {
	return color.GrayModel
}

func (r *rotatedGray) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.dst.Rect.Dy(), r.dst.Rect.Dx())
}

func (r *rotatedGray) physical(x, y int) (int, int) {
	return r.dst.Rect.Dx() - 1 - y, x
}

func (r *rotatedGray) At(x, y int) color.Color {
	px, py := r.physical(x, y)
	return r.dst.At(px, py)
}

func (r *rotatedGray) RGBA64At(x, y int) color.RGBA64 {
	px, py := r.physical(x, y)
	return r.dst.RGBA64At(px, py)
}

func (r *rotatedGray) Set(x, y int, c color.Color) {
	px, py := r.physical(x, y)
	r.dst.Set(px, py, c)
}

func (r *rotatedGray) SetRGBA64(x, y int, c color.RGBA64) {
	px, py := r.physical(x, y)
	r.dst.SetRGBA64(px, py, c)
}

func alignOffset(a banner.Align, available, size int) int {
	var offset int
	switch a {
	case banner.Centre:
		offset = (available - size) / 2
	case banner.Right:
		offset = available - size
	}
	return max(offset, 0)
}

// Render draws the layout onto a canvas of exactly dims and quantizes it with
// the job's density. Content that doesn't fit the canvas is clipped.
func (r *Renderer) Render(ctx context.Context, l *measure.Layout, job banner.Job, dims banner.CanvasDimensions) (*bitmap.PackedBitmap, error) {
	canvas := image.NewGray(image.Rect(0, 0, dims.Width, dims.Height))
	for i := range canvas.Pix {
		canvas.Pix[i] = 0xFF
	}

	var surface draw.Image = canvas
	readExtent, blockOffset := dims.Width, 0
	if job.Orientation == banner.Landscape {
		surface = &rotatedGray{dst: canvas}
		readExtent = l.Box.Width
		blockOffset = alignOffset(job.Align, dims.Width, l.Box.Height)
	}

	if err := r.draw(ctx, surface, l, job.Align, readExtent, blockOffset); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.quantize(canvas, job)
}

func (r *Renderer) draw(ctx context.Context, surface draw.Image, l *measure.Layout, align banner.Align, readExtent, blockOffset int) error {
	r.fonts.Lock()
	defer r.fonts.Unlock()

	ink := image.NewUniform(color.Black)
	for _, line := range l.Lines {
		if err := ctx.Err(); err != nil {
			return err
		}

		x := alignOffset(align, readExtent, line.Width)
		baseline := blockOffset + line.Baseline()
		for _, run := range line.Runs {
			d := &font.Drawer{
				Dst:  surface,
				Src:  ink,
				Face: run.Face,
				Dot:  fixed.Point26_6{X: fixed.I(x) + run.X, Y: fixed.I(baseline)},
			}
			d.DrawString(run.Text)

			if run.Underline {
				thickness := max(1, run.Face.Metrics().Height.Ceil()/16)
				top := baseline + max(1, line.Descent/3)
				rect := image.Rect((fixed.I(x) + run.X).Floor(), top, (fixed.I(x) + run.X + run.Advance).Ceil(), top+thickness)
				draw.Draw(surface, rect.Intersect(surface.Bounds()), ink, image.Point{}, draw.Over)
			}
		}
	}
	return nil
}

func (r *Renderer) quantize(canvas *image.Gray, job banner.Job) (*bitmap.PackedBitmap, error) {
	if job.Quantization == banner.Dithered {
		return bitmap.FromPaletted(density.Dither(canvas, job.Density))
	}

	return bitmap.FromGray(canvas, func(gray uint8) bool {
		return density.Quantize(gray, job.Density) == 1
	}), nil
}
