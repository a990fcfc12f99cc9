package render

import (
	"context"
	"fmt"
	"log/slog"

	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/layout"
	"tomgalvin.uk/phogobanner/internal/measure"
)

type Options struct {
	// HeadAxisPx is the width of the print head in pixels
	HeadAxisPx int
	MinFeedPx  int
	MaxFeedPx  int
}

func DefaultOptions() Options {
	return Options{
		HeadAxisPx: 48 * 8,
		MinFeedPx:  16,
		MaxFeedPx:  8192,
	}
}

// Result of one render pass. It is never modified once returned.
type Result struct {
	Job      banner.Job
	Box      banner.ContentBox
	Dims     banner.CanvasDimensions
	Bitmap   *bitmap.PackedBitmap
	Warnings []string
}

// Pipeline runs measurement, dimensioning and rasterization for a job.
type Pipeline struct {
	measurer *measure.Measurer
	renderer *Renderer
	opts     Options
	logger   *slog.Logger
}

func NewPipeline(m *measure.Measurer, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		measurer: m,
		renderer: NewRenderer(m.Fonts(), logger),
		opts:     opts,
		logger:   logger,
	}
}

func (p *Pipeline) Options() Options {
	return p.opts
}

// Render produces the bitmap for a job. It returns ctx's error if ctx is
// done between stages, in which case nothing is produced.
func (p *Pipeline) Render(ctx context.Context, job banner.Job) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// portrait text runs across the head so it has to wrap at the head width,
	// landscape text runs along the feed and never wraps
	wrapWidth := 0
	if job.Orientation == banner.Portrait {
		wrapWidth = p.opts.HeadAxisPx
	}
	l := p.measurer.Layout(job.Content, wrapWidth)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Job: job, Box: l.Box}
	res.Dims = layout.Resolve(l.Box, job.Orientation, p.opts.HeadAxisPx, p.opts.MinFeedPx, p.opts.MaxFeedPx)

	if res.Dims.Truncated {
		feed := l.Box.Height
		if job.Orientation == banner.Landscape {
			feed = l.Box.Width
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("Banner truncated: content needs %d px of feed, limit is %d px", feed, res.Dims.Height))
	}
	if cross := layout.CrossExtent(l.Box, job.Orientation); cross > p.opts.HeadAxisPx {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Content is %d px across but the print head is %d px, it will be clipped", cross, p.opts.HeadAxisPx))
	}
	for _, w := range res.Warnings {
		p.logger.Warn(w, "job", job.ID, "dims", res.Dims.String())
	}

	b, err := p.renderer.Render(ctx, l, job, res.Dims)
	if err != nil {
		return nil, err
	}
	res.Bitmap = b

	p.logger.Debug("Rendered banner",
		"job", job.ID,
		"orientation", job.Orientation.String(),
		"box", fmt.Sprintf("%dx%d", l.Box.Width, l.Box.Height),
		"dims", res.Dims.String(),
		"bytes", b.ByteSize(),
	)
	return res, nil
}
