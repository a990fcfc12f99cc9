// Package banner defines the data passed between the stages of the banner
// pipeline: the rich text content, the orientation and density settings of a
// job, and the sizes produced while measuring and resolving a canvas.
package banner

import (
	"fmt"
	"strings"
)

// Font sizes from markup are clamped to this range. The upper bound is the
// print head width: a glyph wider than the paper can't be printed, and glyph
// masks grow with the square of the size.
const (
	MinFontSize = 6
	MaxFontSize = 384
)

// ClampFontSize limits a positive size to [MinFontSize, MaxFontSize]. Zero
// still means the default size.
func ClampFontSize(size int) int {
	if size <= 0 {
		return 0
	}
	return min(max(size, MinFontSize), MaxFontSize)
}

// A run of text sharing the same style
type Span struct {
	Text      string
	Bold      bool
	Italic    bool
	Underline bool
	Mono      bool
	// FontSize in pixels, 0 means the default size of the font set
	FontSize int
}

// SameStyle reports whether two spans differ only in their text
func (s Span) SameStyle(o Span) bool {
	s.Text, o.Text = "", ""
	return s == o
}

// Content is an immutable snapshot of the editor's text. Each paragraph is a
// single line when laid out with unconstrained width.
type Content struct {
	Paragraphs [][]Span
}

// Plain builds content from unstyled text, one paragraph per line.
func Plain(text string) Content {
	lines := strings.Split(text, "\n")
	c := Content{Paragraphs: make([][]Span, len(lines))}
	for i, line := range lines {
		if len(line) > 0 {
			c.Paragraphs[i] = []Span{{Text: line}}
		}
	}
	return c
}

// IsEmpty reports whether the content has no visible text at all.
func (c Content) IsEmpty() bool {
	for _, p := range c.Paragraphs {
		for _, s := range p {
			if strings.TrimSpace(s.Text) != "" {
				return false
			}
		}
	}
	return true
}

// Text returns the content without styling, paragraphs joined by newlines.
func (c Content) Text() string {
	var sb strings.Builder
	for i, p := range c.Paragraphs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, s := range p {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

func (o Orientation) String() string {
	switch o {
	case Portrait:
		return "portrait"
	case Landscape:
		return "landscape"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "portrait":
		return Portrait, nil
	case "landscape":
		return Landscape, nil
	default:
		return Portrait, fmt.Errorf("Unrecognised orientation %q", s)
	}
}

// Alignment of the content across the print head when it is narrower than the
// head. Matches the justify modes of the printer.
type Align int

const (
	Left Align = iota
	Centre
	Right
)

func (a Align) String() string {
	switch a {
	case Left:
		return "left"
	case Centre:
		return "centre"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Align(%d)", int(a))
	}
}

func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return Left, nil
	case "centre", "center":
		return Centre, nil
	case "right":
		return Right, nil
	default:
		return Left, fmt.Errorf("Unrecognised alignment %q", s)
	}
}

// DensityLevel is the print darkness setting, 0 (no ink) to 100 (all ink).
type DensityLevel int

const (
	MinDensity     DensityLevel = 0
	MaxDensity     DensityLevel = 100
	DefaultDensity DensityLevel = 50
)

// Clamp limits the level to the supported range.
func (d DensityLevel) Clamp() DensityLevel {
	if d < MinDensity {
		return MinDensity
	}
	if d > MaxDensity {
		return MaxDensity
	}
	return d
}

// ContentBox is the natural size of some content laid out with unlimited
// space, in pixels.
type ContentBox struct {
	Width, Height int
}

// CanvasDimensions is the final size of a rendered banner. Width always runs
// along the print head.
type CanvasDimensions struct {
	Width, Height int
	// Truncated is set when the content needed a longer feed than allowed
	Truncated bool
}

func (d CanvasDimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Quantization selects how grayscale pixels are turned into ink
type Quantization int

const (
	Threshold Quantization = iota
	Dithered
)

// Job carries everything one render pass needs. Pipeline stages read their
// settings from here rather than from shared state.
type Job struct {
	ID           string
	Content      Content
	Orientation  Orientation
	Density      DensityLevel
	Align        Align
	Quantization Quantization
}
