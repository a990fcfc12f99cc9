// Package measure lays out banner content using the shared font set and
// reports its natural size. The measurement is made against an unbounded
// surface: nothing about the window or container the editor lives in can
// leak into the result.
package measure

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/fonts"
)

// A styled piece of a line, positioned relative to the start of the line
type Run struct {
	Text      string
	Face      font.Face
	Underline bool
	X         fixed.Int26_6
	Advance   fixed.Int26_6
}

type Line struct {
	Runs []Run
	// Width in pixels including any glyph overhang past the last advance
	Width int
	// Y of the top of the line, relative to the top of the layout
	Top     int
	Ascent  int
	Descent int
	Height  int
}

// Baseline returns the y coordinate of the line's baseline within the layout
func (l *Line) Baseline() int {
	return l.Top + l.Ascent
}

// Layout is the positioned form of some content. The renderer draws exactly
// these lines, so the canvas resolved from Box always fits them.
type Layout struct {
	Lines []Line
	Box   banner.ContentBox
}

type Measurer struct {
	fonts  *fonts.Set
	logger *slog.Logger
}

func NewMeasurer(f *fonts.Set, logger *slog.Logger) *Measurer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Measurer{fonts: f, logger: logger}
}

func (m *Measurer) Fonts() *fonts.Set {
	return m.fonts
}

// Measure returns the natural size of the content with no width constraint.
// Empty content measures as a single empty line.
func (m *Measurer) Measure(c banner.Content) banner.ContentBox {
	return m.Layout(c, 0).Box
}

// Layout positions the content. With wrapWidth > 0 paragraphs are word
// wrapped so no line is wider than wrapWidth; with 0 each paragraph is one
// line however long it is.
func (m *Measurer) Layout(c banner.Content, wrapWidth int) (l *Layout) {
	m.fonts.Lock()
	defer m.fonts.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Couldn't measure banner content, using minimum size", "error", r)
			l = m.emptyLayout()
		}
	}()

	if c.IsEmpty() && len(c.Paragraphs) <= 1 {
		return m.emptyLayout()
	}

	l = &Layout{}
	for _, p := range c.Paragraphs {
		if wrapWidth > 0 {
			for _, wrapped := range m.wrap(p, wrapWidth) {
				l.Lines = append(l.Lines, m.line(wrapped))
			}
		} else {
			l.Lines = append(l.Lines, m.line(p))
		}
	}
	m.stack(l)
	return l
}

func (m *Measurer) emptyLayout() *Layout {
	l := &Layout{Lines: []Line{m.line(nil)}}
	m.stack(l)
	return l
}

// stack places the lines one under another and computes the content box
func (m *Measurer) stack(l *Layout) {
	y, width := 0, 0
	for i := range l.Lines {
		l.Lines[i].Top = y
		y += l.Lines[i].Height
		if l.Lines[i].Width > width {
			width = l.Lines[i].Width
		}
	}
	l.Box = banner.ContentBox{Width: max(width, 1), Height: max(y, 1)}
}

func (m *Measurer) face(s banner.Span) font.Face {
	return m.fonts.Face(fonts.Style{Bold: s.Bold, Italic: s.Italic, Mono: s.Mono, Size: s.FontSize})
}

func (m *Measurer) line(spans []banner.Span) Line {
	var line Line
	var x, right fixed.Int26_6

	addMetrics := func(face font.Face) {
		metrics := face.Metrics()
		line.Ascent = max(line.Ascent, metrics.Ascent.Ceil())
		line.Descent = max(line.Descent, metrics.Descent.Ceil())
		line.Height = max(line.Height, metrics.Height.Ceil())
	}

	for _, s := range spans {
		if len(s.Text) == 0 {
			continue
		}
		face := m.face(s)
		bounds, advance := font.BoundString(face, s.Text)
		line.Runs = append(line.Runs, Run{
			Text:      s.Text,
			Face:      face,
			Underline: s.Underline,
			X:         x,
			Advance:   advance,
		})
		if edge := x + bounds.Max.X; edge > right {
			right = edge
		}
		x += advance
		addMetrics(face)
	}

	if len(line.Runs) == 0 {
		addMetrics(m.face(banner.Span{}))
	}

	line.Width = max(x, right).Ceil()
	line.Height = max(line.Height, line.Ascent+line.Descent)
	return line
}

var wordPattern = regexp.MustCompile(`\S+\s*|\s+`)

// wrap breaks a paragraph into lines no wider than width, breaking between
// words where possible and inside words that can't fit a line on their own.
func (m *Measurer) wrap(spans []banner.Span, width int) [][]banner.Span {
	var lines [][]banner.Span
	var cur []banner.Span
	var curWidth fixed.Int26_6
	limit := fixed.I(width)

	emit := func() {
		lines = append(lines, trimTrailingSpace(cur))
		cur, curWidth = nil, 0
	}

	for _, s := range spans {
		face := m.face(s)
		for _, word := range wordPattern.FindAllString(s.Text, -1) {
			visible := font.MeasureString(face, strings.TrimRightFunc(word, unicode.IsSpace))
			if len(cur) > 0 && curWidth+visible > limit {
				emit()
				if strings.TrimSpace(word) == "" {
					continue
				}
			}

			for visible > limit {
				head, tail := splitToFit(face, word, limit)
				cur = appendText(cur, s, head)
				emit()
				word = tail
				visible = font.MeasureString(face, strings.TrimRightFunc(word, unicode.IsSpace))
			}

			if len(word) > 0 {
				cur = appendText(cur, s, word)
				curWidth += font.MeasureString(face, word)
			}
		}
	}

	if len(cur) > 0 || len(lines) == 0 {
		emit()
	}
	return lines
}

// splitToFit returns the longest prefix of s (at least one rune) whose
// advance fits within limit, and the remainder
func splitToFit(face font.Face, s string, limit fixed.Int26_6) (string, string) {
	runes := []rune(s)
	n := 1
	for n < len(runes) && font.MeasureString(face, string(runes[:n+1])) <= limit {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}

func appendText(spans []banner.Span, style banner.Span, text string) []banner.Span {
	if n := len(spans); n > 0 {
		last := &spans[n-1]
		if last.SameStyle(style) {
			last.Text += text
			return spans
		}
	}
	style.Text = text
	return append(spans, style)
}

func trimTrailingSpace(spans []banner.Span) []banner.Span {
	for len(spans) > 0 {
		last := &spans[len(spans)-1]
		last.Text = strings.TrimRightFunc(last.Text, unicode.IsSpace)
		if len(last.Text) > 0 {
			break
		}
		spans = spans[:len(spans)-1]
	}
	return spans
}
