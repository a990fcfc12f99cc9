package measure

import (
	"strings"
	"testing"

	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/fonts"
)

func aMeasurer() *Measurer {
	return NewMeasurer(fonts.NewSet(fonts.DefaultSize, nil), nil)
}

func TestMeasureShortTextIsCompact(t *testing.T) {
	m := aMeasurer()
	box := m.Measure(banner.Plain("Short"))

	if box.Width <= 0 || box.Width >= 200 {
		t.Errorf("expected a compact natural width for Short, got %d", box.Width)
	}
	if box.Height <= 0 || box.Height >= 100 {
		t.Errorf("expected about one line of height, got %d", box.Height)
	}
}

func TestMeasureIsDeterministic(t *testing.T) {
	m := aMeasurer()
	c := banner.Plain("The quick brown fox")

	first := m.Measure(c)
	for i := 0; i < 5; i++ {
		if got := m.Measure(c); got != first {
			t.Fatalf("measurement changed between calls: %v vs %v", first, got)
		}
	}

	// a second measurer built from scratch agrees as well
	if got := aMeasurer().Measure(c); got != first {
		t.Errorf("independent measurers disagree: %v vs %v", first, got)
	}
}

func TestMeasureGrowsWithContent(t *testing.T) {
	m := aMeasurer()
	short := m.Measure(banner.Plain("Short"))
	long := m.Measure(banner.Plain(strings.Repeat("Short", 20)))
	twoLines := m.Measure(banner.Plain("Short\nShort"))

	if long.Width <= short.Width {
		t.Errorf("longer text should be wider: %d <= %d", long.Width, short.Width)
	}
	if long.Height != short.Height {
		t.Errorf("unwrapped text should stay one line: %d vs %d", long.Height, short.Height)
	}
	if twoLines.Height != 2*short.Height {
		t.Errorf("two lines should be twice as tall: %d vs %d", twoLines.Height, short.Height)
	}
	if twoLines.Width != short.Width {
		t.Errorf("two identical lines should be as wide as one: %d vs %d", twoLines.Width, short.Width)
	}
}

func TestMeasureEmptyContent(t *testing.T) {
	m := aMeasurer()
	empty := m.Measure(banner.Content{})
	line := m.Measure(banner.Plain("x"))

	if empty.Width < 1 {
		t.Errorf("empty content must still have a width, got %d", empty.Width)
	}
	if empty.Height != line.Height {
		t.Errorf("empty content should be one line tall (%d), got %d", line.Height, empty.Height)
	}
}

func TestMeasureFontSize(t *testing.T) {
	m := aMeasurer()
	normal := m.Measure(banner.Plain("Big"))
	big := m.Measure(banner.Content{Paragraphs: [][]banner.Span{{{Text: "Big", FontSize: 48}}}})

	if big.Height <= normal.Height || big.Width <= normal.Width {
		t.Errorf("larger font should measure larger: %v vs %v", big, normal)
	}
}

func TestLayoutWrapsToWidth(t *testing.T) {
	m := aMeasurer()
	c := banner.Plain(strings.Repeat("word ", 40) + strings.Repeat("x", 80))

	l := m.Layout(c, 384)
	if len(l.Lines) < 2 {
		t.Fatalf("expected wrapped lines, got %d", len(l.Lines))
	}
	for i, line := range l.Lines {
		if line.Width > 384 {
			t.Errorf("line %d is %d px wide, wider than the wrap width", i, line.Width)
		}
		if i > 0 && line.Top != l.Lines[i-1].Top+l.Lines[i-1].Height {
			t.Errorf("line %d is not stacked under the previous one", i)
		}
	}
	if l.Box.Width > 384 {
		t.Errorf("wrapped box wider than wrap width: %d", l.Box.Width)
	}

	unwrapped := m.Layout(c, 0)
	if len(unwrapped.Lines) != 1 {
		t.Errorf("unconstrained layout should keep the paragraph on one line, got %d", len(unwrapped.Lines))
	}
}
