package layout

import (
	"fmt"
	"testing"

	"tomgalvin.uk/phogobanner/internal/banner"
)

const (
	head    = 384
	minFeed = 16
	maxFeed = 8192
)

func TestResolveHeadAxisIsPinned(t *testing.T) {
	boxes := []banner.ContentBox{
		{Width: 1, Height: 1},
		{Width: 60, Height: 28},
		{Width: 1920, Height: 1080},
		{Width: 100000, Height: 50},
	}

	for _, box := range boxes {
		for _, o := range []banner.Orientation{banner.Portrait, banner.Landscape} {
			t.Run(fmt.Sprintf("%v %dx%d", o, box.Width, box.Height), func(t *testing.T) {
				dims := Resolve(box, o, head, minFeed, maxFeed)
				if dims.Width != head {
					t.Errorf("expected width pinned to %d, got %d", head, dims.Width)
				}
			})
		}
	}
}

func TestResolveFeedFollowsContent(t *testing.T) {
	box := banner.ContentBox{Width: 60, Height: 28}

	portrait := Resolve(box, banner.Portrait, head, minFeed, maxFeed)
	if portrait.Height != 28 {
		t.Errorf("portrait feed should be the content height, got %d", portrait.Height)
	}

	landscape := Resolve(box, banner.Landscape, head, minFeed, maxFeed)
	if landscape.Height != 60 {
		t.Errorf("landscape feed should be the content width, got %d", landscape.Height)
	}
	if landscape.Height >= 200 {
		t.Errorf("short landscape banner should be compact, got %d", landscape.Height)
	}
}

func TestResolveClamps(t *testing.T) {
	tiny := Resolve(banner.ContentBox{Width: 3, Height: 2}, banner.Portrait, head, minFeed, maxFeed)
	if tiny.Height != minFeed || tiny.Truncated {
		t.Errorf("expected feed rounded up to %d without truncation, got %+v", minFeed, tiny)
	}

	huge := Resolve(banner.ContentBox{Width: 50000, Height: 30}, banner.Landscape, head, minFeed, maxFeed)
	if huge.Height != maxFeed || !huge.Truncated {
		t.Errorf("expected feed truncated to %d, got %+v", maxFeed, huge)
	}

	exact := Resolve(banner.ContentBox{Width: maxFeed, Height: 30}, banner.Landscape, head, minFeed, maxFeed)
	if exact.Height != maxFeed || exact.Truncated {
		t.Errorf("feed equal to the maximum is not truncated, got %+v", exact)
	}
}

func TestResolveNormalisesBounds(t *testing.T) {
	dims := Resolve(banner.ContentBox{Width: 10, Height: 0}, banner.Portrait, head, 0, -5)
	if dims.Height != 1 {
		t.Errorf("expected a one pixel feed, got %d", dims.Height)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	box := banner.ContentBox{Width: 777, Height: 91}
	for _, o := range []banner.Orientation{banner.Portrait, banner.Landscape} {
		a := Resolve(box, o, head, minFeed, maxFeed)
		b := Resolve(box, o, head, minFeed, maxFeed)
		if a != b {
			t.Errorf("%v: repeated resolve differs: %+v vs %+v", o, a, b)
		}
	}
}
