// Package layout decides the final canvas size of a banner.
//
// The canvas width always runs along the print head and is pinned to the
// head's pixel count. The height runs along the paper feed and follows the
// content: in portrait that is the height of the text block, in landscape the
// text is turned on its side so its reading length becomes the feed.
package layout

import (
	"tomgalvin.uk/phogobanner/internal/banner"
)

// Resolve maps a content box to canvas dimensions. It is pure.
//
// The feed length is clamped to [minFeedPx, maxFeedPx]. Content needing more
// than maxFeedPx is cut short and the result is marked Truncated. A minFeedPx
// below 1 is treated as 1 and a maxFeedPx below minFeedPx as minFeedPx.
func Resolve(box banner.ContentBox, orientation banner.Orientation, headAxisPx, minFeedPx, maxFeedPx int) banner.CanvasDimensions {
	minFeedPx = max(minFeedPx, 1)
	maxFeedPx = max(maxFeedPx, minFeedPx)

	feed := box.Height
	if orientation == banner.Landscape {
		feed = box.Width
	}

	dims := banner.CanvasDimensions{Width: headAxisPx, Height: feed}
	if feed < minFeedPx {
		dims.Height = minFeedPx
	} else if feed > maxFeedPx {
		dims.Height = maxFeedPx
		dims.Truncated = true
	}
	return dims
}

// CrossExtent is how much of the head axis the content occupies for the
// orientation. Content wider than the head is clipped when drawn.
func CrossExtent(box banner.ContentBox, orientation banner.Orientation) int {
	if orientation == banner.Landscape {
		return box.Height
	}
	return box.Width
}
