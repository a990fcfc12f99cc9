// Package density turns grayscale pixels into ink according to the print
// density setting.
package density

import (
	"image"
	"image/color"
	"math"

	"github.com/makeworld-the-better-one/dither/v2"
	"tomgalvin.uk/phogobanner/internal/banner"
)

// Threshold returns the gray value below which a pixel is inked at the given
// level. Level 50 gives the usual midpoint of 128.
func Threshold(level banner.DensityLevel) int {
	return int(level.Clamp()) * 256 / 100
}

// Quantize decides whether a single grayscale pixel (0 black, 255 white)
// gets ink, returning 1 for ink. Level 0 never inks and level 100 always
// does; in between higher levels ink lighter pixels.
func Quantize(gray uint8, level banner.DensityLevel) byte {
	switch level = level.Clamp(); level {
	case banner.MinDensity:
		return 0
	case banner.MaxDensity:
		return 1
	}
	if int(gray) < Threshold(level) {
		return 1
	}
	return 0
}

// Gamma returns the exponent applied to normalised gray values before
// dithering. It is 1 at the default level, above 1 (darker) for higher
// levels and below 1 (lighter) for lower ones.
func Gamma(level banner.DensityLevel) float64 {
	return math.Pow(2, float64(level.Clamp()-banner.DefaultDensity)/25)
}

var palette = []color.Color{color.Black, color.White}

// Dither quantizes a grayscale image with Floyd-Steinberg error diffusion
// after a gamma adjustment derived from the level, which keeps gradients and
// anti-aliased edges instead of cutting them at a threshold. The extremes
// behave like Quantize: level 0 returns a blank image and level 100 a solid
// one.
func Dither(src *image.Gray, level banner.DensityLevel) *image.Paletted {
	bounds := src.Bounds()
	level = level.Clamp()

	if level == banner.MinDensity || level == banner.MaxDensity {
		out := image.NewPaletted(bounds, palette)
		var index uint8 = 1
		if level == banner.MaxDensity {
			index = 0
		}
		for i := range out.Pix {
			out.Pix[i] = index
		}
		return out
	}

	gamma := Gamma(level)
	adjusted := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(src.GrayAt(x, y).Y) / 255
			adjusted.SetGray(x, y, color.Gray{Y: uint8(math.Round(math.Pow(v, gamma) * 255))})
		}
	}

	ditherer := dither.NewDitherer(palette)
	ditherer.Matrix = dither.FloydSteinberg
	ditherer.Serpentine = true
	return ditherer.DitherPaletted(adjusted)
}

// LaserIntensity is the darkness setting sent to the printer with a job
type LaserIntensity byte

const (
	Low    LaserIntensity = 0x01
	Medium LaserIntensity = 0x03
	High   LaserIntensity = 0x04
)

func (i LaserIntensity) String() string {
	switch i {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// Intensity maps a density level onto the printer's three heat settings
func Intensity(level banner.DensityLevel) LaserIntensity {
	switch level = level.Clamp(); {
	case level < 34:
		return Low
	case level < 67:
		return Medium
	default:
		return High
	}
}
