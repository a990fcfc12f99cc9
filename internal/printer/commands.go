// ESC/POS command byte sequences understood by Phomemo T02/M02/T02S printers.
package printer

import (
	"fmt"

	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/density"
)

// Control characters
const (
	Esc = 0x1B
	GS  = 0x1D
	US  = 0x1F
)

// Image alignment of a printed bitmap
type Justify byte

const (
	JustifyLeft   Justify = 0x00
	JustifyCentre Justify = 0x01
	JustifyRight  Justify = 0x02
)

// Widest raster line the head accepts, in bytes
const maxStride = 0x30

// Tallest raster block a single GS v 0 command may carry
const maxBitmapHeight = 256

// Blank lines fed after a banner so it clears the tear bar
const trailingFeed = 4

// Initialises the printer & prepares it to accept commands
func initPrinter() []byte {
	return []byte{Esc, 0x40}
}

// Note: only centre alignment seems to work on T02 printers
func setJustify(justify Justify) []byte {
	return []byte{Esc, 0x61, byte(justify)}
}

func setLaserIntensity(intensity density.LaserIntensity) []byte {
	return []byte{US, 0x11, 0x02, byte(intensity)}
}

// Prepares the printer to receive widthBytes * heightBits bytes of raster
// data, 8 pixels to a byte
func printBitmapHeader(widthBytes byte, heightBits uint16) []byte {
	return []byte{
		GS, 0x76, 0x30, 0x00,
		widthBytes, 0x00,
		byte(heightBits & 0xFF), byte(heightBits >> 8),
	}
}

// printBitmap encodes the bitmap as one or more raster blocks, splitting it
// vertically when it is taller than the printer accepts in one go
func printBitmap(b *bitmap.PackedBitmap) ([]byte, error) {
	if b.Stride() > maxStride {
		return nil, fmt.Errorf("Bitmap too wide for printer: %s", b)
	}
	d := make([]byte, 0, b.ByteSize()+8*(b.Height()/maxBitmapHeight+1))
	strideU8 := byte(b.Stride())

	for start := 0; start < b.Height(); start += maxBitmapHeight {
		end := min(start+maxBitmapHeight, b.Height())
		slice := b.VerticalSlice(start, end-start)

		d = append(d, printBitmapHeader(strideU8, uint16(slice.Height()))...)
		d = append(d, slice.Data()...)
	}
	return d, nil
}

// Makes the printer spool through a number of blank lines
func feedLines(n byte) []byte {
	return []byte{Esc, 0x64, n}
}

func queryBatteryStatus() []byte {
	return []byte{US, 0x11, 0x08}
}

// Queries the paper loaded & whether the lid is open
func queryPaperStatus() []byte {
	return []byte{US, 0x11, 0x11}
}

func queryFirmwareVersion() []byte {
	return []byte{US, 0x11, 0x07}
}

// printJob is the full command stream for printing one banner
func printJob(b *bitmap.PackedBitmap, intensity density.LaserIntensity) ([]byte, error) {
	raster, err := printBitmap(b)
	if err != nil {
		return nil, err
	}
	data := initPrinter()
	data = append(data, setJustify(JustifyCentre)...)
	data = append(data, setLaserIntensity(intensity)...)
	data = append(data, raster...)
	data = append(data, feedLines(trailingFeed)...)
	return data, nil
}

// statusQuery asks the printer to report battery, paper and firmware
func statusQuery() []byte {
	data := initPrinter()
	data = append(data, queryBatteryStatus()...)
	data = append(data, queryPaperStatus()...)
	data = append(data, queryFirmwareVersion()...)
	return data
}
