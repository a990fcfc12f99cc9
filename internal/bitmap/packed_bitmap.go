// This file implements methods to pack bitmap pixel data into
// the bit structure accepted by thermal print heads.

package bitmap

import (
	"fmt"
	"image"
	"image/color"
	"math/bits"
)

// A bitmap packed in memory, one row after another, 8 pixels per byte with
// the leftmost pixel in the most significant bit. Rows whose width isn't a
// multiple of 8 are padded with blank bits.
type PackedBitmap struct {
	data                  []byte
	width, height, stride int
}

const bitsPerWord = 8

func NewPackedBitmap(width, height int) *PackedBitmap {
	stride := (width + bitsPerWord - 1) / bitsPerWord
	return &PackedBitmap{
		data:   make([]byte, stride*height),
		width:  width,
		height: height,
		stride: stride,
	}
}

func (b *PackedBitmap) Width() int {
	return b.width
}

func (b *PackedBitmap) Height() int {
	return b.height
}

func (b *PackedBitmap) Stride() int {
	return b.stride
}

func (b *PackedBitmap) Data() []byte {
	return b.data
}

// ByteSize is the number of bytes sent to the printer for this bitmap
func (b *PackedBitmap) ByteSize() int {
	return len(b.data)
}

// Gets a single bit from the bitmap at the (x, y) coordinate, returns either 0 or 1
func (b *PackedBitmap) GetBit(x int, y int) byte {
	index := (y * b.stride) + (x / bitsPerWord)
	return (b.data[index] >> (bitsPerWord - 1 - x%bitsPerWord)) & 1
}

func (b *PackedBitmap) SetBit(x int, y int, v byte) {
	index := (y * b.stride) + (x / bitsPerWord)
	mask := byte(1) << (bitsPerWord - 1 - x%bitsPerWord)
	if v&1 == 1 {
		b.data[index] |= mask
	} else {
		b.data[index] &^= mask
	}
}

// InkCount is the number of pixels that will be burnt. Row padding is always
// blank so it never counts.
func (b *PackedBitmap) InkCount() int {
	n := 0
	for _, word := range b.data {
		n += bits.OnesCount8(word)
	}
	return n
}

func (b *PackedBitmap) String() string {
	return fmt.Sprintf("PackedBitmap(%d,%d)", b.width, b.height)
}

// Takes a horizontal band of the packed bitmap, starting at row start and
// spanning height rows. The band shares memory with b.
func (b *PackedBitmap) VerticalSlice(start int, height int) *PackedBitmap {
	return &PackedBitmap{
		data:   b.data[b.stride*start : b.stride*(start+height)],
		width:  b.width,
		height: height,
		stride: b.stride,
	}
}

// Image returns a black on white copy of the bitmap, e.g. for previews
func (b *PackedBitmap) Image() *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, b.width, b.height), color.Palette{color.White, color.Black})
	for y := range b.height {
		for x := range b.width {
			img.SetColorIndex(x, y, b.GetBit(x, y))
		}
	}
	return img
}
