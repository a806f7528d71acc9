// Package convert turns packed 4-byte-per-pixel frames into the NV12 layout
// the virtual camera consumer expects.
//
// Conversion runs in two passes over caller-owned buffers:
//
//	packed BGRA/RGBA -> I420 (planar Y, U, V) -> NV12 (Y, interleaved UV)
//
// Coefficients are BT.601 limited range, matching libyuv so that frames look
// the same as the ones produced by other virtual camera sources.
package convert

import (
	"errors"
	"fmt"
)

var (
	// ErrOddDimensions is returned when width or height is zero or odd.
	// 4:2:0 subsampling needs both to be even.
	ErrOddDimensions = errors.New("frame dimensions must be positive and even")

	// ErrShortBuffer is returned when a source or destination slice is smaller
	// than the geometry requires.
	ErrShortBuffer = errors.New("buffer too small for frame geometry")
)

// PixelOrder describes the byte order of a packed 4-byte pixel
type PixelOrder int

const (
	// OrderBGRA is B,G,R,X in memory: Qt RGB32, libyuv ARGB, X11 ZPixmap
	OrderBGRA PixelOrder = iota
	// OrderRGBA is R,G,B,A in memory: Go's image.RGBA
	OrderRGBA
)

// String returns the pixel order name
func (o PixelOrder) String() string {
	switch o {
	case OrderBGRA:
		return "bgra"
	case OrderRGBA:
		return "rgba"
	default:
		return fmt.Sprintf("PixelOrder(%d)", int(o))
	}
}

// channels returns the byte offsets of red and blue inside a pixel.
// Green is always at offset 1.
func (o PixelOrder) channels() (r, b int) {
	if o == OrderRGBA {
		return 0, 2
	}
	return 2, 0
}

// I420Size returns the size in bytes of an I420 frame. A negative height
// (bottom-up source) yields the same size as its magnitude.
func I420Size(width, height int) int {
	height = abs(height)
	return width * height * 3 / 2
}

// NV12Size returns the size in bytes of an NV12 frame
func NV12Size(width, height int) int {
	return I420Size(width, height)
}

// PlaneSizes returns the luma size and the size of one I420 chroma plane
func PlaneSizes(width, height int) (luma, chroma int) {
	height = abs(height)
	return width * height, (width / 2) * (height / 2)
}

func checkGeometry(width, height int) error {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrOddDimensions, width, height)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
