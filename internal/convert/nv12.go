package convert

import (
	"fmt"
	"image"
)

// I420ToNV12 interleaves the U and V planes of an I420 frame into the single
// UV plane of NV12. The Y plane is copied unchanged.
//
// The sign of height is ignored: any flip has already been applied by
// PackedToI420, and flipping again here would undo it.
func I420ToNV12(src, dst []byte, width, height int) error {
	height = abs(height)
	if err := checkGeometry(width, height); err != nil {
		return err
	}
	size := I420Size(width, height)
	if len(src) < size {
		return fmt.Errorf("%w: source has %d bytes, need %d", ErrShortBuffer, len(src), size)
	}
	if len(dst) < size {
		return fmt.Errorf("%w: destination has %d bytes, need %d", ErrShortBuffer, len(dst), size)
	}

	lumaSize, chromaSize := PlaneSizes(width, height)
	copy(dst[:lumaSize], src[:lumaSize])

	u := src[lumaSize : lumaSize+chromaSize]
	v := src[lumaSize+chromaSize : lumaSize+2*chromaSize]
	uv := dst[lumaSize : lumaSize+2*chromaSize]
	for i := 0; i < chromaSize; i++ {
		uv[2*i] = u[i]
		uv[2*i+1] = v[i]
	}

	return nil
}

// NV12ToRGBA decodes an NV12 frame into dst, which must cover width x height.
// Used for previews of what a consumer reads from the shared segment.
func NV12ToRGBA(src []byte, width, height int, dst *image.RGBA) error {
	if err := checkGeometry(width, height); err != nil {
		return err
	}
	if need := NV12Size(width, height); len(src) < need {
		return fmt.Errorf("%w: source has %d bytes, need %d", ErrShortBuffer, len(src), need)
	}
	b := dst.Bounds()
	if b.Dx() < width || b.Dy() < height {
		return fmt.Errorf("%w: image is %dx%d, need %dx%d", ErrShortBuffer, b.Dx(), b.Dy(), width, height)
	}

	lumaSize := width * height
	for y := 0; y < height; y++ {
		yRow := src[y*width : (y+1)*width]
		uvRow := src[lumaSize+(y/2)*width : lumaSize+(y/2+1)*width]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+width*4]
		for x := 0; x < width; x++ {
			c := int(yRow[x]) - 16
			d := int(uvRow[x&^1]) - 128
			e := int(uvRow[x|1]) - 128
			if c < 0 {
				c = 0
			}
			out[x*4] = clamp((298*c + 409*e + 128) >> 8)
			out[x*4+1] = clamp((298*c - 100*d - 208*e + 128) >> 8)
			out[x*4+2] = clamp((298*c + 516*d + 128) >> 8)
			out[x*4+3] = 0xff
		}
	}
	return nil
}

func clamp(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
