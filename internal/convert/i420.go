package convert

import "fmt"

// PackedToI420 converts a packed 4-byte-per-pixel frame into planar I420.
//
// dst receives the Y plane (width*height), then U and V (width/2*height/2 each).
// stride is the source row length in bytes and must be at least width*4.
// A negative height means the source rows are stored bottom-up; the output
// is flipped so that row 0 of dst is the last row of src.
func PackedToI420(src []byte, stride int, order PixelOrder, dst []byte, width, height int) error {
	flip := height < 0
	height = abs(height)
	if err := checkGeometry(width, height); err != nil {
		return err
	}

	rowBytes := width * 4
	if stride < rowBytes {
		return fmt.Errorf("%w: stride %d < %d", ErrShortBuffer, stride, rowBytes)
	}
	if need := stride*(height-1) + rowBytes; len(src) < need {
		return fmt.Errorf("%w: source has %d bytes, need %d", ErrShortBuffer, len(src), need)
	}
	if need := I420Size(width, height); len(dst) < need {
		return fmt.Errorf("%w: destination has %d bytes, need %d", ErrShortBuffer, len(dst), need)
	}

	lumaSize, chromaSize := PlaneSizes(width, height)
	yPlane := dst[:lumaSize]
	uPlane := dst[lumaSize : lumaSize+chromaSize]
	vPlane := dst[lumaSize+chromaSize : lumaSize+2*chromaSize]
	halfWidth := width / 2
	ri, bi := order.channels()

	for row := 0; row < height; row += 2 {
		top := sourceRow(src, stride, rowBytes, row, height, flip)
		bottom := sourceRow(src, stride, rowBytes, row+1, height, flip)
		yTop := yPlane[row*width : (row+1)*width]
		yBottom := yPlane[(row+1)*width : (row+2)*width]
		cr := row / 2
		u := uPlane[cr*halfWidth : (cr+1)*halfWidth]
		v := vPlane[cr*halfWidth : (cr+1)*halfWidth]

		for x := 0; x < width; x += 2 {
			p := x * 4
			r00, g00, b00 := int(top[p+ri]), int(top[p+1]), int(top[p+bi])
			r01, g01, b01 := int(top[p+4+ri]), int(top[p+5]), int(top[p+4+bi])
			r10, g10, b10 := int(bottom[p+ri]), int(bottom[p+1]), int(bottom[p+bi])
			r11, g11, b11 := int(bottom[p+4+ri]), int(bottom[p+5]), int(bottom[p+4+bi])

			yTop[x] = lumaOf(r00, g00, b00)
			yTop[x+1] = lumaOf(r01, g01, b01)
			yBottom[x] = lumaOf(r10, g10, b10)
			yBottom[x+1] = lumaOf(r11, g11, b11)

			ar := (r00 + r01 + r10 + r11 + 2) >> 2
			ag := (g00 + g01 + g10 + g11 + 2) >> 2
			ab := (b00 + b01 + b10 + b11 + 2) >> 2
			u[x/2] = cbOf(ar, ag, ab)
			v[x/2] = crOf(ar, ag, ab)
		}
	}

	return nil
}

// sourceRow returns the packed pixels of logical row y
func sourceRow(src []byte, stride, rowBytes, y, height int, flip bool) []byte {
	if flip {
		y = height - 1 - y
	}
	off := y * stride
	return src[off : off+rowBytes]
}

// BT.601 limited range, same integer coefficients as libyuv RGBToY/U/V.
// 0x1080 folds the +16 luma offset and rounding, 0x8080 the +128 chroma bias.

func lumaOf(r, g, b int) byte {
	return byte((66*r + 129*g + 25*b + 0x1080) >> 8)
}

func cbOf(r, g, b int) byte {
	return byte((112*b - 74*g - 38*r + 0x8080) >> 8)
}

func crOf(r, g, b int) byte {
	return byte((112*r - 94*g - 18*b + 0x8080) >> 8)
}
