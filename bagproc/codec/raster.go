package codec

import (
	"fmt"
	"image"
	"strings"
)

// rasterize interprets raw pixel bytes as an image. Rows are addressed via
// the declared stride so padded rows are handled; a zero stride falls back
// to the packed row width.
func rasterize(data []byte, width, height, step int, encoding string) (image.Image, error) {
	switch {
	case strings.Contains(encoding, "bgr8"), strings.Contains(encoding, "rgb8"):
		return rasterizeColor(data, width, height, step, strings.Contains(encoding, "bgr8"))
	case strings.Contains(encoding, "mono8"):
		return rasterizeMono8(data, width, height, step)
	case strings.Contains(encoding, "16UC1"):
		return rasterizeMono16(data, width, height, step)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}
}

func rowStride(step, packed int) int {
	if step <= 0 {
		return packed
	}
	return step
}

func rasterizeColor(data []byte, width, height, step int, bgr bool) (image.Image, error) {
	stride := rowStride(step, width*3)
	if err := checkPixelLen(data, width*3, height, stride); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			r, g, b := row[x*3], row[x*3+1], row[x*3+2]
			if bgr {
				r, b = b, r
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 0xff
		}
	}
	return img, nil
}

func rasterizeMono8(data []byte, width, height, step int) (image.Image, error) {
	stride := rowStride(step, width)
	if err := checkPixelLen(data, width, height, stride); err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		copy(img.Pix[y*img.Stride:], data[y*stride:y*stride+width])
	}
	return img, nil
}

// rasterizeMono16 downscales 16-bit single-channel pixels to 8 bits by
// dividing by 256, for storage and visualization.
func rasterizeMono16(data []byte, width, height, step int) (image.Image, error) {
	stride := rowStride(step, width*2)
	if err := checkPixelLen(data, width*2, height, stride); err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			img.Pix[y*img.Stride+x] = byte(endian.Uint16(row[x*2:]) >> 8)
		}
	}
	return img, nil
}

// checkPixelLen verifies the pixel buffer covers every addressed row. The
// last row may be unpadded. Dimensions and stride come straight from the
// wire, so the bound is checked without computing a product that could
// overflow on hostile values.
func checkPixelLen(data []byte, packed, height, stride int) error {
	if packed <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image dimensions", ErrTruncatedPayload)
	}
	if packed > len(data) || (height > 1 && stride > (len(data)-packed)/(height-1)) {
		return fmt.Errorf("%w: pixel data %d bytes cannot hold %d rows of stride %d",
			ErrTruncatedPayload, len(data), height, stride)
	}
	return nil
}
