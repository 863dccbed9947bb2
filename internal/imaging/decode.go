package imaging

import "image"

type Encoding string

const (
	Mono8 Encoding = "mono8"
	RGB8  Encoding = "rgb8"
	BGR8  Encoding = "bgr8"
	BGRA8 Encoding = "bgra8"
)

const opaque = 255

// MaxPixels bounds Width*Height of a decoded raster. Larger declared images
// are rejected as invalid before anything is allocated.
const MaxPixels = 1 << 24

// ParseEncoding accepts only the encodings Decode knows how to transcode.
func ParseEncoding(s string) (Encoding, bool) {
	switch e := Encoding(s); e {
	case Mono8, RGB8, BGR8, BGRA8:
		return e, true
	default:
		return "", false
	}
}

func (e Encoding) BytesPerPixel() int {
	switch e {
	case Mono8:
		return 1
	case RGB8, BGR8:
		return 3
	case BGRA8:
		return 4
	default:
		return 0
	}
}

func ExpectedLen(e Encoding, width, height int) int {
	return width * height * e.BytesPerPixel()
}

// Raster is a tightly packed, non-premultiplied RGBA image.
// len(Pix) is always Width*Height*4.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8

	// Mismatch is set when the source length did not match the declared
	// dimensions; the raster then holds whatever whole pixels fit.
	Mismatch *LengthMismatchWarning
}

// Image exposes the raster without copying.
func (r *Raster) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    r.Pix,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

func validDimensions(width, height int) bool {
	if width <= 0 || height <= 0 || width > MaxPixels || height > MaxPixels {
		return false
	}
	return width*height <= MaxPixels
}

// Decode transcodes src into a fresh RGBA raster. A length mismatch is not
// an error: decoding covers the whole pixels available and the rest of the
// raster stays zeroed.
func Decode(src []byte, width, height int, encoding string) (*Raster, error) {
	if len(src) == 0 {
		return nil, ErrEmptyPayload
	}
	enc, ok := ParseEncoding(encoding)
	if !ok {
		return nil, &UnsupportedEncodingError{Encoding: encoding}
	}
	if !validDimensions(width, height) {
		return nil, &InvalidDimensionsError{Width: width, Height: height}
	}

	r := &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
	if expected := ExpectedLen(enc, width, height); len(src) != expected {
		r.Mismatch = &LengthMismatchWarning{Expected: expected, Actual: len(src)}
	}

	dst := r.Pix
	switch enc {
	case Mono8:
		for i, j := 0, 0; i < len(src) && j+4 <= len(dst); i, j = i+1, j+4 {
			v := src[i]
			dst[j], dst[j+1], dst[j+2], dst[j+3] = v, v, v, opaque
		}
	case RGB8:
		for i, j := 0, 0; i+3 <= len(src) && j+4 <= len(dst); i, j = i+3, j+4 {
			dst[j], dst[j+1], dst[j+2], dst[j+3] = src[i], src[i+1], src[i+2], opaque
		}
	case BGR8:
		for i, j := 0, 0; i+3 <= len(src) && j+4 <= len(dst); i, j = i+3, j+4 {
			dst[j], dst[j+1], dst[j+2], dst[j+3] = src[i+2], src[i+1], src[i], opaque
		}
	case BGRA8:
		for i := 0; i+4 <= len(src) && i+4 <= len(dst); i += 4 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], src[i+3]
		}
	}
	return r, nil
}
