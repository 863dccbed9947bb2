package imaging

import (
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned by Decode for a zero-length buffer.
var ErrEmptyPayload = errors.New("empty image data received")

type Base64DecodeError struct {
	Err error
}

func (e *Base64DecodeError) Error() string {
	return fmt.Sprintf("failed to decode base64 data: %v", e.Err)
}

func (e *Base64DecodeError) Unwrap() error { return e.Err }

// UnsupportedPayloadTypeError carries the observed type name of a payload
// that is neither text, a byte buffer nor a numeric sequence.
type UnsupportedPayloadTypeError struct {
	TypeName string
}

func (e *UnsupportedPayloadTypeError) Error() string {
	return "unsupported data type: " + e.TypeName
}

type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return "unsupported image encoding: " + e.Encoding
}

type InvalidDimensionsError struct {
	Width  int
	Height int
}

func (e *InvalidDimensionsError) Error() string {
	return fmt.Sprintf("invalid image format: %dx%d", e.Width, e.Height)
}

// LengthMismatchWarning is attached to a decoded Raster when the source
// length differs from what the encoding and dimensions require. It is
// diagnostic only.
type LengthMismatchWarning struct {
	Expected int
	Actual   int
}

func (e *LengthMismatchWarning) Error() string {
	return fmt.Sprintf("data length mismatch: expected %d, actual %d", e.Expected, e.Actual)
}

// Kind returns a short stable label for err, used for metric labels and
// log fields.
func Kind(err error) string {
	var (
		b64      *Base64DecodeError
		payload  *UnsupportedPayloadTypeError
		encoding *UnsupportedEncodingError
		dims     *InvalidDimensionsError
		mismatch *LengthMismatchWarning
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyPayload):
		return "empty"
	case errors.As(err, &b64):
		return "base64"
	case errors.As(err, &payload):
		return "payload_type"
	case errors.As(err, &encoding):
		return "encoding"
	case errors.As(err, &dims):
		return "dimensions"
	case errors.As(err, &mismatch):
		return "length_mismatch"
	default:
		return "internal"
	}
}
