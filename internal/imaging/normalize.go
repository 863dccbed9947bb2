package imaging

import (
	"encoding/base64"
	"math"
)

// RawData is the representation an image payload arrived in. The concrete
// type is fixed once at ingress by the bridge; the set of variants is closed.
type RawData interface {
	rawData()
}

// TextEncoded is base64 text, the default rosbridge JSON form of uint8[].
type TextEncoded string

// FixedBuffer is an already-binary payload (CBOR byte string or typed array).
type FixedBuffer []byte

// NumericSequence is a plain array of numbers.
type NumericSequence []float64

// Unsupported marks a payload of any other shape. TypeName is the observed
// type, kept for diagnostics.
type Unsupported struct {
	TypeName string
}

func (TextEncoded) rawData()     {}
func (FixedBuffer) rawData()     {}
func (NumericSequence) rawData() {}
func (Unsupported) rawData()     {}

// Normalize turns raw into the canonical byte sequence. The input is never
// modified; a FixedBuffer is returned as a view of the same memory.
func Normalize(raw RawData) ([]byte, error) {
	switch v := raw.(type) {
	case TextEncoded:
		out, err := base64.StdEncoding.DecodeString(string(v))
		if err != nil {
			return nil, &Base64DecodeError{Err: err}
		}
		return out, nil
	case FixedBuffer:
		return []byte(v), nil
	case NumericSequence:
		out := make([]byte, len(v))
		for i, n := range v {
			out[i] = toUint8(n)
		}
		return out, nil
	case Unsupported:
		return nil, &UnsupportedPayloadTypeError{TypeName: v.TypeName}
	case nil:
		return nil, &UnsupportedPayloadTypeError{TypeName: "undefined"}
	default:
		return nil, &UnsupportedPayloadTypeError{TypeName: "unknown"}
	}
}

// toUint8 truncates toward zero and wraps modulo 256, the same conversion a
// browser applies when filling a Uint8Array from plain numbers.
func toUint8(v float64) uint8 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(v), 256)
	if m < 0 {
		m += 256
	}
	return uint8(m)
}
