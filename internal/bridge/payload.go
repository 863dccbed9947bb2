package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"robodash-go/internal/imaging"
)

// CBOR typed array tags (RFC 8746) as sent by rosbridge for uint8[] fields.
const (
	tagUint8        = 64
	tagUint8Clamped = 68
)

type Kind int

const (
	KindImage Kind = iota
	KindScalar
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "scalar"
}

// ImageMessage is a sensor_msgs/Image with its data already typed.
type ImageMessage struct {
	Width    int
	Height   int
	Encoding string
	Step     int
	Data     imaging.RawData
}

// Message is one publish delivered to a subscription. Exactly one of Image
// and Err is set for image channels; scalar channels carry Value or Err.
type Message struct {
	Topic string
	Image *ImageMessage
	Value float64
	Err   error
}

var errNoScalar = errors.New("scalar message without numeric data")

func parseMessage(kind Kind, topic string, msg any) Message {
	m, ok := msg.(map[string]any)
	if !ok {
		return Message{Topic: topic, Err: fmt.Errorf("message is %s, not an object", typeName(msg))}
	}
	if kind == KindScalar {
		v, ok := toFloat(m["data"])
		if !ok {
			return Message{Topic: topic, Err: errNoScalar}
		}
		return Message{Topic: topic, Value: v}
	}
	img := &ImageMessage{
		Encoding: stringField(m, "encoding"),
		Data:     RawDataOf(m, "data"),
	}
	img.Width, _ = toInt(m["width"])
	img.Height, _ = toInt(m["height"])
	img.Step, _ = toInt(m["step"])
	return Message{Topic: topic, Image: img}
}

// ParseImage reads a sensor_msgs/Image from a decoded publish payload.
func ParseImage(msg any) (*ImageMessage, error) {
	m := parseMessage(KindImage, "", msg)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Image, nil
}

// RawDataOf types the image data field once at ingress.
func RawDataOf(m map[string]any, key string) imaging.RawData {
	v, present := m[key]
	if !present {
		return imaging.Unsupported{TypeName: "undefined"}
	}
	switch d := v.(type) {
	case string:
		return imaging.TextEncoded(d)
	case []byte:
		return imaging.FixedBuffer(d)
	case cbor.Tag:
		b, err := typedArrayBytes(d)
		if err != nil {
			return imaging.Unsupported{TypeName: err.Error()}
		}
		return imaging.FixedBuffer(b)
	case []any:
		seq := make(imaging.NumericSequence, len(d))
		for i, e := range d {
			f, ok := toFloat(e)
			if !ok {
				f = math.NaN()
			}
			seq[i] = f
		}
		return seq
	default:
		return imaging.Unsupported{TypeName: typeName(v)}
	}
}

func typedArrayBytes(tag cbor.Tag) ([]byte, error) {
	switch tag.Number {
	case tagUint8, tagUint8Clamped:
	default:
		return nil, fmt.Errorf("typed array tag %d", tag.Number)
	}
	b, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("typed array content %s", typeName(tag.Content))
	}
	return b, nil
}

// typeName reports v the way a JSON consumer would see it.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, uint64, json.Number:
		return "number"
	case map[string]any, map[any]any:
		return "object"
	case []any:
		return "array"
	case []byte:
		return "bytes"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
