package bridge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"
)

const (
	opSubscribe       = "subscribe"
	opUnsubscribe     = "unsubscribe"
	opPublish         = "publish"
	opCallService     = "call_service"
	opServiceResponse = "service_response"
	opStatus          = "status"

	topicsService = "/rosapi/topics"

	CompressionNone = "none"
	CompressionCBOR = "cbor"
)

type subscribeOp struct {
	Op           string `json:"op"`
	ID           string `json:"id"`
	Topic        string `json:"topic"`
	Type         string `json:"type,omitempty"`
	Compression  string `json:"compression,omitempty"`
	QueueLength  int    `json:"queue_length,omitempty"`
	ThrottleRate int    `json:"throttle_rate,omitempty"`
}

type unsubscribeOp struct {
	Op    string `json:"op"`
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

type callServiceOp struct {
	Op      string         `json:"op"`
	ID      string         `json:"id"`
	Service string         `json:"service"`
	Args    map[string]any `json:"args"`
}

// frame is one inbound bridge operation, decoded from either JSON or CBOR
// into a generic value tree.
type frame map[string]any

func (f frame) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func newID(op, name string) string {
	return op + ":" + name + ":" + uuid.Must(uuid.NewV4()).String()
}

var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

func decodeText(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode json frame: %w", err)
	}
	return f, nil
}

func decodeBinary(data []byte) (frame, error) {
	var f map[string]any
	if err := cborDec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode cbor frame: %w", err)
	}
	return frame(f), nil
}

// DecodeFrame decodes a captured bridge message, CBOR when it does not look
// like JSON.
func DecodeFrame(data []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(data[:min(len(data), 16)]))
	if strings.HasPrefix(trimmed, "{") {
		return decodeText(data)
	}
	return decodeBinary(data)
}

// KindOf tells image channels from scalar ones by message type.
func KindOf(msgType string) Kind {
	name := msgType
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "Image" {
		return KindImage
	}
	return KindScalar
}
