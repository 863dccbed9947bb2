package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"robodash-go/internal/imaging"
)

// fakeBridge is a minimal rosbridge server: it records every op it receives,
// answers /rosapi/topics and lets the test publish frames.
type fakeBridge struct {
	srv    *httptest.Server
	topics []string
	ops    chan map[string]any

	mu   sync.Mutex
	conn *websocket.Conn
	up   chan struct{}
}

func newFakeBridge(t *testing.T, topics ...string) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{
		topics: topics,
		ops:    make(chan map[string]any, 256),
		up:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		close(fb.up)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var op map[string]any
			if err := json.Unmarshal(data, &op); err != nil {
				continue
			}
			if op["op"] == opCallService {
				fb.sendJSON(map[string]any{
					"op":      opServiceResponse,
					"id":      op["id"],
					"service": op["service"],
					"result":  true,
					"values":  map[string]any{"topics": fb.topics},
				})
			}
			fb.ops <- op
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBridge) sendJSON(v any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	_ = fb.conn.WriteJSON(v)
}

func (fb *fakeBridge) sendCBOR(t *testing.T, v any) {
	t.Helper()
	data, err := cbor.Marshal(v)
	if err != nil {
		t.Fatalf("cbor marshal: %v", err)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	_ = fb.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (fb *fakeBridge) dropConn() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	_ = fb.conn.Close()
}

func (fb *fakeBridge) nextOp(t *testing.T) map[string]any {
	t.Helper()
	select {
	case op := <-fb.ops:
		return op
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for bridge op")
		return nil
	}
}

func dialFake(t *testing.T, fb *fakeBridge, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), fb.url(), opts)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	<-fb.up
	return c
}

func recv(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case m, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription %s closed", sub.Topic)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message on %s", sub.Topic)
		return Message{}
	}
}

func TestSubscribeSendsOp(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{Compression: CompressionCBOR, QueueLength: 1})

	sub, err := c.Subscribe("/camera1/image_raw", "sensor_msgs/Image")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	op := fb.nextOp(t)
	if op["op"] != "subscribe" || op["topic"] != "/camera1/image_raw" || op["type"] != "sensor_msgs/Image" {
		t.Fatalf("unexpected subscribe op: %v", op)
	}
	if op["id"] != sub.ID || sub.ID == "" {
		t.Fatalf("subscribe id %v, want %q", op["id"], sub.ID)
	}
	if op["compression"] != "cbor" || op["queue_length"] != float64(1) {
		t.Fatalf("subscribe options not sent: %v", op)
	}
	if sub.Kind != KindImage {
		t.Fatalf("kind = %v, want image", sub.Kind)
	}
}

func TestPublishJSONImage(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{})
	sub, err := c.Subscribe("/camera1/image_raw", "sensor_msgs/Image")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	fb.sendJSON(map[string]any{
		"op":    "publish",
		"topic": "/camera1/image_raw",
		"msg": map[string]any{
			"width": 1, "height": 1, "encoding": "rgb8", "step": 3,
			"data": "ChQe",
		},
	})
	m := recv(t, sub)
	if m.Err != nil || m.Image == nil {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Image.Width != 1 || m.Image.Height != 1 || m.Image.Encoding != "rgb8" || m.Image.Step != 3 {
		t.Fatalf("unexpected image header: %+v", m.Image)
	}
	if m.Image.Data != imaging.TextEncoded("ChQe") {
		t.Fatalf("data = %#v, want TextEncoded", m.Image.Data)
	}
	b, err := imaging.Normalize(m.Image.Data)
	if err != nil || string(b) != string([]byte{10, 20, 30}) {
		t.Fatalf("normalized = %v, %v", b, err)
	}
}

func TestPublishCBORImage(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{Compression: CompressionCBOR})
	sub, err := c.Subscribe("/camera2/image_raw", "sensor_msgs/msg/Image")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	for _, data := range []any{
		cbor.Tag{Number: tagUint8, Content: []byte{1, 2, 3}},
		[]byte{1, 2, 3},
	} {
		fb.sendCBOR(t, map[string]any{
			"op":    "publish",
			"topic": "/camera2/image_raw",
			"msg": map[string]any{
				"width": 1, "height": 1, "encoding": "bgr8", "data": data,
			},
		})
		m := recv(t, sub)
		buf, ok := m.Image.Data.(imaging.FixedBuffer)
		if !ok {
			t.Fatalf("data = %#v, want FixedBuffer", m.Image.Data)
		}
		if string(buf) != string([]byte{1, 2, 3}) {
			t.Fatalf("buffer = %v", buf)
		}
	}
}

func TestPublishScalarsInOrder(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{Buffer: 64})
	sub, err := c.Subscribe("/odometer", "std_msgs/Float64")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	for i := 0; i < 20; i++ {
		fb.sendJSON(map[string]any{"op": "publish", "topic": "/odometer", "msg": map[string]any{"data": float64(i) + 0.5}})
	}
	for i := 0; i < 20; i++ {
		m := recv(t, sub)
		if m.Err != nil || m.Value != float64(i)+0.5 {
			t.Fatalf("message %d = %+v", i, m)
		}
	}

	fb.sendJSON(map[string]any{"op": "publish", "topic": "/odometer", "msg": map[string]any{"data": "fast"}})
	if m := recv(t, sub); !errors.Is(m.Err, errNoScalar) {
		t.Fatalf("non numeric scalar: %+v", m)
	}
}

func TestPublishOtherTopicNotDelivered(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{})
	sub, err := c.Subscribe("/camera_speed", "std_msgs/Float32")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	fb.sendJSON(map[string]any{"op": "publish", "topic": "/lidar_speed", "msg": map[string]any{"data": 1}})
	fb.sendJSON(map[string]any{"op": "publish", "topic": "/camera_speed", "msg": map[string]any{"data": 2}})
	if m := recv(t, sub); m.Value != 2 {
		t.Fatalf("got %+v, want value 2", m)
	}
}

func TestUnsubscribeOnce(t *testing.T) {
	fb := newFakeBridge(t, "/odometer")
	c := dialFake(t, fb, Options{})
	sub, err := c.Subscribe("/odometer", "std_msgs/Float64")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	if err := c.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	if err := c.Unsubscribe(sub); err != nil {
		t.Fatalf("second Unsubscribe error: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("subscription channel still open")
	}
	// the service call is answered after everything sent before it
	if _, err := c.Topics(context.Background()); err != nil {
		t.Fatalf("Topics error: %v", err)
	}

	unsubs := 0
	for {
		op := fb.nextOp(t)
		if op["op"] == opUnsubscribe {
			unsubs++
			if op["id"] != sub.ID {
				t.Fatalf("unsubscribe id %v, want %s", op["id"], sub.ID)
			}
		}
		if op["op"] == opCallService {
			break
		}
	}
	if unsubs != 1 {
		t.Fatalf("sent %d unsubscribe ops, want 1", unsubs)
	}
}

func TestTopics(t *testing.T) {
	fb := newFakeBridge(t, "/camera1/image_raw", "/odometer")
	c := dialFake(t, fb, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	topics, err := c.Topics(ctx)
	if err != nil {
		t.Fatalf("Topics error: %v", err)
	}
	if len(topics) != 2 || topics[0] != "/camera1/image_raw" || topics[1] != "/odometer" {
		t.Fatalf("topics = %v", topics)
	}
}

func TestRemoteClose(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{})
	sub, err := c.Subscribe("/odometer", "std_msgs/Float64")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	fb.dropConn()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Done not closed after remote close")
	}
	var connErr *ConnectionError
	if !errors.As(c.Err(), &connErr) {
		t.Fatalf("Err = %v, want ConnectionError", c.Err())
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("subscription channel still open")
	}
	if _, err := c.Subscribe("/x", "std_msgs/Float64"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe after close = %v", err)
	}
}

func TestLocalCloseHasNoError(t *testing.T) {
	fb := newFakeBridge(t)
	c := dialFake(t, fb, Options{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if c.Err() != nil {
		t.Fatalf("Err after local close = %v", c.Err())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := Dial(context.Background(), url, Options{})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial error = %v, want ConnectionError", err)
	}
	if connErr.URL != url {
		t.Fatalf("error url %q", connErr.URL)
	}
}

type memRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	binary []bool
}

func (r *memRecorder) Record(isBinary bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), payload...))
	r.binary = append(r.binary, isBinary)
	return nil
}

func TestRecorderSeesRawFrames(t *testing.T) {
	fb := newFakeBridge(t)
	rec := &memRecorder{}
	c := dialFake(t, fb, Options{Recorder: rec})
	sub, err := c.Subscribe("/odometer", "std_msgs/Float32")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	fb.nextOp(t)

	fb.sendJSON(map[string]any{"op": "publish", "topic": "/odometer", "msg": map[string]any{"data": 1.5}})
	recv(t, sub)
	fb.sendCBOR(t, map[string]any{"op": "publish", "topic": "/odometer", "msg": map[string]any{"data": 2.5}})
	recv(t, sub)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.frames) != 2 || rec.binary[0] || !rec.binary[1] {
		t.Fatalf("recorded %d frames, binary flags %v", len(rec.frames), rec.binary)
	}
	if !strings.Contains(string(rec.frames[0]), `"topic":"/odometer"`) {
		t.Fatalf("text frame not recorded verbatim: %s", rec.frames[0])
	}
	if f, err := DecodeFrame(rec.frames[1]); err != nil || f["topic"] != "/odometer" {
		t.Fatalf("binary frame = %v, %v", f, err)
	}
}
