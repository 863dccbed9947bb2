package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"robodash-go/internal/display"
)

// fakeBridge accepts one rosbridge client, records its ops and answers the
// topic list service.
type fakeBridge struct {
	srv    *httptest.Server
	topics []string
	ops    chan map[string]any

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeBridge(t *testing.T, topics ...string) *fakeBridge {
	t.Helper()
	fb := &fakeBridge{topics: topics, ops: make(chan map[string]any, 256)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var op map[string]any
			if json.Unmarshal(data, &op) != nil {
				continue
			}
			if op["op"] == "call_service" {
				fb.send(map[string]any{
					"op": "service_response", "id": op["id"], "result": true,
					"values": map[string]any{"topics": fb.topics},
				})
			}
			fb.ops <- op
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBridge) url() string { return "ws" + strings.TrimPrefix(fb.srv.URL, "http") }

func (fb *fakeBridge) send(v any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.conn != nil {
		_ = fb.conn.WriteJSON(v)
	}
}

func (fb *fakeBridge) publish(topic string, msg map[string]any) {
	fb.send(map[string]any{"op": "publish", "topic": topic, "msg": msg})
}

func (fb *fakeBridge) drop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.conn != nil {
		_ = fb.conn.Close()
	}
}

// collect gathers ops until n of the given kind were seen.
func (fb *fakeBridge) collect(t *testing.T, kind string, n int) []map[string]any {
	t.Helper()
	var out []map[string]any
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case op := <-fb.ops:
			if op["op"] == kind {
				out = append(out, op)
			}
		case <-timeout:
			t.Fatalf("saw %d %s ops, want %d", len(out), kind, n)
		}
	}
	return out
}

// recorder is a Notifier that turns every event into a string on a channel.
type recorder struct {
	events chan string

	mu     sync.Mutex
	alerts []string
	status Status
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 4096)}
}

func (r *recorder) emit(e string) {
	select {
	case r.events <- e:
	default:
	}
}

func (r *recorder) FrameUpdated(slot int, f display.Frame) {
	r.emit("frame:" + f.Name)
}

func (r *recorder) ScalarUpdated(channel, text string) {
	r.emit("scalar:" + channel + "=" + text)
}

func (r *recorder) StatusChanged(st Status) {
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
	r.emit("status:" + st.State)
}

func (r *recorder) DecodeFailed(channel, kind string, err error) {
	r.emit("fail:" + channel + ":" + kind)
}

func (r *recorder) Alert(message string) {
	r.mu.Lock()
	r.alerts = append(r.alerts, message)
	r.mu.Unlock()
	r.emit("alert")
}

func (r *recorder) waitFor(t *testing.T, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-r.events:
			if e == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %q", want)
		}
	}
}

func (r *recorder) alertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}
