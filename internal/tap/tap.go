// Package tap republishes dashboard events for other processes. Events are
// CBOR maps sent as two-part messages: the event kind, then the payload.
package tap

import (
	"errors"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"robodash-go/internal/display"
	"robodash-go/internal/session"
)

// ErrDisabled is returned by Open when the binary was built without zmq.
var ErrDisabled = errors.New("telemetry tap not enabled; build with -tags zmq")

const queueLen = 512

// Event is one published record. Frames carry metadata only.
type Event struct {
	Kind      string `cbor:"kind"`
	Time      int64  `cbor:"ts"`
	Channel   string `cbor:"channel,omitempty"`
	Slot      int    `cbor:"slot,omitempty"`
	Width     int    `cbor:"width,omitempty"`
	Height    int    `cbor:"height,omitempty"`
	Text      string `cbor:"text,omitempty"`
	State     string `cbor:"state,omitempty"`
	ErrorKind string `cbor:"error_kind,omitempty"`
	Error     string `cbor:"error,omitempty"`
}

type publisher interface {
	publish(kind string, payload []byte) error
	close() error
}

// Tap implements session.Notifier. Events are queued and sent from a single
// goroutine; a full queue drops events.
type Tap struct {
	log    *zap.Logger
	pub    publisher
	enc    cbor.EncMode
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

var _ session.Notifier = (*Tap)(nil)

func newTap(pub publisher, log *zap.Logger) *Tap {
	if log == nil {
		log = zap.NewNop()
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	t := &Tap{
		log:    log,
		pub:    pub,
		enc:    enc,
		events: make(chan Event, queueLen),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go t.loop()
	return t
}

func (t *Tap) loop() {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			return
		case ev := <-t.events:
			payload, err := t.enc.Marshal(ev)
			if err != nil {
				t.log.Warn("tap encode", zap.String("kind", ev.Kind), zap.Error(err))
				continue
			}
			if err := t.pub.publish(ev.Kind, payload); err != nil {
				t.log.Debug("tap publish", zap.String("kind", ev.Kind), zap.Error(err))
			}
		}
	}
}

func (t *Tap) emit(ev Event) {
	ev.Time = t.now().UnixMilli()
	select {
	case <-t.quit:
	case t.events <- ev:
	default:
		t.log.Debug("tap queue full, dropping event", zap.String("kind", ev.Kind))
	}
}

// Close stops publishing and releases the socket.
func (t *Tap) Close() error {
	var err error
	t.once.Do(func() {
		close(t.quit)
		<-t.done
		err = t.pub.close()
	})
	return err
}

func (t *Tap) FrameUpdated(slot int, f display.Frame) {
	t.emit(Event{Kind: "frame", Channel: f.Name, Slot: slot, Width: f.Width, Height: f.Height})
}

func (t *Tap) ScalarUpdated(channel, text string) {
	t.emit(Event{Kind: "scalar", Channel: channel, Text: text})
}

func (t *Tap) StatusChanged(st session.Status) {
	t.emit(Event{Kind: "status", State: st.State, Text: st.Text, Error: st.Error})
}

func (t *Tap) DecodeFailed(channel, kind string, err error) {
	t.emit(Event{Kind: "decode_error", Channel: channel, ErrorKind: kind, Error: err.Error()})
}

func (t *Tap) Alert(message string) {
	t.emit(Event{Kind: "alert", Text: message})
}
