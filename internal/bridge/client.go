package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	defaultBuffer    = 16
)

// ErrClosed is returned by operations on a client that is no longer
// connected.
var ErrClosed = errors.New("bridge connection closed")

// ConnectionError reports an unreachable or dropped bridge.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bridge %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type Options struct {
	// Compression is sent with every subscribe; "cbor" makes the bridge
	// publish binary frames.
	Compression  string
	QueueLength  int
	ThrottleRate int
	// Buffer is the per-subscription queue capacity. Messages arriving at a
	// full queue are dropped.
	Buffer int
	Logger *zap.Logger
	// Recorder, when set, receives every frame read from the bridge.
	Recorder Recorder
}

// Recorder stores raw bridge frames, e.g. a capture.Writer.
type Recorder interface {
	Record(isBinary bool, payload []byte) error
}

// Client is a rosbridge v2 websocket connection. One reader goroutine routes
// publishes to their subscription queues in arrival order.
type Client struct {
	url  string
	conn *websocket.Conn
	log  *zap.Logger
	opts Options

	wmu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*Subscription
	pending map[string]chan serviceResult
	closing bool
	err     error

	done chan struct{}
}

type Subscription struct {
	ID    string
	Topic string
	Type  string
	Kind  Kind

	ch      chan Message
	dropped int
}

// C delivers messages in arrival order. It is closed after Unsubscribe or
// when the connection ends.
func (s *Subscription) C() <-chan Message { return s.ch }

type serviceResult struct {
	values any
	ok     bool
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}
	c := &Client{
		url:     url,
		conn:    conn,
		log:     opts.Logger.With(zap.String("bridge", url)),
		opts:    opts,
		subs:    make(map[string]*Subscription),
		pending: make(map[string]chan serviceResult),
		done:    make(chan struct{}),
	}
	go c.reader()
	return c, nil
}

func (c *Client) URL() string { return c.url }

// Done is closed once the connection has ended, for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended. It is nil while connected and after
// a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Subscribe(topic, msgType string) (*Subscription, error) {
	sub := &Subscription{
		ID:    newID(opSubscribe, topic),
		Topic: topic,
		Type:  msgType,
		Kind:  KindOf(msgType),
		ch:    make(chan Message, c.opts.Buffer),
	}

	c.mu.Lock()
	if c.closing || c.isDone() {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	op := subscribeOp{
		Op:           opSubscribe,
		ID:           sub.ID,
		Topic:        topic,
		Type:         msgType,
		Compression:  c.opts.Compression,
		QueueLength:  c.opts.QueueLength,
		ThrottleRate: c.opts.ThrottleRate,
	}
	if err := c.write(op); err != nil {
		c.remove(sub)
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Debug("subscribed", zap.String("topic", topic), zap.String("type", msgType))
	return sub, nil
}

// Unsubscribe stops delivery to sub and tells the bridge. Calling it again
// for the same subscription does nothing.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if !c.remove(sub) {
		return nil
	}
	if c.isDone() {
		return nil
	}
	if err := c.write(unsubscribeOp{Op: opUnsubscribe, ID: sub.ID, Topic: sub.Topic}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.Topic, err)
	}
	c.log.Debug("unsubscribed", zap.String("topic", sub.Topic))
	return nil
}

// Topics asks rosapi for the topics the bridge currently advertises.
func (c *Client) Topics(ctx context.Context) ([]string, error) {
	id := newID(opCallService, topicsService)
	ch := make(chan serviceResult, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	op := callServiceOp{Op: opCallService, ID: id, Service: topicsService, Args: map[string]any{}}
	if err := c.write(op); err != nil {
		return nil, fmt.Errorf("call %s: %w", topicsService, err)
	}

	select {
	case res := <-ch:
		if !res.ok {
			return nil, fmt.Errorf("call %s failed: %v", topicsService, res.values)
		}
		values, _ := res.values.(map[string]any)
		raw, _ := values["topics"].([]any)
		topics := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				topics = append(topics, s)
			}
		}
		return topics, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the connection without unsubscribing and waits for the reader
// to stop.
func (c *Client) Close() error {
	c.mu.Lock()
	already := c.closing
	c.closing = true
	c.mu.Unlock()
	if already || c.isDone() {
		<-c.done
		return nil
	}

	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// remove reports whether sub was still registered.
func (c *Client) remove(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[sub.ID]; !ok {
		return false
	}
	delete(c.subs, sub.ID)
	close(sub.ch)
	return true
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) reader() {
	var readErr error
	defer func() {
		c.mu.Lock()
		if !c.closing {
			c.err = &ConnectionError{URL: c.url, Err: readErr}
		}
		for id, sub := range c.subs {
			delete(c.subs, id)
			close(sub.ch)
		}
		close(c.done)
		c.mu.Unlock()
		_ = c.conn.Close()
	}()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.log.Warn("bridge connection lost", zap.Error(err))
			}
			return
		}

		if rec := c.opts.Recorder; rec != nil && (mt == websocket.TextMessage || mt == websocket.BinaryMessage) {
			if err := rec.Record(mt == websocket.BinaryMessage, data); err != nil {
				c.log.Debug("record frame", zap.Error(err))
			}
		}

		var f frame
		switch mt {
		case websocket.TextMessage:
			f, err = decodeText(data)
		case websocket.BinaryMessage:
			f, err = decodeBinary(data)
		default:
			continue
		}
		if err != nil {
			c.log.Warn("dropping undecodable frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f frame) {
	switch f.str("op") {
	case opPublish:
		c.route(f.str("topic"), f["msg"])
	case opServiceResponse:
		ok, _ := f["result"].(bool)
		c.mu.Lock()
		ch := c.pending[f.str("id")]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- serviceResult{values: f["values"], ok: ok}:
			default:
			}
		}
	case opStatus:
		c.log.Info("bridge status", zap.String("level", f.str("level")), zap.Any("msg", f["msg"]))
	default:
		c.log.Debug("ignoring bridge op", zap.String("op", f.str("op")))
	}
}

func (c *Client) route(topic string, msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if sub.Topic != topic {
			continue
		}
		m := parseMessage(sub.Kind, topic, msg)
		select {
		case sub.ch <- m:
		default:
			sub.dropped++
			c.log.Debug("subscription queue full, dropping message",
				zap.String("topic", topic), zap.Int("dropped", sub.dropped))
		}
	}
}
