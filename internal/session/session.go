package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"robodash-go/internal/bridge"
	"robodash-go/internal/config"
	"robodash-go/internal/display"
	"robodash-go/internal/metrics"
	"robodash-go/internal/simulator"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "disconnected"
	}
}

func (s State) text() string {
	switch s {
	case Connecting:
		return "Connecting to ROS..."
	case Connected:
		return "Connected to ROS"
	case Error:
		return "Error connecting to ROS"
	default:
		return "Disconnected from ROS"
	}
}

// Logical channel names. The index of an image channel is its display slot.
const (
	Camera1     = "camera1"
	Camera2     = "camera2"
	Detection   = "detection"
	CameraSpeed = "cameraSpeed"
	LidarSpeed  = "lidarSpeed"
	Odometer    = "odometer"
)

var (
	ImageChannels  = []string{Camera1, Camera2, Detection}
	ScalarChannels = []string{CameraSpeed, LidarSpeed, Odometer}
)

const (
	maxSurfaceDim     = 4096
	topicCheckTimeout = 5 * time.Second
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrUnknownSlot      = errors.New("unknown display slot")
)

type Status struct {
	State     string            `json:"state"`
	Text      string            `json:"text"`
	URL       string            `json:"url,omitempty"`
	Detection string            `json:"detection"`
	Channels  map[string]string `json:"channels"`
	Warnings  []string          `json:"warnings,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type Options struct {
	Channels   config.Channels
	Surfaces   config.Surfaces
	Bridge     bridge.Options
	TopicCheck bool
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Notifier   Notifier
}

// Session is one dashboard: its surfaces and scalar displays, the bridge
// connection state and the set of open subscriptions.
type Session struct {
	log        *zap.Logger
	metrics    *metrics.Metrics
	notify     Notifier
	bridgeOpts bridge.Options
	topicCheck bool

	surfaces []*display.Surface
	scalars  map[string]*display.Scalar

	// opMu serializes connect and teardown.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	url      string
	lastErr  error
	channels config.Channels
	client   *bridge.Client
	subs     map[string]*bridge.Subscription
	warnings []string
	cancel   context.CancelFunc
	done     chan struct{}

	mockMu    sync.Mutex
	connected bool
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = Notifiers(nil)
	}
	opts.Bridge.Logger = opts.Logger

	s := &Session{
		log:        opts.Logger,
		metrics:    opts.Metrics,
		notify:     opts.Notifier,
		bridgeOpts: opts.Bridge,
		topicCheck: opts.TopicCheck,
		channels:   opts.Channels,
		scalars:    make(map[string]*display.Scalar),
		subs:       make(map[string]*bridge.Subscription),
	}
	sz := opts.Surfaces
	s.surfaces = []*display.Surface{
		display.NewSurface(Camera1, "Camera 1 feed will appear here", sz.Width, sz.Height),
		display.NewSurface(Camera2, "Camera 2 feed will appear here", sz.Width, sz.Height),
		display.NewSurface(Detection, "Detection model feed will appear here", sz.DetectionWidth, sz.DetectionHeight),
	}
	for _, name := range ScalarChannels {
		s.scalars[name] = display.NewScalar(name)
	}
	return s
}

func channelConfig(c config.Channels, name string) config.Channel {
	switch name {
	case Camera1:
		return c.Camera1
	case Camera2:
		return c.Camera2
	case Detection:
		return c.Detection
	case CameraSpeed:
		return c.CameraSpeed
	case LidarSpeed:
		return c.LidarSpeed
	case Odometer:
		return c.Odometer
	}
	return config.Channel{}
}

// SetChannels replaces the channel configuration. It takes effect on the
// next Connect.
func (s *Session) SetChannels(c config.Channels) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = c
}

func (s *Session) Channels() config.Channels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{
		State:     s.state.String(),
		Text:      s.state.text(),
		URL:       s.url,
		Detection: "Inactive",
		Channels:  make(map[string]string, len(s.subs)),
		Warnings:  append([]string(nil), s.warnings...),
	}
	for name, sub := range s.subs {
		st.Channels[name] = sub.Topic
	}
	if _, ok := s.subs[Detection]; ok {
		st.Detection = "Active"
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.lastErr = err
	status := s.statusLocked()
	s.mu.Unlock()

	s.metrics.ConnectionState.Set(float64(st))
	s.notify.StatusChanged(status)
}

// Connect dials the bridge and opens one subscription per configured
// channel. A failed dial leaves the session in the Error state with no
// subscriptions.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.url = url
	s.warnings = nil
	channels := s.channels
	s.mu.Unlock()

	s.setState(Connecting, nil)
	s.log.Info("connecting to bridge", zap.String("url", url))

	if err := config.ValidateBridgeURL(url); err != nil {
		return s.connectFailed(url, err)
	}
	client, err := bridge.Dial(ctx, url, s.bridgeOpts)
	if err != nil {
		return s.connectFailed(url, err)
	}

	subs := make(map[string]*bridge.Subscription)
	var warnings []string
	for _, name := range append(append([]string(nil), ImageChannels...), ScalarChannels...) {
		ch := channelConfig(channels, name)
		if ch.Topic == "" {
			continue
		}
		sub, err := client.Subscribe(ch.Topic, ch.Type)
		if err != nil {
			s.log.Warn("subscribe failed", zap.String("channel", name), zap.String("topic", ch.Topic), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("%s: subscribe to %s failed: %v", name, ch.Topic, err))
			continue
		}
		subs[name] = sub
	}
	if _, ok := subs[Detection]; !ok {
		s.log.Info("detection channel inactive")
	}

	dctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mockMu.Lock()
	s.connected = true
	s.mockMu.Unlock()

	s.mu.Lock()
	s.client = client
	s.subs = subs
	s.warnings = warnings
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.dispatch(dctx, done, subs)
	go s.watch(dctx, client)
	if s.topicCheck {
		go s.checkTopics(dctx, client, channels, subs)
	}

	s.setState(Connected, nil)
	s.log.Info("connected to bridge", zap.String("url", url), zap.Int("subscriptions", len(subs)))
	return nil
}

func (s *Session) connectFailed(url string, err error) error {
	s.log.Error("bridge connection failed", zap.String("url", url), zap.Error(err))
	s.mu.Lock()
	s.subs = make(map[string]*bridge.Subscription)
	s.mu.Unlock()
	s.setState(Error, err)
	s.notify.Alert(fmt.Sprintf("Failed to connect to ROS bridge at %s. Please check that rosbridge_server is running and accessible.", url))
	return err
}

// Disconnect halts dispatch, unsubscribes every open subscription exactly
// once, closes the bridge and resets all displays. After a failed connect it
// clears the Error state; otherwise it is a no-op when not connected.
func (s *Session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	idleErr := s.client == nil && s.state == Error
	s.mu.Unlock()
	if idleErr {
		// A failed connect left nothing to tear down; clear the error.
		s.resetDisplays()
		s.setState(Disconnected, nil)
		return nil
	}
	return s.teardown(nil, true)
}

// watch tears the session down when the bridge goes away on its own.
func (s *Session) watch(ctx context.Context, client *bridge.Client) {
	select {
	case <-ctx.Done():
		return
	case <-client.Done():
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	current := s.client == client
	s.mu.Unlock()
	if !current {
		return
	}
	err := client.Err()
	if err == nil {
		err = bridge.ErrClosed
	}
	s.log.Warn("bridge closed the connection", zap.Error(err))
	_ = s.teardown(err, false)
}

// caller holds opMu
func (s *Session) teardown(cause error, unsubscribe bool) error {
	s.mu.Lock()
	client, subs, cancel, done := s.client, s.subs, s.cancel, s.done
	s.mu.Unlock()
	if client == nil {
		return nil
	}

	cancel()
	<-done

	var errs []error
	if unsubscribe {
		names := make([]string, 0, len(subs))
		for name := range subs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := client.Unsubscribe(subs[name]); err != nil {
				s.log.Warn("unsubscribe failed", zap.String("channel", name), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	if err := client.Close(); err != nil {
		s.log.Debug("bridge close", zap.Error(err))
	}

	s.mu.Lock()
	s.client = nil
	s.subs = make(map[string]*bridge.Subscription)
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.resetDisplays()
	s.setState(Disconnected, cause)
	if cause != nil {
		s.notify.Alert("Connection to ROS bridge closed: " + cause.Error())
	}
	s.log.Info("disconnected from bridge", zap.Int("unsubscribed", len(subs)))
	return errors.Join(errs...)
}

func (s *Session) resetDisplays() {
	for slot, surface := range s.surfaces {
		surface.Reset()
		s.notify.FrameUpdated(slot, surface.Snapshot())
	}
	for _, name := range ScalarChannels {
		sc := s.scalars[name]
		sc.Reset()
		s.notify.ScalarUpdated(name, sc.Text())
	}
}

func (s *Session) checkTopics(ctx context.Context, client *bridge.Client, channels config.Channels, subs map[string]*bridge.Subscription) {
	ctx, cancel := context.WithTimeout(ctx, topicCheckTimeout)
	defer cancel()
	topics, err := client.Topics(ctx)
	if err != nil {
		s.log.Debug("topic check unavailable", zap.Error(err))
		return
	}
	advertised := make(map[string]bool, len(topics))
	for _, t := range topics {
		advertised[t] = true
	}

	var missing []string
	for _, name := range append(append([]string(nil), ImageChannels...), ScalarChannels...) {
		if _, ok := subs[name]; !ok {
			continue
		}
		topic := channelConfig(channels, name).Topic
		if advertised[topic] {
			s.log.Debug("topic available", zap.String("channel", name), zap.String("topic", topic))
			continue
		}
		s.log.Warn("topic not found in available topics", zap.String("channel", name), zap.String("topic", topic))
		missing = append(missing, fmt.Sprintf("%s topic %s not found in available topics", name, topic))
	}
	if len(missing) == 0 {
		return
	}

	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.warnings = append(s.warnings, missing...)
	status := s.statusLocked()
	s.mu.Unlock()
	s.notify.StatusChanged(status)
}

// Slot returns the display slot of an image channel.
func Slot(name string) (int, bool) {
	for i, n := range ImageChannels {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func (s *Session) Surface(slot int) (*display.Surface, error) {
	if slot < 0 || slot >= len(s.surfaces) {
		return nil, ErrUnknownSlot
	}
	return s.surfaces[slot], nil
}

// Resize changes a surface's pixel size and pushes the redrawn surface.
func (s *Session) Resize(slot, width, height int) error {
	surface, err := s.Surface(slot)
	if err != nil {
		return err
	}
	if width < 1 || height < 1 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	surface.Resize(min(width, maxSurfaceDim), min(height, maxSurfaceDim))
	s.notify.FrameUpdated(slot, surface.Snapshot())
	return nil
}

// Snapshots returns the current content of every surface, indexed by slot.
func (s *Session) Snapshots() []display.Frame {
	out := make([]display.Frame, len(s.surfaces))
	for i, surface := range s.surfaces {
		out[i] = surface.Snapshot()
	}
	return out
}

func (s *Session) Scalars() map[string]string {
	out := make(map[string]string, len(s.scalars))
	for name, sc := range s.scalars {
		out[name] = sc.Text()
	}
	return out
}

// Simulate shows one round of mock data. It reports false, and draws
// nothing, once the session has connected to a bridge.
func (s *Session) Simulate(sample simulator.Sample, rng *rand.Rand) bool {
	s.mockMu.Lock()
	defer s.mockMu.Unlock()
	if s.connected {
		return false
	}

	for _, name := range []string{Camera1, Camera2} {
		slot, _ := Slot(name)
		display.DrawRoadScene(s.surfaces[slot], rng)
		s.notify.FrameUpdated(slot, s.surfaces[slot].Snapshot())
	}
	for name, v := range map[string]float64{
		CameraSpeed: sample.CameraSpeed,
		LidarSpeed:  sample.LidarSpeed,
		Odometer:    sample.Odometer,
	} {
		s.notify.ScalarUpdated(name, s.scalars[name].Set(v))
	}
	return true
}
