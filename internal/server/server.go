package server

import (
	"context"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"robodash-go/internal/config"
	"robodash-go/internal/display"
	"robodash-go/internal/metrics"
	"robodash-go/internal/session"
)

//go:embed web/*
var webFS embed.FS

// Controller is the part of the dashboard session the browser can drive.
type Controller interface {
	Connect(ctx context.Context, url string) error
	Disconnect() error
	Status() session.Status
	Snapshots() []display.Frame
	Scalars() map[string]string
	Resize(slot, width, height int) error
}

type outbound struct {
	kind    int
	payload []byte
}

// Hub serves the browser UI and pushes every dashboard event to all
// connected websocket clients. It implements session.Notifier.
type Hub struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.AppConfig
	ctrl     Controller
	log      *zap.Logger
	metrics  *metrics.Metrics
	out      chan outbound
}

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingEvery   = (pongWait * 9) / 10
	outboundLen = 256
	frameHeader = 9
)

func NewHub(cfg config.AppConfig, log *zap.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		cfg:     cfg,
		log:     log,
		metrics: m,
		out:     make(chan outbound, outboundLen),
	}
}

// Handler wires the UI routes to ctrl.
func (h *Hub) Handler(ctrl Controller) (http.Handler, error) {
	h.ctrl = ctrl
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/config", h.handleConfig)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/connect", h.handleConnect)
	mux.HandleFunc("/disconnect", h.handleDisconnect)
	mux.Handle("/metrics", h.metrics.Handler())
	return mux, nil
}

// Run serves the UI on the configured port until ctx is done.
func (h *Hub) Run(ctx context.Context, ctrl Controller) error {
	handler, err := h.Handler(ctrl)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(h.cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go h.broadcast(ctx)

	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	_ = h.writeJSON(conn, writeMu, h.configMessage())
	h.sendState(conn, writeMu)

	h.mu.Lock()
	h.clients[conn] = writeMu
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.UIClients.Set(float64(n))
	h.log.Info("ui client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", n))

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := h.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var req request
			if err := json.Unmarshal(payload, &req); err != nil {
				h.log.Debug("bad ui request", zap.Error(err))
				continue
			}
			h.handleRequest(conn, writeMu, req)
		}
	}()
}

type request struct {
	Type   string `json:"type"`
	Slot   int    `json:"slot"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

func (h *Hub) handleRequest(conn *websocket.Conn, writeMu *sync.Mutex, req request) {
	switch req.Type {
	case "snapshot_request":
		h.sendState(conn, writeMu)
	case "resize":
		if err := h.ctrl.Resize(req.Slot, req.Width, req.Height); err != nil {
			h.log.Debug("resize rejected", zap.Int("slot", req.Slot), zap.Error(err))
		}
	case "connect":
		url := req.URL
		if url == "" {
			url = h.cfg.BridgeURL
		}
		// failures reach the browser as status and alert events
		go func() { _ = h.ctrl.Connect(context.Background(), url) }()
	case "disconnect":
		go func() { _ = h.ctrl.Disconnect() }()
	default:
		h.log.Debug("unknown ui request", zap.String("type", req.Type))
	}
}

// sendState brings one client up to date: status, scalars and every surface.
func (h *Hub) sendState(conn *websocket.Conn, writeMu *sync.Mutex) {
	if h.ctrl == nil {
		return
	}
	_ = h.writeJSON(conn, writeMu, statusMessage(h.ctrl.Status()))
	for channel, text := range h.ctrl.Scalars() {
		_ = h.writeJSON(conn, writeMu, scalarMessage(channel, text))
	}
	for slot, f := range h.ctrl.Snapshots() {
		_ = h.writeMessage(conn, writeMu, websocket.BinaryMessage, encodeFrame(slot, f))
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Hub) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.configMessage())
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"ws_clients": h.clientCount()}
	if h.ctrl != nil {
		payload["session"] = h.ctrl.Status()
		payload["scalars"] = h.ctrl.Scalars()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *Hub) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
	}
	if body.URL == "" {
		body.URL = h.cfg.BridgeURL
	}
	if err := h.ctrl.Connect(r.Context(), body.URL); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, session.ErrAlreadyConnected) {
			code = http.StatusConflict
		}
		writeJSONResponse(w, code, map[string]any{"error": err.Error(), "status": h.ctrl.Status()})
		return
	}
	writeJSONResponse(w, http.StatusOK, h.ctrl.Status())
}

func (h *Hub) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.ctrl.Disconnect(); err != nil {
		writeJSONResponse(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "status": h.ctrl.Status()})
		return
	}
	writeJSONResponse(w, http.StatusOK, h.ctrl.Status())
}

func writeJSONResponse(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Hub) configMessage() map[string]any {
	return map[string]any{
		"type":         "config",
		"port":         h.cfg.Port,
		"bridge_url":   h.cfg.BridgeURL,
		"auto_connect": h.cfg.AutoConnect,
		"mock":         h.cfg.Mock,
		"slots":        session.ImageChannels,
		"scalars":      session.ScalarChannels,
		"surfaces": map[string]int{
			"width":            h.cfg.Surfaces.Width,
			"height":           h.cfg.Surfaces.Height,
			"detection_width":  h.cfg.Surfaces.DetectionWidth,
			"detection_height": h.cfg.Surfaces.DetectionHeight,
		},
	}
}

func statusMessage(st session.Status) map[string]any {
	return map[string]any{"type": "status", "status": st}
}

func scalarMessage(channel, text string) map[string]any {
	return map[string]any{"type": "scalar", "channel": channel, "text": text}
}

// encodeFrame packs a surface as slot byte, little-endian uint32 width and
// height, then RGBA rows.
func encodeFrame(slot int, f display.Frame) []byte {
	buf := make([]byte, frameHeader+len(f.Pix))
	buf[0] = byte(slot)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(f.Width))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(f.Height))
	copy(buf[frameHeader:], f.Pix)
	return buf
}

func (h *Hub) FrameUpdated(slot int, f display.Frame) {
	h.enqueue(websocket.BinaryMessage, encodeFrame(slot, f))
}

func (h *Hub) ScalarUpdated(channel, text string) {
	h.enqueueJSON(scalarMessage(channel, text))
}

func (h *Hub) StatusChanged(st session.Status) {
	h.enqueueJSON(statusMessage(st))
}

func (h *Hub) DecodeFailed(channel, kind string, err error) {
	h.enqueueJSON(map[string]any{
		"type":    "diagnostic",
		"channel": channel,
		"kind":    kind,
		"error":   err.Error(),
	})
}

func (h *Hub) Alert(message string) {
	h.enqueueJSON(map[string]any{"type": "alert", "message": message})
}

func (h *Hub) enqueueJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("encode ui message", zap.Error(err))
		return
	}
	h.enqueue(websocket.TextMessage, payload)
}

// enqueue never blocks the caller; a full queue drops the event.
func (h *Hub) enqueue(kind int, payload []byte) {
	select {
	case h.out <- outbound{kind: kind, payload: payload}:
	default:
		h.log.Debug("ui queue full, dropping event", zap.Int("bytes", len(payload)))
	}
}

func (h *Hub) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.out:
			var stale []*websocket.Conn
			h.mu.Lock()
			for conn, writeMu := range h.clients {
				if err := h.writeMessage(conn, writeMu, msg.kind, msg.payload); err != nil {
					stale = append(stale, conn)
				}
			}
			h.mu.Unlock()
			for _, conn := range stale {
				h.removeClient(conn)
			}
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()
	conn.Close()
	if ok {
		h.metrics.UIClients.Set(float64(n))
		h.log.Info("ui client disconnected", zap.Int("clients", n))
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (h *Hub) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
