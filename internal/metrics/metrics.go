package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	BridgeMessages  *prometheus.CounterVec
	FramesPresented *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	LengthMismatch  *prometheus.CounterVec
	ScalarUpdates   *prometheus.CounterVec
	DecodeSeconds   prometheus.Histogram
	ConnectionState prometheus.Gauge
	UIClients       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the dashboard collectors with reg. A nil reg gets a private
// registry, which keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		BridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robodash_bridge_messages_total",
			Help: "Messages received from the bridge, by channel.",
		}, []string{"channel"}),
		FramesPresented: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robodash_frames_presented_total",
			Help: "Images decoded and drawn onto a surface, by channel.",
		}, []string{"channel"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robodash_decode_errors_total",
			Help: "Image messages replaced by a placeholder, by channel and error kind.",
		}, []string{"channel", "kind"}),
		LengthMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robodash_length_mismatch_total",
			Help: "Images whose buffer length did not match their dimensions.",
		}, []string{"channel"}),
		ScalarUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robodash_scalar_updates_total",
			Help: "Scalar display updates, by channel.",
		}, []string{"channel"}),
		DecodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "robodash_image_pipeline_seconds",
			Help:    "Time from message dispatch to presented surface.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robodash_connection_state",
			Help: "Bridge connection state: 0 disconnected, 1 connecting, 2 connected, 3 error.",
		}),
		UIClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robodash_ui_clients",
			Help: "Connected browser websocket clients.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.BridgeMessages,
		m.FramesPresented,
		m.DecodeErrors,
		m.LengthMismatch,
		m.ScalarUpdates,
		m.DecodeSeconds,
		m.ConnectionState,
		m.UIClients,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
