package ws

import "github.com/prometheus/client_golang/prometheus"

// Drop nedenleri (meshchat_relay_frames_dropped_total{reason}).
const (
	dropInvalid     = "invalid"
	dropSpoofed     = "spoofed"
	dropRateLimited = "rate_limited"
	dropSlowPeer    = "slow_peer"
)

// Metrics, relay'in Prometheus metrikleri.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	frames      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	bytes       prometheus.Counter
}

// NewMetrics, metrikleri oluşturur ve reg'e kaydeder. reg nil ise
// kayıt yapılmaz (testler).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshchat_relay_connections",
			Help: "Number of connected peers.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshchat_relay_rooms",
			Help: "Number of rooms with at least one peer.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchat_relay_frames_total",
			Help: "Frames received from peers, by frame type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchat_relay_frames_dropped_total",
			Help: "Frames dropped by the relay, by reason.",
		}, []string{"reason"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchat_relay_bytes_total",
			Help: "Bytes received from peers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.rooms, m.frames, m.dropped, m.bytes)
	}
	return m
}
