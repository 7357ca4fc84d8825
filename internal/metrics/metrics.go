// Package metrics exposes Prometheus collectors for node-level
// observability: message traffic, round counts, and per-subsystem peer
// bucket sizes. Uses an isolated registry so these collectors never
// collide with the process-wide default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all overlay-node Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesSentTotal     *prometheus.CounterVec
	MessagesReceivedTotal *prometheus.CounterVec
	MessagesDroppedTotal  *prometheus.CounterVec

	RoundsTotal prometheus.Counter

	KnownPeers   prometheus.Gauge
	AlivePeers   prometheus.Gauge
	SuspectPeers prometheus.Gauge
	DeadPeers    prometheus.Gauge
	UnchokedPeers prometheus.Gauge

	TrustScore *prometheus.GaugeVec
}

// New creates a Metrics instance registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_messages_sent_total",
				Help: "Total number of messages sent, by message type.",
			},
			[]string{"type"},
		),
		MessagesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_messages_received_total",
				Help: "Total number of messages received, by message type.",
			},
			[]string{"type"},
		),
		MessagesDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_messages_dropped_total",
				Help: "Total number of messages dropped, by reason.",
			},
			[]string{"reason"},
		),
		RoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_runtime_rounds_total",
			Help: "Total number of outer runtime loop iterations.",
		}),
		KnownPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_gossip_known_peers",
			Help: "Number of peers currently known to the gossip table.",
		}),
		AlivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_heartbeat_alive_peers",
			Help: "Number of peers currently in the ALIVE state.",
		}),
		SuspectPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_heartbeat_suspect_peers",
			Help: "Number of peers currently in the SUSPECT state.",
		}),
		DeadPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_heartbeat_dead_peers",
			Help: "Number of peers currently in the DEAD state.",
		}),
		UnchokedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_choking_unchoked_peers",
			Help: "Number of peers currently unchoked.",
		}),
		TrustScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "overlay_reputation_trust_score",
				Help: "Current trust score per known peer.",
			},
			[]string{"peer"},
		),
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesReceivedTotal,
		m.MessagesDroppedTotal,
		m.RoundsTotal,
		m.KnownPeers,
		m.AlivePeers,
		m.SuspectPeers,
		m.DeadPeers,
		m.UnchokedPeers,
		m.TrustScore,
	)

	return m
}

// Handler returns an http.Handler serving the Prometheus exposition
// format for this node's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
