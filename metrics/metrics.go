// Package metrics exposes the runtime's Prometheus instrumentation:
// process counts, mailbox depth, routed-message counters, and peer
// connection state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the runtime registers. Construct one
// per node with New and register it with a prometheus.Registerer of the
// caller's choosing (the node controller uses the default registry).
type Metrics struct {
	ProcessCount      prometheus.Gauge
	MailboxDepth      prometheus.Histogram
	MessagesRouted    *prometheus.CounterVec // labeled "local" / "remote"
	SpawnAttempts     *prometheus.CounterVec // labeled "ok" / "failed"
	PeerConnections   *prometheus.GaugeVec   // labeled by peer NodeId string, value is connection state
	FramesCorrupt     prometheus.Counter
}

// New builds the collector set with the given namespace (typically the
// node's short identity), unregistered.
func New(namespace string) *Metrics {
	return &Metrics{
		ProcessCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "process", Name: "count",
			Help: "Number of live (including grace-window) local processes.",
		}),
		MailboxDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "mailbox", Name: "depth",
			Help:    "Observed mailbox queue depth at delivery time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "messages_routed_total",
			Help: "Messages routed, split by local vs remote delivery.",
		}, []string{"destination"}),
		SpawnAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "spawn", Name: "attempts_total",
			Help: "Remote spawn attempts, split by outcome.",
		}, []string{"outcome"}),
		PeerConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transport", Name: "peer_state",
			Help: "Per-peer connection state (0=connecting,1=up,2=failed,3=closed).",
		}, []string{"peer"}),
		FramesCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "wire", Name: "frames_corrupt_total",
			Help: "Frames that failed to decode and tore down their connection.",
		}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate-registration error (a programming error, not a runtime one).
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.ProcessCount, m.MailboxDepth, m.MessagesRouted, m.SpawnAttempts, m.PeerConnections, m.FramesCorrupt)
}
