// Package metrics exports natcore's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "natcore"

// Subsystems, one per top-level component.
const (
	subsystemSTUN = "stun"
	subsystemPTCP = "ptcp"
	subsystemMux  = "mux"
)

// -------------------------------------------------------------------------
// Collector — Prometheus natcore metrics
// -------------------------------------------------------------------------

// Collector holds all natcore Prometheus metrics.
//
//   - STUN: live transaction gauges, retransmit/timeout/auth-failure
//     counters.
//   - Pseudo-TCP: per-engine gauges (open engines) and lifecycle counters
//     (state transitions, retransmits, bytes transferred), mirroring the
//     StateTransitions/AuthFailures shape used elsewhere in this package.
//   - Mux: per-endpoint accept/classify/discard counters.
type Collector struct {
	// STUNClientTransactions tracks currently outstanding client transactions.
	STUNClientTransactions prometheus.Gauge

	// STUNServerTransactions tracks currently cached server transactions.
	STUNServerTransactions prometheus.Gauge

	// STUNRetransmits counts client-transaction retransmissions sent.
	STUNRetransmits prometheus.Counter

	// STUNTimeouts counts client transactions that reached final timeout.
	STUNTimeouts prometheus.Counter

	// STUNAuthFailures counts request-validation rejections, labeled by
	// response code (400/401/420).
	STUNAuthFailures *prometheus.CounterVec

	// PTCPEngines tracks currently open pseudo-TCP engines.
	PTCPEngines prometheus.Gauge

	// PTCPStateTransitions counts FSM state transitions, labeled with the
	// old and new state for alerting (e.g. established->closed).
	PTCPStateTransitions *prometheus.CounterVec

	// PTCPRetransmits counts segment retransmissions across all engines.
	PTCPRetransmits prometheus.Counter

	// PTCPBytesSent / PTCPBytesReceived count application payload bytes.
	PTCPBytesSent     prometheus.Counter
	PTCPBytesReceived prometheus.Counter

	// MuxAccepted counts connections accepted per listener endpoint.
	MuxAccepted *prometheus.CounterVec

	// MuxClassified counts connections classified, labeled by endpoint and
	// acceptor identity.
	MuxClassified *prometheus.CounterVec

	// MuxDiscarded counts connections discarded (buffer-full or
	// read-timeout), labeled by endpoint.
	MuxDiscarded *prometheus.CounterVec
}

// NewCollector creates a Collector with all natcore metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.STUNClientTransactions,
		c.STUNServerTransactions,
		c.STUNRetransmits,
		c.STUNTimeouts,
		c.STUNAuthFailures,
		c.PTCPEngines,
		c.PTCPStateTransitions,
		c.PTCPRetransmits,
		c.PTCPBytesSent,
		c.PTCPBytesReceived,
		c.MuxAccepted,
		c.MuxClassified,
		c.MuxDiscarded,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		STUNClientTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSTUN,
			Name:      "client_transactions",
			Help:      "Number of outstanding STUN client transactions.",
		}),

		STUNServerTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSTUN,
			Name:      "server_transactions",
			Help:      "Number of cached STUN server transactions.",
		}),

		STUNRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSTUN,
			Name:      "client_retransmits_total",
			Help:      "Total STUN client transaction retransmissions sent.",
		}),

		STUNTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSTUN,
			Name:      "client_timeouts_total",
			Help:      "Total STUN client transactions that reached final timeout.",
		}),

		STUNAuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSTUN,
			Name:      "auth_failures_total",
			Help:      "Total STUN request-validation rejections, labeled by response code.",
		}, []string{"code"}),

		PTCPEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemPTCP,
			Name:      "engines",
			Help:      "Number of currently open pseudo-TCP engines.",
		}),

		PTCPStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPTCP,
			Name:      "state_transitions_total",
			Help:      "Total pseudo-TCP engine FSM state transitions.",
		}, []string{"from_state", "to_state"}),

		PTCPRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPTCP,
			Name:      "segment_retransmits_total",
			Help:      "Total pseudo-TCP segment retransmissions across all engines.",
		}),

		PTCPBytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPTCP,
			Name:      "bytes_sent_total",
			Help:      "Total application payload bytes sent over pseudo-TCP engines.",
		}),

		PTCPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPTCP,
			Name:      "bytes_received_total",
			Help:      "Total application payload bytes received over pseudo-TCP engines.",
		}),

		MuxAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMux,
			Name:      "accepted_total",
			Help:      "Total connections accepted per mux listener endpoint.",
		}, []string{"endpoint"}),

		MuxClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMux,
			Name:      "classified_total",
			Help:      "Total connections classified, labeled by endpoint and acceptor.",
		}, []string{"endpoint", "classifier"}),

		MuxDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMux,
			Name:      "discarded_total",
			Help:      "Total connections discarded (buffer-full or read-timeout).",
		}, []string{"endpoint"}),
	}
}

// -------------------------------------------------------------------------
// STUN
// -------------------------------------------------------------------------

// RecordSTUNAuthFailure increments the auth-failure counter for a response
// code (400/401/420).
func (c *Collector) RecordSTUNAuthFailure(code int) {
	c.STUNAuthFailures.WithLabelValues(codeLabel(code)).Inc()
}

func codeLabel(code int) string {
	switch code {
	case 400:
		return "400"
	case 401:
		return "401"
	case 420:
		return "420"
	default:
		return "unknown"
	}
}

// -------------------------------------------------------------------------
// Pseudo-TCP
// -------------------------------------------------------------------------

// RecordPTCPTransition increments the FSM transition counter with the old
// and new state labels.
func (c *Collector) RecordPTCPTransition(from, to string) {
	c.PTCPStateTransitions.WithLabelValues(from, to).Inc()
}

// -------------------------------------------------------------------------
// Mux
// -------------------------------------------------------------------------

// RecordMuxAccepted increments the accepted-connections counter for endpoint.
func (c *Collector) RecordMuxAccepted(endpoint string) {
	c.MuxAccepted.WithLabelValues(endpoint).Inc()
}

// RecordMuxClassified increments the classified-connections counter for
// endpoint and classifier identity.
func (c *Collector) RecordMuxClassified(endpoint, classifier string) {
	c.MuxClassified.WithLabelValues(endpoint, classifier).Inc()
}

// RecordMuxDiscarded increments the discarded-connections counter for
// endpoint.
func (c *Collector) RecordMuxDiscarded(endpoint string) {
	c.MuxDiscarded.WithLabelValues(endpoint).Inc()
}
