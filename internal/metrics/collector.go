// Package metrics implements the bearer daemon's Prometheus statistics
// sink, satisfying internal/plugin.StatsSink so every bearer can report
// into the same Collector without depending on the metrics package
// itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gobearer/internal/plugin"
)

var _ plugin.StatsSink = (*Collector)(nil)

const (
	namespace = "gobearer"
	subsystem = "bearer"
)

// Label names for bearer metrics.
const (
	labelBearer = "bearer"
	labelResult = "result"
	labelName   = "name"
)

const (
	resultOK   = "ok"
	resultFail = "fail"
)

// Collector holds every Prometheus metric the daemon exports (§10.4).
//
// BytesSent/MessagesSent are split by result so a dashboard can graph
// failure rate directly from the counter ratio rather than a derived
// error counter. Counters carries every bearer-specific event that does
// not warrant its own first-class field — fragment retransmissions,
// reassembly outcomes, validation PINGs/PONGs — keyed by an event name
// supplied at the call site (§10.4's WLAN- and validation-specific
// counters).
type Collector struct {
	BytesSent      *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec
	MessagesSent   *prometheus.CounterVec
	ActiveSessions *prometheus.GaugeVec
	Counters       *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.BytesSent,
		c.BytesReceived,
		c.MessagesSent,
		c.ActiveSessions,
		c.Counters,
	)

	return c
}

func newMetrics() *Collector {
	bearerResultLabels := []string{labelBearer, labelResult}
	bearerLabels := []string{labelBearer}
	bearerNameLabels := []string{labelBearer, labelName}

	return &Collector{
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_sent_total",
			Help:      "Total bytes handed to a bearer's transport for transmission.",
		}, bearerResultLabels),

		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_received_total",
			Help:      "Total bytes delivered upward from a bearer after framing/reassembly.",
		}, bearerLabels),

		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total Send calls resolved by a bearer, by outcome.",
		}, bearerResultLabels),

		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Number of currently active sessions per bearer.",
		}, bearerLabels),

		Counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Bearer-specific event counters (fragmentation, reassembly, address validation).",
		}, bearerNameLabels),
	}
}

func resultLabel(ok bool) string {
	if ok {
		return resultOK
	}
	return resultFail
}

// IncBytesSent implements internal/plugin.StatsSink.
func (c *Collector) IncBytesSent(bearer string, ok bool, n int) {
	c.BytesSent.WithLabelValues(bearer, resultLabel(ok)).Add(float64(n))
}

// IncBytesReceived implements internal/plugin.StatsSink.
func (c *Collector) IncBytesReceived(bearer string, n int) {
	c.BytesReceived.WithLabelValues(bearer).Add(float64(n))
}

// IncMessagesSent implements internal/plugin.StatsSink.
func (c *Collector) IncMessagesSent(bearer string, ok bool) {
	c.MessagesSent.WithLabelValues(bearer, resultLabel(ok)).Inc()
}

// SetActiveSessions implements internal/plugin.StatsSink.
func (c *Collector) SetActiveSessions(bearer string, n int) {
	c.ActiveSessions.WithLabelValues(bearer).Set(float64(n))
}

// IncCounter implements internal/plugin.StatsSink. name identifies the
// event (e.g. "fragment_crc_failed", "reassembly_evicted", "ping_sent",
// "signature_failed"); bearers choose their own event names, so this
// collector does not enumerate them.
func (c *Collector) IncCounter(bearer, name string) {
	c.Counters.WithLabelValues(bearer, name).Inc()
}
