// Package metrics exposes the routing core's Prometheus instrumentation
// (§11 domain stack: StatsService). Grounded on the reference corpus's
// internal/metrics/prometheus.go shape (one struct of pre-registered
// collectors plus small Record*/Update* helpers), scoped down to what the
// router, node and failure layers actually observe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one node process.
type Metrics struct {
	CommandsTotal    prometheus.CounterVec
	CommandDuration  prometheus.HistogramVec
	RouteFailures    prometheus.CounterVec
	RetriesTotal     prometheus.Counter
	GossipMembers    prometheus.Gauge
	NodePoolQueued   prometheus.Gauge
	NodePoolFailed   prometheus.Counter
}

// New creates and registers all collectors, labeled with nodeID.
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		CommandsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "terrastore",
			Subsystem:   "router",
			Name:        "commands_total",
			Help:        "Total number of commands dispatched by kind and outcome",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
		CommandDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "terrastore",
			Subsystem:   "router",
			Name:        "command_duration_seconds",
			Help:        "Histogram of command round-trip durations by kind",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"kind"}),
		RouteFailures: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "terrastore",
			Subsystem:   "router",
			Name:        "route_failures_total",
			Help:        "Total number of routing failures by error code",
			ConstLabels: labels,
		}, []string{"code"}),
		RetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "terrastore",
			Subsystem:   "failover",
			Name:        "retries_total",
			Help:        "Total number of FailureDecorator retry attempts",
			ConstLabels: labels,
		}),
		GossipMembers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "terrastore",
			Subsystem:   "gossip",
			Name:        "members",
			Help:        "Current number of known gossip members",
			ConstLabels: labels,
		}),
		NodePoolQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "terrastore",
			Subsystem:   "node",
			Name:        "pool_queued",
			Help:        "Current number of tasks queued in the local worker pool",
			ConstLabels: labels,
		}),
		NodePoolFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "terrastore",
			Subsystem:   "node",
			Name:        "pool_failed_total",
			Help:        "Total number of local worker pool tasks that returned an error",
			ConstLabels: labels,
		}),
	}
}

// RecordCommand records a completed command's outcome and duration. m may
// be nil (e.g. in tests that build a Node without a Metrics), in which case
// it is a no-op — callers are threaded a *Metrics explicitly (§9 DI note)
// rather than reaching for a package-level default, so nil is the natural
// "metrics disabled" value, not an error condition.
func (m *Metrics) RecordCommand(kind, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(kind, outcome).Inc()
	m.CommandDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordRouteFailure records a routing failure classified by error code.
func (m *Metrics) RecordRouteFailure(code string) {
	if m == nil {
		return
	}
	m.RouteFailures.WithLabelValues(code).Inc()
}

// RecordRetry records one FailureDecorator retry attempt.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// UpdateGossipMembers sets the current gossip member count.
func (m *Metrics) UpdateGossipMembers(count int) {
	if m == nil {
		return
	}
	m.GossipMembers.Set(float64(count))
}

// SetPoolQueued sets the local worker pool's current queue depth.
func (m *Metrics) SetPoolQueued(n int) {
	if m == nil {
		return
	}
	m.NodePoolQueued.Set(float64(n))
}

// RecordPoolFailure records one worker pool task that returned an error.
func (m *Metrics) RecordPoolFailure() {
	if m == nil {
		return
	}
	m.NodePoolFailed.Inc()
}
