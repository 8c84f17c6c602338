package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soloist-io/soloist/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Metric registration is deferred until first use, so constructing the
// collector never panics on a registry that already holds the metrics.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// Election metrics
	stateTransitions  *prometheus.CounterVec
	electionAttempts  *prometheus.CounterVec
	leaseRenewals     *prometheus.CounterVec
	leadershipChanges prometheus.Counter

	// Heartbeat metrics
	heartbeats           *prometheus.CounterVec
	consecutiveHBFailure prometheus.Gauge

	// Bus metrics
	rpcLatency      *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	commands        *prometheus.CounterVec

	// Store metrics
	kvLatency *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "soloist" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "soloist"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "state_transitions_total",
			Help:      "Total lifecycle state transitions by from/to state.",
		}, []string{"from", "to"})

		p.electionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "attempts_total",
			Help:      "Total lease acquisition attempts by result (acquired,standby).",
		}, []string{"result"})

		p.leaseRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "lease_renewals_total",
			Help:      "Total lease renewal attempts by result (success,failure).",
		}, []string{"result"})

		p.leadershipChanges = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "leadership_changes_total",
			Help:      "Total observed leadership changes.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "heartbeats_total",
			Help:      "Total registry heartbeat publishes by result (success,failure).",
		}, []string{"result"})

		p.consecutiveHBFailure = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "consecutive_heartbeat_failures",
			Help:      "Current run of failed heartbeats without a success.",
		})

		p.rpcLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "bus",
			Name:      "rpc_duration_seconds",
			Help:      "RPC round-trip latency in seconds by method and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"method", "outcome"})

		p.eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total domain events published by domain.",
		}, []string{"domain"})

		p.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "bus",
			Name:      "commands_total",
			Help:      "Total commands dispatched by name and outcome.",
		}, []string{"command", "outcome"})

		p.kvLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "kv",
			Name:      "operation_duration_seconds",
			Help:      "KV store operation latency in seconds by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"op"})

		p.reg.MustRegister(p.stateTransitions)
		p.reg.MustRegister(p.electionAttempts)
		p.reg.MustRegister(p.leaseRenewals)
		p.reg.MustRegister(p.leadershipChanges)
		p.reg.MustRegister(p.heartbeats)
		p.reg.MustRegister(p.consecutiveHBFailure)
		p.reg.MustRegister(p.rpcLatency)
		p.reg.MustRegister(p.eventsPublished)
		p.reg.MustRegister(p.commands)
		p.reg.MustRegister(p.kvLatency)
	})
}

// ElectionMetrics implementation

// RecordStateTransition counts a lifecycle state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordElectionAttempt counts a lease acquisition attempt.
func (p *PrometheusCollector) RecordElectionAttempt(acquired bool) {
	p.ensureRegistered()
	result := "standby"
	if acquired {
		result = "acquired"
	}
	p.electionAttempts.WithLabelValues(result).Inc()
}

// RecordLeaseRenewal counts a lease renewal attempt.
func (p *PrometheusCollector) RecordLeaseRenewal(success bool) {
	p.ensureRegistered()
	p.leaseRenewals.WithLabelValues(resultLabel(success)).Inc()
}

// RecordLeadershipChange counts a leadership change. The leader ID is
// deliberately not a label; instance IDs are unbounded.
func (p *PrometheusCollector) RecordLeadershipChange(_ /* leaderID */ string) {
	p.ensureRegistered()
	p.leadershipChanges.Inc()
}

// HeartbeatMetrics implementation

// RecordHeartbeat counts a registry heartbeat publish. The instance ID is
// deliberately not a label; instance IDs are unbounded.
func (p *PrometheusCollector) RecordHeartbeat(_ /* instanceID */ string, success bool) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(resultLabel(success)).Inc()
}

// RecordConsecutiveHeartbeatFailures sets the current failure run gauge.
func (p *PrometheusCollector) RecordConsecutiveHeartbeatFailures(count int) {
	p.ensureRegistered()
	p.consecutiveHBFailure.Set(float64(count))
}

// BusMetrics implementation

// RecordRPC observes one RPC round trip.
func (p *PrometheusCollector) RecordRPC(method, outcome string, seconds float64) {
	p.ensureRegistered()
	p.rpcLatency.WithLabelValues(method, outcome).Observe(seconds)
}

// RecordEventPublished counts a published event.
func (p *PrometheusCollector) RecordEventPublished(domain string) {
	p.ensureRegistered()
	p.eventsPublished.WithLabelValues(domain).Inc()
}

// RecordCommand counts a command dispatch outcome.
func (p *PrometheusCollector) RecordCommand(command, outcome string) {
	p.ensureRegistered()
	p.commands.WithLabelValues(command, outcome).Inc()
}

// StoreMetrics implementation

// RecordKVOperation observes one KV store operation.
func (p *PrometheusCollector) RecordKVOperation(op string, seconds float64) {
	p.ensureRegistered()
	p.kvLatency.WithLabelValues(op).Observe(seconds)
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}
