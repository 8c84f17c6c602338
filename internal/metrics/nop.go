package metrics

import "github.com/soloist-io/soloist/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	svc, err := soloist.NewService(cfg, soloist.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ElectionMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State) {
	// No-op
}

// RecordElectionAttempt discards the election attempt metric.
func (n *NopMetrics) RecordElectionAttempt(_ /* acquired */ bool) {
	// No-op
}

// RecordLeaseRenewal discards the lease renewal metric.
func (n *NopMetrics) RecordLeaseRenewal(_ /* success */ bool) {
	// No-op
}

// RecordLeadershipChange discards the leadership change metric.
func (n *NopMetrics) RecordLeadershipChange(_ /* leaderID */ string) {
	// No-op
}

// HeartbeatMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* instanceID */ string, _ /* success */ bool) {
	// No-op
}

// RecordConsecutiveHeartbeatFailures discards the failure run gauge.
func (n *NopMetrics) RecordConsecutiveHeartbeatFailures(_ /* count */ int) {
	// No-op
}

// BusMetrics implementation

// RecordRPC discards the RPC metric.
func (n *NopMetrics) RecordRPC(_ /* method */, _ /* outcome */ string, _ /* seconds */ float64) {
	// No-op
}

// RecordEventPublished discards the event publish metric.
func (n *NopMetrics) RecordEventPublished(_ /* domain */ string) {
	// No-op
}

// RecordCommand discards the command dispatch metric.
func (n *NopMetrics) RecordCommand(_ /* command */, _ /* outcome */ string) {
	// No-op
}

// StoreMetrics implementation

// RecordKVOperation discards the KV operation metric.
func (n *NopMetrics) RecordKVOperation(_ /* op */ string, _ /* seconds */ float64) {
	// No-op
}
