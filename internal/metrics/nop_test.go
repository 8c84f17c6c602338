package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soloist-io/soloist/types"
)

func TestNewNop(t *testing.T) {
	metrics := NewNop()

	require.NotNil(t, metrics)
	require.IsType(t, &NopMetrics{}, metrics)
}

func TestNopMetrics_RecordStateTransition(t *testing.T) {
	metrics := NewNop()

	// Should not panic with various inputs
	require.NotPanics(t, func() {
		metrics.RecordStateTransition(types.StateStandby, types.StateActive)
		metrics.RecordStateTransition(0, 0)
		metrics.RecordStateTransition(types.State(999), types.State(1000))
	})
}

func TestNopMetrics_RecordHeartbeat(t *testing.T) {
	metrics := NewNop()

	// Should not panic with various inputs
	require.NotPanics(t, func() {
		metrics.RecordHeartbeat("orders-1", true)
		metrics.RecordHeartbeat("orders-1", false)
		metrics.RecordHeartbeat("", true)
		metrics.RecordConsecutiveHeartbeatFailures(3)
		metrics.RecordConsecutiveHeartbeatFailures(-1)
	})
}

func TestNopMetrics_RecordLeadershipChange(t *testing.T) {
	metrics := NewNop()

	// Should not panic with various inputs
	require.NotPanics(t, func() {
		metrics.RecordLeadershipChange("orders-1")
		metrics.RecordLeadershipChange("")
		metrics.RecordElectionAttempt(true)
		metrics.RecordLeaseRenewal(false)
	})
}

func TestNopMetrics_BusAndStore(t *testing.T) {
	metrics := NewNop()

	require.NotPanics(t, func() {
		metrics.RecordRPC("get_price", "ok", 0.002)
		metrics.RecordRPC("", "TIMEOUT", -1)
		metrics.RecordEventPublished("trading")
		metrics.RecordCommand("rebuild", "sent")
		metrics.RecordKVOperation("put", 0.001)
	})
}

func BenchmarkNopMetrics_RecordStateTransition(b *testing.B) {
	metrics := NewNop()
	for b.Loop() {
		metrics.RecordStateTransition(types.StateStandby, types.StateActive)
	}
}

func BenchmarkNopMetrics_RecordHeartbeat(b *testing.B) {
	metrics := NewNop()
	for b.Loop() {
		metrics.RecordHeartbeat("orders-1", true)
	}
}

func BenchmarkNopMetrics_RecordRPC(b *testing.B) {
	metrics := NewNop()
	for b.Loop() {
		metrics.RecordRPC("get_price", "ok", 0.002)
	}
}
