package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations must be non-blocking and thread-safe; all methods are
// called from internal goroutines. The collector is an explicit object
// passed to the service at construction, never a process-wide singleton.
//
// This interface composes smaller, domain-focused interfaces so callers
// can embed the nop collector and override only what they instrument.
type MetricsCollector interface {
	ElectionMetrics
	HeartbeatMetrics
	BusMetrics
	StoreMetrics
}

// ElectionMetrics defines metrics for the leader election loop.
type ElectionMetrics interface {
	// RecordStateTransition records a lifecycle state transition.
	RecordStateTransition(from, to State)

	// RecordElectionAttempt records a lease acquisition attempt.
	RecordElectionAttempt(acquired bool)

	// RecordLeaseRenewal records a lease renewal attempt.
	RecordLeaseRenewal(success bool)

	// RecordLeadershipChange records a leadership change with the new
	// leader's instance ID.
	RecordLeadershipChange(leaderID string)
}

// HeartbeatMetrics defines metrics for registry heartbeat publishing.
type HeartbeatMetrics interface {
	// RecordHeartbeat records a registry heartbeat publish attempt.
	RecordHeartbeat(instanceID string, success bool)

	// RecordConsecutiveHeartbeatFailures sets the current run of failed
	// heartbeats (gauge; reset to zero on success).
	RecordConsecutiveHeartbeatFailures(count int)
}

// BusMetrics defines metrics for message bus operations.
type BusMetrics interface {
	// RecordRPC records a completed RPC call with its classified outcome
	// ("ok", "TIMEOUT", "NO_RESPONDERS", "NOT_ACTIVE", "HANDLER_ERROR").
	RecordRPC(method string, outcome string, seconds float64)

	// RecordEventPublished records an event publish by domain.
	RecordEventPublished(domain string)

	// RecordCommand records a command dispatch by outcome.
	RecordCommand(command string, outcome string)
}

// StoreMetrics defines metrics for key-value store operations.
type StoreMetrics interface {
	// RecordKVOperation records a KV operation latency.
	//
	// Parameters:
	//   - op: Operation type ("get", "put", "delete", "keys", "history", "watch")
	//   - seconds: Time taken in seconds
	RecordKVOperation(op string, seconds float64)
}
