package soloist

import "github.com/soloist-io/soloist/types"

// Sentinel errors re-exported from the types package so callers can use
// errors.Is against the root package without importing types directly.
var (
	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrConnectionFailed is returned by Start when the message bus is
	// unreachable. Never auto-retried; the caller decides.
	ErrConnectionFailed = types.ErrConnectionFailed

	// ErrAlreadyStarted is returned when Start is called on a running service.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when operations require a started service.
	ErrNotStarted = types.ErrNotStarted

	// ErrNotLeader is returned by leader-only operations on a standby instance.
	ErrNotLeader = types.ErrNotLeader

	// ErrLeadershipLost is returned when a lease renewal loses to another
	// instance. The holder demotes immediately.
	ErrLeadershipLost = types.ErrLeadershipLost

	// ErrNotActive is returned by exclusive handlers invoked on a standby
	// instance; the bus turns it into a retryable NOT_ACTIVE response.
	ErrNotActive = types.ErrNotActive
)
