package types

import "context"

// Hooks defines callbacks for service lifecycle events.
//
// All hooks are optional; nil fields are skipped. Hooks run synchronously
// inside the election and heartbeat loops, so they should complete quickly
// and respect context cancellation. The context passed to hooks is the
// service lifecycle context and is cancelled during shutdown.
//
// Hook errors are logged and reported to OnError but never fail the loop
// that invoked them.
type Hooks struct {
	// OnActive is called after this instance acquires the leader lease and
	// transitions to StateActive. Fires exactly once per acquisition.
	OnActive func(ctx context.Context) error

	// OnStandby is called after this instance loses or releases the lease
	// and transitions back to StateStandby.
	OnStandby func(ctx context.Context) error

	// OnStateChanged is called on every lifecycle state transition.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when a recoverable error occurs, such as a run of
	// registry heartbeat failures past the reporting threshold.
	OnError func(ctx context.Context, err error)
}
