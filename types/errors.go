package types

import "errors"

// Sentinel errors for the soloist SDK.
//
// These errors provide type-safe error checking using errors.Is() and
// errors.As(). Components use these sentinels for known error conditions
// and wrap external errors with context using fmt.Errorf("...: %w", err).

// Configuration and lifecycle errors.
var (
	// ErrInvalidConfig is returned when a configuration fails validation.
	// It is always returned at construction time, before any network I/O.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned by Start when the message bus is
	// unreachable. The core never auto-retries; the caller decides.
	ErrConnectionFailed = errors.New("message bus connection failed")

	// ErrAlreadyStarted is returned when Start is called on a running service.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotStarted is returned when operations require a started service.
	ErrNotStarted = errors.New("service not started")
)

// Key-value store errors.
var (
	// ErrKeyNotFound is returned when a key does not exist in the store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned by create-only puts when the key exists.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrConcurrentUpdate is returned when an expected-revision put or delete
	// observes a different revision. This is expected control flow for lease
	// renewal and registry updates, not a failure to escalate.
	ErrConcurrentUpdate = errors.New("concurrent update: revision mismatch")

	// ErrInvalidKey is returned when a key contains characters outside the
	// transport-safe set and was not produced by the key codec.
	ErrInvalidKey = errors.New("invalid key")
)

// Election errors.
var (
	// ErrNotLeader is returned when a leader-only operation is attempted by
	// an instance that does not hold the lease.
	ErrNotLeader = errors.New("not the leader")

	// ErrLeadershipLost is returned when a lease renewal fails because
	// another instance took over. The caller must demote immediately.
	ErrLeadershipLost = errors.New("leadership was lost")

	// ErrNotActive is returned by an exclusive handler invoked on a standby
	// instance. The bus translates it into a NOT_ACTIVE response so the
	// caller can retry against the new active instance.
	ErrNotActive = errors.New("instance is not active")
)

// Bus errors.
var (
	// ErrNoHandler is returned when registering against a subject that is
	// already claimed or dispatching to a method with no handler.
	ErrNoHandler = errors.New("no handler registered")

	// ErrHandlerExists is returned when a handler is registered twice for
	// the same service/method pair.
	ErrHandlerExists = errors.New("handler already registered")
)

// Classified RPC error codes carried inside RPCResponse.Error. These cross
// the bus as strings, never as raised errors (a failed call always yields a
// response object with Success=false).
const (
	// ErrorCodeTimeout indicates the call did not complete within the
	// request timeout.
	ErrorCodeTimeout = "TIMEOUT"

	// ErrorCodeNoResponders indicates no instance is listening on the
	// target subject.
	ErrorCodeNoResponders = "NO_RESPONDERS"

	// ErrorCodeNotActive indicates an exclusive RPC reached a standby
	// instance. Retryable by the default retry policy.
	ErrorCodeNotActive = "NOT_ACTIVE"

	// ErrorCodeHandlerError indicates the handler returned an error; the
	// message carries the handler's error string.
	ErrorCodeHandlerError = "HANDLER_ERROR"

	// ErrorCodeBadRequest indicates the request payload could not be decoded.
	ErrorCodeBadRequest = "BAD_REQUEST"

	// ErrorCodeTransport indicates a connection-level failure outside the
	// enumerated cases, such as a malformed reply or a closed connection.
	ErrorCodeTransport = "TRANSPORT_ERROR"
)
