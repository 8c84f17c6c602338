package bus

import (
	"context"
	"encoding/json"
	"time"
)

// RPCRequest addresses one method on one service.
//
// Timeout bounds the whole round trip; zero falls back to the bus default.
type RPCRequest struct {
	Target  string          `json:"target"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Timeout time.Duration   `json:"timeout,omitempty"`
}

// RPCResponse is the terminal outcome of an RPC call. Error carries a
// classified code from types (TIMEOUT, NOT_ACTIVE, ...); Message carries
// human-readable detail such as the handler's error string.
type RPCResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Failure builds a failed response with a classified error code.
func Failure(code, message string) RPCResponse {
	return RPCResponse{Success: false, Error: code, Message: message}
}

// Event is a domain event published on events.{domain}.{event_type}.
type Event struct {
	Domain    string          `json:"domain"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Source    string          `json:"source_instance,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Command is a directive sent to one service. The bus assigns ID on send;
// senders leave it empty.
type Command struct {
	ID      string          `json:"id"`
	Target  string          `json:"target"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Timeout time.Duration   `json:"timeout,omitempty"`
	Source  string          `json:"source_instance,omitempty"`
}

// Progress is an intermediate report delivered out-of-band from the
// terminal result while a tracked command executes.
type Progress struct {
	CommandID string  `json:"command_id"`
	Fraction  float64 `json:"fraction"`
	Message   string  `json:"message,omitempty"`
}

// CommandResult is the terminal outcome of a command.
type CommandResult struct {
	CommandID string          `json:"command_id"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// RPCHandler processes one RPC request. The returned value is JSON-encoded
// into the response; a returned error becomes a structured
// {Success:false, Error:HANDLER_ERROR} response, never a dropped reply.
type RPCHandler func(ctx context.Context, params json.RawMessage) (any, error)

// EventHandler processes one delivered event. Delivery is at-least-once;
// handlers must be idempotent. A returned error is logged, not retried.
type EventHandler func(ctx context.Context, event Event) error

// ProgressReporter lets a command handler emit intermediate progress.
// Reports are best-effort; failures to publish are swallowed.
type ProgressReporter func(fraction float64, message string)

// CommandHandler processes one command, optionally reporting progress.
type CommandHandler func(ctx context.Context, cmd Command, report ProgressReporter) (any, error)

// Subscription is a handle to an active event subscription.
type Subscription interface {
	// Unsubscribe stops delivery and releases the subscription.
	Unsubscribe() error
}

// MessageBus is the transport abstraction consumed by services.
//
// Handler registration is only valid on a connected bus; the orchestration
// layer connects first and then installs the handlers collected before
// start.
type MessageBus interface {
	// Connect establishes the transport connection. Returns an error
	// wrapping types.ErrConnectionFailed when the bus is unreachable; the
	// core never auto-retries, the caller decides.
	Connect(ctx context.Context) error

	// Close tears down subscriptions and the connection. Safe to call on
	// a never-connected bus.
	Close()

	// Call performs a blocking RPC. The returned response is always
	// usable; transport and handler failures arrive as classified error
	// codes, never as Go errors.
	Call(ctx context.Context, req RPCRequest) RPCResponse

	// RegisterRPCHandler installs a handler for target/method. Instances
	// of the same service share a queue group, so each request is served
	// by exactly one instance.
	RegisterRPCHandler(target, method string, handler RPCHandler) error

	// PublishEvent publishes a domain event. A zero Timestamp is stamped
	// with the current time.
	PublishEvent(ctx context.Context, event Event) error

	// SubscribeEvent subscribes to an event subject pattern; trailing
	// wildcards match one (*) or more (>) tokens.
	SubscribeEvent(pattern string, handler EventHandler) (Subscription, error)

	// SendCommand dispatches a command fire-and-forget and returns its
	// assigned command ID immediately.
	SendCommand(ctx context.Context, cmd Command) (string, error)

	// SendCommandTracked dispatches a command and blocks until its
	// terminal result or timeout, invoking onProgress for every
	// intermediate report. onProgress may be nil.
	SendCommandTracked(ctx context.Context, cmd Command, onProgress func(Progress)) (*CommandResult, error)

	// RegisterCommandHandler installs a handler for target/command,
	// queue-grouped like RPC handlers.
	RegisterCommandHandler(target, command string, handler CommandHandler) error
}
