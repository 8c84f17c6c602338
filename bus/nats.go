package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/soloist-io/soloist/types"
)

// DefaultRPCTimeout bounds calls whose request carries no timeout.
const DefaultRPCTimeout = 5 * time.Second

// NATSBus implements MessageBus over a core NATS connection.
//
// The bus may own its connection (dialed in Connect from a URL) or adopt
// one supplied via WithConn; an adopted connection is left open on Close
// so embedding tests and multi-bus processes can share it.
type NATSBus struct {
	url            string
	name           string
	defaultTimeout time.Duration
	logger         types.Logger
	metrics        types.BusMetrics

	conn    *nats.Conn
	ownConn bool

	connected atomic.Bool

	// handlers maps handler subjects to their queue subscriptions; one
	// handler per subject.
	handlers *xsync.Map[string, *nats.Subscription]

	// eventSubs tracks event subscriptions for teardown; multiple
	// subscriptions may share a pattern.
	mu        sync.Mutex
	eventSubs []*nats.Subscription
}

// Compile-time assertion that NATSBus implements MessageBus.
var _ MessageBus = (*NATSBus)(nil)

// BusOption configures a NATSBus.
type BusOption func(*NATSBus)

// WithConn adopts an existing NATS connection instead of dialing the URL.
// The connection is not closed by Close.
func WithConn(nc *nats.Conn) BusOption {
	return func(b *NATSBus) {
		b.conn = nc
		b.ownConn = false
	}
}

// WithName sets the connection name reported to the NATS server, normally
// the instance ID.
func WithName(name string) BusOption {
	return func(b *NATSBus) {
		b.name = name
	}
}

// WithDefaultTimeout overrides DefaultRPCTimeout.
func WithDefaultTimeout(d time.Duration) BusOption {
	return func(b *NATSBus) {
		if d > 0 {
			b.defaultTimeout = d
		}
	}
}

// WithBusLogger sets the logger. Defaults to no logging.
func WithBusLogger(logger types.Logger) BusOption {
	return func(b *NATSBus) {
		b.logger = logger
	}
}

// WithBusMetrics sets the bus metrics collector.
func WithBusMetrics(m types.BusMetrics) BusOption {
	return func(b *NATSBus) {
		b.metrics = m
	}
}

// NewNATSBus creates a bus that will connect to the given URL (ignored
// when WithConn supplies a connection).
func NewNATSBus(url string, opts ...BusOption) *NATSBus {
	b := &NATSBus{
		url:            url,
		defaultTimeout: DefaultRPCTimeout,
		handlers:       xsync.NewMap[string, *nats.Subscription](),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Connect establishes the transport connection. Unreachable bus errors
// wrap types.ErrConnectionFailed and are not retried here.
func (b *NATSBus) Connect(ctx context.Context) error {
	if b.connected.Load() {
		return types.ErrAlreadyStarted
	}

	if b.conn == nil {
		opts := []nats.Option{
			nats.Timeout(5 * time.Second),
			nats.MaxReconnects(-1),
		}
		if b.name != "" {
			opts = append(opts, nats.Name(b.name))
		}

		nc, err := nats.Connect(b.url, opts...)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", types.ErrConnectionFailed, b.url, err)
		}
		b.conn = nc
		b.ownConn = true
	}

	if !b.conn.IsConnected() {
		// Adopted connections must already be live; a closed one is a
		// configuration error, not something to retry.
		if err := b.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("%w: %w", types.ErrConnectionFailed, err)
		}
	}

	b.connected.Store(true)
	if b.logger != nil {
		b.logger.Info("message bus connected", "url", b.conn.ConnectedUrl())
	}

	return nil
}

// Conn exposes the underlying NATS connection so the orchestration layer
// can share it for JetStream bucket provisioning. Nil before Connect when
// the bus dials its own connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// Close drains all handler and event subscriptions and, when the bus owns
// the connection, closes it.
func (b *NATSBus) Close() {
	if !b.connected.Swap(false) {
		return
	}

	b.handlers.Range(func(subject string, sub *nats.Subscription) bool {
		if err := sub.Unsubscribe(); err != nil && b.logger != nil {
			b.logger.Warn("failed to unsubscribe handler", "subject", subject, "error", err)
		}
		b.handlers.Delete(subject)

		return true
	})

	b.mu.Lock()
	subs := b.eventSubs
	b.eventSubs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	if b.ownConn && b.conn != nil {
		b.conn.Close()
	}
}

// Call performs a blocking RPC and always returns a usable response.
func (b *NATSBus) Call(ctx context.Context, req RPCRequest) RPCResponse {
	start := time.Now()
	resp := b.call(ctx, req)
	if b.metrics != nil {
		outcome := "ok"
		if !resp.Success {
			outcome = resp.Error
		}
		b.metrics.RecordRPC(req.Method, outcome, time.Since(start).Seconds())
	}

	return resp
}

func (b *NATSBus) call(ctx context.Context, req RPCRequest) RPCResponse {
	if !b.connected.Load() {
		return Failure(types.ErrorCodeTransport, "bus not connected")
	}
	if req.Target == "" || req.Method == "" {
		return Failure(types.ErrorCodeBadRequest, "target and method are required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	data, err := json.Marshal(req)
	if err != nil {
		return Failure(types.ErrorCodeBadRequest, fmt.Sprintf("failed to encode request: %v", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := b.conn.RequestWithContext(callCtx, RPCSubject(req.Target, req.Method), data)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return Failure(types.ErrorCodeNoResponders,
				fmt.Sprintf("no instances of %s are listening", req.Target))
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return Failure(types.ErrorCodeTimeout,
				fmt.Sprintf("%s.%s did not reply within %v", req.Target, req.Method, timeout))
		default:
			return Failure(types.ErrorCodeTransport, err.Error())
		}
	}

	var resp RPCResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Failure(types.ErrorCodeTransport, fmt.Sprintf("malformed reply: %v", err))
	}

	return resp
}

// RegisterRPCHandler installs a queue-grouped handler for target/method.
func (b *NATSBus) RegisterRPCHandler(target, method string, handler RPCHandler) error {
	if !b.connected.Load() {
		return types.ErrNotStarted
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s.%s", types.ErrNoHandler, target, method)
	}

	subject := RPCSubject(target, method)
	if _, exists := b.handlers.Load(subject); exists {
		return fmt.Errorf("%w: %s", types.ErrHandlerExists, subject)
	}

	sub, err := b.conn.QueueSubscribe(subject, queueGroup(target), func(msg *nats.Msg) {
		b.dispatchRPC(msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", subject, err)
	}

	if _, loaded := b.handlers.LoadOrStore(subject, sub); loaded {
		// Lost a registration race for the same subject.
		_ = sub.Unsubscribe()
		return fmt.Errorf("%w: %s", types.ErrHandlerExists, subject)
	}

	return nil
}

// dispatchRPC runs one request through the handler and always replies.
// Handler failures — returned errors or panics — become structured
// failures; the dispatch loop never dies with the handler.
func (b *NATSBus) dispatchRPC(msg *nats.Msg, handler RPCHandler) {
	var req RPCRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.reply(msg, Failure(types.ErrorCodeBadRequest, fmt.Sprintf("malformed request: %v", err)))
		return
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := invoke(ctx, req.Params, handler)
	if err != nil {
		if errors.Is(err, types.ErrNotActive) {
			b.reply(msg, Failure(types.ErrorCodeNotActive, err.Error()))
			return
		}
		b.reply(msg, Failure(types.ErrorCodeHandlerError, err.Error()))

		return
	}

	resp := RPCResponse{Success: true}
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			b.reply(msg, Failure(types.ErrorCodeHandlerError, fmt.Sprintf("unencodable result: %v", err)))
			return
		}
		resp.Result = encoded
	}
	b.reply(msg, resp)
}

// invoke calls the handler, converting a panic into an error so one bad
// handler cannot take down the subscription's dispatch goroutine.
func invoke(ctx context.Context, params json.RawMessage, handler RPCHandler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, params)
}

func (b *NATSBus) reply(msg *nats.Msg, resp RPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Failure(types.ErrorCodeHandlerError, "unencodable response"))
	}
	if err := msg.Respond(data); err != nil && b.logger != nil {
		b.logger.Warn("failed to send RPC reply", "subject", msg.Subject, "error", err)
	}
}

// PublishEvent publishes a domain event, stamping a zero timestamp with
// the current time.
func (b *NATSBus) PublishEvent(ctx context.Context, event Event) error {
	if !b.connected.Load() {
		return types.ErrNotStarted
	}
	if event.Domain == "" || event.EventType == "" {
		return fmt.Errorf("%w: event domain and type are required", types.ErrInvalidConfig)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := b.conn.Publish(EventSubject(event.Domain, event.EventType), data); err != nil {
		return fmt.Errorf("failed to publish event %s.%s: %w", event.Domain, event.EventType, err)
	}
	if b.metrics != nil {
		b.metrics.RecordEventPublished(event.Domain)
	}

	_ = ctx

	return nil
}

// SubscribeEvent subscribes a handler to an event subject pattern.
func (b *NATSBus) SubscribeEvent(pattern string, handler EventHandler) (Subscription, error) {
	if !b.connected.Load() {
		return nil, types.ErrNotStarted
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler for %s", types.ErrNoHandler, pattern)
	}

	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			if b.logger != nil {
				b.logger.Warn("dropping undecodable event", "subject", msg.Subject, "error", err)
			}

			return
		}

		if err := safeHandleEvent(handler, event); err != nil && b.logger != nil {
			b.logger.Warn("event handler failed",
				"subject", msg.Subject, "domain", event.Domain, "type", event.EventType, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s: %w", pattern, err)
	}

	b.mu.Lock()
	b.eventSubs = append(b.eventSubs, sub)
	b.mu.Unlock()

	return sub, nil
}

func safeHandleEvent(handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(context.Background(), event)
}

// SendCommand dispatches a command fire-and-forget and returns its ID.
func (b *NATSBus) SendCommand(ctx context.Context, cmd Command) (string, error) {
	if !b.connected.Load() {
		return "", types.ErrNotStarted
	}
	if cmd.Target == "" || cmd.Command == "" {
		return "", fmt.Errorf("%w: command target and name are required", types.ErrInvalidConfig)
	}

	cmd.ID = uuid.NewString()

	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to encode command: %w", err)
	}

	if err := b.conn.Publish(CommandSubject(cmd.Target, cmd.Command), data); err != nil {
		if b.metrics != nil {
			b.metrics.RecordCommand(cmd.Command, "publish_error")
		}

		return "", fmt.Errorf("failed to send command %s: %w", cmd.Command, err)
	}
	if b.metrics != nil {
		b.metrics.RecordCommand(cmd.Command, "sent")
	}

	_ = ctx

	return cmd.ID, nil
}

// SendCommandTracked dispatches a command and waits for its terminal
// result, delivering intermediate Progress reports to onProgress. A
// missing result within the timeout yields a TIMEOUT-classified result,
// not an error.
func (b *NATSBus) SendCommandTracked(ctx context.Context, cmd Command, onProgress func(Progress)) (*CommandResult, error) {
	if !b.connected.Load() {
		return nil, types.ErrNotStarted
	}
	if cmd.Target == "" || cmd.Command == "" {
		return nil, fmt.Errorf("%w: command target and name are required", types.ErrInvalidConfig)
	}

	cmd.ID = uuid.NewString()
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	// Subscribe to progress and result before publishing so no report can
	// slip past between send and subscribe.
	resultCh := make(chan CommandResult, 1)

	resultSub, err := b.conn.Subscribe(resultSubject(cmd.ID), func(msg *nats.Msg) {
		var result CommandResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			return
		}
		select {
		case resultCh <- result:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to command result: %w", err)
	}
	defer func() { _ = resultSub.Unsubscribe() }()

	var progressSub *nats.Subscription
	if onProgress != nil {
		progressSub, err = b.conn.Subscribe(progressSubject(cmd.ID), func(msg *nats.Msg) {
			var progress Progress
			if err := json.Unmarshal(msg.Data, &progress); err != nil {
				return
			}
			onProgress(progress)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to command progress: %w", err)
		}
		defer func() { _ = progressSub.Unsubscribe() }()
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	if err := b.conn.Publish(CommandSubject(cmd.Target, cmd.Command), data); err != nil {
		return nil, fmt.Errorf("failed to send command %s: %w", cmd.Command, err)
	}

	select {
	case result := <-resultCh:
		if b.metrics != nil {
			outcome := "ok"
			if !result.Success {
				outcome = result.Error
			}
			b.metrics.RecordCommand(cmd.Command, outcome)
		}

		return &result, nil

	case <-time.After(timeout):
		if b.metrics != nil {
			b.metrics.RecordCommand(cmd.Command, types.ErrorCodeTimeout)
		}

		return &CommandResult{
			CommandID: cmd.ID,
			Success:   false,
			Error:     types.ErrorCodeTimeout,
			Message:   fmt.Sprintf("no result within %v", timeout),
		}, nil

	case <-ctx.Done():
		return &CommandResult{
			CommandID: cmd.ID,
			Success:   false,
			Error:     types.ErrorCodeTimeout,
			Message:   ctx.Err().Error(),
		}, nil
	}
}

// RegisterCommandHandler installs a queue-grouped handler for
// target/command. The handler runs in its own goroutine per command so
// long-running work never stalls the subscription.
func (b *NATSBus) RegisterCommandHandler(target, command string, handler CommandHandler) error {
	if !b.connected.Load() {
		return types.ErrNotStarted
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s/%s", types.ErrNoHandler, target, command)
	}

	subject := CommandSubject(target, command)
	if _, exists := b.handlers.Load(subject); exists {
		return fmt.Errorf("%w: %s", types.ErrHandlerExists, subject)
	}

	sub, err := b.conn.QueueSubscribe(subject, queueGroup(target), func(msg *nats.Msg) {
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			if b.logger != nil {
				b.logger.Warn("dropping undecodable command", "subject", msg.Subject, "error", err)
			}

			return
		}

		go b.runCommand(cmd, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", subject, err)
	}

	if _, loaded := b.handlers.LoadOrStore(subject, sub); loaded {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%w: %s", types.ErrHandlerExists, subject)
	}

	return nil
}

// runCommand executes one command and publishes its terminal result,
// giving the handler a reporter that streams progress out-of-band.
func (b *NATSBus) runCommand(cmd Command, handler CommandHandler) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report := func(fraction float64, message string) {
		data, err := json.Marshal(Progress{CommandID: cmd.ID, Fraction: fraction, Message: message})
		if err != nil {
			return
		}
		// Best-effort: a dropped progress report is not a command failure.
		_ = b.conn.Publish(progressSubject(cmd.ID), data)
	}

	result := CommandResult{CommandID: cmd.ID}

	value, err := invokeCommand(ctx, cmd, report, handler)
	if err != nil {
		result.Success = false
		result.Error = types.ErrorCodeHandlerError
		result.Message = err.Error()
	} else {
		result.Success = true
		if value != nil {
			if encoded, err := json.Marshal(value); err == nil {
				result.Result = encoded
			}
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := b.conn.Publish(resultSubject(cmd.ID), data); err != nil && b.logger != nil {
		b.logger.Warn("failed to publish command result", "command_id", cmd.ID, "error", err)
	}
}

func invokeCommand(ctx context.Context, cmd Command, report ProgressReporter, handler CommandHandler) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, cmd, report)
}
