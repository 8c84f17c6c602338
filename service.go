package soloist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/soloist-io/soloist/bus"
	"github.com/soloist-io/soloist/internal/logging"
	"github.com/soloist-io/soloist/internal/metrics"
	"github.com/soloist-io/soloist/kv"
	"github.com/soloist-io/soloist/registry"
	"github.com/soloist-io/soloist/types"
)

// heartbeatFailureThreshold is the run length of consecutive registry
// heartbeat failures that triggers the OnError hook. Failures are never
// fatal; the loop keeps trying.
const heartbeatFailureThreshold = 3

// Lifecycle events published on the bus under the "soloist" domain.
const (
	eventDomain = "soloist"

	// EventServiceOnline is announced after an instance registers on Start.
	EventServiceOnline = "service_online"

	// EventServiceOffline is announced before an instance deregisters on Stop.
	EventServiceOffline = "service_offline"
)

// maxBucketHistory is the JetStream KV per-key history ceiling.
const maxBucketHistory = 64

type rpcRegistration struct {
	method  string
	handler bus.RPCHandler
}

type eventRegistration struct {
	pattern string
	handler bus.EventHandler
}

type commandRegistration struct {
	command string
	handler bus.CommandHandler
}

// Service is a bus-connected service instance: it owns the message bus
// connection, its registry row, and the heartbeat loop that keeps the row
// fresh. All instances of a Service are equal peers; see
// SingleActiveService for leader-elected variants.
//
// Handlers may be registered before Start (collected and installed once
// the bus is connected) or after.
type Service struct {
	cfg     Config
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   *types.Hooks

	conn   *nats.Conn
	bus    bus.MessageBus
	ownBus bool

	electionStore kv.Store
	registryStore kv.Store
	registry      *registry.Registry

	mu              sync.Mutex
	inst            types.ServiceInstance
	pendingRPC      []rpcRegistration
	pendingEvents   []eventRegistration
	pendingCommands []commandRegistration

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a service from the given configuration.
//
// Defaults are applied and the configuration is validated before any I/O;
// an invalid configuration fails here, never in Start.
//
// Parameters:
//   - cfg: Service configuration
//   - opts: Optional logger, metrics, hooks, injected conn/bus/stores
//
// Returns:
//   - *Service: The constructed service (not yet started)
//   - error: Validation error wrapping ErrInvalidConfig
func NewService(cfg Config, opts ...Option) (*Service, error) {
	return newService(cfg, opts...)
}

func newService(cfg Config, opts ...Option) (*Service, error) {
	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &serviceOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewSlogDefault()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	if o.hooks == nil {
		o.hooks = &types.Hooks{}
	}

	s := &Service{
		cfg:           cfg,
		logger:        o.logger,
		metrics:       o.metrics,
		hooks:         o.hooks,
		conn:          o.conn,
		bus:           o.bus,
		electionStore: o.electionStore,
		registryStore: o.registryStore,
		inst: types.ServiceInstance{
			ServiceName: cfg.ServiceName,
			InstanceID:  cfg.InstanceID,
			Version:     cfg.Version,
			Status:      types.StatusStandby,
			Metadata:    cfg.Metadata,
		},
	}

	return s, nil
}

// Start connects the bus, provisions the registry bucket, registers this
// instance, installs handlers collected before Start, announces the
// instance on the bus, and starts the heartbeat loop.
//
// A connection failure surfaces as an error wrapping ErrConnectionFailed
// and is never retried internally.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}

	// Lifecycle context outlives the Start call; Stop cancels it.
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.start(ctx); err != nil {
		s.cancel()
		s.started.Store(false)

		return err
	}

	return nil
}

func (s *Service) start(ctx context.Context) error {
	if s.bus == nil {
		busOpts := []bus.BusOption{
			bus.WithName(s.cfg.InstanceID),
			bus.WithDefaultTimeout(s.cfg.OperationTimeout),
			bus.WithBusLogger(s.logger),
			bus.WithBusMetrics(s.metrics),
		}
		if s.conn != nil {
			busOpts = append(busOpts, bus.WithConn(s.conn))
		}
		s.bus = bus.NewNATSBus(s.cfg.URL, busOpts...)
		s.ownBus = true
	}

	if err := s.bus.Connect(ctx); err != nil {
		return err
	}

	if s.registryStore == nil {
		store, err := s.provisionStore(ctx, s.cfg.Buckets.Registry)
		if err != nil {
			return err
		}
		s.registryStore = store
	}

	reg, err := registry.New(s.registryStore, s.cfg.RegistryTTL, registry.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.registry = reg

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if err := reg.Register(opCtx, s.instance()); err != nil {
		return err
	}

	if err := s.installPending(); err != nil {
		return err
	}

	s.announce(opCtx, EventServiceOnline)

	s.wg.Add(1)
	go s.heartbeatLoop()

	s.logger.Info("service started",
		"service", s.cfg.ServiceName, "instance_id", s.cfg.InstanceID, "version", s.cfg.Version)

	return nil
}

// Stop announces the instance offline, deregisters it, stops internal
// goroutines, and closes the bus if the service created it. Waits at most
// ShutdownTimeout for goroutines to drain.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.CompareAndSwap(true, false) {
		return types.ErrNotStarted
	}

	s.cancel()
	if err := s.drain(ctx); err != nil {
		s.logger.Warn("shutdown drain incomplete", "error", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	s.announce(opCtx, EventServiceOffline)

	if s.registry != nil {
		if err := s.registry.Deregister(opCtx, s.cfg.ServiceName, s.cfg.InstanceID); err != nil {
			s.logger.Warn("failed to deregister instance", "error", err)
		}
	}

	if s.ownBus && s.bus != nil {
		s.bus.Close()
	}

	s.logger.Info("service stopped",
		"service", s.cfg.ServiceName, "instance_id", s.cfg.InstanceID)

	return nil
}

// drain waits for internal goroutines to exit, bounded by ShutdownTimeout.
func (s *Service) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("goroutines did not stop within %v", s.cfg.ShutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterRPC registers a handler for method on this service's subject.
// Before Start the registration is collected and installed during Start;
// after Start it takes effect immediately.
func (s *Service) RegisterRPC(method string, handler bus.RPCHandler) error {
	if s.started.Load() {
		return s.bus.RegisterRPCHandler(s.cfg.ServiceName, method, handler)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRPC = append(s.pendingRPC, rpcRegistration{method: method, handler: handler})

	return nil
}

// SubscribeEvent subscribes a handler to an event subject pattern, e.g.
// bus.EventPattern("trading", "*"). Delivery is at-least-once; handlers
// must be idempotent.
func (s *Service) SubscribeEvent(pattern string, handler bus.EventHandler) error {
	if s.started.Load() {
		_, err := s.bus.SubscribeEvent(pattern, handler)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingEvents = append(s.pendingEvents, eventRegistration{pattern: pattern, handler: handler})

	return nil
}

// RegisterCommand registers a handler for command on this service's
// subject.
func (s *Service) RegisterCommand(command string, handler bus.CommandHandler) error {
	if s.started.Load() {
		return s.bus.RegisterCommandHandler(s.cfg.ServiceName, command, handler)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCommands = append(s.pendingCommands, commandRegistration{command: command, handler: handler})

	return nil
}

func (s *Service) installPending() error {
	s.mu.Lock()
	rpcs, events, commands := s.pendingRPC, s.pendingEvents, s.pendingCommands
	s.pendingRPC, s.pendingEvents, s.pendingCommands = nil, nil, nil
	s.mu.Unlock()

	for _, r := range rpcs {
		if err := s.bus.RegisterRPCHandler(s.cfg.ServiceName, r.method, r.handler); err != nil {
			return err
		}
	}
	for _, e := range events {
		if _, err := s.bus.SubscribeEvent(e.pattern, e.handler); err != nil {
			return err
		}
	}
	for _, c := range commands {
		if err := s.bus.RegisterCommandHandler(s.cfg.ServiceName, c.command, c.handler); err != nil {
			return err
		}
	}

	return nil
}

// CallRPC is a convenience wrapper over the bus: params are JSON-encoded
// and the service's OperationTimeout bounds the round trip. Like
// bus.MessageBus.Call it always returns a usable response; failures arrive
// as classified codes.
func (s *Service) CallRPC(ctx context.Context, target, method string, params any) bus.RPCResponse {
	if !s.started.Load() {
		return bus.Failure(types.ErrorCodeTransport, "service not started")
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return bus.Failure(types.ErrorCodeBadRequest, fmt.Sprintf("failed to encode params: %v", err))
		}
		raw = data
	}

	return s.bus.Call(ctx, bus.RPCRequest{
		Target:  target,
		Method:  method,
		Params:  raw,
		Timeout: s.cfg.OperationTimeout,
	})
}

// PublishEvent publishes a domain event with this instance as the source.
func (s *Service) PublishEvent(ctx context.Context, domain, eventType string, payload any) error {
	if !s.started.Load() {
		return types.ErrNotStarted
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		raw = data
	}

	return s.bus.PublishEvent(ctx, bus.Event{
		Domain:    domain,
		EventType: eventType,
		Payload:   raw,
		Source:    s.cfg.InstanceID,
	})
}

// Bus returns the message bus. Nil before Start when the service creates
// its own bus.
func (s *Service) Bus() bus.MessageBus {
	return s.bus
}

// Registry returns the service directory. Nil before Start.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// ServiceName returns the configured service name.
func (s *Service) ServiceName() string {
	return s.cfg.ServiceName
}

// InstanceID returns this instance's identifier.
func (s *Service) InstanceID() string {
	return s.cfg.InstanceID
}

// Instance returns a snapshot of this instance's registry row.
func (s *Service) Instance() types.ServiceInstance {
	return s.instance()
}

// heartbeatLoop rewrites the registry row every HeartbeatInterval.
// Failures are counted but never fatal: a run of three consecutive
// failures is reported through Hooks.OnError, and any success resets the
// run.
func (s *Service) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		opCtx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		err := s.registry.Heartbeat(opCtx, s.instance())
		cancel()

		if err != nil {
			if s.ctx.Err() != nil {
				return
			}

			failures++
			s.metrics.RecordHeartbeat(s.cfg.InstanceID, false)
			s.metrics.RecordConsecutiveHeartbeatFailures(failures)
			s.logger.Warn("registry heartbeat failed",
				"instance_id", s.cfg.InstanceID, "consecutive_failures", failures, "error", err)

			if failures == heartbeatFailureThreshold && s.hooks.OnError != nil {
				s.hooks.OnError(s.ctx, fmt.Errorf(
					"%d consecutive registry heartbeat failures: %w", failures, err))
			}

			continue
		}

		if failures > 0 {
			s.logger.Info("registry heartbeat recovered",
				"instance_id", s.cfg.InstanceID, "after_failures", failures)
			failures = 0
			s.metrics.RecordConsecutiveHeartbeatFailures(0)
		}
		s.metrics.RecordHeartbeat(s.cfg.InstanceID, true)
	}
}

// announce publishes a lifecycle event; failures are logged, never fatal.
func (s *Service) announce(ctx context.Context, eventType string) {
	payload, err := json.Marshal(map[string]string{
		"service":     s.cfg.ServiceName,
		"instance_id": s.cfg.InstanceID,
		"version":     s.cfg.Version,
	})
	if err != nil {
		return
	}

	err = s.bus.PublishEvent(ctx, bus.Event{
		Domain:    eventDomain,
		EventType: eventType,
		Payload:   payload,
		Source:    s.cfg.InstanceID,
	})
	if err != nil {
		s.logger.Warn("failed to announce lifecycle event", "event", eventType, "error", err)
	}
}

// provisionStore creates or opens a KV bucket over the service's NATS
// connection and wraps it in a store.
func (s *Service) provisionStore(ctx context.Context, bucketName string) (kv.Store, error) {
	nc := s.conn
	if nc == nil {
		if nb, ok := s.bus.(*bus.NATSBus); ok {
			nc = nb.Conn()
		}
	}
	if nc == nil {
		return nil, fmt.Errorf(
			"%w: no NATS connection available to provision bucket %q; inject a store",
			types.ErrInvalidConfig, bucketName)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	history := s.cfg.Buckets.History
	if history < 1 {
		history = 1
	}
	if history > maxBucketHistory {
		history = maxBucketHistory
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	bucket, err := kv.EnsureBucket(opCtx, js, jetstream.KeyValueConfig{
		Bucket:  bucketName,
		History: uint8(history), //nolint:gosec // clamped above
	}, 3)
	if err != nil {
		return nil, err
	}

	return kv.NewNATSStore(bucket, kv.WithStoreMetrics(s.metrics)), nil
}

func (s *Service) instance() types.ServiceInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inst
}

func (s *Service) setStatus(status types.InstanceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst.Status = status
}
