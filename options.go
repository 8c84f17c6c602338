package soloist

import (
	"github.com/nats-io/nats.go"

	"github.com/soloist-io/soloist/bus"
	"github.com/soloist-io/soloist/kv"
	"github.com/soloist-io/soloist/types"
)

// Option configures a Service with optional dependencies.
type Option func(*serviceOptions)

// serviceOptions holds optional Service configuration.
type serviceOptions struct {
	logger        types.Logger
	metrics       types.MetricsCollector
	hooks         *types.Hooks
	conn          *nats.Conn
	bus           bus.MessageBus
	electionStore kv.Store
	registryStore kv.Store
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with slog-style loggers)
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	logger := logging.NewSlog(slog.Default())
//	svc, err := soloist.NewService(cfg, soloist.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	collector := metrics.NewPrometheus(nil, "soloist")
//	svc, err := soloist.NewService(cfg, soloist.WithMetrics(collector))
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *serviceOptions) {
		o.metrics = metrics
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	hooks := &soloist.Hooks{
//	    OnActive: func(ctx context.Context) error {
//	        return warmCaches(ctx)
//	    },
//	}
//	svc, err := soloist.NewSingleActiveService(cfg, soloist.WithHooks(hooks))
func WithHooks(hooks *types.Hooks) Option {
	return func(o *serviceOptions) {
		o.hooks = hooks
	}
}

// WithConn injects an existing NATS connection instead of dialing
// Config.URL. The connection is shared with the message bus and the KV
// stores and is not closed on Stop. Tests use this with embedded servers.
//
// Parameters:
//   - conn: Established NATS connection
//
// Returns:
//   - Option: Functional option for NewService
func WithConn(conn *nats.Conn) Option {
	return func(o *serviceOptions) {
		o.conn = conn
	}
}

// WithBus injects a custom message bus implementation. The service does
// not close an injected bus on Stop. When the bus is not a NATSBus, KV
// stores must be injected too (WithElectionStore/WithRegistryStore) since
// bucket provisioning needs a NATS connection.
//
// Parameters:
//   - b: MessageBus implementation
//
// Returns:
//   - Option: Functional option for NewService
func WithBus(b bus.MessageBus) Option {
	return func(o *serviceOptions) {
		o.bus = b
	}
}

// WithElectionStore injects the KV store holding leader leases, bypassing
// bucket provisioning for the election bucket.
//
// Parameters:
//   - store: Versioned KV store
//
// Returns:
//   - Option: Functional option for NewService
func WithElectionStore(store kv.Store) Option {
	return func(o *serviceOptions) {
		o.electionStore = store
	}
}

// WithRegistryStore injects the KV store holding the service directory,
// bypassing bucket provisioning for the registry bucket.
//
// Parameters:
//   - store: Versioned KV store
//
// Returns:
//   - Option: Functional option for NewService
func WithRegistryStore(store kv.Store) Option {
	return func(o *serviceOptions) {
		o.registryStore = store
	}
}
