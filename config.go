package soloist

import (
	"fmt"
	"os"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/soloist-io/soloist/retry"
	"github.com/soloist-io/soloist/types"
)

// BucketConfig configures the NATS JetStream KV buckets backing the
// registry and election stores.
type BucketConfig struct {
	// Registry is the bucket name for the service/instance directory.
	// Shared by all services; rows are keyed per (service, instance).
	Registry string `yaml:"registry"`

	// Election is the bucket name for leader leases. Defaults to
	// election_{service} so each service's leases live in their own bucket.
	Election string `yaml:"election"`

	// History is the per-key revision history depth kept by the buckets.
	History int `yaml:"history"`
}

// Config is the configuration shared by all services.
//
// All duration fields accept standard Go duration strings like "30s", "5m".
type Config struct {
	// URL is the NATS server URL. Ignored when a connection or bus is
	// injected via WithConn/WithBus.
	URL string `yaml:"url"`

	// ServiceName is the logical service name. Required. Names outside the
	// transport-safe character set are sanitized by the key codec for KV
	// keys and bus subjects; distinct names never collide.
	ServiceName string `yaml:"serviceName"`

	// InstanceID uniquely identifies this instance within the service.
	// Defaults to {service}-{host hash}-{pid}.
	InstanceID string `yaml:"instanceId"`

	// Version is the reported service version, surfaced in the registry.
	Version string `yaml:"version"`

	// HeartbeatInterval is how often the instance rewrites its registry row.
	// Recommended: 2-5 seconds.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// RegistryTTL is the staleness window for registry rows: instances whose
	// last heartbeat is older than this are reported as UNHEALTHY.
	// Must be >= 2*HeartbeatInterval to tolerate one missed heartbeat.
	// Recommended: 3x HeartbeatInterval.
	RegistryTTL time.Duration `yaml:"registryTtl"`

	// OperationTimeout bounds individual KV and bus operations issued by the
	// service's own loops (registration, heartbeats, lease calls).
	// Recommended: 10 seconds.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout is the maximum time Stop waits for the service's
	// goroutines to drain before giving up.
	// Recommended: 10 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Buckets controls KV bucket provisioning.
	Buckets BucketConfig `yaml:"buckets"`

	// Metadata is attached to the instance's registry row as-is.
	Metadata map[string]string `yaml:"metadata"`
}

// SingleActiveConfig extends Config with leader election settings.
type SingleActiveConfig struct {
	Config `yaml:",inline"`

	// GroupID selects the election group within the service. Instances of
	// the same service in different groups elect leaders independently.
	GroupID string `yaml:"groupId"`

	// LeaderTTL is the lease lifetime. A lease whose acquired_at is older
	// than this is expired and open to takeover. Must be greater than
	// RenewalInterval and HeartbeatInterval.
	// Recommended: 3x RenewalInterval.
	LeaderTTL time.Duration `yaml:"leaderTtl"`

	// RenewalInterval is how often the active instance refreshes its lease.
	// Recommended: LeaderTTL / 3.
	RenewalInterval time.Duration `yaml:"renewalInterval"`

	// Election is the backoff policy applied to failed lease operations in
	// the election loop. Defaults to retry.Default().
	Election retry.Policy `yaml:"-"`
}

// DefaultConfig returns a Config with production defaults. ServiceName must
// still be set by the caller.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		URL:               "nats://127.0.0.1:4222",
		HeartbeatInterval: 2 * time.Second,
		RegistryTTL:       6 * time.Second,
		OperationTimeout:  10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		Buckets: BucketConfig{
			Registry: "soloist_registry",
			History:  10,
		},
	}
}

// DefaultSingleActiveConfig returns a SingleActiveConfig with production
// defaults on top of DefaultConfig.
func DefaultSingleActiveConfig() SingleActiveConfig {
	return SingleActiveConfig{
		Config:          DefaultConfig(),
		GroupID:         "default",
		LeaderTTL:       9 * time.Second,
		RenewalInterval: 3 * time.Second,
		Election:        retry.Default(),
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID(cfg.ServiceName)
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.RegistryTTL == 0 {
		// 3x heartbeat interval: two missed heartbeats before UNHEALTHY.
		cfg.RegistryTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Buckets.Registry == "" {
		cfg.Buckets.Registry = defaults.Buckets.Registry
	}
	if cfg.Buckets.Election == "" {
		cfg.Buckets.Election = "election_" + bucketToken(cfg.ServiceName)
	}
	if cfg.Buckets.History == 0 {
		cfg.Buckets.History = defaults.Buckets.History
	}
}

// SetSingleActiveDefaults fills in missing single-active values, including
// the embedded Config.
func SetSingleActiveDefaults(cfg *SingleActiveConfig) {
	SetDefaults(&cfg.Config)

	defaults := DefaultSingleActiveConfig()
	if cfg.GroupID == "" {
		cfg.GroupID = defaults.GroupID
	}
	if cfg.RenewalInterval == 0 {
		cfg.RenewalInterval = defaults.RenewalInterval
	}
	if cfg.LeaderTTL == 0 {
		// 3x renewal interval: two missed renewals before the lease expires.
		cfg.LeaderTTL = 3 * cfg.RenewalInterval
	}
	if cfg.Election.InitialDelay() == 0 {
		cfg.Election = retry.Default()
	}
}

// Validate checks configuration constraints. It never performs I/O; a
// service constructor fails fast on the first violated invariant.
//
// Hard Validation Rules:
//   - ServiceName non-empty
//   - HeartbeatInterval > 0
//   - RegistryTTL >= 2*HeartbeatInterval (allow one missed heartbeat)
//   - OperationTimeout > 0
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ServiceName == "" {
		return fmt.Errorf("%w: ServiceName is required", types.ErrInvalidConfig)
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HeartbeatInterval must be > 0, got %v",
			types.ErrInvalidConfig, cfg.HeartbeatInterval)
	}
	if cfg.RegistryTTL < 2*cfg.HeartbeatInterval {
		return fmt.Errorf(
			"%w: RegistryTTL (%v) must be >= 2*HeartbeatInterval (%v) to allow one missed heartbeat",
			types.ErrInvalidConfig, cfg.RegistryTTL, cfg.HeartbeatInterval,
		)
	}
	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("%w: OperationTimeout must be > 0, got %v",
			types.ErrInvalidConfig, cfg.OperationTimeout)
	}

	return nil
}

// Validate checks single-active constraints on top of the base Config rules.
//
// Hard Validation Rules (in addition to Config.Validate):
//   - RenewalInterval > 0
//   - RenewalInterval < LeaderTTL (a lease must survive at least one
//     renewal miss, otherwise leadership flaps on every hiccup)
//   - HeartbeatInterval < LeaderTTL
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *SingleActiveConfig) Validate() error {
	if err := cfg.Config.Validate(); err != nil {
		return err
	}

	if cfg.RenewalInterval <= 0 {
		return fmt.Errorf("%w: RenewalInterval must be > 0, got %v",
			types.ErrInvalidConfig, cfg.RenewalInterval)
	}
	if cfg.RenewalInterval >= cfg.LeaderTTL {
		return fmt.Errorf(
			"%w: RenewalInterval (%v) must be < LeaderTTL (%v), or the lease expires between renewals",
			types.ErrInvalidConfig, cfg.RenewalInterval, cfg.LeaderTTL,
		)
	}
	if cfg.HeartbeatInterval >= cfg.LeaderTTL {
		return fmt.Errorf(
			"%w: HeartbeatInterval (%v) must be < LeaderTTL (%v)",
			types.ErrInvalidConfig, cfg.HeartbeatInterval, cfg.LeaderTTL,
		)
	}

	return nil
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are 4-10x faster than production defaults. Use
// DefaultConfig() for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.RegistryTTL = 600 * time.Millisecond
	cfg.OperationTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	return cfg
}

// TestSingleActiveConfig returns a single-active configuration optimized
// for fast test execution: short lease TTLs so failover scenarios complete
// in seconds instead of minutes.
func TestSingleActiveConfig() SingleActiveConfig {
	cfg := DefaultSingleActiveConfig()

	cfg.Config = TestConfig()
	cfg.RenewalInterval = 300 * time.Millisecond
	cfg.LeaderTTL = time.Second

	return cfg
}

// defaultInstanceID derives a stable-enough instance identity from the
// host and process: {service}-{host hash}-{pid}.
func defaultInstanceID(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%08x-%d", service, uint32(xxh3.HashString(host)), os.Getpid())
}

// bucketToken reduces a service name to the bucket-name character set.
// Unlike key encoding this is lossy; operators with colliding service
// names set Buckets.Election explicitly.
func bucketToken(name string) string {
	token := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			token[i] = c
		default:
			token[i] = '_'
		}
	}

	return string(token)
}
