// Package registry implements the service/instance directory on top of the
// versioned KV store.
//
// Each registered instance is one KV row keyed by the sanitized
// (service, instance) pair. Rows are rewritten on every heartbeat with a
// fresh last_heartbeat timestamp. Staleness is a read-time computation —
// now - last_heartbeat > ttl — never a store-side expiry: readers see stale
// rows classified as UNHEALTHY until the owner deregisters or re-registers.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/soloist-io/soloist/kv"
	"github.com/soloist-io/soloist/types"
)

// keyPrefix is the first segment of every instance row key.
const keyPrefix = "svc"

// Registry is the service/instance directory.
//
// All methods are safe for concurrent use; every call maps to a single KV
// put, delete, or read.
type Registry struct {
	store  kv.Store
	ttl    time.Duration
	logger types.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to no logging.
func WithLogger(logger types.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock overrides the time source for staleness classification.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a Registry over the given store.
//
// Parameters:
//   - store: Versioned KV store holding instance rows
//   - ttl: Registry TTL; instances whose last heartbeat is older than this
//     are reported as UNHEALTHY at read time
func New(store kv.Store, ttl time.Duration, opts ...Option) (*Registry, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: registry ttl must be positive, got %v", types.ErrInvalidConfig, ttl)
	}

	r := &Registry{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Register writes the instance row, overwriting any previous row for the
// same (service, instance) pair. A zero LastHeartbeat is stamped with the
// current time.
func (r *Registry) Register(ctx context.Context, inst types.ServiceInstance) error {
	if inst.ServiceName == "" || inst.InstanceID == "" {
		return fmt.Errorf("%w: service name and instance ID are required", types.ErrInvalidConfig)
	}
	if inst.LastHeartbeat.IsZero() {
		inst.LastHeartbeat = r.now()
	}
	if inst.Status == "" {
		inst.Status = types.StatusStandby
	}

	if err := r.put(ctx, inst); err != nil {
		return fmt.Errorf("failed to register %s/%s: %w", inst.ServiceName, inst.InstanceID, err)
	}

	if r.logger != nil {
		r.logger.Info("instance registered",
			"service", inst.ServiceName, "instance_id", inst.InstanceID, "version", inst.Version)
	}

	return nil
}

// Heartbeat refreshes the instance row's last_heartbeat. The row is
// rewritten whole, so a row lost to bucket retention or manual cleanup is
// recreated by the next heartbeat.
func (r *Registry) Heartbeat(ctx context.Context, inst types.ServiceInstance) error {
	inst.LastHeartbeat = r.now()

	if err := r.put(ctx, inst); err != nil {
		return fmt.Errorf("failed to heartbeat %s/%s: %w", inst.ServiceName, inst.InstanceID, err)
	}

	return nil
}

// Deregister removes the instance row. Removing an unknown instance is not
// an error.
func (r *Registry) Deregister(ctx context.Context, serviceName, instanceID string) error {
	key := instanceKey(serviceName, instanceID)
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to deregister %s/%s: %w", serviceName, instanceID, err)
	}

	if r.logger != nil {
		r.logger.Info("instance deregistered", "service", serviceName, "instance_id", instanceID)
	}

	return nil
}

// Instances returns all registered instances of a service. Rows whose last
// heartbeat is older than the registry TTL are included with their status
// overridden to UNHEALTHY; callers wanting only live instances filter on
// status.
func (r *Registry) Instances(ctx context.Context, serviceName string) ([]types.ServiceInstance, error) {
	prefix := kv.Join(keyPrefix, serviceName)

	keys, err := r.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", serviceName, err)
	}

	now := r.now()
	instances := make([]types.ServiceInstance, 0, len(keys))
	for _, key := range keys {
		entry, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, types.ErrKeyNotFound) {
				// Row deleted between Keys and Get.
				continue
			}

			return nil, fmt.Errorf("failed to read instance row %s: %w", key, err)
		}

		var inst types.ServiceInstance
		if err := json.Unmarshal(entry.Value, &inst); err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping undecodable instance row", "key", key, "error", err)
			}

			continue
		}

		if inst.Stale(now, r.ttl) {
			inst.Status = types.StatusUnhealthy
		}
		instances = append(instances, inst)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].InstanceID < instances[j].InstanceID
	})

	return instances, nil
}

// Services returns the sorted names of all services with at least one
// registered instance, live or stale.
func (r *Registry) Services(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		parts, err := kv.SplitKey(key)
		if err != nil || len(parts) != 3 {
			continue
		}
		seen[parts[1]] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// WatchInstances streams directory changes for one service: every
// registration, heartbeat rewrite, and deregistration surfaces as a watch
// update. The stream ends when ctx is cancelled or the watcher is stopped.
func (r *Registry) WatchInstances(ctx context.Context, serviceName string) (kv.Watcher, error) {
	pattern := kv.Join(keyPrefix, serviceName) + ".*"

	watcher, err := r.store.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to watch instances of %s: %w", serviceName, err)
	}

	return watcher, nil
}

// TTL returns the registry staleness TTL.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

func (r *Registry) put(ctx context.Context, inst types.ServiceInstance) error {
	value, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	_, err = r.store.Put(ctx, instanceKey(inst.ServiceName, inst.InstanceID), value)

	return err
}

func instanceKey(serviceName, instanceID string) string {
	return kv.Join(keyPrefix, serviceName, instanceID)
}
