package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soloist-io/soloist/kv"
	"github.com/soloist-io/soloist/types"
)

// Lease is the value stored under the election key. It identifies the
// current leader and when the lease was last acquired or renewed.
type Lease struct {
	LeaderID   string    `json:"leader_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Expired reports whether the lease is past its TTL as of now.
func (l *Lease) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.AcquiredAt) >= ttl
}

// LeaseElection coordinates leader election for one (service, group) pair
// through a single key in a versioned KV store.
//
// The local held/revision pair is an ephemeral copy of what this instance
// last observed; the store is always authoritative. A CAS mismatch on
// renewal means another instance won in the meantime and the caller must
// demote immediately.
//
// All methods are safe for concurrent use.
type LeaseElection struct {
	store   kv.Store
	key     string
	logger  types.Logger
	metrics types.ElectionMetrics
	now     func() time.Time

	mu       sync.Mutex
	held     bool
	revision uint64
}

// Option configures a LeaseElection.
type Option func(*LeaseElection)

// WithLogger sets the logger. Defaults to no logging.
func WithLogger(logger types.Logger) Option {
	return func(e *LeaseElection) {
		e.logger = logger
	}
}

// WithMetrics sets the election metrics collector.
func WithMetrics(m types.ElectionMetrics) Option {
	return func(e *LeaseElection) {
		e.metrics = m
	}
}

// WithClock overrides the time source. Tests use this to exercise expiry
// without waiting out real TTLs.
func WithClock(now func() time.Time) Option {
	return func(e *LeaseElection) {
		e.now = now
	}
}

// NewLeaseElection creates an election handle over the given store.
//
// The store is expected to be scoped to the service's election bucket
// (one bucket per service, named election_{service} by the orchestration
// layer); groupID selects the independently-electable group within it.
//
// Parameters:
//   - store: Versioned KV store holding the lease
//   - groupID: Election group identifier (sanitized by the key codec)
//   - opts: Optional logger, metrics, clock
func NewLeaseElection(store kv.Store, groupID string, opts ...Option) *LeaseElection {
	e := &LeaseElection{
		store: store,
		key:   kv.EncodeKey(groupID),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Key returns the sanitized election key.
func (e *LeaseElection) Key() string {
	return e.key
}

// TryAcquire attempts to take or keep the leader lease for instanceID.
//
// Outcomes:
//   - lease absent: create-only put; losing the creation race returns
//     (false, nil)
//   - lease held by this instance: renewed in place
//   - lease expired: revision-conditional put over the stale entry; a CAS
//     mismatch means another contender won and returns (false, nil)
//   - lease live and held by another instance: (false, nil)
//
// Only infrastructure failures produce a non-nil error; losing a race is
// expected control flow.
func (e *LeaseElection) TryAcquire(ctx context.Context, instanceID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: lease ttl must be positive, got %v", types.ErrInvalidConfig, ttl)
	}

	acquired, err := e.tryAcquire(ctx, instanceID, ttl)
	if e.metrics != nil {
		e.metrics.RecordElectionAttempt(acquired)
	}
	if acquired && e.metrics != nil {
		e.metrics.RecordLeadershipChange(instanceID)
	}

	return acquired, err
}

func (e *LeaseElection) tryAcquire(ctx context.Context, instanceID string, ttl time.Duration) (bool, error) {
	// Fast path: we believe we hold the lease; renew to confirm.
	if e.heldLocally() {
		err := e.Renew(ctx, instanceID, ttl)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, types.ErrLeadershipLost) && !errors.Is(err, types.ErrNotLeader) {
			return false, err
		}
		// Leadership gone; fall through and contend from scratch.
	}

	entry, err := e.store.Get(ctx, e.key)
	switch {
	case errors.Is(err, types.ErrKeyNotFound):
		return e.create(ctx, instanceID)

	case err != nil:
		return false, fmt.Errorf("failed to read lease: %w", err)
	}

	lease, err := decodeLease(entry.Value)
	if err != nil {
		// A corrupt lease is overwritten like an expired one; the CAS still
		// guards against concurrent contenders.
		e.debug("overwriting undecodable lease", "key", e.key, "error", err)
		return e.takeOver(ctx, instanceID, entry.Revision)
	}

	now := e.now()

	if lease.LeaderID == instanceID {
		// Our own lease from a previous run; re-adopt it via CAS renewal.
		return e.takeOver(ctx, instanceID, entry.Revision)
	}

	if lease.Expired(now, ttl) {
		e.debug("lease expired, contending", "key", e.key, "previous_leader", lease.LeaderID)
		return e.takeOver(ctx, instanceID, entry.Revision)
	}

	return false, nil
}

// create attempts the create-only acquisition path.
func (e *LeaseElection) create(ctx context.Context, instanceID string) (bool, error) {
	value := encodeLease(Lease{LeaderID: instanceID, AcquiredAt: e.now()})

	rev, err := e.store.Put(ctx, e.key, value, kv.CreateOnly())
	if err != nil {
		if errors.Is(err, types.ErrAlreadyExists) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create lease: %w", err)
	}

	e.setHeld(rev)
	e.debug("lease acquired", "key", e.key, "instance_id", instanceID, "revision", rev)

	return true, nil
}

// takeOver attempts a revision-conditional overwrite of an existing entry.
func (e *LeaseElection) takeOver(ctx context.Context, instanceID string, revision uint64) (bool, error) {
	value := encodeLease(Lease{LeaderID: instanceID, AcquiredAt: e.now()})

	rev, err := e.store.Put(ctx, e.key, value, kv.ExpectRevision(revision))
	if err != nil {
		if errors.Is(err, types.ErrConcurrentUpdate) {
			return false, nil
		}

		return false, fmt.Errorf("failed to take over lease: %w", err)
	}

	e.setHeld(rev)
	e.debug("lease acquired", "key", e.key, "instance_id", instanceID, "revision", rev)

	return true, nil
}

// Renew refreshes the lease's acquired_at timestamp via CAS.
//
// Returns types.ErrNotLeader if this instance does not believe it holds
// the lease, and types.ErrLeadershipLost (wrapping the cause) if the CAS
// fails — meaning another instance won during a partition or expiry. On
// ErrLeadershipLost the caller must demote immediately.
func (e *LeaseElection) Renew(ctx context.Context, instanceID string, ttl time.Duration) error {
	e.mu.Lock()
	held, revision := e.held, e.revision
	e.mu.Unlock()

	if !held {
		return types.ErrNotLeader
	}

	value := encodeLease(Lease{LeaderID: instanceID, AcquiredAt: e.now()})

	rev, err := e.store.Put(ctx, e.key, value, kv.ExpectRevision(revision))
	if err != nil {
		e.clearHeld()
		if e.metrics != nil {
			e.metrics.RecordLeaseRenewal(false)
		}

		return fmt.Errorf("%w: %w", types.ErrLeadershipLost, err)
	}

	e.setHeld(rev)
	if e.metrics != nil {
		e.metrics.RecordLeaseRenewal(true)
	}
	_ = ttl // TTL is enforced by readers; renewal only refreshes acquired_at.

	return nil
}

// Release voluntarily gives up the lease so a standby can take over without
// waiting for expiry. The delete is conditional on the last revision this
// instance wrote; if another instance already took over, the release is a
// no-op.
func (e *LeaseElection) Release(ctx context.Context, instanceID string) error {
	e.mu.Lock()
	held, revision := e.held, e.revision
	e.mu.Unlock()

	if !held {
		return types.ErrNotLeader
	}

	e.clearHeld()

	err := e.store.Delete(ctx, e.key, kv.ExpectRevision(revision))
	if err != nil {
		if errors.Is(err, types.ErrConcurrentUpdate) {
			e.debug("release skipped, lease already taken over", "key", e.key, "instance_id", instanceID)
			return nil
		}

		return fmt.Errorf("failed to release lease: %w", err)
	}

	e.debug("lease released", "key", e.key, "instance_id", instanceID)

	return nil
}

// Leader returns the stored lease and its revision, or (nil, 0, nil) when
// no lease exists. Callers classify liveness with Lease.Expired and their
// own TTL.
func (e *LeaseElection) Leader(ctx context.Context) (*Lease, uint64, error) {
	entry, err := e.store.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return nil, 0, nil
		}

		return nil, 0, fmt.Errorf("failed to read lease: %w", err)
	}

	lease, err := decodeLease(entry.Value)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode lease at %s: %w", e.key, err)
	}

	return &lease, entry.Revision, nil
}

// IsHeld reports whether this instance believes it holds the lease. This
// local flag is best-effort only and must be reconciled through Renew; it
// is never trusted across a network interruption.
func (e *LeaseElection) IsHeld() bool {
	return e.heldLocally()
}

func (e *LeaseElection) heldLocally() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.held
}

func (e *LeaseElection) setHeld(revision uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.held = true
	e.revision = revision
}

func (e *LeaseElection) clearHeld() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.held = false
}

func (e *LeaseElection) debug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}

func encodeLease(lease Lease) []byte {
	value, err := json.Marshal(lease)
	if err != nil {
		// Lease has no unmarshalable fields; this cannot fail.
		panic(err)
	}

	return value
}

func decodeLease(value []byte) (Lease, error) {
	var lease Lease
	if err := json.Unmarshal(value, &lease); err != nil {
		return Lease{}, err
	}
	if lease.LeaderID == "" {
		return Lease{}, errors.New("lease missing leader_id")
	}

	return lease, nil
}
