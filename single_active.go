package soloist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/soloist-io/soloist/bus"
	"github.com/soloist-io/soloist/election"
	"github.com/soloist-io/soloist/types"
)

// SingleActiveService is a Service with lease-based leader election:
// within one election group, at most one instance is ACTIVE at any time
// and only it serves exclusive RPCs.
//
// Two supervised goroutines drive the lifecycle: the election loop
// contends for the lease while standby, and the renewal loop refreshes it
// while active. A renewal CAS failure demotes this instance immediately
// and the election loop resumes contending.
//
// The lease in the store is authoritative. IsActive reflects the local
// state flag and is best-effort only; during a partition it may briefly
// disagree with the store until the next renewal reconciles it.
type SingleActiveService struct {
	*Service

	saCfg    SingleActiveConfig
	election *election.LeaseElection
	state    atomic.Int32
}

// NewSingleActiveService creates a single-active service from the given
// configuration.
//
// Defaults are applied and all invariants (including
// RenewalInterval < LeaderTTL) are validated before any I/O.
//
// Parameters:
//   - cfg: Single-active configuration
//   - opts: Optional logger, metrics, hooks, injected conn/bus/stores
//
// Returns:
//   - *SingleActiveService: The constructed service (not yet started)
//   - error: Validation error wrapping ErrInvalidConfig
func NewSingleActiveService(cfg SingleActiveConfig, opts ...Option) (*SingleActiveService, error) {
	SetSingleActiveDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := newService(cfg.Config, opts...)
	if err != nil {
		return nil, err
	}

	s := &SingleActiveService{Service: base, saCfg: cfg}
	s.state.Store(int32(types.StateStandby))

	return s, nil
}

// Start starts the base service, provisions the election bucket, and
// launches the election loop. The instance begins in STANDBY and contends
// for the lease immediately.
func (s *SingleActiveService) Start(ctx context.Context) error {
	if err := s.Service.Start(ctx); err != nil {
		return err
	}

	if s.electionStore == nil {
		store, err := s.provisionStore(ctx, s.cfg.Buckets.Election)
		if err != nil {
			_ = s.Service.Stop(ctx)
			return err
		}
		s.electionStore = store
	}

	s.election = election.NewLeaseElection(s.electionStore, s.saCfg.GroupID,
		election.WithLogger(s.logger), election.WithMetrics(s.metrics))

	s.wg.Add(1)
	go s.electionLoop()

	return nil
}

// Stop releases the leader lease first — so a standby can take over
// without waiting out the TTL — then runs the base Stop.
func (s *SingleActiveService) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return types.ErrNotStarted
	}

	// Stop the election and renewal loops before touching the lease, so a
	// racing renewal cannot resurrect it.
	s.cancel()
	if err := s.drain(ctx); err != nil {
		s.logger.Warn("shutdown drain incomplete", "error", err)
	}

	if s.election != nil && s.election.IsHeld() {
		relCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
		err := s.election.Release(relCtx, s.cfg.InstanceID)
		cancel()
		if err != nil && !errors.Is(err, types.ErrNotLeader) {
			s.logger.Warn("failed to release leader lease", "error", err)
		}
	}

	s.transition(types.StateStopped)

	return s.Service.Stop(ctx)
}

// RegisterExclusiveRPC registers a handler that only serves while this
// instance is ACTIVE. On a standby instance the wrapped handler returns
// ErrNotActive, which the bus translates into the retryable NOT_ACTIVE
// response code.
func (s *SingleActiveService) RegisterExclusiveRPC(method string, handler bus.RPCHandler) error {
	wrapped := func(ctx context.Context, params json.RawMessage) (any, error) {
		if s.State() != types.StateActive {
			return nil, fmt.Errorf("%w: %s is standby for group %s",
				types.ErrNotActive, s.cfg.InstanceID, s.saCfg.GroupID)
		}

		return handler(ctx, params)
	}

	return s.RegisterRPC(method, wrapped)
}

// State returns the current lifecycle state.
func (s *SingleActiveService) State() types.State {
	return types.State(s.state.Load())
}

// IsActive reports whether this instance currently believes it holds the
// lease. Best-effort only; the store is authoritative.
func (s *SingleActiveService) IsActive() bool {
	return s.State() == types.StateActive
}

// GroupID returns the election group this instance contends in.
func (s *SingleActiveService) GroupID() string {
	return s.saCfg.GroupID
}

// Leader returns the group's current lease, or nil when no lease exists.
// The caller classifies liveness against LeaderTTL.
func (s *SingleActiveService) Leader(ctx context.Context) (*election.Lease, error) {
	if s.election == nil {
		return nil, types.ErrNotStarted
	}

	lease, _, err := s.election.Leader(ctx)

	return lease, err
}

// electionLoop contends for the lease until shutdown. While another
// instance holds a live lease the loop probes at RenewalInterval;
// infrastructure errors back off per the election retry policy.
func (s *SingleActiveService) electionLoop() {
	defer s.wg.Done()

	errAttempt := 0

	for s.ctx.Err() == nil {
		s.transition(types.StateElecting)

		opCtx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		acquired, err := s.election.TryAcquire(opCtx, s.cfg.InstanceID, s.saCfg.LeaderTTL)
		cancel()

		switch {
		case err != nil:
			if s.ctx.Err() != nil {
				return
			}
			errAttempt++
			delay := s.saCfg.Election.Delay(errAttempt)
			s.logger.Warn("lease acquisition failed",
				"group", s.saCfg.GroupID, "attempt", errAttempt, "retry_in", delay, "error", err)
			s.transition(types.StateStandby)
			if !s.sleep(delay) {
				return
			}

		case acquired:
			errAttempt = 0
			s.becomeActive()
			s.renewLoop()
			if s.ctx.Err() != nil {
				return
			}
			s.becomeStandby()
			// Contend again right away; the lease may already be free.

		default:
			errAttempt = 0
			s.transition(types.StateStandby)
			if !s.sleep(s.saCfg.RenewalInterval) {
				return
			}
		}
	}
}

// renewLoop refreshes the lease at RenewalInterval until renewal fails or
// shutdown. Any renewal error means the lease is no longer ours — the
// election handle has already dropped its local claim — so the loop
// returns and the caller demotes.
func (s *SingleActiveService) renewLoop() {
	ticker := time.NewTicker(s.saCfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		opCtx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		err := s.election.Renew(opCtx, s.cfg.InstanceID, s.saCfg.LeaderTTL)
		cancel()

		if err == nil {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn("lease renewal failed, demoting",
			"group", s.saCfg.GroupID, "instance_id", s.cfg.InstanceID, "error", err)

		return
	}
}

// becomeActive promotes this instance: state, registry status, then the
// OnActive hook — exactly once per acquisition.
func (s *SingleActiveService) becomeActive() {
	s.transition(types.StateActive)
	s.setStatus(types.StatusActive)
	s.refreshRegistryRow()

	s.logger.Info("leadership acquired",
		"group", s.saCfg.GroupID, "instance_id", s.cfg.InstanceID)

	s.runHook("OnActive", s.hooks.OnActive)
}

// becomeStandby demotes this instance after a lost or failed renewal.
func (s *SingleActiveService) becomeStandby() {
	s.transition(types.StateStandby)
	s.setStatus(types.StatusStandby)
	s.refreshRegistryRow()

	s.logger.Info("leadership lost, demoted to standby",
		"group", s.saCfg.GroupID, "instance_id", s.cfg.InstanceID)

	s.runHook("OnStandby", s.hooks.OnStandby)
}

// refreshRegistryRow pushes the instance's new status to the directory
// without waiting for the next heartbeat tick.
func (s *SingleActiveService) refreshRegistryRow() {
	opCtx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
	defer cancel()

	if err := s.registry.Heartbeat(opCtx, s.instance()); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("failed to refresh registry row", "error", err)
	}
}

func (s *SingleActiveService) transition(to types.State) {
	from := types.State(s.state.Swap(int32(to)))
	if from == to {
		return
	}

	s.metrics.RecordStateTransition(from, to)
	s.logger.Debug("state transition", "from", from.String(), "to", to.String())

	if s.hooks.OnStateChanged != nil {
		if err := s.hooks.OnStateChanged(s.ctx, from, to); err != nil {
			s.reportHookError("OnStateChanged", err)
		}
	}
}

func (s *SingleActiveService) runHook(name string, hook func(context.Context) error) {
	if hook == nil {
		return
	}
	if err := hook(s.ctx); err != nil {
		s.reportHookError(name, err)
	}
}

func (s *SingleActiveService) reportHookError(name string, err error) {
	s.logger.Error("lifecycle hook failed", "hook", name, "error", err)
	if s.hooks.OnError != nil {
		s.hooks.OnError(s.ctx, fmt.Errorf("%s hook: %w", name, err))
	}
}

// sleep waits d or until shutdown; reports false on shutdown.
func (s *SingleActiveService) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
