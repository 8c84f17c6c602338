package election_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soloist-io/soloist/election"
	"github.com/soloist-io/soloist/kv"
	soloisttest "github.com/soloist-io/soloist/testing"
	"github.com/soloist-io/soloist/types"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()

	_, nc := soloisttest.StartEmbeddedNATS(t)
	bucket := soloisttest.CreateKVBucket(t, nc, "election-test")

	return kv.NewNATSStore(bucket)
}

func TestTryAcquire_FirstContenderWins(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)

	a := election.NewLeaseElection(store, "default")
	b := election.NewLeaseElection(store, "default")

	acquired, err := a.TryAcquire(ctx, "instance-a", 5*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)
	require.True(t, a.IsHeld())

	acquired, err = b.TryAcquire(ctx, "instance-b", 5*time.Second)
	require.NoError(t, err)
	require.False(t, acquired)
	require.False(t, b.IsHeld())

	lease, _, err := b.Leader(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "instance-a", lease.LeaderID)
}

// N instances racing TryAcquire on the same group: exactly one wins, and
// the store never holds a lease naming anyone else.
func TestTryAcquire_AtMostOneLeader(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)

	const contenders = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	for i := 0; i < contenders; i++ {
		instanceID := string(rune('a'+i)) + "-instance"
		e := election.NewLeaseElection(store, "racing")

		wg.Add(1)
		go func() {
			defer wg.Done()

			acquired, err := e.TryAcquire(ctx, instanceID, 10*time.Second)
			require.NoError(t, err)
			if acquired {
				mu.Lock()
				winners = append(winners, instanceID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one contender may acquire the lease")

	observer := election.NewLeaseElection(store, "racing")
	lease, _, err := observer.Leader(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, winners[0], lease.LeaderID)
	require.False(t, lease.Expired(time.Now(), 10*time.Second))
}

func TestTryAcquire_ExpiredLeaseIsTakenOver(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)
	ttl := 300 * time.Millisecond

	leader := election.NewLeaseElection(store, "default")
	acquired, err := leader.TryAcquire(ctx, "old-leader", ttl)
	require.NoError(t, err)
	require.True(t, acquired)

	contender := election.NewLeaseElection(store, "default")

	// Lease still live: takeover refused.
	acquired, err = contender.TryAcquire(ctx, "new-leader", ttl)
	require.NoError(t, err)
	require.False(t, acquired)

	// Leader stops renewing; after the TTL the contender wins.
	require.Eventually(t, func() bool {
		acquired, err := contender.TryAcquire(ctx, "new-leader", ttl)
		require.NoError(t, err)
		return acquired
	}, ttl+2*time.Second, 50*time.Millisecond, "contender must acquire within ttl+epsilon")

	lease, _, err := contender.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, "new-leader", lease.LeaderID)
}

func TestRenew_RefreshesLease(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)

	e := election.NewLeaseElection(store, "default")
	acquired, err := e.TryAcquire(ctx, "instance-a", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	before, _, err := e.Leader(ctx)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Renew(ctx, "instance-a", time.Second))

	after, rev, err := e.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, "instance-a", after.LeaderID)
	require.True(t, after.AcquiredAt.After(before.AcquiredAt))
	require.NotZero(t, rev)
}

func TestRenew_LostLeadership(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)
	ttl := 200 * time.Millisecond

	a := election.NewLeaseElection(store, "default")
	acquired, err := a.TryAcquire(ctx, "instance-a", ttl)
	require.NoError(t, err)
	require.True(t, acquired)

	// Simulate a partition: A stops renewing, B takes over after expiry.
	b := election.NewLeaseElection(store, "default")
	require.Eventually(t, func() bool {
		acquired, err := b.TryAcquire(ctx, "instance-b", ttl)
		require.NoError(t, err)
		return acquired
	}, 3*time.Second, 50*time.Millisecond)

	// A's next renewal must fail with a leadership-lost classification and
	// clear its local flag.
	err = a.Renew(ctx, "instance-a", ttl)
	require.ErrorIs(t, err, types.ErrLeadershipLost)
	require.False(t, a.IsHeld())

	// Renewing again without holding reports ErrNotLeader.
	err = a.Renew(ctx, "instance-a", ttl)
	require.ErrorIs(t, err, types.ErrNotLeader)
}

func TestRelease_AllowsImmediateTakeover(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)

	a := election.NewLeaseElection(store, "default")
	acquired, err := a.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, a.Release(ctx, "instance-a"))
	require.False(t, a.IsHeld())

	// No waiting for TTL: the key is gone, create-only succeeds at once.
	b := election.NewLeaseElection(store, "default")
	acquired, err = b.TryAcquire(ctx, "instance-b", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestRelease_WhenNotLeader(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	store := newTestStore(t)
	e := election.NewLeaseElection(store, "default")

	err := e.Release(context.Background(), "instance-a")
	require.ErrorIs(t, err, types.ErrNotLeader)
}

func TestTryAcquire_ReadoptsOwnLease(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)

	a := election.NewLeaseElection(store, "default")
	acquired, err := a.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A fresh handle for the same instance (process restart) re-adopts the
	// live lease instead of standing by behind itself.
	restarted := election.NewLeaseElection(store, "default")
	acquired, err = restarted.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestGroups_AreIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newTestStore(t)

	blue := election.NewLeaseElection(store, "blue")
	green := election.NewLeaseElection(store, "green")

	acquired, err := blue.TryAcquire(ctx, "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A different group elects its own leader.
	acquired, err = green.TryAcquire(ctx, "instance-b", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NotEqual(t, blue.Key(), green.Key())
}
