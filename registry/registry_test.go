package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soloist-io/soloist/kv"
	"github.com/soloist-io/soloist/registry"
	soloisttest "github.com/soloist-io/soloist/testing"
	"github.com/soloist-io/soloist/types"
)

func newTestRegistry(t *testing.T, ttl time.Duration, opts ...registry.Option) *registry.Registry {
	t.Helper()

	_, nc := soloisttest.StartEmbeddedNATS(t)
	bucket := soloisttest.CreateKVBucket(t, nc, "registry-test")

	reg, err := registry.New(kv.NewNATSStore(bucket), ttl, opts...)
	require.NoError(t, err)

	return reg
}

func TestNew_RejectsNonPositiveTTL(t *testing.T) {
	_, err := registry.New(nil, 0)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestRegister_ListDeregister(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	reg := newTestRegistry(t, 5*time.Second)

	inst := types.ServiceInstance{
		ServiceName: "pricing",
		InstanceID:  "pricing-1",
		Version:     "1.2.0",
		Status:      types.StatusStandby,
		Metadata:    map[string]string{"zone": "eu-1"},
	}
	require.NoError(t, reg.Register(ctx, inst))

	instances, err := reg.Instances(ctx, "pricing")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "pricing-1", instances[0].InstanceID)
	require.Equal(t, types.StatusStandby, instances[0].Status)
	require.Equal(t, "eu-1", instances[0].Metadata["zone"])
	require.False(t, instances[0].LastHeartbeat.IsZero())

	require.NoError(t, reg.Deregister(ctx, "pricing", "pricing-1"))

	instances, err = reg.Instances(ctx, "pricing")
	require.NoError(t, err)
	require.Empty(t, instances)

	// Deregistering an unknown instance is not an error.
	require.NoError(t, reg.Deregister(ctx, "pricing", "pricing-404"))
}

func TestRegister_RequiresIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	reg := newTestRegistry(t, 5*time.Second)

	err := reg.Register(context.Background(), types.ServiceInstance{InstanceID: "x"})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestHeartbeat_RefreshesRow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	reg := newTestRegistry(t, 5*time.Second)

	inst := types.ServiceInstance{ServiceName: "orders", InstanceID: "orders-1", Status: types.StatusActive}
	require.NoError(t, reg.Register(ctx, inst))

	before, err := reg.Instances(ctx, "orders")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Heartbeat(ctx, inst))

	after, err := reg.Instances(ctx, "orders")
	require.NoError(t, err)
	require.True(t, after[0].LastHeartbeat.After(before[0].LastHeartbeat))
}

func TestHeartbeat_RecreatesMissingRow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	reg := newTestRegistry(t, 5*time.Second)

	inst := types.ServiceInstance{ServiceName: "orders", InstanceID: "orders-1", Status: types.StatusActive}
	require.NoError(t, reg.Register(ctx, inst))
	require.NoError(t, reg.Deregister(ctx, "orders", "orders-1"))

	// The next heartbeat rewrites the whole row.
	require.NoError(t, reg.Heartbeat(ctx, inst))

	instances, err := reg.Instances(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, instances, 1)
}

func TestInstances_StaleRowsReportedUnhealthy(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Clock starts at real time and is advanced past the TTL by the test.
	offset := time.Duration(0)
	clock := func() time.Time { return time.Now().Add(offset) }
	reg := newTestRegistry(t, 2*time.Second, registry.WithClock(clock))

	require.NoError(t, reg.Register(ctx, types.ServiceInstance{
		ServiceName: "orders", InstanceID: "orders-1", Status: types.StatusActive,
	}))

	instances, err := reg.Instances(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, types.StatusActive, instances[0].Status)

	// No heartbeat for longer than the TTL: row is stale, not gone.
	offset = 3 * time.Second
	instances, err = reg.Instances(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, types.StatusUnhealthy, instances[0].Status)
}

func TestServices_ListsDistinctNames(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	reg := newTestRegistry(t, 5*time.Second)

	for _, pair := range [][2]string{
		{"orders", "orders-1"},
		{"orders", "orders-2"},
		{"pricing", "pricing-1"},
		{"audit log", "audit-1"}, // name needing sanitization
	} {
		require.NoError(t, reg.Register(ctx, types.ServiceInstance{
			ServiceName: pair[0], InstanceID: pair[1],
		}))
	}

	services, err := reg.Services(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"audit log", "orders", "pricing"}, services)
}

func TestWatchInstances_StreamsChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg := newTestRegistry(t, 5*time.Second)

	watcher, err := reg.WatchInstances(ctx, "orders")
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	inst := types.ServiceInstance{ServiceName: "orders", InstanceID: "orders-1"}
	require.NoError(t, reg.Register(ctx, inst))
	require.NoError(t, reg.Deregister(ctx, "orders", "orders-1"))

	var ops []kv.Operation
	deadline := time.After(5 * time.Second)
	for len(ops) < 2 {
		select {
		case u, ok := <-watcher.Updates():
			require.True(t, ok)
			ops = append(ops, u.Op)
		case <-deadline:
			t.Fatalf("timed out waiting for watch updates, got %v", ops)
		}
	}

	require.Equal(t, []kv.Operation{kv.OpPut, kv.OpDelete}, ops)
}
