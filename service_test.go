package soloist_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/soloist-io/soloist"
	"github.com/soloist-io/soloist/bus"
	soloisttest "github.com/soloist-io/soloist/testing"
	"github.com/soloist-io/soloist/types"
)

func newTestService(t *testing.T, name, instanceID string, opts ...soloist.Option) (*soloist.Service, *nats.Conn) {
	t.Helper()

	_, nc := soloisttest.StartEmbeddedNATS(t)

	cfg := soloist.TestConfig()
	cfg.ServiceName = name
	cfg.InstanceID = instanceID
	cfg.Version = "1.0.0"

	svc, err := soloist.NewService(cfg, append([]soloist.Option{
		soloist.WithConn(nc),
		soloist.WithLogger(soloisttest.NewTestLogger(t)),
	}, opts...)...)
	require.NoError(t, err)

	return svc, nc
}

func TestService_StartRegistersInstance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, _ := newTestService(t, "pricing", "pricing-1")

	require.NoError(t, svc.Start(ctx))
	defer func() { _ = svc.Stop(context.Background()) }()

	instances, err := svc.Registry().Instances(ctx, "pricing")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, "pricing-1", instances[0].InstanceID)
	require.Equal(t, "1.0.0", instances[0].Version)
	require.Equal(t, types.StatusStandby, instances[0].Status)
}

func TestService_StartTwiceFails(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, _ := newTestService(t, "pricing", "pricing-1")

	require.NoError(t, svc.Start(ctx))
	defer func() { _ = svc.Stop(context.Background()) }()

	require.ErrorIs(t, svc.Start(ctx), types.ErrAlreadyStarted)
}

func TestService_StopWithoutStart(t *testing.T) {
	svc, err := soloist.NewService(soloist.Config{ServiceName: "pricing"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Stop(context.Background()), types.ErrNotStarted)
}

func TestService_StopDeregisters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, _ := newTestService(t, "pricing", "pricing-1")

	require.NoError(t, svc.Start(ctx))
	reg := svc.Registry()
	require.NoError(t, svc.Stop(ctx))

	instances, err := reg.Instances(ctx, "pricing")
	require.NoError(t, err)
	require.Empty(t, instances)
}

func TestService_PreStartHandlersServeAfterStart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, _ := newTestService(t, "pricing", "pricing-1")

	// Registered before Start; installed once the bus connects.
	require.NoError(t, svc.RegisterRPC("get_price", func(_ context.Context, params json.RawMessage) (any, error) {
		var req struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}

		return map[string]any{"symbol": req.Symbol, "price": 99.9}, nil
	}))

	require.NoError(t, svc.Start(ctx))
	defer func() { _ = svc.Stop(context.Background()) }()

	resp := svc.CallRPC(ctx, "pricing", "get_price", map[string]string{"symbol": "XYZ"})
	require.True(t, resp.Success, "unexpected failure: %s %s", resp.Error, resp.Message)

	var result struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "XYZ", result.Symbol)
}

func TestService_HeartbeatRefreshesRow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, _ := newTestService(t, "pricing", "pricing-1")

	require.NoError(t, svc.Start(ctx))
	defer func() { _ = svc.Stop(context.Background()) }()

	instances, err := svc.Registry().Instances(ctx, "pricing")
	require.NoError(t, err)
	first := instances[0].LastHeartbeat

	require.Eventually(t, func() bool {
		instances, err := svc.Registry().Instances(ctx, "pricing")
		if err != nil || len(instances) != 1 {
			return false
		}

		return instances[0].LastHeartbeat.After(first)
	}, 5*time.Second, 50*time.Millisecond, "heartbeat loop never refreshed the row")
}

func TestService_AnnouncesLifecycleEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	srv, nc := soloisttest.StartEmbeddedNATS(t)

	// Observer on its own connection, listening before the service starts.
	obsConn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(obsConn.Close)

	observer := bus.NewNATSBus("", bus.WithConn(obsConn))
	require.NoError(t, observer.Connect(ctx))
	t.Cleanup(observer.Close)

	received := make(chan bus.Event, 4)
	_, err = observer.SubscribeEvent(bus.EventPattern("soloist", "*"), func(_ context.Context, event bus.Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)

	cfg := soloist.TestConfig()
	cfg.ServiceName = "pricing"
	cfg.InstanceID = "pricing-1"

	svc, err := soloist.NewService(cfg,
		soloist.WithConn(nc),
		soloist.WithLogger(soloisttest.NewTestLogger(t)))
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx))

	waitForEvent := func(eventType string) bus.Event {
		t.Helper()
		for {
			select {
			case event := <-received:
				if event.EventType == eventType {
					return event
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", eventType)
			}
		}
	}

	online := waitForEvent(soloist.EventServiceOnline)
	require.Equal(t, "pricing-1", online.Source)

	var payload struct {
		Service    string `json:"service"`
		InstanceID string `json:"instance_id"`
	}
	require.NoError(t, json.Unmarshal(online.Payload, &payload))
	require.Equal(t, "pricing", payload.Service)
	require.Equal(t, "pricing-1", payload.InstanceID)

	require.NoError(t, svc.Stop(ctx))
	offline := waitForEvent(soloist.EventServiceOffline)
	require.Equal(t, "pricing-1", offline.Source)
}

func TestService_CallRPCBeforeStart(t *testing.T) {
	svc, err := soloist.NewService(soloist.Config{ServiceName: "pricing"})
	require.NoError(t, err)

	resp := svc.CallRPC(context.Background(), "pricing", "get_price", nil)
	require.False(t, resp.Success)
	require.Equal(t, types.ErrorCodeTransport, resp.Error)
}
