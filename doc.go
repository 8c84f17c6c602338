// Package soloist provides a Go SDK for building NATS-based services with
// single-active (active/standby) semantics: lease-based leader election on
// JetStream KV, a heartbeat-driven service registry, and a message bus with
// RPC, domain events, and tracked commands.
//
// # Quick Start
//
// A regular (all-active) service:
//
//	import "github.com/soloist-io/soloist"
//
//	cfg := soloist.Config{
//	    URL:         nats.DefaultURL,
//	    ServiceName: "pricing",
//	}
//
//	svc, err := soloist.NewService(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = svc.RegisterRPC("get_price", func(ctx context.Context, params json.RawMessage) (any, error) {
//	    return map[string]float64{"price": 42.5}, nil
//	})
//
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop(context.Background())
//
// # Single-Active Services
//
// A SingleActiveService adds leader election: exactly one instance per
// election group is ACTIVE at a time, and only it serves exclusive RPCs.
// Standby instances answer exclusive calls with the retryable NOT_ACTIVE
// code so clients fail over to the new active instance after a takeover.
//
//	cfg := soloist.SingleActiveConfig{
//	    Config:  soloist.Config{URL: nats.DefaultURL, ServiceName: "orders"},
//	    GroupID: "main",
//	}
//
//	svc, err := soloist.NewSingleActiveService(cfg, soloist.WithHooks(&soloist.Hooks{
//	    OnActive: func(ctx context.Context) error {
//	        // This instance now owns the group.
//	        return nil
//	    },
//	}))
//
//	_ = svc.RegisterExclusiveRPC("submit_order", submitOrder)
//
// # Architecture
//
// Instances progress through a small state machine:
//
//	STANDBY → ELECTING → ACTIVE → (loss/release) → STANDBY
//
// Leadership is a lease in a versioned KV bucket: acquisition is a
// create-only put, renewal and takeover are revision-conditional puts, and
// expiry is a read-time check against the lease TTL. A renewal CAS failure
// means another instance won and this one demotes immediately.
//
// The lease, not the local state flag, is authoritative; IsActive is
// best-effort and only the store decides ownership.
//
// See the examples/ directory for complete working examples.
package soloist
