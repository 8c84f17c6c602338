package soloist

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soloist-io/soloist/types"
)

func TestSetDefaults_FillsMissingValues(t *testing.T) {
	cfg := Config{ServiceName: "orders"}
	SetDefaults(&cfg)

	require.NotEmpty(t, cfg.URL)
	require.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 3*cfg.HeartbeatInterval, cfg.RegistryTTL)
	require.Equal(t, 10*time.Second, cfg.OperationTimeout)
	require.Equal(t, "soloist_registry", cfg.Buckets.Registry)
	require.Equal(t, "election_orders", cfg.Buckets.Election)
	require.Equal(t, 10, cfg.Buckets.History)
}

func TestSetDefaults_InstanceID(t *testing.T) {
	cfg := Config{ServiceName: "orders"}
	SetDefaults(&cfg)

	require.True(t, strings.HasPrefix(cfg.InstanceID, "orders-"))
	require.True(t, strings.HasSuffix(cfg.InstanceID, fmt.Sprintf("-%d", os.Getpid())))

	// Explicit IDs are preserved.
	cfg = Config{ServiceName: "orders", InstanceID: "orders-custom"}
	SetDefaults(&cfg)
	require.Equal(t, "orders-custom", cfg.InstanceID)
}

func TestSetDefaults_ElectionBucketSanitized(t *testing.T) {
	cfg := Config{ServiceName: "audit log.v2"}
	SetDefaults(&cfg)

	require.Equal(t, "election_audit_log_v2", cfg.Buckets.Election)
}

func TestValidate_RequiresServiceName(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	require.Contains(t, err.Error(), "ServiceName")
}

func TestValidate_RegistryTTLFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "orders"
	cfg.HeartbeatInterval = 2 * time.Second
	cfg.RegistryTTL = 3 * time.Second // < 2x heartbeat

	err := cfg.Validate()
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	require.Contains(t, err.Error(), "RegistryTTL")
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "orders"
	require.NoError(t, cfg.Validate())

	sa := DefaultSingleActiveConfig()
	sa.ServiceName = "orders"
	require.NoError(t, sa.Validate())

	test := TestConfig()
	test.ServiceName = "orders"
	require.NoError(t, test.Validate())

	saTest := TestSingleActiveConfig()
	saTest.ServiceName = "orders"
	require.NoError(t, saTest.Validate())
}

func TestValidate_RenewalMustBeBelowLeaderTTL(t *testing.T) {
	cfg := DefaultSingleActiveConfig()
	cfg.ServiceName = "orders"
	cfg.LeaderTTL = 3 * time.Second
	cfg.RenewalInterval = 3 * time.Second

	err := cfg.Validate()
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	require.Contains(t, err.Error(), "RenewalInterval")
}

func TestValidate_HeartbeatMustBeBelowLeaderTTL(t *testing.T) {
	cfg := DefaultSingleActiveConfig()
	cfg.ServiceName = "orders"
	cfg.HeartbeatInterval = 10 * time.Second
	cfg.RegistryTTL = 30 * time.Second
	cfg.LeaderTTL = 9 * time.Second
	cfg.RenewalInterval = 3 * time.Second

	err := cfg.Validate()
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	require.Contains(t, err.Error(), "HeartbeatInterval")
}

// Construction must fail on invalid invariants before any network I/O:
// no server is running in this test.
func TestNewSingleActiveService_FailsFastWithoutIO(t *testing.T) {
	cfg := SingleActiveConfig{
		Config:          Config{ServiceName: "orders", URL: "nats://127.0.0.1:1"},
		LeaderTTL:       time.Second,
		RenewalInterval: 2 * time.Second,
	}

	_, err := NewSingleActiveService(cfg)
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestNewService_RejectsEmptyServiceName(t *testing.T) {
	_, err := NewService(Config{})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}
