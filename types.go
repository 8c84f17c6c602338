package soloist

import "github.com/soloist-io/soloist/types"

// Re-export types from the types package.
//
// This file provides a stable public API for the SDK's core types and
// interfaces. It uses type aliases to re-export definitions from the
// `types` subpackage, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on `types` without depending on the root `soloist`
// package, while still providing a convenient `soloist.State`,
// `soloist.Logger`, etc. for users.
type (
	State           = types.State
	InstanceStatus  = types.InstanceStatus
	ServiceInstance = types.ServiceInstance
)

// Re-export interfaces from the types package for convenience.
type (
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-export State constants from the types package.
const (
	StateStandby  = types.StateStandby
	StateElecting = types.StateElecting
	StateActive   = types.StateActive
	StateStopped  = types.StateStopped
)

// Re-export instance status constants from the types package.
const (
	StatusActive    = types.StatusActive
	StatusStandby   = types.StatusStandby
	StatusUnhealthy = types.StatusUnhealthy
)
