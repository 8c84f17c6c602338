package types

import "time"

// InstanceStatus describes the health of a registered service instance.
type InstanceStatus string

const (
	// StatusActive marks the instance currently holding the leader lease,
	// or any healthy instance of a service that does not run elections.
	StatusActive InstanceStatus = "ACTIVE"

	// StatusStandby marks a healthy instance waiting for leadership.
	StatusStandby InstanceStatus = "STANDBY"

	// StatusUnhealthy marks an instance whose last heartbeat is older than
	// the registry TTL. Assigned at read time; never written by the
	// instance itself.
	StatusUnhealthy InstanceStatus = "UNHEALTHY"
)

// ServiceInstance is one row in the service directory.
//
// One row exists per (ServiceName, InstanceID). The row is created on
// registration, rewritten on every heartbeat, and removed on graceful
// deregistration. Stale rows are detected at read time by comparing
// LastHeartbeat against the registry TTL; the store never expires them
// on its own.
type ServiceInstance struct {
	ServiceName   string            `json:"service_name"`
	InstanceID    string            `json:"instance_id"`
	Version       string            `json:"version"`
	Status        InstanceStatus    `json:"status"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Stale reports whether the instance has missed heartbeats for longer
// than ttl as of now.
func (si *ServiceInstance) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(si.LastHeartbeat) > ttl
}
