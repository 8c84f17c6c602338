package types

// State represents the single-active lifecycle state of a service instance.
//
// States follow a defined progression during normal operation:
//
//	StateStandby → StateElecting → StateActive
//
// On leadership loss the instance returns to StateStandby and resumes the
// election loop. StateStopped is terminal.
type State int32

const (
	// StateStandby is the initial state; the instance serves regular RPCs
	// but refuses exclusive ones.
	StateStandby State = iota

	// StateElecting indicates a lease acquisition attempt is in flight.
	StateElecting

	// StateActive indicates this instance holds the leader lease.
	StateActive

	// StateStopped indicates the service has shut down. Terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStandby:
		return "Standby"
	case StateElecting:
		return "Electing"
	case StateActive:
		return "Active"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
