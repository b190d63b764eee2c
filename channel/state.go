package channel

// State is the connection lifecycle state, owned and transitioned
// exclusively by the Supervisor.
type State int32

// Connection states.
const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateHandler observes Supervisor state transitions. err is non-nil when
// the transition was caused by a failure (the Connection's last_error);
// it is cleared on successful open.
type StateHandler func(state State, err error)
