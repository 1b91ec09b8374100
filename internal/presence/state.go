package presence

import "fmt"

// State is the heartbeat engine state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateSuspended
	StateEnded
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Reason says why a session (or a tab's share of it) ends.
type Reason string

const (
	ReasonLogout      Reason = "logout"
	ReasonTabClose    Reason = "tab_close"
	ReasonWindowClose Reason = "window_close"
)

// Validate rejects reasons the end contract does not know.
func (r Reason) Validate() error {
	switch r {
	case ReasonLogout, ReasonTabClose, ReasonWindowClose:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidReason, string(r))
	}
}
