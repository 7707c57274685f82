package session

import (
	"fmt"
	"time"
)

// Phase is the connection lifecycle phase.
type Phase int

// Connection phases. Transitions are strictly sequential; see allowedNext.
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseFailed
)

// String returns the phase name for logs and the status header.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnState is a read-only snapshot of the connection manager's state.
// Exactly one live instance exists, owned by the connection manager;
// consumers always receive value copies.
type ConnState struct {
	Phase Phase

	// Attempt is the reconnect attempt counter, meaningful while
	// reconnecting.
	Attempt int

	// NextRetryAt is the deadline of the pending reconnect attempt,
	// meaningful while reconnecting.
	NextRetryAt time.Time

	// Reason describes the most recent failure, meaningful for the failed
	// and reconnecting phases.
	Reason string
}

// String renders the state for the TUI header.
func (s ConnState) String() string {
	switch s.Phase {
	case PhaseReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d)", s.Attempt)
	case PhaseFailed:
		if s.Reason != "" {
			return "failed: " + s.Reason
		}
		return "failed"
	default:
		return s.Phase.String()
	}
}

// allowedNext encodes the legal phase transitions. A failure always passes
// through PhaseFailed before a reconnect is scheduled, so no observable
// state is skipped.
var allowedNext = map[Phase][]Phase{
	PhaseDisconnected: {PhaseConnecting},
	PhaseConnecting:   {PhaseConnected, PhaseFailed, PhaseDisconnected},
	PhaseConnected:    {PhaseFailed, PhaseDisconnected},
	PhaseFailed:       {PhaseReconnecting, PhaseConnecting, PhaseDisconnected},
	PhaseReconnecting: {PhaseConnecting, PhaseDisconnected},
}

// validTransition reports whether moving from to next is legal.
func validTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, p := range allowedNext[from] {
		if p == to {
			return true
		}
	}
	return false
}
