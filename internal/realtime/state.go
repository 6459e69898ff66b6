package realtime

import "sync"

// ConnPhase is the connection lifecycle phase written by the retry
// controller and read by the UI layer.
type ConnPhase string

const (
	PhaseIdle       ConnPhase = "idle"
	PhaseConnecting ConnPhase = "connecting"
	PhaseConnected  ConnPhase = "connected"
	PhaseFailed     ConnPhase = "failed"
)

// UIState is the 3-value projection the UI actually renders. It hides
// retry generations, dedupe keys, and the full phase machine.
type UIState string

const (
	UIConnected    UIState = "connected"
	UIReconnecting UIState = "reconnecting"
	UIOffline      UIState = "offline"
)

// ConnSnapshot is an immutable copy of the connection record.
type ConnSnapshot struct {
	Phase            ConnPhase
	Reason           ConnectionReason
	Detail           string
	LastServerSocket string
}

// UIState projects the snapshot for rendering.
func (s ConnSnapshot) UIState() UIState {
	switch s.Phase {
	case PhaseConnected:
		return UIConnected
	case PhaseConnecting:
		return UIReconnecting
	default:
		return UIOffline
	}
}

// ConnState is the single mutable connection record for one client
// process. Only the retry controller and its synchronous connect step
// write it; everything else reads snapshots.
//
// It is an owned instance rather than a module-level global so tests can
// run multiple independent connections.
type ConnState struct {
	mu     sync.RWMutex
	phase  ConnPhase
	reason ConnectionReason
	detail string
	socket string
}

// NewConnState creates a record in the idle phase.
func NewConnState() *ConnState {
	return &ConnState{phase: PhaseIdle, reason: ReasonOK}
}

// Snapshot returns a copy of the current record.
func (c *ConnState) Snapshot() ConnSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnSnapshot{
		Phase:            c.phase,
		Reason:           c.reason,
		Detail:           c.detail,
		LastServerSocket: c.socket,
	}
}

// LastServerSocket returns the most recently attempted server socket.
func (c *ConnState) LastServerSocket() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.socket
}

func (c *ConnState) set(phase ConnPhase, reason ConnectionReason, detail, socket string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.phase = phase
	c.reason = reason
	c.detail = detail
	c.socket = socket
}
