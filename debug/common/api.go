package common

import (
	"context"
)

// DebuggerClient is the wire-level interface both the headless and DAP
// backends implement.
type DebuggerClient interface {
	// Connect establishes a connection to the debug server
	Connect(ctx context.Context, addr string) error

	// Close closes the connection to the debug server
	Close() error

	// IsClosed returns whether the client is closed
	IsClosed() bool
}

// SessionManager manages attach sessions for one backend.
type SessionManager interface {
	// GetDebuggerType returns the backend name ("headless" or "dap")
	GetDebuggerType() string

	// Attach attaches to a running process. With a non-zero pid a debug
	// server is spawned for that process; with a non-empty addr an already
	// running server is connected to instead.
	Attach(ctx context.Context, pid int, addr string) (*SessionInfo, error)

	// DetachSession detaches from the target and discards the session.
	// The target process is left running.
	DetachSession(sessionID string) error

	// ListSessions returns a list of active attach sessions
	ListSessions() []*SessionInfo

	// GetSession returns an attach session by ID
	GetSession(sessionID string) (Session, error)
}

// Session is one attached target.
type Session interface {
	// GetID returns the session ID
	GetID() string

	// SetMarkerBreakpoint installs a breakpoint on the named function symbol
	// and returns the breakpoint ID.
	SetMarkerBreakpoint(symbol string) (int, error)

	// Resume lets the target run and blocks until it halts again, normally
	// because the marker breakpoint fired.
	Resume(ctx context.Context) (*StopEvent, error)

	// Evaluate evaluates an expression in the halted target
	Evaluate(expr string) (string, error)

	// Detach disconnects from the target, leaving it running
	Detach() error

	// IsPaused returns whether the target is halted
	IsPaused() bool
}

// StopEvent describes where and why the target halted.
type StopEvent struct {
	Reason   string
	Function string
	File     string
	Line     int
}

// SessionInfo holds information about an attach session
type SessionInfo struct {
	ID    string
	PID   int
	Addr  string
	State string
}
