package headless

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/google/uuid"

	"github.com/gobreak/gobreak/debug/common"
	"github.com/gobreak/gobreak/log"
)

// SessionManager manages headless attach sessions.
type SessionManager struct {
	dlvPath  string
	logger   log.Logger
	sessions map[string]*Session
	mu       sync.Mutex
}

// NewSessionManager creates a new headless session manager.
func NewSessionManager(dlvPath string, logger log.Logger) *SessionManager {
	return &SessionManager{
		dlvPath:  dlvPath,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// GetDebuggerType returns the backend name.
func (sm *SessionManager) GetDebuggerType() string {
	return "headless"
}

// Attach attaches to a running process. With a pid, a `dlv attach` headless
// server is spawned for it; with an addr, an already running server is used.
func (sm *SessionManager) Attach(ctx context.Context, pid int, addr string) (*common.SessionInfo, error) {
	if pid == 0 && addr == "" {
		return nil, fmt.Errorf("attach requires a pid or a server address")
	}

	sessionID := fmt.Sprintf("session-%d", uuid.New().ID())

	var dlvCmd *exec.Cmd
	if addr == "" {
		port, err := freePort()
		if err != nil {
			return nil, err
		}
		addr = "127.0.0.1:" + strconv.Itoa(port)

		sm.logger.Infof("starting %s attach %d on %s", sm.dlvPath, pid, addr)
		dlvCmd = exec.Command(sm.dlvPath, "attach", strconv.Itoa(pid),
			"--headless", "--api-version=2", "--accept-multiclient", "--listen="+addr)
		if err := dlvCmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start Delve headless server: %w", err)
		}
		if err := awaitServer(ctx, addr); err != nil {
			dlvCmd.Process.Kill()
			dlvCmd.Wait()
			return nil, err
		}
	}

	client := NewClient(sm.logger)
	if err := client.Connect(ctx, addr); err != nil {
		if dlvCmd != nil {
			dlvCmd.Process.Kill()
			dlvCmd.Wait()
		}
		return nil, err
	}

	session := &Session{
		id:     sessionID,
		Client: client,
		pid:    pid,
		addr:   addr,
		cmd:    dlvCmd,
		logger: sm.logger,
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	return &common.SessionInfo{
		ID:    sessionID,
		PID:   pid,
		Addr:  addr,
		State: "attached",
	}, nil
}

// DetachSession detaches from the target and discards the session.
func (sm *SessionManager) DetachSession(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	if err := session.Detach(); err != nil {
		return err
	}
	delete(sm.sessions, sessionID)
	return nil
}

// ListSessions returns a list of active attach sessions.
func (sm *SessionManager) ListSessions() []*common.SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var result []*common.SessionInfo
	for id, s := range sm.sessions {
		state := "running"
		if s.IsPaused() {
			state = "paused"
		}
		result = append(result, &common.SessionInfo{
			ID:    id,
			PID:   s.pid,
			Addr:  s.addr,
			State: state,
		})
	}
	return result
}

// GetSession returns an attach session by ID.
func (sm *SessionManager) GetSession(sessionID string) (common.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return session, nil
}

// freePort asks the kernel for an unused TCP port for the spawned server.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to pick a listen port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// awaitServer polls addr until the spawned server accepts connections.
func awaitServer(ctx context.Context, addr string) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("Delve server at %s did not come up", addr)
}

// Session is one headless attach session.
type Session struct {
	id       string
	Client   *Client
	pid      int
	addr     string
	cmd      *exec.Cmd // non-nil when we spawned the server
	logger   log.Logger
	mu       sync.Mutex
	isPaused bool
	inFlight atomic.Bool // a continue request is holding the request mutex
}

// GetID returns the session ID.
func (s *Session) GetID() string {
	return s.id
}

// SetMarkerBreakpoint installs a breakpoint on the named function symbol.
func (s *Session) SetMarkerBreakpoint(symbol string) (int, error) {
	s.logger.Debugf("setting breakpoint on %s", symbol)

	createBpIn := rpc2.CreateBreakpointIn{
		Breakpoint: api.Breakpoint{
			FunctionName: symbol,
		},
	}
	response, err := call[rpc2.CreateBreakpointOut](s.Client, RPCCreateBreakpoint, createBpIn)
	if err != nil {
		return 0, fmt.Errorf("failed to set breakpoint on %s: %w", symbol, err)
	}
	s.logger.Debugf("breakpoint %d created on %s", response.Breakpoint.ID, symbol)
	return response.Breakpoint.ID, nil
}

// Resume lets the target run and blocks until it halts again. The underlying
// continue request does not return until the target stops, so cancelling ctx
// abandons the wait but leaves the request in flight.
func (s *Session) Resume(ctx context.Context) (*common.StopEvent, error) {
	s.logger.Debugf("continuing execution")
	s.setPaused(false)

	type outcome struct {
		out rpc2.CommandOut
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		s.inFlight.Store(true)
		out, err := call[rpc2.CommandOut](s.Client, RPCCommand, api.DebuggerCommand{Name: "continue"})
		s.inFlight.Store(false)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("failed to continue execution: %w", o.err)
		}
		s.setPaused(!o.out.State.Exited)
		return stopEventFromState(&o.out.State), nil
	}
}

func stopEventFromState(state *api.DebuggerState) *common.StopEvent {
	ev := &common.StopEvent{Reason: "breakpoint"}
	if state.Exited {
		ev.Reason = "exited"
		return ev
	}
	if t := state.CurrentThread; t != nil {
		ev.File = t.File
		ev.Line = t.Line
		if t.Function != nil {
			ev.Function = t.Function.Name()
		}
	}
	return ev
}

// Evaluate evaluates an expression in the halted target.
func (s *Session) Evaluate(expr string) (string, error) {
	s.logger.Debugf("evaluating expression: %s", expr)

	evalIn := rpc2.EvalIn{
		Scope: api.EvalScope{
			GoroutineID: -1, // current goroutine
			Frame:       0,  // top frame
		},
		Expr: expr,
		Cfg: &api.LoadConfig{
			FollowPointers:     true,
			MaxVariableRecurse: 1,
			MaxStringLen:       64,
			MaxArrayValues:     64,
			MaxStructFields:    -1,
		},
	}
	response, err := call[rpc2.EvalOut](s.Client, RPCEval, evalIn)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate expression: %w", err)
	}
	if response.Variable == nil {
		return "", nil
	}
	return formatVariable(response.Variable, 0), nil
}

// formatVariable renders a Delve variable compactly.
func formatVariable(variable *api.Variable, depth int) string {
	if variable == nil {
		return "<nil>"
	}
	if depth > 3 {
		return fmt.Sprintf("%s (truncated)", variable.Type)
	}

	switch variable.Kind {
	case reflect.String:
		return fmt.Sprintf("%q", variable.Value)
	case reflect.Slice, reflect.Array:
		if variable.Len == 0 {
			return "[]"
		}
		return fmt.Sprintf("%s (len=%d)", variable.Type, variable.Len)
	case reflect.Ptr:
		if len(variable.Children) == 0 {
			if variable.Type == "" {
				return "nil"
			}
			return fmt.Sprintf("(%s) nil", variable.Type)
		}
		return formatVariable(&variable.Children[0], depth+1)
	case reflect.Struct:
		result := fmt.Sprintf("%s {", variable.Type)
		if len(variable.Children) > 0 {
			result += " ... "
		}
		result += "}"
		return result
	case reflect.Map:
		return fmt.Sprintf("map[%s] (len=%d)", variable.Type, variable.Len)
	case reflect.Interface:
		if len(variable.Children) > 0 {
			return formatVariable(&variable.Children[0], depth+1)
		}
		return fmt.Sprintf("(%s) nil", variable.Type)
	default:
		return variable.Value
	}
}

// Detach disconnects from the target, leaving the process running. A server
// we spawned ourselves is killed afterwards; the target survives it because
// Delve detaches attached processes on exit.
func (s *Session) Detach() error {
	s.logger.Debugf("detaching from target")

	if s.inFlight.Load() {
		// An abandoned continue request still holds the request mutex, so a
		// detach RPC would block behind it forever. Closing the connection
		// unblocks the pending read; the server detaches on disconnect.
		s.logger.Warnf("continue request still in flight, closing connection without detach request")
	} else if state, err := s.State(); err == nil && state.Exited {
		s.logger.Infof("target already exited, skipping detach request")
	} else {
		if _, err := call[rpc2.DetachOut](s.Client, RPCDetach, rpc2.DetachIn{Kill: false}); err != nil {
			s.logger.Warnf("detach request failed: %v", err)
		}
	}
	if err := s.Client.Close(); err != nil {
		s.logger.Warnf("failed to close client connection: %v", err)
	}
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			s.logger.Warnf("failed to kill Delve process: %v", err)
		}
		s.cmd.Wait()
	}
	return nil
}

// IsPaused returns whether the target is halted.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPaused
}

func (s *Session) setPaused(paused bool) {
	s.mu.Lock()
	s.isPaused = paused
	s.mu.Unlock()
}

// State fetches the target state without blocking on a running target.
func (s *Session) State() (*api.DebuggerState, error) {
	out, err := call[rpc2.StateOut](s.Client, RPCState, rpc2.StateIn{NonBlocking: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get target state: %w", err)
	}
	return out.State, nil
}
