package dap

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gobreak/gobreak/debug/common"
	"github.com/gobreak/gobreak/log"
)

// SessionManager manages DAP attach sessions.
type SessionManager struct {
	dlvPath  string
	logger   log.Logger
	sessions map[string]*Session
	mu       sync.Mutex
}

// NewSessionManager creates a new DAP session manager.
func NewSessionManager(dlvPath string, logger log.Logger) *SessionManager {
	return &SessionManager{
		dlvPath:  dlvPath,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// GetDebuggerType returns the backend name.
func (sm *SessionManager) GetDebuggerType() string {
	return "dap"
}

// Attach attaches to a running process. With a pid, a `dlv dap` server is
// spawned and attached to it; with an addr, an already running server is
// connected to. The attach handshake runs through the DAP configuration
// sequence: initialize, attach, then breakpoints are accepted.
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

		sm.logger.Infof("starting %s dap on %s", sm.dlvPath, addr)
		dlvCmd = exec.Command(sm.dlvPath, "dap", "--listen="+addr)
		if err := dlvCmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start Delve DAP server: %w", err)
		}
		if err := awaitServer(ctx, addr); err != nil {
			dlvCmd.Process.Kill()
			dlvCmd.Wait()
			return nil, err
		}
	}

	client := NewClient(sm.logger)
	fail := func(err error) (*common.SessionInfo, error) {
		client.Close()
		if dlvCmd != nil && dlvCmd.Process != nil {
			dlvCmd.Process.Kill()
			dlvCmd.Wait()
		}
		return nil, err
	}

	if err := client.Connect(ctx, addr); err != nil {
		return fail(err)
	}
	if err := client.Initialize(); err != nil {
		return fail(err)
	}
	if pid != 0 {
		if err := client.Attach(pid); err != nil {
			return fail(err)
		}
	}
	if err := client.AwaitInitialized(ctx); err != nil {
		return fail(fmt.Errorf("adapter never became ready: %w", err))
	}

	session := &Session{
		id:     sessionID,
		client: client,
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

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to pick a listen port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

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
	return fmt.Errorf("Delve DAP server at %s did not come up", addr)
}

// Session is one DAP attach session.
type Session struct {
	id         string
	client     *Client
	pid        int
	addr       string
	cmd        *exec.Cmd
	logger     log.Logger
	mu         sync.Mutex
	isPaused   bool
	configured bool
	threadID   int // thread of the last stop, for continue/stackTrace
}

// GetID returns the session ID.
func (s *Session) GetID() string {
	return s.id
}

// SetMarkerBreakpoint installs a breakpoint on the named function symbol.
func (s *Session) SetMarkerBreakpoint(symbol string) (int, error) {
	s.logger.Debugf("setting function breakpoint on %s", symbol)

	bps, err := s.client.SetFunctionBreakpoints([]string{symbol})
	if err != nil {
		return 0, err
	}
	if len(bps) == 0 {
		return 0, fmt.Errorf("adapter returned no breakpoint for %s", symbol)
	}
	if !bps[0].Verified {
		return 0, fmt.Errorf("breakpoint on %s not verified: %s", symbol, bps[0].Message)
	}
	return bps[0].Id, nil
}

// Resume lets the target run and blocks until it halts again.
func (s *Session) Resume(ctx context.Context) (*common.StopEvent, error) {
	s.mu.Lock()
	configured := s.configured
	threadID := s.threadID
	s.mu.Unlock()

	// The first resume after attach ends the configuration phase instead of
	// sending an explicit continue.
	if !configured {
		if err := s.client.ConfigurationDone(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.configured = true
		s.mu.Unlock()
	} else {
		if err := s.client.Continue(threadID); err != nil {
			return nil, err
		}
	}
	s.setPaused(false)

	stopped, err := s.client.AwaitStopped(ctx)
	if err != nil {
		return nil, err
	}
	s.setPaused(true)
	s.mu.Lock()
	s.threadID = stopped.Body.ThreadId
	s.mu.Unlock()

	ev := &common.StopEvent{Reason: stopped.Body.Reason}
	if frame, err := s.client.TopFrame(stopped.Body.ThreadId); err == nil {
		ev.Function = frame.Name
		ev.Line = frame.Line
		if frame.Source != nil {
			ev.File = frame.Source.Path
		}
	}
	return ev, nil
}

// Evaluate evaluates an expression in the halted target's top frame.
func (s *Session) Evaluate(expr string) (string, error) {
	if !s.IsPaused() {
		return "", fmt.Errorf("cannot evaluate: target is not paused")
	}

	s.mu.Lock()
	threadID := s.threadID
	s.mu.Unlock()

	frame, err := s.client.TopFrame(threadID)
	if err != nil {
		return "", err
	}
	return s.client.Evaluate(expr, frame.Id)
}

// Detach disconnects from the target, leaving it running.
func (s *Session) Detach() error {
	s.logger.Debugf("disconnecting from target")

	if err := s.client.Disconnect(); err != nil {
		s.logger.Warnf("disconnect request failed: %v", err)
	}
	if err := s.client.Close(); err != nil {
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
