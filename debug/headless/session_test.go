package headless

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobreak/gobreak/log"
)

// fakeDlv is a minimal stand-in for a Delve headless server: it answers the
// JSON-RPC methods the attach workflow uses and records what it saw.
type fakeDlv struct {
	ln net.Listener

	mu          sync.Mutex
	breakpoints []api.Breakpoint
	detached    bool
	hangCommand bool // never answer a continue request
	exited      bool // report the target as exited on state requests
}

func startFakeDlv(t *testing.T) *fakeDlv {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeDlv{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeDlv) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeDlv) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			Id     int               `json:"id"`
		}
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return
		}

		var result interface{}
		switch RPCMethod(req.Method) {
		case RPCCreateBreakpoint:
			var in rpc2.CreateBreakpointIn
			json.Unmarshal(req.Params[0], &in)
			f.mu.Lock()
			bp := in.Breakpoint
			bp.ID = len(f.breakpoints) + 1
			f.breakpoints = append(f.breakpoints, bp)
			f.mu.Unlock()
			result = rpc2.CreateBreakpointOut{Breakpoint: bp}
		case RPCCommand:
			f.mu.Lock()
			hang := f.hangCommand
			f.mu.Unlock()
			if hang {
				continue // the real server answers only when the target stops
			}
			result = rpc2.CommandOut{State: api.DebuggerState{
				CurrentThread: &api.Thread{
					File: "/src/app/worker.go",
					Line: 42,
					Function: &api.Function{
						Name_: "github.com/gobreak/gobreak/breakpoint.Mark",
					},
				},
			}}
		case RPCState:
			f.mu.Lock()
			exited := f.exited
			f.mu.Unlock()
			result = rpc2.StateOut{State: &api.DebuggerState{Exited: exited}}
		case RPCEval:
			result = rpc2.EvalOut{Variable: &api.Variable{
				Kind:  reflect.String,
				Type:  "string",
				Value: "hello",
			}}
		case RPCDetach:
			f.mu.Lock()
			f.detached = true
			f.mu.Unlock()
			result = rpc2.DetachOut{}
		default:
			result = map[string]interface{}{}
		}

		resp := map[string]interface{}{
			"result": result,
			"id":     req.Id,
		}
		data, _ := json.Marshal(resp)
		data = append(data, '\n')
		if _, err := conn.Write(data); err != nil {
			return
		}
	}
}

func (f *fakeDlv) lastBreakpoint() (api.Breakpoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.breakpoints) == 0 {
		return api.Breakpoint{}, false
	}
	return f.breakpoints[len(f.breakpoints)-1], true
}

func (f *fakeDlv) isDetached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

func (f *fakeDlv) setHangCommand(hang bool) {
	f.mu.Lock()
	f.hangCommand = hang
	f.mu.Unlock()
}

func (f *fakeDlv) setExited(exited bool) {
	f.mu.Lock()
	f.exited = exited
	f.mu.Unlock()
}

func newTestManager(t *testing.T) (*SessionManager, *fakeDlv) {
	t.Helper()
	return NewSessionManager("dlv", log.New(io.Discard)), startFakeDlv(t)
}

func TestAttachToRunningServer(t *testing.T) {
	sm, fake := newTestManager(t)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, fake.addr(), info.Addr)
	assert.Equal(t, "attached", info.State)

	sessions := sm.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, info.ID, sessions[0].ID)
}

func TestAttachRequiresTarget(t *testing.T) {
	sm, _ := newTestManager(t)

	_, err := sm.Attach(context.Background(), 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid or a server address")
}

func TestSetMarkerBreakpointSendsFunctionName(t *testing.T) {
	sm, fake := newTestManager(t)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)
	session, err := sm.GetSession(info.ID)
	require.NoError(t, err)

	const symbol = "github.com/gobreak/gobreak/breakpoint.Mark"
	id, err := session.SetMarkerBreakpoint(symbol)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	bp, ok := fake.lastBreakpoint()
	require.True(t, ok)
	assert.Equal(t, symbol, bp.FunctionName, "breakpoint must be set by function name, not file:line")
}

func TestResumeReportsStopLocation(t *testing.T) {
	sm, fake := newTestManager(t)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)
	session, err := sm.GetSession(info.ID)
	require.NoError(t, err)

	stop, err := session.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "breakpoint", stop.Reason)
	assert.Equal(t, "github.com/gobreak/gobreak/breakpoint.Mark", stop.Function)
	assert.Equal(t, "/src/app/worker.go", stop.File)
	assert.Equal(t, 42, stop.Line)
	assert.True(t, session.IsPaused())
}

func TestEvaluateFormatsVariable(t *testing.T) {
	sm, fake := newTestManager(t)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)
	session, err := sm.GetSession(info.ID)
	require.NoError(t, err)

	result, err := session.Evaluate("msg")
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, result)
}

func TestDetachSession(t *testing.T) {
	sm, fake := newTestManager(t)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)

	require.NoError(t, sm.DetachSession(info.ID))
	assert.True(t, fake.isDetached(), "detach must be sent to the server")
	assert.Empty(t, sm.ListSessions())

	_, err = sm.GetSession(info.ID)
	require.Error(t, err)
}

func TestDetachAfterCancelledResume(t *testing.T) {
	sm, fake := newTestManager(t)
	fake.setHangCommand(true)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)
	session, err := sm.GetSession(info.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = session.Resume(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned continue still holds the request mutex; detach must not
	// queue another request behind it.
	detachDone := make(chan error, 1)
	go func() { detachDone <- sm.DetachSession(info.ID) }()
	select {
	case err := <-detachDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("detach blocked behind an abandoned continue request")
	}
	assert.Empty(t, sm.ListSessions())
}

func TestDetachSkipsRPCWhenExited(t *testing.T) {
	sm, fake := newTestManager(t)
	fake.setExited(true)

	info, err := sm.Attach(context.Background(), 0, fake.addr())
	require.NoError(t, err)

	require.NoError(t, sm.DetachSession(info.ID))
	assert.False(t, fake.isDetached(), "no detach request should be sent for an exited target")
}

func TestFormatVariable(t *testing.T) {
	assert.Equal(t, "<nil>", formatVariable(nil, 0))
	assert.Equal(t, `"x"`, formatVariable(&api.Variable{Kind: reflect.String, Value: "x"}, 0))
	assert.Equal(t, "[]", formatVariable(&api.Variable{Kind: reflect.Slice}, 0))
	assert.Equal(t, "[]int (len=3)", formatVariable(&api.Variable{Kind: reflect.Slice, Type: "[]int", Len: 3}, 0))
	assert.Equal(t, "nil", formatVariable(&api.Variable{Kind: reflect.Ptr}, 0))
}
