// Package dap drives a Delve DAP server (`dlv dap`) over the Debug Adapter
// Protocol.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/gobreak/gobreak/log"
)

// Client is a DAP client for a Delve DAP server. A reader goroutine pumps
// incoming messages, splitting them into responses (consumed by the request
// in flight) and events (consumed by waiters such as AwaitStopped).
type Client struct {
	conn      net.Conn
	reader    *bufio.Reader
	seq       int
	mu        sync.Mutex // guards writes and seq
	responses chan dap.ResponseMessage
	events    chan dap.EventMessage
	closeMu   sync.Mutex
	isClosed  bool
	logger    log.Logger
}

// NewClient creates a new DAP client.
func NewClient(logger log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		seq:       1,
		responses: make(chan dap.ResponseMessage, 16),
		events:    make(chan dap.EventMessage, 100),
		logger:    logger,
	}
}

// Connect connects to a DAP server and starts the message pump.
func (c *Client) Connect(ctx context.Context, addr string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(timeoutCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to DAP server: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	go c.readMessages()
	return nil
}

// Close closes the connection to the DAP server.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	c.isClosed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsClosed returns whether the client is closed.
func (c *Client) IsClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.isClosed
}

// readMessages pumps messages from the server until the connection drops.
func (c *Client) readMessages() {
	for {
		message, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			if !c.IsClosed() {
				c.logger.Debugf("DAP connection closed: %v", err)
			}
			c.closeMu.Lock()
			c.isClosed = true
			c.closeMu.Unlock()
			close(c.events)
			close(c.responses)
			return
		}

		switch m := message.(type) {
		case dap.ResponseMessage:
			c.responses <- m
		case dap.EventMessage:
			if ev, ok := m.(*dap.OutputEvent); ok {
				c.logger.Debugf("DAP output: %s", ev.Body.Output)
			}
			select {
			case c.events <- m:
			default:
				// drop events nobody is reading to keep the pump alive
			}
		default:
			c.logger.Debugf("unexpected DAP message: %T", message)
		}
	}
}

// roundTrip sends one request and waits for its response. Requests are
// serialized: DAP responses carry no routing beyond order for our usage.
func (c *Client) roundTrip(req dap.Message, timeout time.Duration) (dap.ResponseMessage, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection to DAP server not established")
	}
	err := dap.WriteProtocolMessage(c.conn, req)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send DAP request: %w", err)
	}

	select {
	case resp, ok := <-c.responses:
		if !ok {
			return nil, fmt.Errorf("DAP connection closed")
		}
		if r := resp.GetResponse(); !r.Success {
			return nil, fmt.Errorf("DAP request %s failed: %s", r.Command, r.Message)
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out waiting for DAP response")
	}
}

// nextSeq allocates a request sequence number.
func (c *Client) nextSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.seq
	c.seq++
	return seq
}

func (c *Client) newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  c.nextSeq(),
			Type: "request",
		},
		Command: command,
	}
}

// Initialize performs the DAP handshake.
func (c *Client) Initialize() error {
	req := &dap.InitializeRequest{
		Request: c.newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "gobreak",
			ClientName:      "gobreak attach client",
			AdapterID:       "go",
			PathFormat:      "path",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			Locale:          "en-us",
		},
	}
	if _, err := c.roundTrip(req, 10*time.Second); err != nil {
		return fmt.Errorf("failed to initialize debug adapter: %w", err)
	}
	return nil
}

// Attach attaches the adapter to a running process by pid.
func (c *Client) Attach(pid int) error {
	args, err := json.Marshal(map[string]interface{}{
		"mode":      "local",
		"processId": pid,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal attach arguments: %w", err)
	}
	req := &dap.AttachRequest{
		Request:   c.newRequest("attach"),
		Arguments: args,
	}
	if _, err := c.roundTrip(req, 30*time.Second); err != nil {
		return fmt.Errorf("failed to attach to pid %d: %w", pid, err)
	}
	return nil
}

// AwaitInitialized waits for the adapter's initialized event, after which
// breakpoints may be configured.
func (c *Client) AwaitInitialized(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return fmt.Errorf("DAP connection closed")
			}
			if _, isInit := ev.(*dap.InitializedEvent); isInit {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetFunctionBreakpoints installs breakpoints on the named function symbols.
func (c *Client) SetFunctionBreakpoints(symbols []string) ([]dap.Breakpoint, error) {
	bps := make([]dap.FunctionBreakpoint, 0, len(symbols))
	for _, sym := range symbols {
		bps = append(bps, dap.FunctionBreakpoint{Name: sym})
	}
	req := &dap.SetFunctionBreakpointsRequest{
		Request: c.newRequest("setFunctionBreakpoints"),
		Arguments: dap.SetFunctionBreakpointsArguments{
			Breakpoints: bps,
		},
	}
	resp, err := c.roundTrip(req, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to set function breakpoints: %w", err)
	}
	typed, ok := resp.(*dap.SetFunctionBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to setFunctionBreakpoints", resp)
	}
	return typed.Body.Breakpoints, nil
}

// ConfigurationDone ends the configuration phase; the target resumes.
func (c *Client) ConfigurationDone() error {
	req := &dap.ConfigurationDoneRequest{
		Request: c.newRequest("configurationDone"),
	}
	if _, err := c.roundTrip(req, 10*time.Second); err != nil {
		return fmt.Errorf("failed to finish configuration: %w", err)
	}
	return nil
}

// Continue resumes the target.
func (c *Client) Continue(threadID int) error {
	req := &dap.ContinueRequest{
		Request: c.newRequest("continue"),
		Arguments: dap.ContinueArguments{
			ThreadId: threadID,
		},
	}
	if _, err := c.roundTrip(req, 10*time.Second); err != nil {
		return fmt.Errorf("failed to continue execution: %w", err)
	}
	return nil
}

// AwaitStopped blocks until the target halts and returns the stopped event.
func (c *Client) AwaitStopped(ctx context.Context) (*dap.StoppedEvent, error) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return nil, fmt.Errorf("DAP connection closed")
			}
			if stopped, isStopped := ev.(*dap.StoppedEvent); isStopped {
				return stopped, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TopFrame returns the innermost stack frame of the given thread.
func (c *Client) TopFrame(threadID int) (*dap.StackFrame, error) {
	req := &dap.StackTraceRequest{
		Request: c.newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{
			ThreadId: threadID,
			Levels:   1,
		},
	}
	resp, err := c.roundTrip(req, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack trace: %w", err)
	}
	typed, ok := resp.(*dap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to stackTrace", resp)
	}
	if len(typed.Body.StackFrames) == 0 {
		return nil, fmt.Errorf("no stack frames")
	}
	return &typed.Body.StackFrames[0], nil
}

// Evaluate evaluates an expression in the context of a stack frame.
func (c *Client) Evaluate(expr string, frameID int) (string, error) {
	req := &dap.EvaluateRequest{
		Request: c.newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expr,
			FrameId:    frameID,
			Context:    "repl",
		},
	}
	resp, err := c.roundTrip(req, 10*time.Second)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate expression: %w", err)
	}
	typed, ok := resp.(*dap.EvaluateResponse)
	if !ok {
		return "", fmt.Errorf("unexpected response type %T to evaluate", resp)
	}
	return typed.Body.Result, nil
}

// Disconnect detaches from the target, leaving it running.
func (c *Client) Disconnect() error {
	req := &dap.DisconnectRequest{
		Request: c.newRequest("disconnect"),
	}
	if _, err := c.roundTrip(req, 10*time.Second); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}
