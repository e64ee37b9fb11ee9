// Package marker registers the MCP tools for the marker-breakpoint attach
// workflow: attach to a process, trap on the gobreak marker symbol, inspect,
// detach.
package marker

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gobreak/gobreak/breakpoint"
	"github.com/gobreak/gobreak/debug"
	"github.com/gobreak/gobreak/debug/common"
	"github.com/gobreak/gobreak/log"
)

// ToolOptions configures the registered tools.
type ToolOptions struct {
	// DebuggerType is the attach backend: "headless" (default) or "dap".
	DebuggerType string
	// DlvPath is the dlv binary used to spawn attach servers.
	DlvPath string
	// Logger receives backend diagnostics.
	Logger log.Logger
}

// RegisterTools registers the attach tools with the MCP server.
func RegisterTools(s *server.MCPServer, opts ToolOptions) error {
	debuggerType := opts.DebuggerType
	if debuggerType == "" {
		debuggerType = "headless"
	}
	sessionManager, createErr := debug.NewSessionManager(debuggerType, debug.Options{
		DlvPath: opts.DlvPath,
		Logger:  opts.Logger,
	})
	if createErr != nil {
		return fmt.Errorf("failed to create session manager: %v", createErr)
	}

	registerAttachProcessTool(s, sessionManager)
	registerSetMarkerBreakpointTool(s, sessionManager)
	registerAwaitMarkerTool(s, sessionManager)
	registerEvaluateTool(s, sessionManager)
	registerDetachProcessTool(s, sessionManager)
	registerListSessionsTool(s, sessionManager)

	return nil
}

// registerAttachProcessTool registers the attach tool
func registerAttachProcessTool(s *server.MCPServer, sessionManager common.SessionManager) {
	tool := mcp.NewTool("attach_process",
		mcp.WithDescription("Attach the debugger to a running process so the gobreak marker breakpoint can be set"),
		mcp.WithNumber("pid",
			mcp.Description("PID of the process to attach to; a debug server is spawned for it"),
		),
		mcp.WithString("addr",
			mcp.Description("Address of an already running Delve server to connect to instead of spawning one"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pidFloat, _ := request.Params.Arguments["pid"].(float64)
		pid := int(pidFloat)
		addr, _ := request.Params.Arguments["addr"].(string)

		if pid == 0 && addr == "" {
			return mcp.NewToolResultError("either pid or addr is required"), nil
		}

		info, err := sessionManager.Attach(ctx, pid, addr)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to attach: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Attach session started with ID: %s\nPID: %d\nServer: %s",
			info.ID, info.PID, info.Addr)), nil
	})
}

// registerSetMarkerBreakpointTool registers the set marker breakpoint tool
func registerSetMarkerBreakpointTool(s *server.MCPServer, sessionManager common.SessionManager) {
	tool := mcp.NewTool("set_marker_breakpoint",
		mcp.WithDescription("Set a breakpoint on the gobreak marker symbol (or another function symbol) in an attach session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the attach session"),
		),
		mcp.WithString("symbol",
			mcp.Description(fmt.Sprintf("Function symbol to break on; defaults to %s", breakpoint.Symbol)),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)
		symbol, _ := request.Params.Arguments["symbol"].(string)
		if symbol == "" {
			symbol = breakpoint.Symbol
		}

		session, err := sessionManager.GetSession(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get attach session: %v", err)), nil
		}

		id, err := session.SetMarkerBreakpoint(symbol)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to set breakpoint: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Breakpoint set on %s (ID: %d)", symbol, id)), nil
	})
}

// sessionPID looks up the target pid recorded for a session. Zero means the
// session was made against an already running server and the pid is unknown.
func sessionPID(sessionManager common.SessionManager, sessionID string) int {
	for _, info := range sessionManager.ListSessions() {
		if info.ID == sessionID {
			return info.PID
		}
	}
	return 0
}

// registerAwaitMarkerTool registers the await marker tool
func registerAwaitMarkerTool(s *server.MCPServer, sessionManager common.SessionManager) {
	tool := mcp.NewTool("await_marker",
		mcp.WithDescription("Resume the target and block until it halts, normally because the marker breakpoint fired. Targets gated on breakpoint.Set are released with SIGCONT first"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the attach session"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)

		session, err := sessionManager.GetSession(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get attach session: %v", err)), nil
		}

		// Targets blocked in breakpoint.Set wait for SIGCONT before calling
		// the marker; without the signal both sides would wait on each other.
		if pid := sessionPID(sessionManager, sessionID); pid != 0 {
			if err := breakpoint.Release(pid); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to release the target gate: %v", err)), nil
			}
		}

		stop, err := session.Resume(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed while waiting for the marker: %v", err)), nil
		}

		if stop.Reason == "exited" {
			return mcp.NewToolResultText("Target exited before the marker fired"), nil
		}
		where := stop.Function
		if stop.File != "" {
			where = fmt.Sprintf("%s (%s:%d)", stop.Function, stop.File, stop.Line)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Target halted: reason=%s at %s", stop.Reason, where)), nil
	})
}

// registerEvaluateTool registers the evaluate tool
func registerEvaluateTool(s *server.MCPServer, sessionManager common.SessionManager) {
	tool := mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate an expression in a halted attach session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the attach session"),
		),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)
		expression, _ := request.Params.Arguments["expression"].(string)

		session, err := sessionManager.GetSession(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get attach session: %v", err)), nil
		}

		result, err := session.Evaluate(expression)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate expression: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Expression result: %s", result)), nil
	})
}

// registerDetachProcessTool registers the detach tool
func registerDetachProcessTool(s *server.MCPServer, sessionManager common.SessionManager) {
	tool := mcp.NewTool("detach_process",
		mcp.WithDescription("Detach from the target process, leaving it running"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the attach session to detach"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)

		if err := sessionManager.DetachSession(sessionID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to detach: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Attach session %s detached", sessionID)), nil
	})
}

// registerListSessionsTool registers the list sessions tool
func registerListSessionsTool(s *server.MCPServer, sessionManager common.SessionManager) {
	tool := mcp.NewTool("list_attach_sessions",
		mcp.WithDescription("List active attach sessions"),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := sessionManager.ListSessions()

		if len(sessions) == 0 {
			return mcp.NewToolResultText("No active attach sessions"), nil
		}

		result := "Active attach sessions:\n\n"
		for _, session := range sessions {
			result += fmt.Sprintf("ID: %s\nPID: %d\nServer: %s\nState: %s\n\n",
				session.ID, session.PID, session.Addr, session.State)
		}

		return mcp.NewToolResultText(result), nil
	})
}
