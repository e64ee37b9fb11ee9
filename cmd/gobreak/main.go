package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gobreak/gobreak/breakpoint"
	"github.com/gobreak/gobreak/config"
	"github.com/gobreak/gobreak/debug"
	"github.com/gobreak/gobreak/install"
	"github.com/gobreak/gobreak/log"
	"github.com/gobreak/gobreak/tools/marker"
)

// install: go install ./cmd/gobreak
const help = `
gobreak marker-breakpoint debugging tools

Usage: gobreak <cmd> [OPTIONS]

Available commands:
  serve                              run the MCP server exposing the attach tools
  attach                             attach to a process, trap on the marker symbol, report
  install                            install the debugger init script into ~/.gobreak
  uninstall                          remove the debugger init script
  help                               show help message

Options:
  --debugger <debugger>              attach backend: 'headless'(default) or 'dap'
  --listen <listen>                  serve: listen address for SSE instead of stdio
                                     (falls back to the config 'listen' field)
  --pid <pid>                        attach: PID of the target process
  --addr <addr>                      attach: address of a running Delve server
  --symbol <symbol>                  attach: symbol to break on (default: the gobreak marker)
  --help   show help message
`

func main() {
	if err := handle(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handle(args []string) error {
	var cmd string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}
	if cmd == "" || cmd == "help" {
		fmt.Println(strings.TrimSpace(help))
		return nil
	}

	var listen string
	var debugger string
	var symbol string
	var pid int
	var addr string
	n := len(args)
	for i, arg := range args {
		switch arg {
		case "--debugger":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			debugger = args[i+1]
		case "--listen":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			listen = args[i+1]
		case "--symbol":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			symbol = args[i+1]
		case "--addr":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			addr = args[i+1]
		case "--pid":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			p, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("--pid: %w", err)
			}
			pid = p
		case "-h", "--help":
			fmt.Println(strings.TrimSpace(help))
			return nil
		}
	}

	gobreakDir, err := config.Dir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(filepath.Join(gobreakDir, config.FileName))
	if err != nil {
		return err
	}
	if debugger == "" {
		debugger = cfg.Debugger
	}
	if listen == "" {
		listen = cfg.Listen
	}

	switch cmd {
	case "serve":
		return serve(gobreakDir, cfg, debugger, listen)
	case "attach":
		return attach(cfg, debugger, pid, addr, symbol)
	case "install":
		path, err := install.Install(gobreakDir)
		if err != nil {
			return err
		}
		fmt.Printf("installed debugger init script: %s\n", path)
		return nil
	case "uninstall":
		if err := install.Uninstall(gobreakDir); err != nil {
			return err
		}
		fmt.Println("removed debugger init script")
		return nil
	default:
		return fmt.Errorf("unknown command: %s, try 'gobreak help'", cmd)
	}
}

func serve(gobreakDir string, cfg config.Config, debugger string, listen string) error {
	s := server.NewMCPServer(
		"gobreak Marker Breakpoint MCP",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// append log to file: stdio transport owns stdout/stderr
	logFile := filepath.Join(gobreakDir, "gobreak.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		stdlog.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()
	logger := log.New(file)

	if err := marker.RegisterTools(s, marker.ToolOptions{
		DebuggerType: debugger,
		DlvPath:      cfg.DlvPath,
		Logger:       logger,
	}); err != nil {
		return err
	}

	if listen == "" {
		stdlog.Printf("MCP Server listening on stdio...")
		if err := server.ServeStdio(s); err != nil {
			stdlog.Fatalf("Server error: %v", err)
		}
		return nil
	}
	stdlog.Printf("MCP Server listening on %s...", listen)
	sseServer := server.NewSSEServer(s, "http://"+listen)
	return sseServer.Start(listen)
}

// attach runs the whole workflow in one shot: attach, set the marker
// breakpoint, wait for it to fire, report, detach.
func attach(cfg config.Config, debugger string, pid int, addr string, symbol string) error {
	if pid == 0 && addr == "" {
		return fmt.Errorf("attach requires --pid or --addr")
	}
	if symbol == "" {
		symbol = breakpoint.Symbol
	}

	logger := log.Default()
	manager, err := debug.NewSessionManager(debugger, debug.Options{
		DlvPath: cfg.DlvPath,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	info, err := manager.Attach(ctx, pid, addr)
	if err != nil {
		return err
	}
	defer manager.DetachSession(info.ID)

	session, err := manager.GetSession(info.ID)
	if err != nil {
		return err
	}
	bpID, err := session.SetMarkerBreakpoint(symbol)
	if err != nil {
		return err
	}
	fmt.Printf("breakpoint %d set on %s, waiting for it to fire...\n", bpID, symbol)

	// Targets blocked in breakpoint.Set wait for SIGCONT; deliver it now so
	// the gate releases and the marker call runs into the breakpoint.
	if info.PID != 0 {
		if err := breakpoint.Release(info.PID); err != nil {
			return err
		}
	} else {
		fmt.Println("target pid unknown; if it is gated on breakpoint.Set, run: kill -CONT <pid>")
	}

	stop, err := session.Resume(ctx)
	if err != nil {
		return err
	}
	if stop.Reason == "exited" {
		fmt.Println("target exited before the marker fired")
		return nil
	}
	if stop.File != "" {
		fmt.Printf("target halted at %s (%s:%d)\n", stop.Function, stop.File, stop.Line)
	} else {
		fmt.Printf("target halted at %s\n", stop.Function)
	}
	return nil
}
