package breakpoint

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gobreak/gobreak/log"
)

// The gate coordinates the program side of an attach: the program calls Set
// and blocks; the debugger console attaches, installs a breakpoint on Symbol
// and delivers SIGCONT; Set then calls Mark and the breakpoint fires with the
// program halted exactly where the caller wanted it.
//
// SIGCONT is the attach signal because it is harmless to processes nobody is
// debugging: its default action is to resume a stopped process, which a
// running process ignores.

var (
	gateMu    sync.Mutex
	enabled   bool
	connected chan struct{} // closed when the debugger console signals attach
	gateLog   log.Logger
	sigCh     chan os.Signal
)

// Enable arms the gate: it registers the SIGCONT handler and makes subsequent
// Set calls block until a debugger console attaches. Calling Enable more than
// once is a no-op. A nil logger logs to stderr.
func Enable(logger log.Logger) {
	gateMu.Lock()
	defer gateMu.Unlock()

	if enabled {
		return
	}
	enabled = true
	connected = make(chan struct{})
	if logger == nil {
		logger = log.Default()
	}
	gateLog = logger

	sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGCONT)
	go watchAttach(sigCh, connected)

	logTo(gateLog, "enabled")
}

func watchAttach(sig <-chan os.Signal, attached chan struct{}) {
	for range sig {
		gateMu.Lock()
		select {
		case <-attached:
			// already marked attached
		default:
			close(attached)
			logTo(gateLog, "debugger console attached")
		}
		gateMu.Unlock()
	}
}

// SetLogger replaces the gate's logger. It reports whether the logger was
// installed; before Enable there is nothing to install on.
func SetLogger(logger log.Logger) bool {
	gateMu.Lock()
	defer gateMu.Unlock()

	if !enabled || logger == nil {
		return false
	}
	gateLog = logger
	return true
}

// Set blocks until the debugger console has attached, then calls Mark so the
// breakpoint installed on Symbol fires. If the gate is not enabled, Set
// returns immediately without calling Mark.
func Set() {
	_ = SetContext(context.Background())
}

// SetContext is Set with cancellation: it returns ctx.Err() if ctx is done
// before the debugger console attaches.
func SetContext(ctx context.Context) error {
	gateMu.Lock()
	if !enabled {
		gateMu.Unlock()
		return nil
	}
	attached := connected
	logger := gateLog
	gateMu.Unlock()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-attached:
			Mark()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			logTo(logger, "breakpoint set: waiting for debugger console")
		}
	}
}

// logTo does no locking so it can run under gateMu; callers pass the logger
// they already hold.
func logTo(l log.Logger, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Infof("gobreak (PID %d): %s", os.Getpid(), fmt.Sprintf(format, args...))
}

// reset disarms the gate. Test helper only.
func reset() {
	gateMu.Lock()
	defer gateMu.Unlock()

	if !enabled {
		return
	}
	signal.Stop(sigCh)
	close(sigCh)
	enabled = false
	connected = nil
	gateLog = nil
	sigCh = nil
}
