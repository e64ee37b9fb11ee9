package breakpoint

import (
	"fmt"
	"syscall"
)

// Release is the console side of the gate: it delivers the attach signal
// (SIGCONT) to the target process so a goroutine blocked in Set or SetContext
// proceeds to call Mark. Attach tooling calls it after the breakpoint on
// Symbol is installed; for targets reached through an already running debug
// server the same effect comes from a manual `kill -CONT <pid>`.
func Release(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("release requires a target pid")
	}
	if err := syscall.Kill(pid, syscall.SIGCONT); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return nil
}
