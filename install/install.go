// Package install places the debugger init script into the user's gobreak
// directory so debugger consoles pick up the marker helpers automatically.
package install

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobreak/gobreak/breakpoint"
)

// ScriptName is the init script file name under the gobreak directory.
const ScriptName = "init"

// Script returns the init script contents: a Delve init file that installs
// the breakpoint on the marker symbol and resumes the target.
func Script() string {
	return fmt.Sprintf(`# gobreak debugger init script. Generated by "gobreak install"; do not edit.
#
# Usage:
#   dlv attach <pid> --init %s
# The equivalent GDB command is:
#   break '%s'
#
# A target gated on breakpoint.Set waits for SIGCONT before touching the
# marker. Attaching by hand? Release it with: kill -CONT <pid>
break gobreak_marker %s
continue
`, "~/.gobreak/"+ScriptName, breakpoint.Symbol, breakpoint.Symbol)
}

// Install writes the init script under dir and returns its path. Existing
// scripts are overwritten so upgrades refresh the symbol name.
func Install(dir string) (string, error) {
	path := filepath.Join(dir, ScriptName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(Script()), 0644); err != nil {
		return "", fmt.Errorf("failed to write init script: %w", err)
	}
	return path, nil
}

// Uninstall removes the init script from dir. A missing script is not an
// error.
func Uninstall(dir string) error {
	path := filepath.Join(dir, ScriptName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove init script: %w", err)
	}
	return nil
}

// Installed reports whether the init script is present in dir.
func Installed(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ScriptName))
	return err == nil
}
