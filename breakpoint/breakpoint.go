// Package breakpoint provides a stable native symbol for external debuggers
// to trap on.
//
// A debugger (Delve or GDB) attached to the process resolves Symbol in the
// binary's symbol table and installs a breakpoint there. Whenever the program
// calls Mark, execution enters that symbol and the debugger halts the process
// at a known, predictable location. Mark itself does nothing.
//
// USAGE:
//
//	breakpoint.Enable(nil)
//	breakpoint.Set()
//
// Set blocks the calling goroutine until the debugger console signals it is
// attached (by delivering SIGCONT to the process), then calls Mark so the
// installed breakpoint fires.
package breakpoint

// Symbol is the fully qualified name of Mark as it appears in the symbol
// table of any binary built from this module. Debugger-side tooling uses it
// to install the breakpoint:
//
//	(dlv) break github.com/gobreak/gobreak/breakpoint.Mark
//	(gdb) break 'github.com/gobreak/gobreak/breakpoint.Mark'
const Symbol = "github.com/gobreak/gobreak/breakpoint.Mark"

// Mark is the breakpoint target. It takes nothing, returns nothing, and has
// no observable effect; its only purpose is to transfer control into a
// distinct, addressable routine the debugger can trap on. It is safe to call
// from any number of goroutines, any number of times.
//
// The noinline directive is load-bearing: if the compiler inlined Mark into
// its callers the symbol would carry no code and breakpoints set on it would
// never fire.
//
//go:noinline
func Mark() {}
