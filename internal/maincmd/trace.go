package maincmd

import (
	"context"
	"fmt"

	"github.com/crustyvm/crustyvm/crustyvm"
	"github.com/mna/mainer"
)

// Trace compiles and runs the program, printing crustyvm_debugtrace's
// rendering of the call stack before every step, matching the original's
// trace mode (spec.md §6.3's debug_trace).
func (c *Cmd) Trace(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, TraceFile(stdio, args[0], c.defineMap(), c.flags(), c.FullTrace))
}

// TraceFile compiles path, begins its `init` entrypoint and steps it to
// completion, printing the trace before every step.
func TraceFile(stdio mainer.Stdio, path string, defines map[string]string, flags crustyvm.Flags, full bool) error {
	vm, err := compileFile(path, defines, flags)
	if err != nil {
		return err
	}
	if err := vm.Begin("init"); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	for {
		fmt.Fprintln(stdio.Stdout, vm.DebugTrace(full))
		st := vm.Step()
		if st != crustyvm.StatusActive {
			if st != crustyvm.StatusReady {
				return fmt.Errorf("trace: terminated with status %q", crustyvm.StatusString(st))
			}
			return nil
		}
	}
}
