package maincmd

import (
	"context"
	"fmt"

	"github.com/crustyvm/crustyvm/crustyvm"
	"github.com/mna/mainer"
)

// Run compiles the program and executes it to completion against the
// stdio host, reporting a non-Ready terminal status as an error.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, RunFile(stdio, args[0], c.defineMap(), c.flags()))
}

// RunFile compiles and runs path's `init` entrypoint.
func RunFile(stdio mainer.Stdio, path string, defines map[string]string, flags crustyvm.Flags) error {
	vm, err := compileFile(path, defines, flags)
	if err != nil {
		return err
	}
	st, err := vm.Run("init")
	if err != nil {
		return err
	}
	if st != crustyvm.StatusReady {
		return fmt.Errorf("run: terminated with status %q", crustyvm.StatusString(st))
	}
	return nil
}
