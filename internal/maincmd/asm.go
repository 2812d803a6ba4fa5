package maincmd

import (
	"context"
	"fmt"

	"github.com/crustyvm/crustyvm/crustyvm"
	"github.com/mna/mainer"
)

// Asm compiles the program and prints the resulting pseudo-assembly
// listing.
func (c *Cmd) Asm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, AsmFile(stdio, args[0], c.defineMap(), c.flags()))
}

// Dasm is an alias for Asm: CrustyVM has no persisted bytecode format
// (spec.md §6.4), so the only thing there is to "disassemble" is a program
// that was just compiled from source, and that is exactly what asm prints.
func (c *Cmd) Dasm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, AsmFile(stdio, args[0], c.defineMap(), c.flags()))
}

// AsmFile compiles path and writes its disassembly listing to stdio.Stdout.
func AsmFile(stdio mainer.Stdio, path string, defines map[string]string, flags crustyvm.Flags) error {
	vm, err := compileFile(path, defines, flags)
	if err != nil {
		return err
	}
	fmt.Fprint(stdio.Stdout, vm.Disassemble())
	return nil
}
