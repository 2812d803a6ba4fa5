package maincmd

import (
	"github.com/crustyvm/crustyvm/crustyvm"
	"github.com/crustyvm/crustyvm/internal/stdhost"
)

// compileFile wires the stdio host's four default callback variables
// (out, err, string_out, string_err) and its safe-path file loader, then
// compiles path, the combination every non-passthrough subcommand
// (asm/dasm/run/trace) shares.
func compileFile(path string, defines map[string]string, flags crustyvm.Flags) (*crustyvm.VM, error) {
	var sp stdhost.SafePath
	opts := crustyvm.Options{
		Flags:        flags,
		Defines:      defines,
		SafePath:     sp.Resolve,
		LoadBinclude: sp.Load,
		Callbacks: []crustyvm.Callback{
			{Name: "out", Write: stdhost.Stdout.Write},
			{Name: "err", Write: stdhost.Stderr.Write},
			{Name: "string_out", Write: stdhost.StringStdout.Write},
			{Name: "string_err", Write: stdhost.StringStderr.Write},
		},
	}
	return crustyvm.NewFile(path, opts)
}

// flags translates the Cmd's parsed boolean flags into crustyvm.Flags.
func (c *Cmd) flags() crustyvm.Flags {
	var f crustyvm.Flags
	if c.StrictMacros {
		f |= crustyvm.FlagStrictMacroExpansion
	}
	return f
}
