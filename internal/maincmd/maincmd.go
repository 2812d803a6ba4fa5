// Package maincmd implements the crustyvm command-line tool's argument
// parsing and subcommand dispatch, mirroring the teacher's own maincmd
// package: one Cmd struct carrying flag-tagged fields for github.com/mna/
// mainer to populate, a small set of exported methods (one per subcommand)
// discovered by reflection, and a Main entry point gluing parsing, help/
// version handling and signal-cancellation together.
package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mna/mainer"
)

const binName = "crustyvm"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> <file>
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> <file> [-- <arg>...]
       %[1]s -h|--help
       %[1]s -v|--version

Compiler and interpreter for the CrustyVM assembly language.

The <command> can be one of:
       tokenize                  Run the tokenizer/includer and print the
                                  resulting token stream.
       preprocess                Run the tokenizer and preprocessor and
                                  print the resulting line stream.
       asm                       Compile the program and print the
                                  resulting pseudo-assembly listing.
       dasm                      Alias for asm: CrustyVM has no persisted
                                  bytecode format, so disassembling a
                                  program means compiling it and rendering
                                  the same listing.
       run                       Compile the program and run it to
                                  completion against the stdio host.
       trace                     Compile and run the program, printing the
                                  call stack before every step.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --strict-macros           Treat preprocessor fixed-point overflow as
                                  a hard error instead of using the last
                                  pass.
       --full-trace              For the trace command, also list each
                                  frame's argument names.
       -D, --define NAME=VALUE   Seed a preprocessor command-line define.
                                  Comma-separate several: -D A=1,B=2.
`, binName)
)

// Cmd is the crustyvm binary's top-level flag set and dispatcher, built
// from the teacher's Cmd of the same name.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	StrictMacros bool   `flag:"strict-macros"`
	FullTrace    bool   `flag:"full-trace"`
	Defines      string `flag:"D,define"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	if len(c.args[1:]) == 0 {
		return fmt.Errorf("%s: a source file must be provided", cmdName)
	}

	return nil
}

// defineMap splits the comma-separated -D NAME=VALUE,NAME=VALUE flag into
// the map New expects, a bare NAME defaulting to "1" per spec.md §4.4's
// implicit-define rule.
func (c *Cmd) defineMap() map[string]string {
	out := map[string]string{}
	if c.Defines == "" {
		return out
	}
	for _, d := range strings.Split(c.Defines, ",") {
		if i := strings.IndexByte(d, '='); i >= 0 {
			out[d[:i]] = d[i+1:]
		} else {
			out[d] = "1"
		}
	}
	return out
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		return mainer.Failure
	}
	return mainer.Success
}

// buildCmds mirrors the teacher's reflection-based dispatch: any exported
// method with the signature (ctx, mainer.Stdio, []string) error becomes a
// subcommand named after its lower-cased method name.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}
		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}
