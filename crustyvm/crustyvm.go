// Package crustyvm is the embedding API described in spec.md §6.3: it
// strings the tokenizer, preprocessor, resolver and compiler together into
// a single New call that either returns a ready-to-run VM or a compile
// error, and forwards the interpreter's run/step/reset/introspection
// surface, matching the original crustyvm_new/crustyvm_* C API's shape
// translated into idiomatic Go.
package crustyvm

import (
	"fmt"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/compiler"
	"github.com/crustyvm/crustyvm/lang/ir"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/machine"
	"github.com/crustyvm/crustyvm/lang/preprocess"
	"github.com/crustyvm/crustyvm/lang/resolver"
)

// Flags is the bitfield spec.md §6.4 describes as the core's optional
// flags value.
type Flags uint32

const (
	// FlagOutputPasses dumps each intermediate line stream through the log
	// sink, diagnostic only (spec.md §6.4).
	FlagOutputPasses Flags = 1 << iota
	// FlagStrictMacroExpansion turns the preprocessor's fixed-point
	// iteration cap (lang/preprocess.MaxPasses) into a hard compile error
	// instead of a silent "use the last pass" fallback.
	FlagStrictMacroExpansion
	// FlagLegacyBincludeTruncation accepts a binclude whose requested range
	// runs past end of file by truncating instead of rejecting it, matching
	// the original's more permissive historical behavior. The default is to
	// reject and log a warning.
	FlagLegacyBincludeTruncation
)

// Callback binds a named variable to host read/write functions, the Go
// shape of the original's CrustyCallback descriptor (spec.md §6.2). A
// descriptor with neither Read nor Write is rejected at New.
type Callback struct {
	Name string

	// Type describes the element type a read callback produces; it has no
	// effect on a write-only callback, whose element type instead follows
	// whatever variable is moved into it. Zero (ir.None) defaults to Int.
	Type ir.Type
	// Length is the number of indices the host expects to be asked for, for
	// a callback that behaves like an array (0 defaults to 1, a scalar).
	Length int

	Read     ir.ReadCallback
	ReadPriv any

	Write     ir.WriteCallback
	WritePriv any
}

// Options configures a VM beyond the source program itself, matching the
// teacher's Thread struct-of-knobs style rather than functional options.
type Options struct {
	Flags Flags

	// StackSize is the data stack's total size in bytes. Zero selects the
	// interpreter's default.
	StackSize int
	// MaxCallDepth bounds call-stack depth. Zero selects the interpreter's
	// default.
	MaxCallDepth int

	// Defines seeds the preprocessor's command-line-define table, per
	// spec.md §4.4. A bare `-D NAME` with no value should be recorded here
	// as "1", matching the original's implicit-define behavior.
	Defines map[string]string

	Callbacks []Callback

	// SafePath, if set, canonicalizes and authorizes every file the
	// tokenizer opens via `include`/`binclude`, per spec.md §4.2.
	// internal/stdhost.SafePath.Resolve satisfies this signature.
	SafePath lexer.SafePath

	// LoadBinclude, if set, reads the raw bytes of a `binclude` target,
	// after SafePath (if any) has already authorized the path.
	// internal/stdhost.SafePath.Load satisfies this signature.
	LoadBinclude resolver.BincludeLoader

	// Log receives diagnostic and trace output, exactly as the original's
	// log_cb. Nil discards it.
	Log func(format string, args ...any)
}

func (o Options) logf(format string, args ...any) {
	if o.Log != nil {
		o.Log(format, args...)
	}
}

// VM is a loaded, ready-to-run program bound to one interpreter instance.
type VM struct {
	arena *arena.Arena
	prog  *compiler.Program
	vm    *machine.VM
	opts  Options
}

// New compiles source (named module for diagnostics) and returns a VM
// ready to Begin or Run, or the first compile error encountered. It is the
// single entry point spec.md §6.3 calls `new`.
func New(module string, source []byte, opts Options) (*VM, error) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a, SafePath: opts.SafePath}
	lines, err := tz.TokenizeBytes(module, source)
	if err != nil {
		return nil, fmt.Errorf("crustyvm: tokenize: %w", err)
	}
	return compileProgram(a, lines, opts)
}

// NewFile tokenizes and compiles the named file as the root module,
// establishing the safe-path root at the file's own directory when opts.
// SafePath wraps an internal/stdhost.SafePath.
func NewFile(path string, opts Options) (*VM, error) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a, SafePath: opts.SafePath}
	lines, err := tz.TokenizeFile(path)
	if err != nil {
		return nil, fmt.Errorf("crustyvm: tokenize: %w", err)
	}
	return compileProgram(a, lines, opts)
}

func compileProgram(a *arena.Arena, lines []lexer.Line, opts Options) (*VM, error) {
	dump := func(stage string, lines []lexer.Line) {
		if opts.Flags&FlagOutputPasses == 0 {
			return
		}
		opts.logf("crustyvm: %d lines after %s", len(lines), stage)
		for _, l := range lines {
			toks := make([]string, len(l.Tokens))
			for i, h := range l.Tokens {
				toks[i] = a.String(h)
			}
			opts.logf("crustyvm:   %s:%d: %v", l.Module, l.SourceLine, toks)
		}
	}
	dump("tokenize", lines)

	pp := preprocess.New(a, opts.Defines)
	pp.StrictMacroExpansion = opts.Flags&FlagStrictMacroExpansion != 0
	lines, err := pp.Run(lines)
	if err != nil {
		return nil, fmt.Errorf("crustyvm: preprocess: %w", err)
	}
	dump("preprocess", lines)

	sc := resolver.NewScanner(a, opts.LoadBinclude)
	sc.LegacyBincludeTruncation = opts.Flags&FlagLegacyBincludeTruncation != 0
	sc.Log = opts.Log
	res, err := sc.Scan(lines)
	if err != nil {
		return nil, fmt.Errorf("crustyvm: resolve: %w", err)
	}
	dump("resolve", res.Lines)

	if err := injectCallbacks(a, res, opts.Callbacks); err != nil {
		return nil, fmt.Errorf("crustyvm: %w", err)
	}

	prog, err := compiler.Compile(a, res)
	if err != nil {
		return nil, fmt.Errorf("crustyvm: compile: %w", err)
	}

	vm := machine.New(a, prog, machine.Options{
		StackSize:    opts.StackSize,
		MaxCallDepth: opts.MaxCallDepth,
		Log:          opts.Log,
	})

	return &VM{arena: a, prog: prog, vm: vm, opts: opts}, nil
}

// injectCallbacks adds one global Variable per descriptor to res.Vars
// before codegen, the same timing as the original crustyvm_new: the
// callback table is merged into the symbol table ahead of compilation, so
// source can reference a callback name as an ordinary global without ever
// declaring it with `static`. A descriptor naming an already-declared
// global instead overlays its read/write functions onto that Variable, so
// a host may also bind callbacks to explicitly-typed statics.
func injectCallbacks(a *arena.Arena, res *resolver.Result, cbs []Callback) error {
	for _, cb := range cbs {
		if cb.Read == nil && cb.Write == nil {
			return fmt.Errorf("callback %q: neither read nor write supplied", cb.Name)
		}
		vi := -1
		for i := range res.Vars {
			if res.Vars[i].Global && a.EqualString(res.Vars[i].Name, cb.Name) {
				vi = i
				break
			}
		}
		if vi == -1 {
			typ := cb.Type
			if typ == ir.None {
				typ = ir.Int
			}
			length := cb.Length
			if length < 1 {
				length = 1
			}
			res.Vars = append(res.Vars, ir.Variable{
				Name:   a.InternString(cb.Name),
				Type:   typ,
				Global: true,
				Length: length,
			})
			vi = len(res.Vars) - 1
		}
		v := &res.Vars[vi]
		v.ReadCB, v.ReadPriv = cb.Read, cb.ReadPriv
		v.WriteCB, v.WritePriv = cb.Write, cb.WritePriv
	}
	return nil
}

// Reset implements spec.md §6.3's `reset`.
func (v *VM) Reset() { v.vm.Reset() }

// Begin implements spec.md §6.3's `begin`.
func (v *VM) Begin(procName string) error { return v.vm.Begin(procName) }

// Step advances the interpreter by one instruction and returns its status,
// spec.md §6.3's `step`.
func (v *VM) Step() Status { return Status(v.vm.Step()) }

// Run implements spec.md §6.3's `run`: begin at procName and step to
// completion.
func (v *VM) Run(procName string) (Status, error) {
	st, err := v.vm.Run(procName)
	return Status(st), err
}

// Status implements spec.md §6.3's `status`.
func (v *VM) Status() Status { return Status(v.vm.Status()) }

// HasEntrypoint implements spec.md §6.3's `has_entrypoint`.
func (v *VM) HasEntrypoint(name string) bool { return v.vm.HasEntrypoint(name) }

// DebugTrace implements the crustyvm_debugtrace diagnostic named in
// spec.md §6.3.
func (v *VM) DebugTrace(full bool) string { return v.vm.DebugTrace(full) }

// TokenMemory implements spec.md §6.3's `token_memory` accessor.
func (v *VM) TokenMemory() []byte { return v.vm.TokenMemory() }

// StackMemory implements spec.md §6.3's `stack_memory` accessor.
func (v *VM) StackMemory() []byte { return v.vm.StackMemory() }

// GlobalInt reads a global's current value as an int, from outside any
// step, the crustyvm_getvariable family from original_source/crustyvm.c.
func (v *VM) GlobalInt(name string) (int64, bool) { return v.vm.GlobalInt(name) }

// GlobalFloat reads a global's current value as a float.
func (v *VM) GlobalFloat(name string) (float64, bool) { return v.vm.GlobalFloat(name) }

// GlobalString reads a CHAR-array global as a NUL-terminated string.
func (v *VM) GlobalString(name string) (string, bool) { return v.vm.GlobalString(name) }

// Disassemble renders the compiled program as pseudo-assembly text, the
// `dasm` CLI subcommand's underlying operation.
func (v *VM) Disassemble() string { return compiler.Dasm(v.arena, v.prog) }
