// Package machine implements the stack-based interpreter described in
// spec.md §4.7: operand resolution, the read/write primitives, per-opcode
// semantics, call-frame construction and the reset/run entry points that
// sit beneath the embedding API in the root crustyvm package.
package machine

import (
	"fmt"
	"strings"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/compiler"
	"github.com/crustyvm/crustyvm/lang/ir"
)

// Frame is one entry of the call stack: the proc currently executing, the
// instruction to resume the caller at, and the caller's stack pointer.
type Frame struct {
	ProcIndex int
	ReturnIP  int
	CallerSP  int
}

// Options configures a VM beyond what the compiled Program already fixes.
type Options struct {
	// StackSize is the total size in bytes of the data stack, globals
	// region included. Zero selects a default.
	StackSize int
	// MaxCallDepth bounds the call stack, guarding against runaway
	// recursion the way spec.md §4.7.4 requires. Zero selects a default.
	MaxCallDepth int
	// Log is stored on the VM; no interpreter code path writes to it.
	Log func(format string, args ...any)
}

const (
	defaultStackSize  = 1 << 20
	defaultCallDepth  = 512
)

// VM is one instance of spec.md §3.6's global interpreter state: the data
// stack, call stack, instruction pointer and result registers bound to a
// single compiled Program.
type VM struct {
	arena *arena.Arena
	prog  *compiler.Program

	stack        []byte
	callStack    []Frame
	sp           int
	ip           int
	status       Status
	intResult    int64
	floatResult  float64
	resultFloat  bool

	maxCallDepth int
	log          func(format string, args ...any)
}

// New builds a VM bound to prog and resets it, so it starts out Ready.
func New(a *arena.Arena, prog *compiler.Program, opts Options) *VM {
	size := opts.StackSize
	if size <= 0 {
		size = defaultStackSize
	}
	if size < prog.GlobalsBytes {
		size = prog.GlobalsBytes
	}
	depth := opts.MaxCallDepth
	if depth <= 0 {
		depth = defaultCallDepth
	}
	vm := &VM{
		arena:        a,
		prog:         prog,
		stack:        make([]byte, size),
		maxCallDepth: depth,
		log:          opts.Log,
	}
	vm.Reset()
	return vm
}

// Reset implements spec.md §4.7.5: the globals region is reinitialized
// from the program's initial stack image, the rest of the stack is
// cleared, the call stack is emptied and status returns to Ready.
func (vm *VM) Reset() {
	for i := range vm.stack {
		vm.stack[i] = 0
	}
	copy(vm.stack, vm.prog.InitialStackImage)
	vm.callStack = vm.callStack[:0]
	vm.sp = vm.prog.GlobalsBytes
	vm.ip = 0
	vm.status = StatusReady
	vm.intResult, vm.floatResult, vm.resultFloat = 0, 0, false
}

// Status returns the VM's current run status.
func (vm *VM) Status() Status { return vm.status }

// HasEntrypoint reports whether proc name exists and takes no arguments,
// matching spec.md §6.3's has_entrypoint query.
func (vm *VM) HasEntrypoint(name string) bool {
	idx := vm.prog.FindProc(vm.arena, name)
	return idx != -1 && vm.prog.Procs[idx].ArgsCount == 0
}

// Begin starts execution at the named zero-argument proc, per spec.md
// §4.7.4's call-frame construction applied to a synthetic top-level call.
func (vm *VM) Begin(name string) error {
	idx := vm.prog.FindProc(vm.arena, name)
	if idx == -1 {
		return fmt.Errorf("machine: no such proc %q", name)
	}
	proc := &vm.prog.Procs[idx]
	if proc.ArgsCount != 0 {
		return fmt.Errorf("machine: entrypoint %q takes arguments", name)
	}
	if len(vm.callStack) != 0 {
		vm.Reset()
	}
	newSP := vm.sp + proc.LocalStackSize
	if newSP > len(vm.stack) {
		vm.status = StatusStackOverflow
		return nil
	}
	copy(vm.stack[vm.sp:newSP], proc.InitializerImage)
	vm.callStack = append(vm.callStack, Frame{ProcIndex: idx, ReturnIP: -1, CallerSP: vm.sp})
	vm.sp = newSP
	vm.ip = proc.EntryInstructionIndex
	vm.status = StatusActive
	return nil
}

// Run begins execution at name and steps until the VM leaves the Active
// state.
func (vm *VM) Run(name string) (Status, error) {
	if err := vm.Begin(name); err != nil {
		return vm.status, err
	}
	for vm.status == StatusActive {
		vm.Step()
	}
	return vm.status, nil
}

// TokenMemory exposes the token arena's backing bytes, per spec.md §6.3.
func (vm *VM) TokenMemory() []byte { return vm.arena.Bytes() }

// StackMemory exposes the live data stack, per spec.md §6.3.
func (vm *VM) StackMemory() []byte { return vm.stack }

// GlobalInt returns the current int value of a global named name.
func (vm *VM) GlobalInt(name string) (int64, bool) {
	v, ok := vm.globalValue(name)
	if !ok {
		return 0, false
	}
	return v.Int, true
}

// GlobalFloat returns the current float value of a global named name.
func (vm *VM) GlobalFloat(name string) (float64, bool) {
	v, ok := vm.globalValue(name)
	if !ok {
		return 0, false
	}
	return v.Float, true
}

// GlobalString reads a CHAR-array global as a NUL-terminated string.
func (vm *VM) GlobalString(name string) (string, bool) {
	vi := vm.findGlobal(name)
	if vi == -1 {
		return "", false
	}
	v := &vm.prog.Vars[vi]
	if v.Type != ir.Char || v.IsCallback() {
		return "", false
	}
	end := v.Offset + v.Length
	if end > len(vm.stack) {
		end = len(vm.stack)
	}
	raw := vm.stack[v.Offset:end]
	if i := strings.IndexByte(string(raw), 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), true
}

func (vm *VM) findGlobal(name string) int {
	for i := range vm.prog.Vars {
		v := &vm.prog.Vars[i]
		if v.Global && vm.arena.EqualString(v.Name, name) {
			return i
		}
	}
	return -1
}

func (vm *VM) globalValue(name string) (ir.Value, bool) {
	vi := vm.findGlobal(name)
	if vi == -1 {
		return ir.Value{}, false
	}
	s, st := vm.resolveVar(vi, 0)
	if st != StatusActive {
		return ir.Value{}, false
	}
	v, st := vm.readSlot(s)
	if st != StatusActive {
		return ir.Value{}, false
	}
	return v, true
}

// DebugTrace renders the call stack top-first, matching the shape of the
// crustyvm_debugtrace diagnostic named in spec.md §6.3: one line per frame
// with its depth and proc name. With full set, each frame also lists its
// arguments by name; no variable values are rendered in either mode.
func (vm *VM) DebugTrace(full bool) string {
	var b strings.Builder
	for i := len(vm.callStack) - 1; i >= 0; i-- {
		f := vm.callStack[i]
		proc := &vm.prog.Procs[f.ProcIndex]
		fmt.Fprintf(&b, "#%d %s\n", len(vm.callStack)-1-i, vm.arena.String(proc.Name))
		if !full {
			continue
		}
		for _, vi := range proc.VarIndexes {
			v := &vm.prog.Vars[vi]
			if !v.IsArgument() {
				continue
			}
			fmt.Fprintf(&b, "    %s\n", vm.arena.String(v.Name))
		}
	}
	return b.String()
}
