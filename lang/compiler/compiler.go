// Package compiler implements code generation and the two-pass verifier
// described in spec.md §4.6 and §4.8: it lowers the resolver's procedures,
// variables and instruction lines into a flat bytecode stream, resolves
// jump and call targets, and walks the result once to reject malformed
// operands before it ever reaches the interpreter.
package compiler

import (
	"strconv"
	"strings"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/ir"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/resolver"
	"github.com/crustyvm/crustyvm/lang/token"
	"github.com/samber/lo"
)

// Program is a fully compiled, verified bytecode module.
type Program struct {
	Code              []int
	Procs             []ir.Proc
	Vars              []ir.Variable
	GlobalsBytes      int
	InitialStackImage []byte
}

// FindProc returns the index of the proc named name, or -1.
func (p *Program) FindProc(a *arena.Arena, name string) int {
	for i := range p.Procs {
		if a.EqualString(p.Procs[i].Name, name) {
			return i
		}
	}
	return -1
}

type jumpFixup struct {
	codeIndex int
	line      int
}

type compiler struct {
	arena   *arena.Arena
	res     *resolver.Result
	code    []int
	errs    token.ErrorList
	procIdx map[string]int
	global  map[string]int
	// lineInstr[i] is the absolute instruction index that line i of
	// res.Lines compiles to; filled as each line is emitted.
	lineInstr []int
	fixups    []jumpFixup
}

// Compile lowers a symbol-scan Result into a verified Program.
func Compile(a *arena.Arena, res *resolver.Result) (*Program, error) {
	c := &compiler{
		arena:     a,
		res:       res,
		procIdx:   map[string]int{},
		global:    map[string]int{},
		lineInstr: make([]int, len(res.Lines)),
	}
	for i := range res.Procs {
		c.procIdx[a.String(res.Procs[i].Name)] = i
	}
	for i := range res.Vars {
		if res.Vars[i].Global {
			c.global[a.String(res.Vars[i].Name)] = i
		}
	}

	// group line indexes by owning proc, in order, to emit proc-contiguous
	// code (so jump/label resolution and the "jumps stay in their own
	// proc" verifier rule hold trivially).
	byProc := make([][]int, len(res.Procs))
	for li, pi := range res.LineProc {
		byProc[pi] = append(byProc[pi], li)
	}

	for pi := range res.Procs {
		res.Procs[pi].EntryInstructionIndex = len(c.code)
		local := c.localScope(pi)
		for _, li := range byProc[pi] {
			c.lineInstr[li] = len(c.code)
			res.Lines[li].InstrIndex = len(c.code)
			if err := c.emitLine(pi, local, res.Lines[li]); err != nil {
				return nil, err
			}
		}
	}

	lo.ForEach(c.fixups, func(fx jumpFixup, _ int) {
		c.code[fx.codeIndex] = c.lineInstr[fx.line]
	})
	for pi := range res.Procs {
		for li := range res.Procs[pi].Labels {
			bound := res.Procs[pi].Labels[li].BoundLine
			if bound < len(c.lineInstr) {
				res.Procs[pi].Labels[li].InstructionIndex = c.lineInstr[bound]
			} else {
				res.Procs[pi].Labels[li].InstructionIndex = len(c.code)
			}
		}
	}

	if err := c.errs.Err(); err != nil {
		return nil, err
	}

	prog := &Program{
		Code:              c.code,
		Procs:             res.Procs,
		Vars:              res.Vars,
		GlobalsBytes:      res.GlobalsBytes,
		InitialStackImage: res.InitialStackImage,
	}
	if err := verifySymbols(a, prog); err != nil {
		return nil, err
	}
	if err := verifyCode(a, prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// localScope builds a name -> variable-index map for proc pi, covering its
// arguments and locals, so a bare identifier resolves there before falling
// back to globals (spec.md §9: "globals named like arguments ... argument
// lookup within a proc shadows globals").
func (c *compiler) localScope(pi int) map[string]int {
	m := map[string]int{}
	for _, vi := range c.res.Procs[pi].VarIndexes {
		m[c.arena.String(c.res.Vars[vi].Name)] = vi
	}
	return m
}

func (c *compiler) lookupVar(local map[string]int, name string) (int, bool) {
	if vi, ok := local[name]; ok {
		return vi, true
	}
	if vi, ok := c.global[name]; ok {
		return vi, true
	}
	return 0, false
}

type operand struct {
	flags int
	val   int
	idx   int
}

// parseOperand implements the operand grammar of spec.md §4.6: a literal
// integer, `NAME`, `NAME:` (length), `NAME:K` (literal index) or
// `NAME:OTHER` (variable index).
func (c *compiler) parseOperand(local map[string]int, pos token.Position, text string) (operand, error) {
	if n, err := strconv.ParseInt(text, 10, 32); err == nil {
		return operand{flags: makeFlags(KindImmediate, IndexImmediate), val: int(n)}, nil
	}

	name, rest, hasColon := strings.Cut(text, ":")
	vi, ok := c.lookupVar(local, name)
	if !ok {
		return operand{}, c.errorf(pos, "undefined variable %q", name)
	}
	if !hasColon {
		return operand{flags: makeFlags(KindVar, IndexImmediate), val: vi, idx: 0}, nil
	}
	if rest == "" {
		return operand{flags: makeFlags(KindLength, IndexImmediate), val: vi}, nil
	}
	if n, err := strconv.ParseInt(rest, 10, 32); err == nil {
		v := c.res.Vars[vi]
		if v.Length > 0 && (int(n) < 0 || int(n) >= v.Length) {
			return operand{}, c.errorf(pos, "index %d out of range for %q (length %d)", n, name, v.Length)
		}
		return operand{flags: makeFlags(KindVar, IndexImmediate), val: vi, idx: int(n)}, nil
	}
	ivi, ok := c.lookupVar(local, rest)
	if !ok {
		return operand{}, c.errorf(pos, "undefined index variable %q", rest)
	}
	return operand{flags: makeFlags(KindVar, IndexVar), val: vi, idx: ivi}, nil
}

func (c *compiler) errorf(pos token.Position, format string, args ...any) error {
	c.errs.Addf(pos, format, args...)
	return c.errs.Err()
}

func (c *compiler) emitOperand(op operand) {
	c.code = append(c.code, op.flags, op.val, op.idx)
}

// emitLine compiles one instruction line, already known to belong to proc
// pi and to use local for its variable scope.
func (c *compiler) emitLine(pi int, local map[string]int, l lexer.Line) error {
	name := c.arena.String(l.Tokens[0])
	op, ok := opcodeByName(name)
	if !ok {
		return c.errorf(l.Pos(0), "unknown instruction %q", name)
	}

	switch {
	case isMoveStyle(op):
		return c.emitMoveStyle(op, local, l)
	case op == OpJump, op == OpJumpN, op == OpJumpZ, op == OpJumpL, op == OpJumpG:
		return c.emitJump(op, pi, l)
	case op == OpCall:
		return c.emitCall(local, l)
	case op == OpRet:
		c.code = append(c.code, int(OpRet))
		return nil
	default:
		return c.errorf(l.Pos(0), "unsupported opcode %q", name)
	}
}

func (c *compiler) emitMoveStyle(op Opcode, local map[string]int, l lexer.Line) error {
	if len(l.Tokens) < 2 {
		return c.errorf(l.Pos(0), "%s requires at least one operand", op)
	}
	destText := c.arena.String(l.Tokens[1])
	dest, err := c.parseOperand(local, l.Pos(1), destText)
	if err != nil {
		return err
	}

	var src operand
	if op == OpCmp && len(l.Tokens) == 2 {
		src = operand{flags: makeFlags(KindImmediate, IndexImmediate), val: 0}
	} else {
		if len(l.Tokens) < 3 {
			return c.errorf(l.Pos(0), "%s requires two operands", op)
		}
		srcText := c.arena.String(l.Tokens[2])
		src, err = c.parseOperand(local, l.Pos(2), srcText)
		if err != nil {
			return err
		}
	}

	if op != OpCmp {
		if kd := flagsKind(dest.flags); kd == KindImmediate || kd == KindLength {
			return c.errorf(l.Pos(1), "%s: destination %q may not be an immediate or a length", op, destText)
		}
		if v := c.res.Vars[dest.val]; !v.Writable() {
			return c.errorf(l.Pos(1), "%s: destination %q is not writable", op, destText)
		}
	} else {
		if kd := flagsKind(dest.flags); kd == KindVar {
			if v := c.res.Vars[dest.val]; !v.Readable() {
				return c.errorf(l.Pos(1), "cmp: operand %q is not readable", destText)
			}
		}
	}
	if kd := flagsKind(src.flags); kd == KindVar {
		if v := c.res.Vars[src.val]; !v.Readable() {
			return c.errorf(l.Pos(2), "%s: source is not readable", op)
		}
	}

	c.code = append(c.code, int(op))
	c.emitOperand(dest)
	c.emitOperand(src)
	return nil
}

func (c *compiler) emitJump(op Opcode, pi int, l lexer.Line) error {
	if len(l.Tokens) < 2 {
		return c.errorf(l.Pos(0), "%s requires a target label", op)
	}
	target := c.arena.String(l.Tokens[1])
	li := c.res.Procs[pi].FindLabel(c.arena, target)
	if li == -1 {
		return c.errorf(l.Pos(1), "undefined label %q", target)
	}
	c.code = append(c.code, int(op), 0)
	c.fixups = append(c.fixups, jumpFixup{codeIndex: len(c.code) - 1, line: c.res.Procs[pi].Labels[li].BoundLine})
	return nil
}

func (c *compiler) emitCall(local map[string]int, l lexer.Line) error {
	if len(l.Tokens) < 2 {
		return c.errorf(l.Pos(0), "call requires a procedure name")
	}
	name := c.arena.String(l.Tokens[1])
	callee, ok := c.procIdx[name]
	if !ok {
		return c.errorf(l.Pos(1), "call to undefined procedure %q", name)
	}
	args := l.Tokens[2:]
	if len(args) != c.res.Procs[callee].ArgsCount {
		return c.errorf(l.Pos(0), "call to %q expects %d argument(s), got %d", name, c.res.Procs[callee].ArgsCount, len(args))
	}
	c.code = append(c.code, int(OpCall), callee)
	for i, h := range args {
		text := c.arena.String(h)
		op, err := c.parseOperand(local, l.Pos(2+i), text)
		if err != nil {
			return err
		}
		c.emitOperand(op)
	}
	return nil
}
