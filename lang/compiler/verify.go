package compiler

import (
	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/token"
)

// verifySymbols implements the "symbols verify" pass of spec.md §4.8: every
// global and every local must fit within its owning region without
// overlapping a sibling.
func verifySymbols(a *arena.Arena, p *Program) error {
	var errs token.ErrorList

	type span struct{ start, end int }
	var globals []span
	for i := range p.Vars {
		v := &p.Vars[i]
		if !v.Global || v.IsCallback() {
			continue
		}
		size := v.Length * v.Type.ElemSize()
		if v.Offset < 0 || v.Offset+size > p.GlobalsBytes {
			errs.Addf(token.Position{}, "global %q: offset %d size %d exceeds globals region %d",
				a.String(v.Name), v.Offset, size, p.GlobalsBytes)
			continue
		}
		for _, g := range globals {
			if v.Offset < g.end && g.start < v.Offset+size {
				errs.Addf(token.Position{}, "global %q overlaps another global", a.String(v.Name))
			}
		}
		globals = append(globals, span{v.Offset, v.Offset + size})
	}

	byProc := make(map[int][]int)
	for i := range p.Vars {
		v := &p.Vars[i]
		if v.Global || v.IsCallback() {
			continue
		}
		byProc[v.Proc] = append(byProc[v.Proc], i)
	}
	for pi, proc := range p.Procs {
		var locals []span
		for _, vi := range byProc[pi] {
			v := &p.Vars[vi]
			if v.IsArgument() {
				if v.Offset < 1 || v.Offset > proc.ArgsCount {
					errs.Addf(token.Position{}, "argument %q: offset %d out of argument slab", a.String(v.Name), v.Offset)
				}
				continue
			}
			size := v.Length * v.Type.ElemSize()
			start := proc.LocalStackSize - v.Offset
			if start < 0 || v.Offset > proc.LocalStackSize {
				errs.Addf(token.Position{}, "local %q: offset %d exceeds frame size %d", a.String(v.Name), v.Offset, proc.LocalStackSize)
				continue
			}
			for _, l := range locals {
				if start < l.end && l.start < start+size {
					errs.Addf(token.Position{}, "local %q overlaps another local in proc %q", a.String(v.Name), a.String(proc.Name))
				}
			}
			locals = append(locals, span{start, start + size})
		}
	}

	return errs.Err()
}

// verifyCode implements the "code verify" pass of spec.md §4.8: walk the
// instruction stream once and reject malformed operands, bad references,
// and jumps that escape their enclosing proc or land mid-instruction.
func verifyCode(a *arena.Arena, p *Program) error {
	var errs token.ErrorList

	checkVar := func(vi int) bool { return vi >= 0 && vi < len(p.Vars) }

	// Pre-scan every proc's instruction stream to record where each real
	// instruction begins, so jump targets can be checked against actual
	// instruction boundaries below, not just proc containment.
	instrStart := make([]bool, len(p.Code)+1)
	for pi, proc := range p.Procs {
		end := len(p.Code)
		if pi+1 < len(p.Procs) {
			end = p.Procs[pi+1].EntryInstructionIndex
		}
		for pc := proc.EntryInstructionIndex; pc < end && pc < len(p.Code); {
			instrStart[pc] = true
			n := instrWordLen(p, pc)
			if n <= 0 {
				break
			}
			pc += n
		}
	}

	pc := 0
	for pi, proc := range p.Procs {
		end := len(p.Code)
		if pi+1 < len(p.Procs) {
			end = p.Procs[pi+1].EntryInstructionIndex
		}
		pc = proc.EntryInstructionIndex
		for pc < end {
			instrStart[pc] = true
			if pc >= len(p.Code) {
				errs.Addf(token.Position{}, "proc %q: truncated instruction stream", a.String(proc.Name))
				break
			}
			op := Opcode(p.Code[pc])
			switch {
			case isMoveStyle(op):
				if pc+6 >= len(p.Code) {
					errs.Addf(token.Position{}, "proc %q: truncated operands at %d", a.String(proc.Name), pc)
					pc = end
					continue
				}
				checkOperand(&errs, p, checkVar, p.Code[pc+1], p.Code[pc+2], p.Code[pc+3], true)
				checkOperand(&errs, p, checkVar, p.Code[pc+4], p.Code[pc+5], p.Code[pc+6], false)
				pc += 7
			case op == OpJump, op == OpJumpN, op == OpJumpZ, op == OpJumpL, op == OpJumpG:
				if pc+1 >= len(p.Code) {
					errs.Addf(token.Position{}, "proc %q: truncated jump at %d", a.String(proc.Name), pc)
					pc = end
					continue
				}
				target := p.Code[pc+1]
				if target < proc.EntryInstructionIndex || target >= end {
					errs.Addf(token.Position{}, "proc %q: jump target %d leaves the enclosing proc", a.String(proc.Name), target)
				} else if target >= len(instrStart) || !instrStart[target] {
					errs.Addf(token.Position{}, "proc %q: jump target %d does not land on the start of an instruction", a.String(proc.Name), target)
				}
				pc += 2
			case op == OpCall:
				if pc+1 >= len(p.Code) {
					errs.Addf(token.Position{}, "proc %q: truncated call at %d", a.String(proc.Name), pc)
					pc = end
					continue
				}
				callee := p.Code[pc+1]
				if callee < 0 || callee >= len(p.Procs) {
					errs.Addf(token.Position{}, "proc %q: call to invalid proc index %d", a.String(proc.Name), callee)
					pc = end
					continue
				}
				argc := p.Procs[callee].ArgsCount
				if pc+2+argc*3 > len(p.Code) {
					errs.Addf(token.Position{}, "proc %q: truncated call operands", a.String(proc.Name))
					pc = end
					continue
				}
				for i := 0; i < argc; i++ {
					base := pc + 2 + i*3
					checkOperand(&errs, p, checkVar, p.Code[base], p.Code[base+1], p.Code[base+2], false)
				}
				pc += 2 + argc*3
			case op == OpRet:
				pc++
			default:
				errs.Addf(token.Position{}, "proc %q: invalid opcode word %d at %d", a.String(proc.Name), p.Code[pc], pc)
				pc = end
			}
		}
	}

	return errs.Err()
}

// instrWordLen returns the number of code words occupied by the instruction
// at pc, used only to walk the stream during the instruction-boundary
// pre-scan. It tolerates truncated or malformed streams by returning a
// conservative length; verifyCode's main walk is what actually rejects them.
func instrWordLen(p *Program, pc int) int {
	op := Opcode(p.Code[pc])
	switch {
	case isMoveStyle(op):
		return 7
	case op == OpJump, op == OpJumpN, op == OpJumpZ, op == OpJumpL, op == OpJumpG:
		return 2
	case op == OpCall:
		if pc+1 >= len(p.Code) {
			return 2
		}
		callee := p.Code[pc+1]
		if callee < 0 || callee >= len(p.Procs) {
			return 2
		}
		return 2 + p.Procs[callee].ArgsCount*3
	case op == OpRet:
		return 1
	default:
		return 1
	}
}

func checkOperand(errs *token.ErrorList, p *Program, checkVar func(int) bool, flags, val, idx int, isDest bool) {
	kind := flagsKind(flags)
	switch kind {
	case KindImmediate:
		if isDest {
			errs.Addf(token.Position{}, "destination operand may not be immediate")
		}
		return
	case KindLength, KindVar:
		if !checkVar(val) {
			errs.Addf(token.Position{}, "operand references unknown variable index %d", val)
			return
		}
		v := &p.Vars[val]
		if isDest && !v.Writable() {
			errs.Addf(token.Position{}, "destination variable is not writable")
		}
		if !isDest && !v.Readable() {
			errs.Addf(token.Position{}, "source variable is not readable")
		}
		if kind == KindVar && flagsIndexKind(flags) == IndexImmediate && v.Length > 1 {
			if idx < 0 || idx >= v.Length {
				errs.Addf(token.Position{}, "immediate index %d out of range (length %d)", idx, v.Length)
			}
		}
		if flagsIndexKind(flags) == IndexVar && !checkVar(idx) {
			errs.Addf(token.Position{}, "index operand references unknown variable index %d", idx)
		}
	default:
		errs.Addf(token.Position{}, "operand has invalid flags %d", flags)
	}
}
