package compiler

import (
	"fmt"
	"strings"

	"github.com/crustyvm/crustyvm/lang/arena"
)

// Dasm renders a compiled Program as a human-readable pseudo-assembly
// listing, one instruction per line, in the shape of the `OUTPUT_PASSES`
// diagnostic dumps mentioned in spec.md §6.4. The format is diagnostic
// only; it is not fed back into the compiler.
func Dasm(a *arena.Arena, p *Program) string {
	var b strings.Builder
	for pi, proc := range p.Procs {
		fmt.Fprintf(&b, "proc %s\n", a.String(proc.Name))
		end := len(p.Code)
		if pi+1 < len(p.Procs) {
			end = p.Procs[pi+1].EntryInstructionIndex
		}
		pc := proc.EntryInstructionIndex
		for pc < end {
			op := Opcode(p.Code[pc])
			switch {
			case isMoveStyle(op):
				fmt.Fprintf(&b, "  %04d %-6s %s %s\n", pc, op,
					dasmOperand(a, p, p.Code[pc+1], p.Code[pc+2], p.Code[pc+3]),
					dasmOperand(a, p, p.Code[pc+4], p.Code[pc+5], p.Code[pc+6]))
				pc += 7
			case op == OpJump, op == OpJumpN, op == OpJumpZ, op == OpJumpL, op == OpJumpG:
				fmt.Fprintf(&b, "  %04d %-6s %d\n", pc, op, p.Code[pc+1])
				pc += 2
			case op == OpCall:
				argc := p.Procs[p.Code[pc+1]].ArgsCount
				var args []string
				for i := 0; i < argc; i++ {
					base := pc + 2 + i*3
					args = append(args, dasmOperand(a, p, p.Code[base], p.Code[base+1], p.Code[base+2]))
				}
				fmt.Fprintf(&b, "  %04d %-6s %s %s\n", pc, op, a.String(p.Procs[p.Code[pc+1]].Name), strings.Join(args, " "))
				pc += 2 + argc*3
			case op == OpRet:
				fmt.Fprintf(&b, "  %04d %-6s\n", pc, op)
				pc++
			default:
				fmt.Fprintf(&b, "  %04d ??? (%d)\n", pc, p.Code[pc])
				pc++
			}
		}
	}
	return b.String()
}

func dasmOperand(a *arena.Arena, p *Program, flags, val, idx int) string {
	switch flagsKind(flags) {
	case KindImmediate:
		return fmt.Sprintf("%d", val)
	case KindLength:
		return fmt.Sprintf("%s:", a.String(p.Vars[val].Name))
	case KindVar:
		name := a.String(p.Vars[val].Name)
		if flagsIndexKind(flags) == IndexVar {
			return fmt.Sprintf("%s:%s", name, a.String(p.Vars[idx].Name))
		}
		if idx == 0 {
			return name
		}
		return fmt.Sprintf("%s:%d", name, idx)
	default:
		return "?"
	}
}
