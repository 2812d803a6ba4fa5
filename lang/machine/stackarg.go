package machine

import "encoding/binary"

// stackArg is the runtime image of spec.md §3.7's StackArg record: four
// 4-byte words written into the argument slab at the top of a callee's
// frame, above its locals.
// flags reuses the compiler's operand-kind encoding (KindImmediate or
// KindVar, packed the same way a move-style operand is). For a VAR
// binding, val holds the bound variable's index, ptr its resolved
// absolute byte address in the stack, and index its resolved element
// offset. For an IMMEDIATE binding, val holds the bound int32 value and
// ptr holds the address of this record's own val word, so a callee write
// to an immediate-bound argument has somewhere to go without reaching
// into the caller's storage.
type stackArg struct {
	flags int32
	val   int32
	index int32
	ptr   int32
}

func readStackArg(stack []byte, addr int) stackArg {
	return stackArg{
		flags: int32(binary.LittleEndian.Uint32(stack[addr:])),
		val:   int32(binary.LittleEndian.Uint32(stack[addr+4:])),
		index: int32(binary.LittleEndian.Uint32(stack[addr+8:])),
		ptr:   int32(binary.LittleEndian.Uint32(stack[addr+12:])),
	}
}

func writeStackArg(stack []byte, addr int, sa stackArg) {
	binary.LittleEndian.PutUint32(stack[addr:], uint32(sa.flags))
	binary.LittleEndian.PutUint32(stack[addr+4:], uint32(sa.val))
	binary.LittleEndian.PutUint32(stack[addr+8:], uint32(sa.index))
	binary.LittleEndian.PutUint32(stack[addr+12:], uint32(sa.ptr))
}

// argAddr returns the absolute byte address of argument i (1-based) within
// the frame whose top-of-frame pointer is sp, per spec.md §3.7: "argument
// descriptors live at sp - i*16".
func argAddr(sp, i int) int { return sp - i*16 }
