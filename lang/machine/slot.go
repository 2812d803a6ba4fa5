package machine

import "github.com/crustyvm/crustyvm/lang/ir"

// slot is the outcome of resolving an operand per spec.md §4.7.1: either a
// bare immediate value, or a variable plus a fully-resolved element index,
// ready for the read/write primitives of §4.7.2. Resolution collapses at
// most one level of argument indirection, matching the compiler's
// guarantee that an argument's bound descriptor is never itself another
// argument reference once a call frame is built.
type slot struct {
	immediate   bool
	immVal      int64
	immWriteTo  int // absolute address to reroute a write to an immediate-bound argument; -1 if none
	v           *ir.Variable
	ptr         int // absolute base address in vm.stack, meaningless for callback variables
	index       int
}

// resolveOperand resolves a move-style operand (flags, val, idx) against
// the currently active frame.
func (vm *VM) resolveOperand(flags, val, idx int) (slot, Status) {
	switch flagsKind(flags) {
	case kindImmediate:
		return slot{immediate: true, immVal: int64(val), immWriteTo: -1}, StatusActive
	case kindLength:
		n, st := vm.lengthOf(val)
		if st != StatusActive {
			return slot{}, st
		}
		return slot{immediate: true, immVal: int64(n), immWriteTo: -1}, StatusActive
	}

	elemIdx := idx
	if flagsIndexKind(flags) == indexVar {
		idxSlot, st := vm.resolveOperand(makeFlags(kindVar, indexImmediate), idx, 0)
		if st != StatusActive {
			return slot{}, st
		}
		v, st := vm.readSlot(idxSlot)
		if st != StatusActive {
			return slot{}, st
		}
		if v.Type == ir.Float {
			return slot{}, StatusFloatIndex
		}
		elemIdx = int(v.Int)
	}
	return vm.resolveVar(val, elemIdx)
}

// resolveVar resolves a bare reference to variable index vi at element
// elemIdx, collapsing one level of argument binding if vi is itself an
// argument of the active proc.
func (vm *VM) resolveVar(vi, elemIdx int) (slot, Status) {
	v := &vm.prog.Vars[vi]
	if v.IsArgument() {
		sa := readStackArg(vm.stack, argAddr(vm.sp, v.Offset))
		if flagsKind(int(sa.flags)) == kindImmediate {
			if elemIdx != 0 {
				return slot{}, StatusOutOfRange
			}
			return slot{immediate: true, immVal: int64(sa.val), immWriteTo: int(sa.ptr)}, StatusActive
		}
		underlying := &vm.prog.Vars[sa.val]
		effIdx := int(sa.index) + elemIdx
		if elemIdx < 0 || (underlying.Length > 1 && effIdx >= underlying.Length) {
			return slot{}, StatusOutOfRange
		}
		return slot{v: underlying, ptr: int(sa.ptr), index: effIdx, immWriteTo: -1}, StatusActive
	}

	if elemIdx < 0 || (v.Length > 1 && elemIdx >= v.Length) {
		return slot{}, StatusOutOfRange
	}
	if v.IsCallback() {
		return slot{v: v, index: elemIdx, immWriteTo: -1}, StatusActive
	}
	base := v.Offset
	if !v.Global {
		base = vm.sp - v.Offset
	}
	return slot{v: v, ptr: base, index: elemIdx, immWriteTo: -1}, StatusActive
}

// lengthOf computes the LENGTH operand's value for variable index vi,
// collapsing argument binding per spec.md §4.7.1: an argument bound to a
// VAR descriptor reports the remaining length from its bound index, an
// argument bound to an IMMEDIATE reports length 1.
func (vm *VM) lengthOf(vi int) (int, Status) {
	v := &vm.prog.Vars[vi]
	if v.IsArgument() {
		sa := readStackArg(vm.stack, argAddr(vm.sp, v.Offset))
		if flagsKind(int(sa.flags)) == kindImmediate {
			return 1, StatusActive
		}
		underlying := &vm.prog.Vars[sa.val]
		n := underlying.Length - int(sa.index)
		if n < 0 {
			n = 0
		}
		return n, StatusActive
	}
	if v.Length == 0 {
		return 1, StatusActive
	}
	return v.Length, StatusActive
}
