package machine

import (
	"math"

	"github.com/crustyvm/crustyvm/lang/compiler"
	"github.com/crustyvm/crustyvm/lang/ir"
)

// Step executes exactly one instruction, per spec.md §4.7.3. A step that
// fails leaves ip unmoved; the VM's status records the failure and Step
// becomes a no-op until Reset.
func (vm *VM) Step() Status {
	if vm.status != StatusActive {
		return vm.status
	}
	code := vm.prog.Code
	if vm.ip < 0 || vm.ip >= len(code) {
		vm.status = StatusInvalidInstruction
		return vm.status
	}

	op := compiler.Opcode(code[vm.ip])
	switch {
	case isArithmeticOp(op):
		vm.stepArithmetic(op)
	case op == compiler.OpMove:
		vm.stepMove()
	case op == compiler.OpCmp:
		vm.stepCmp()
	case op == compiler.OpJump:
		vm.stepJump(func() bool { return true })
	case op == compiler.OpJumpN:
		vm.stepJump(vm.condNonZero)
	case op == compiler.OpJumpZ:
		vm.stepJump(vm.condZero)
	case op == compiler.OpJumpL:
		vm.stepJump(vm.condNegative)
	case op == compiler.OpJumpG:
		vm.stepJump(vm.condPositive)
	case op == compiler.OpCall:
		vm.stepCall()
	case op == compiler.OpRet:
		vm.stepRet()
	default:
		vm.status = StatusInvalidInstruction
	}
	return vm.status
}

func isArithmeticOp(op compiler.Opcode) bool {
	switch op {
	case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpMod,
		compiler.OpAnd, compiler.OpOr, compiler.OpXor, compiler.OpShl, compiler.OpShr:
		return true
	default:
		return false
	}
}

// moveOperands reads the two resolved operands of a move-style instruction
// at vm.ip, returning the new ip on success.
func (vm *VM) moveOperands() (dst, src slot, next int, ok bool) {
	code := vm.prog.Code
	ds, st := vm.resolveOperand(code[vm.ip+1], code[vm.ip+2], code[vm.ip+3])
	if st != StatusActive {
		vm.status = st
		return slot{}, slot{}, 0, false
	}
	ss, st := vm.resolveOperand(code[vm.ip+4], code[vm.ip+5], code[vm.ip+6])
	if st != StatusActive {
		vm.status = st
		return slot{}, slot{}, 0, false
	}
	return ds, ss, vm.ip + 7, true
}

func (vm *VM) stepMove() {
	dst, src, next, ok := vm.moveOperands()
	if !ok {
		return
	}
	if !dst.immediate && dst.v.IsCallback() {
		if st := vm.moveToCallback(dst, src); st != StatusActive {
			vm.status = st
			return
		}
		vm.ip = next
		return
	}
	v, st := vm.readSlot(src)
	if st != StatusActive {
		vm.status = st
		return
	}
	if st := vm.writeSlot(dst, v); st != StatusActive {
		vm.status = st
		return
	}
	vm.ip = next
}

func (vm *VM) stepArithmetic(op compiler.Opcode) {
	dst, src, next, ok := vm.moveOperands()
	if !ok {
		return
	}
	a, st := vm.readSlot(dst)
	if st != StatusActive {
		vm.status = st
		return
	}
	b, st := vm.readSlot(src)
	if st != StatusActive {
		vm.status = st
		return
	}

	bitwise := op == compiler.OpAnd || op == compiler.OpOr || op == compiler.OpXor ||
		op == compiler.OpShl || op == compiler.OpShr
	if bitwise && (a.Type == ir.Float || b.Type == ir.Float) {
		vm.status = StatusInvalidInstruction
		return
	}

	var result ir.Value
	if !bitwise && (a.Type == ir.Float || b.Type == ir.Float) {
		af, bf := toFloat(a), toFloat(b)
		var r float64
		switch op {
		case compiler.OpAdd:
			r = af + bf
		case compiler.OpSub:
			r = af - bf
		case compiler.OpMul:
			r = af * bf
		case compiler.OpDiv:
			if bf == 0 {
				r = 0
			} else {
				r = af / bf
			}
		case compiler.OpMod:
			if bf == 0 {
				r = 0
			} else {
				r = math.Remainder(af, bf)
			}
		}
		result = ir.Value{Type: ir.Float, Float: r}
	} else {
		ai, bi := a.Int, b.Int
		var r int64
		switch op {
		case compiler.OpAdd:
			r = ai + bi
		case compiler.OpSub:
			r = ai - bi
		case compiler.OpMul:
			r = ai * bi
		case compiler.OpDiv:
			if bi == 0 {
				r = 0
			} else {
				r = ai / bi
			}
		case compiler.OpMod:
			if bi == 0 {
				r = 0
			} else {
				r = ai % bi
			}
		case compiler.OpAnd:
			r = ai & bi
		case compiler.OpOr:
			r = ai | bi
		case compiler.OpXor:
			r = ai ^ bi
		case compiler.OpShl:
			r = ai << shiftAmount(bi)
		case compiler.OpShr:
			r = ai >> shiftAmount(bi)
		}
		result = ir.Value{Type: ir.Int, Int: r}
	}

	if st := vm.writeSlot(dst, result); st != StatusActive {
		vm.status = st
		return
	}
	vm.ip = next
}

func shiftAmount(n int64) uint {
	if n < 0 {
		return 0
	}
	if n > 63 {
		return 63
	}
	return uint(n)
}

func toFloat(v ir.Value) float64 {
	if v.Type == ir.Float {
		return v.Float
	}
	return float64(v.Int)
}

// stepCmp computes dest - src into the result registers, per spec.md
// §4.7.3: cmp writes no memory, only vm.intResult/floatResult, consulted
// by the conditional jumps that follow it.
func (vm *VM) stepCmp() {
	code := vm.prog.Code
	ds, st := vm.resolveOperand(code[vm.ip+1], code[vm.ip+2], code[vm.ip+3])
	if st != StatusActive {
		vm.status = st
		return
	}
	ss, st := vm.resolveOperand(code[vm.ip+4], code[vm.ip+5], code[vm.ip+6])
	if st != StatusActive {
		vm.status = st
		return
	}
	a, st := vm.readSlot(ds)
	if st != StatusActive {
		vm.status = st
		return
	}
	b, st := vm.readSlot(ss)
	if st != StatusActive {
		vm.status = st
		return
	}
	if a.Type == ir.Float || b.Type == ir.Float {
		vm.resultFloat = true
		vm.floatResult = toFloat(a) - toFloat(b)
	} else {
		vm.resultFloat = false
		vm.intResult = a.Int - b.Int
	}
	vm.ip += 7
}

func (vm *VM) condNonZero() bool {
	if vm.resultFloat {
		return vm.floatResult != 0
	}
	return vm.intResult != 0
}
func (vm *VM) condZero() bool {
	if vm.resultFloat {
		return vm.floatResult == 0
	}
	return vm.intResult == 0
}
func (vm *VM) condNegative() bool {
	if vm.resultFloat {
		return vm.floatResult < 0
	}
	return vm.intResult < 0
}
func (vm *VM) condPositive() bool {
	if vm.resultFloat {
		return vm.floatResult > 0
	}
	return vm.intResult > 0
}

func (vm *VM) stepJump(c func() bool) {
	code := vm.prog.Code
	target := code[vm.ip+1]
	if !c() {
		vm.ip += 2
		return
	}
	if target == vm.ip {
		// jump-to-self terminates execution gracefully, per spec.md §4.7.3.
		vm.status = StatusReady
		return
	}
	vm.ip = target
}

// stepCall implements spec.md §4.7.4: build one stackArg per argument from
// the caller's frame, push the new frame and jump to the callee's entry.
func (vm *VM) stepCall() {
	code := vm.prog.Code
	calleeIdx := code[vm.ip+1]
	if calleeIdx < 0 || calleeIdx >= len(vm.prog.Procs) {
		vm.status = StatusInvalidInstruction
		return
	}
	proc := &vm.prog.Procs[calleeIdx]

	if len(vm.callStack) >= vm.maxCallDepth {
		vm.status = StatusStackOverflow
		return
	}
	newSP := vm.sp + proc.LocalStackSize
	if newSP > len(vm.stack) {
		vm.status = StatusStackOverflow
		return
	}

	args := make([]stackArg, proc.ArgsCount)
	for i := 0; i < proc.ArgsCount; i++ {
		base := vm.ip + 2 + i*3
		sa, st := vm.buildStackArg(code[base], code[base+1], code[base+2], newSP, i+1)
		if st != StatusActive {
			vm.status = st
			return
		}
		args[i] = sa
	}

	returnIP := vm.ip + 2 + proc.ArgsCount*3
	copy(vm.stack[vm.sp:newSP], proc.InitializerImage)
	for i, sa := range args {
		writeStackArg(vm.stack, argAddr(newSP, i+1), sa)
	}

	vm.callStack = append(vm.callStack, Frame{ProcIndex: calleeIdx, ReturnIP: returnIP, CallerSP: vm.sp})
	vm.sp = newSP
	vm.ip = proc.EntryInstructionIndex
}

// buildStackArg resolves a call argument operand against the CALLER's
// frame (still vm.sp at call time) into the flat record that will sit at
// the callee's argAddr(newSP, argNum). selfAddr is where that record's own
// val word will live, used for the immediate write-reroute case.
func (vm *VM) buildStackArg(flags, val, idx, newSP, argNum int) (stackArg, Status) {
	selfVal := argAddr(newSP, argNum) + 4

	switch flagsKind(flags) {
	case kindImmediate:
		return stackArg{flags: int32(makeFlags(kindImmediate, indexImmediate)), val: int32(val), ptr: int32(selfVal)}, StatusActive
	case kindLength:
		n, st := vm.lengthOf(val)
		if st != StatusActive {
			return stackArg{}, st
		}
		return stackArg{flags: int32(makeFlags(kindImmediate, indexImmediate)), val: int32(n), ptr: int32(selfVal)}, StatusActive
	}

	elemIdx := idx
	if flagsIndexKind(flags) == indexVar {
		idxSlot, st := vm.resolveOperand(makeFlags(kindVar, indexImmediate), idx, 0)
		if st != StatusActive {
			return stackArg{}, st
		}
		v, st := vm.readSlot(idxSlot)
		if st != StatusActive {
			return stackArg{}, st
		}
		if v.Type == ir.Float {
			return stackArg{}, StatusFloatIndex
		}
		elemIdx = int(v.Int)
	}

	underlying := &vm.prog.Vars[val]
	if underlying.IsArgument() {
		callerArg := readStackArg(vm.stack, argAddr(vm.sp, underlying.Offset))
		if flagsKind(int(callerArg.flags)) == kindImmediate {
			return stackArg{flags: int32(makeFlags(kindImmediate, indexImmediate)), val: callerArg.val, ptr: int32(selfVal)}, StatusActive
		}
		return stackArg{
			flags: int32(makeFlags(kindVar, indexImmediate)),
			val:   callerArg.val,
			index: callerArg.index + int32(elemIdx),
			ptr:   callerArg.ptr,
		}, StatusActive
	}

	base := underlying.Offset
	if !underlying.Global {
		base = vm.sp - underlying.Offset
	}
	return stackArg{
		flags: int32(makeFlags(kindVar, indexImmediate)),
		val:   int32(val),
		index: int32(elemIdx),
		ptr:   int32(base),
	}, StatusActive
}

// stepRet implements spec.md §4.7.4's frame teardown: pop the call stack
// and resume the caller, or transition to Ready if the outermost frame
// just returned.
func (vm *VM) stepRet() {
	if len(vm.callStack) == 0 {
		vm.status = StatusInternalError
		return
	}
	f := vm.callStack[len(vm.callStack)-1]
	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	vm.sp = f.CallerSP
	if f.ReturnIP < 0 {
		vm.status = StatusReady
		return
	}
	vm.ip = f.ReturnIP
}
