package machine

import (
	"encoding/binary"
	"math"

	"github.com/crustyvm/crustyvm/lang/ir"
)

// readSlot implements the read side of spec.md §4.7.2.
func (vm *VM) readSlot(s slot) (ir.Value, Status) {
	if s.immediate {
		return ir.Value{Type: ir.Int, Int: s.immVal}, StatusActive
	}
	v := s.v
	if v.IsCallback() {
		if v.ReadCB == nil {
			return ir.Value{}, StatusCallbackFailed
		}
		out, err := v.ReadCB(v.ReadPriv, s.index)
		if err != nil {
			return ir.Value{}, StatusCallbackFailed
		}
		return out, StatusActive
	}
	switch v.Type {
	case ir.Int:
		addr := s.ptr + s.index*4
		if addr < 0 || addr+4 > len(vm.stack) {
			return ir.Value{}, StatusOutOfRange
		}
		n := int32(binary.LittleEndian.Uint32(vm.stack[addr:]))
		return ir.Value{Type: ir.Int, Int: int64(n)}, StatusActive
	case ir.Float:
		addr := s.ptr + s.index*8
		if addr < 0 || addr+8 > len(vm.stack) {
			return ir.Value{}, StatusOutOfRange
		}
		bits := binary.LittleEndian.Uint64(vm.stack[addr:])
		return ir.Value{Type: ir.Float, Float: math.Float64frombits(bits)}, StatusActive
	case ir.Char:
		addr := s.ptr + s.index
		if addr < 0 || addr >= len(vm.stack) {
			return ir.Value{}, StatusOutOfRange
		}
		return ir.Value{Type: ir.Char, Int: int64(vm.stack[addr])}, StatusActive
	default:
		return ir.Value{}, StatusInternalError
	}
}

// coerce converts v to the storage shape of destType, per spec.md §4.7.3's
// arithmetic coercion rule: mixed int/float operations promote the int
// side to float64; a write back into an int or char destination truncates.
func coerce(v ir.Value, destType ir.Type) ir.Value {
	switch destType {
	case ir.Float:
		if v.Type == ir.Float {
			return v
		}
		return ir.Value{Type: ir.Float, Float: float64(v.Int)}
	default: // Int or Char
		if v.Type == ir.Float {
			return ir.Value{Type: destType, Int: int64(v.Float)}
		}
		return ir.Value{Type: destType, Int: v.Int}
	}
}

// writeSlot implements the write side of spec.md §4.7.2.
func (vm *VM) writeSlot(s slot, v ir.Value) Status {
	if s.immediate {
		if s.immWriteTo < 0 {
			return StatusInternalError
		}
		if s.immWriteTo+4 > len(vm.stack) {
			return StatusOutOfRange
		}
		binary.LittleEndian.PutUint32(vm.stack[s.immWriteTo:], uint32(int32(v.Int)))
		return StatusActive
	}
	vr := s.v
	if vr.IsCallback() {
		if vr.WriteCB == nil {
			return StatusCallbackFailed
		}
		data := encodeScalar(v, vr.Type)
		if err := vr.WriteCB(vr.WritePriv, vr.Type, data, s.index); err != nil {
			return StatusCallbackFailed
		}
		return StatusActive
	}
	cv := coerce(v, vr.Type)
	switch vr.Type {
	case ir.Int:
		addr := s.ptr + s.index*4
		if addr < 0 || addr+4 > len(vm.stack) {
			return StatusOutOfRange
		}
		binary.LittleEndian.PutUint32(vm.stack[addr:], uint32(int32(cv.Int)))
	case ir.Float:
		addr := s.ptr + s.index*8
		if addr < 0 || addr+8 > len(vm.stack) {
			return StatusOutOfRange
		}
		binary.LittleEndian.PutUint64(vm.stack[addr:], math.Float64bits(cv.Float))
	case ir.Char:
		addr := s.ptr + s.index
		if addr < 0 || addr >= len(vm.stack) {
			return StatusOutOfRange
		}
		vm.stack[addr] = byte(cv.Int)
	default:
		return StatusInternalError
	}
	return StatusActive
}

// moveToCallback implements the original crustyvm_step MOVE case's
// callback-destination branch: a callback may only ever be a move
// destination (arithmetic results can't be routed to it). A source backed
// by plain stack memory hands the callback the whole remaining run of
// elements from its resolved index onward in one call, the same elem_count
// = src->length - srcindex contract the original write() callback uses; a
// callback or immediate source hands over exactly one element.
func (vm *VM) moveToCallback(dst, src slot) Status {
	d := dst.v
	if d.WriteCB == nil {
		return StatusCallbackFailed
	}
	if src.immediate {
		data := encodeScalar(ir.Value{Type: ir.Int, Int: src.immVal}, ir.Int)
		if err := d.WriteCB(d.WritePriv, ir.Int, data, dst.index); err != nil {
			return StatusCallbackFailed
		}
		return StatusActive
	}
	sv := src.v
	if sv.IsCallback() {
		v, st := vm.readSlot(src)
		if st != StatusActive {
			return st
		}
		elemType := ir.Int
		if v.Type == ir.Float {
			elemType = ir.Float
		}
		data := encodeScalar(v, elemType)
		if err := d.WriteCB(d.WritePriv, elemType, data, dst.index); err != nil {
			return StatusCallbackFailed
		}
		return StatusActive
	}

	count := sv.Length - src.index
	if count < 1 {
		count = 1
	}
	elemSize := sv.Type.ElemSize()
	addr := src.ptr + src.index*elemSize
	end := addr + count*elemSize
	if addr < 0 || end > len(vm.stack) {
		return StatusOutOfRange
	}
	if err := d.WriteCB(d.WritePriv, sv.Type, vm.stack[addr:end], dst.index); err != nil {
		return StatusCallbackFailed
	}
	return StatusActive
}

func encodeScalar(v ir.Value, t ir.Type) []byte {
	cv := coerce(v, t)
	switch t {
	case ir.Float:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(cv.Float))
		return b
	case ir.Char:
		return []byte{byte(cv.Int)}
	default:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(cv.Int)))
		return b
	}
}
