// Package ir holds the symbol-table types shared between the symbol
// resolver (spec.md §4.5), the code generator, and the verifier (§4.8):
// Variable, Proc and Label. Keeping them in their own package lets both
// sides of the resolver/compiler boundary refer to the same definitions
// without an import cycle.
package ir

import "github.com/crustyvm/crustyvm/lang/arena"

// Type is a runtime value type, per spec.md §3.3.
type Type int

const (
	None Type = iota
	Char
	Int
	Float
)

func (t Type) String() string {
	switch t {
	case Char:
		return "char"
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return "none"
	}
}

// ElemSize returns the storage size in bytes of one element of t, per the
// alignment rules of spec.md §3.7 (INT=4, FLOAT=8, CHAR=1).
func (t Type) ElemSize() int {
	switch t {
	case Int:
		return 4
	case Float:
		return 8
	case Char:
		return 1
	default:
		return 0
	}
}

// ReadCallback is invoked to satisfy a read of a callback Variable. It
// writes the read value into out (by its natural type) and returns an
// error on failure, matching spec.md §6.2.
type ReadCallback func(priv any, index int) (out Value, err error)

// WriteCallback is invoked to satisfy a write to a callback Variable. ptr
// is the slice of backing stack memory being presented (its type and
// length describe the source), matching spec.md §6.2's elem_count/ptr
// shape.
type WriteCallback func(priv any, elemType Type, data []byte, index int) error

// Value is a typed scalar result, used for callback reads and for the
// interpreter's int_result/float_result registers (spec.md §3.6).
type Value struct {
	Type  Type
	Int   int64
	Float float64
}

// StackArgSize is sizeof(StackArg) from spec.md §3.7: {flags, val, index,
// ptr}, four 4-byte words.
const StackArgSize = 16

// Variable is the spec.md §3.3 Variable record.
type Variable struct {
	Name     arena.Handle
	Type     Type
	Global   bool
	Proc     int // owning proc index; meaningless if Global
	Length   int // 0 => argument, 1 => scalar, >1 => array
	Offset   int // see spec.md §3.7: argument index (1-based) or byte offset

	ReadCB    ReadCallback
	WriteCB   WriteCallback
	ReadPriv  any
	WritePriv any
}

// IsArgument reports whether v is a procedure argument slot.
func (v *Variable) IsArgument() bool { return !v.Global && v.Length == 0 }

// IsCallback reports whether v is backed by host callbacks rather than
// stack storage.
func (v *Variable) IsCallback() bool { return v.ReadCB != nil || v.WriteCB != nil }

// Readable reports whether v may be read: any non-callback variable, or a
// callback variable with a read function.
func (v *Variable) Readable() bool { return !v.IsCallback() || v.ReadCB != nil }

// Writable reports whether v may be written.
func (v *Variable) Writable() bool { return !v.IsCallback() || v.WriteCB != nil }

// Label is the spec.md §3.5 Label record, resolved to an instruction index
// during codegen.
type Label struct {
	Name             arena.Handle
	BoundLine        int
	InstructionIndex int
}

// Proc is the spec.md §3.4 Procedure record.
type Proc struct {
	Name                   arena.Handle
	StartLine              int
	LengthLines            int
	ArgsCount              int
	VarIndexes             []int
	LocalStackSize         int
	InitializerImage       []byte
	Labels                 []Label
	EntryInstructionIndex  int
}

// FindLabel returns the index of the label named name within p, or -1.
func (p *Proc) FindLabel(a *arena.Arena, name string) int {
	for i := range p.Labels {
		if a.EqualString(p.Labels[i].Name, name) {
			return i
		}
	}
	return -1
}
