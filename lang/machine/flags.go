package machine

import "github.com/crustyvm/crustyvm/lang/compiler"

// Flag decoding mirrors compiler.flagsKind/flagsIndexKind/makeFlags, which
// are unexported; the encoding itself (spec.md §3.8) is shared, so the
// numeric values must stay in lockstep with the compiler package's.
const (
	kindImmediate = compiler.KindImmediate
	kindVar       = compiler.KindVar
	kindLength    = compiler.KindLength
	kindMask      = 0x3

	indexImmediate = compiler.IndexImmediate
	indexVar       = compiler.IndexVar
	indexMask      = 0x4
)

func flagsKind(flags int) int      { return flags & kindMask }
func flagsIndexKind(flags int) int { return flags & indexMask }
func makeFlags(kind, indexKind int) int { return kind | indexKind }
