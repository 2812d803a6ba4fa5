package compiler

import (
	"testing"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/ir"
	"github.com/stretchr/testify/require"
)

// TestVerifyCodeRejectsMidInstructionJump constructs a program directly
// (codegen itself never emits a misaligned target) to exercise the
// instruction-boundary check on OpJump that instrStart backs.
func TestVerifyCodeRejectsMidInstructionJump(t *testing.T) {
	a := arena.New()
	p := &Program{
		Procs: []ir.Proc{
			{EntryInstructionIndex: 0},
		},
		Code: []int{
			int(OpJump), 1, // jump to 1, which is mid-instruction (the operand word above)
			int(OpRet),
		},
	}
	err := verifyCode(a, p)
	require.ErrorContains(t, err, "does not land on the start of an instruction")
}

func TestVerifyCodeAcceptsAlignedJump(t *testing.T) {
	a := arena.New()
	p := &Program{
		Procs: []ir.Proc{
			{EntryInstructionIndex: 0},
		},
		Code: []int{
			int(OpJump), 2,
			int(OpRet),
		},
	}
	require.NoError(t, verifyCode(a, p))
}
