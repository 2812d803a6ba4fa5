package machine_test

import (
	"testing"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/compiler"
	"github.com/crustyvm/crustyvm/lang/ir"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/machine"
	"github.com/crustyvm/crustyvm/lang/preprocess"
	"github.com/crustyvm/crustyvm/lang/resolver"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, src string) (*arena.Arena, *compiler.Program) {
	t.Helper()
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte(src))
	require.NoError(t, err)
	pp := preprocess.New(a, nil)
	pre, err := pp.Run(lines)
	require.NoError(t, err)
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(pre)
	require.NoError(t, err)
	prog, err := compiler.Compile(a, res)
	require.NoError(t, err)
	return a, prog
}

func TestRunSumToTen(t *testing.T) {
	src := "static i 0\nstatic sum 0\nproc init\nlabel top\nadd sum i\nadd i 1\ncmp i 11\njumpl top\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
	sum, ok := vm.GlobalInt("sum")
	require.True(t, ok)
	require.EqualValues(t, 55, sum)
}

func TestRunCallWithReferenceArgument(t *testing.T) {
	src := "proc inc n\nadd n 1\nret\nstatic x 41\nproc init\ncall inc x\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
	x, ok := vm.GlobalInt("x")
	require.True(t, ok)
	require.EqualValues(t, 42, x)
}

func TestRunArrayOutOfRangeFails(t *testing.T) {
	src := "static arr ints 4\nstatic i 10\nproc init\nmove arr:i 1\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusOutOfRange, st)
}

func TestRunFloatCoercion(t *testing.T) {
	src := "static f 0.0\nstatic i 3\nproc init\nadd f i\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
	f, ok := vm.GlobalFloat("f")
	require.True(t, ok)
	require.Equal(t, 3.0, f)
}

func TestRunIntMod(t *testing.T) {
	src := "static x 5\nproc init\nmod x 3\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
	x, ok := vm.GlobalInt("x")
	require.True(t, ok)
	require.EqualValues(t, 2, x)
}

func TestRunFloatModUsesIEEERemainder(t *testing.T) {
	src := "static x 5.5\nproc init\nmod x 2\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
	x, ok := vm.GlobalFloat("x")
	require.True(t, ok)
	require.Equal(t, -0.5, x)
}

func TestRunFloatIndexFails(t *testing.T) {
	src := "static arr ints 2\nstatic f 0.0\nproc init\nmove arr:f 1\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusFloatIndex, st)
}

func TestRunJumpToSelfEndsGracefully(t *testing.T) {
	src := "proc init\nlabel here\njump here\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
}

func TestHasEntrypoint(t *testing.T) {
	a, prog := build(t, "proc main\nret\nproc helper n\nret\n")
	vm := machine.New(a, prog, machine.Options{})
	require.True(t, vm.HasEntrypoint("main"))
	require.False(t, vm.HasEntrypoint("helper"))
	require.False(t, vm.HasEntrypoint("missing"))
}

func TestResetReinitializesGlobals(t *testing.T) {
	a, prog := build(t, "static x 0\nproc init\nadd x 1\nret\n")
	vm := machine.New(a, prog, machine.Options{})
	_, err := vm.Run("init")
	require.NoError(t, err)
	x, _ := vm.GlobalInt("x")
	require.EqualValues(t, 1, x)
	vm.Reset()
	x, _ = vm.GlobalInt("x")
	require.EqualValues(t, 0, x)
}

// TestMoveToCallbackTransfersWholeRemainingRun exercises the three-element
// string "hi\n" moved to a write-only callback variable never declared with
// `static`: the callback must receive all three bytes in one call, not just
// the first, matching the original crustyvm_step MOVE case's contract of
// handing a plain-memory source's whole length-minus-index run to the
// destination's write function.
func TestMoveToCallbackTransfersWholeRemainingRun(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte("static msg string \"hi\\n\"\nproc init\nmove out msg\nret\n"))
	require.NoError(t, err)
	pp := preprocess.New(a, nil)
	pre, err := pp.Run(lines)
	require.NoError(t, err)
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(pre)
	require.NoError(t, err)

	var captured []byte
	res.Vars = append(res.Vars, ir.Variable{
		Name:   a.InternString("out"),
		Type:   ir.Char,
		Global: true,
		Length: 1,
		WriteCB: func(priv any, elemType ir.Type, data []byte, index int) error {
			captured = append([]byte(nil), data...)
			return nil
		},
	})

	prog, err := compiler.Compile(a, res)
	require.NoError(t, err)
	vm := machine.New(a, prog, machine.Options{})
	st, err := vm.Run("init")
	require.NoError(t, err)
	require.Equal(t, machine.StatusReady, st)
	require.Equal(t, "hi\n", string(captured))
}

func TestStackOverflowOnDeepRecursion(t *testing.T) {
	src := "proc recur\ncall recur\nret\n"
	a, prog := build(t, src)
	vm := machine.New(a, prog, machine.Options{MaxCallDepth: 8})
	st, err := vm.Run("recur")
	require.NoError(t, err)
	require.Equal(t, machine.StatusStackOverflow, st)
}
