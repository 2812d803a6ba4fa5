package compiler_test

import (
	"testing"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/compiler"
	"github.com/crustyvm/crustyvm/lang/lexer"
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

func TestCompileSumToTen(t *testing.T) {
	src := "static i 0\nstatic sum 0\nproc init\nlabel top\nadd sum i\nadd i 1\ncmp i 11\njumpl top\nret\n"
	a, prog := build(t, src)
	require.NotEmpty(t, prog.Code)
	idx := prog.FindProc(a, "init")
	require.NotEqual(t, -1, idx)
	require.Equal(t, 0, prog.Procs[idx].EntryInstructionIndex)
}

func TestCompileCallWithArgument(t *testing.T) {
	src := "proc inc n\nadd n 1\nret\nstatic x 41\nproc init\ncall inc x\nret\n"
	a, prog := build(t, src)
	initIdx := prog.FindProc(a, "init")
	require.NotEqual(t, -1, initIdx)
}

func TestCompileUndefinedCalleeFails(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte("proc init\ncall missing\nret\n"))
	require.NoError(t, err)
	pp := preprocess.New(a, nil)
	pre, err := pp.Run(lines)
	require.NoError(t, err)
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(pre)
	require.NoError(t, err)
	_, err = compiler.Compile(a, res)
	require.ErrorContains(t, err, "undefined procedure")
}

func TestCompileArityMismatchFails(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte("proc inc n\nadd n 1\nret\nproc init\ncall inc\nret\n"))
	require.NoError(t, err)
	pp := preprocess.New(a, nil)
	pre, err := pp.Run(lines)
	require.NoError(t, err)
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(pre)
	require.NoError(t, err)
	_, err = compiler.Compile(a, res)
	require.ErrorContains(t, err, "expects 1 argument")
}

func TestDasmProducesOutput(t *testing.T) {
	a, prog := build(t, "static x 0\nproc init\nadd x 1\nret\n")
	out := compiler.Dasm(a, prog)
	require.Contains(t, out, "proc init")
	require.Contains(t, out, "add")
}
