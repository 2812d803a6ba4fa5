package resolver_test

import (
	"fmt"
	"testing"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/resolver"
	"github.com/stretchr/testify/require"
)

func mustTokenize(t *testing.T, a *arena.Arena, src string) []lexer.Line {
	t.Helper()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte(src))
	require.NoError(t, err)
	return lines
}

func TestScanGlobalsAndProc(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "static x 0\nstatic y ints 4\nproc init\nadd x 1\nret\n")
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Len(t, res.Procs, 1)
	require.True(t, a.EqualString(res.Procs[0].Name, "init"))
	require.Len(t, res.Vars, 2)
	require.Equal(t, 0, res.Vars[0].Offset)
	require.Equal(t, 4, res.Vars[1].Offset)
	require.Len(t, res.Lines, 2)
	require.Equal(t, []int{0, 0}, res.LineProc)
}

func TestScanProcArguments(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "proc inc n\nadd n 1\nret\n")
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Equal(t, 1, res.Procs[0].ArgsCount)
	require.Len(t, res.Vars, 1)
	require.True(t, res.Vars[0].IsArgument())
	require.Equal(t, 1, res.Vars[0].Offset)
	require.Equal(t, 16, res.Procs[0].LocalStackSize) // one arg slot, no locals
}

func TestScanLocalVariable(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "proc init\nlocal tmp 0\nadd tmp 1\nret\n")
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Len(t, res.Vars, 1)
	require.False(t, res.Vars[0].IsArgument())
	require.Equal(t, 4, res.Procs[0].LocalStackSize) // 4 bytes for tmp, no args
}

func TestScanDuplicateProcFails(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "proc p\nret\nproc p\nret\n")
	sc := resolver.NewScanner(a, nil)
	_, err := sc.Scan(lines)
	require.ErrorContains(t, err, "duplicate proc")
}

func TestScanNestedProcFails(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "proc p\nproc q\nret\nret\n")
	sc := resolver.NewScanner(a, nil)
	_, err := sc.Scan(lines)
	require.ErrorContains(t, err, "another proc is still open")
}

func TestScanMissingRetFails(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "proc p\nadd x 1\n")
	sc := resolver.NewScanner(a, nil)
	_, err := sc.Scan(lines)
	require.ErrorContains(t, err, "missing ret")
}

func TestScanInstructionOutsideProcFails(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "add x 1\n")
	sc := resolver.NewScanner(a, nil)
	_, err := sc.Scan(lines)
	require.ErrorContains(t, err, "outside of any proc")
}

func TestScanLabel(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "proc p\nlabel top\nadd x 1\njump top\nret\n")
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Len(t, res.Procs[0].Labels, 1)
	require.Equal(t, 0, res.Procs[0].Labels[0].BoundLine)
}

func TestScanStringStatic(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, `static msg string "hi"` + "\nproc p\nret\n")
	sc := resolver.NewScanner(a, nil)
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Equal(t, 2, res.Vars[0].Length)
	require.Equal(t, string(res.InitialStackImage[res.Vars[0].Offset:res.Vars[0].Offset+2]), "hi")
}

func TestScanBincludeRequiresLoader(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "binclude data chars foo.bin\nproc p\nret\n")
	sc := resolver.NewScanner(a, nil)
	_, err := sc.Scan(lines)
	require.ErrorContains(t, err, "not supported")
}

func TestScanBincludeLengthPastEOFRejectsAndWarns(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "binclude data chars foo.bin 0 10\nproc p\nret\n")
	loader := func(path string) ([]byte, error) { return []byte("abcd"), nil }
	sc := resolver.NewScanner(a, loader)
	var warned string
	sc.Log = func(format string, args ...any) { warned = fmt.Sprintf(format, args...) }
	_, err := sc.Scan(lines)
	require.ErrorContains(t, err, "exceeds file size")
	require.Contains(t, warned, "exceeds file size")
}

func TestScanBincludeLengthPastEOFTruncatesUnderLegacyFlag(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "binclude data chars foo.bin 0 10\nproc p\nret\n")
	loader := func(path string) ([]byte, error) { return []byte("abcd"), nil }
	sc := resolver.NewScanner(a, loader)
	sc.LegacyBincludeTruncation = true
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Equal(t, 4, res.Vars[0].Length)
}

func TestScanBinclude(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "binclude data chars foo.bin\nproc p\nret\n")
	loader := func(path string) ([]byte, error) {
		require.Equal(t, "foo.bin", path)
		return []byte("abcd"), nil
	}
	sc := resolver.NewScanner(a, loader)
	res, err := sc.Scan(lines)
	require.NoError(t, err)
	require.Equal(t, 4, res.Vars[0].Length)
}
