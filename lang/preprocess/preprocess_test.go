package preprocess_test

import (
	"testing"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/preprocess"
	"github.com/stretchr/testify/require"
)

func mustTokenize(t *testing.T, a *arena.Arena, src string) []lexer.Line {
	t.Helper()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte(src))
	require.NoError(t, err)
	return lines
}

func lineStrings(a *arena.Arena, l lexer.Line) []string {
	out := make([]string, len(l.Tokens))
	for i, h := range l.Tokens {
		out[i] = a.String(h)
	}
	return out
}

func TestMacroExpansion(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "macro inc v\nadd v 1\nendmacro inc\ninc x\ninc x\n")
	pp := preprocess.New(a, nil)
	out, err := pp.Run(lines)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []string{"add", "x", "1"}, lineStrings(a, out[0]))
	require.Equal(t, []string{"add", "x", "1"}, lineStrings(a, out[1]))
}

func TestMacroArityMismatch(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "macro inc v\nadd v 1\nendmacro inc\ninc x y\n")
	pp := preprocess.New(a, nil)
	_, err := pp.Run(lines)
	require.ErrorContains(t, err, "expects 1 argument")
}

func TestMacroRecursionFails(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "macro rec v\nrec v\nendmacro rec\nrec x\n")
	pp := preprocess.New(a, nil)
	_, err := pp.Run(lines)
	require.ErrorContains(t, err, "recursive macro")
}

func TestExprDirective(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "expr N 2+3\nadd x N\n")
	pp := preprocess.New(a, nil)
	out, err := pp.Run(lines)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"add", "x", "5"}, lineStrings(a, out[0]))
}

func TestIfGateTrueFromDefine(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "if DEBUG add x 1\nadd y 2\n")
	pp := preprocess.New(a, map[string]string{"DEBUG": "1"})
	out, err := pp.Run(lines)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []string{"add", "x", "1"}, lineStrings(a, out[0]))
}

func TestIfGateFalseDrops(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "if 0 add x 1\nadd y 2\n")
	pp := preprocess.New(a, nil)
	out, err := pp.Run(lines)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"add", "y", "2"}, lineStrings(a, out[0]))
}

func TestIfGateTrueFromZeroValuedDefine(t *testing.T) {
	// A define supplied on the command line gates `if` true regardless of
	// its value, even "0" — the VAR token must not be substituted away
	// before the check runs, or FLAG=0 would look indistinguishable from
	// FLAG never having been defined.
	a := arena.New()
	lines := mustTokenize(t, a, "if FLAG add x 1\n")
	pp := preprocess.New(a, map[string]string{"FLAG": "0"})
	out, err := pp.Run(lines)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"add", "x", "1"}, lineStrings(a, out[0]))
}

func TestCommandLineDefineSubstitution(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "add SIZE 1\n")
	pp := preprocess.New(a, map[string]string{"SIZE": "64"})
	out, err := pp.Run(lines)
	require.NoError(t, err)
	require.Equal(t, []string{"add", "64", "1"}, lineStrings(a, out[0]))
}

func TestUndefinedMacroCallFails(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "bogus x\n")
	pp := preprocess.New(a, nil)
	_, err := pp.Run(lines)
	require.ErrorContains(t, err, "undefined macro or instruction")
}

func TestStrictMacroExpansionErrorsWhenFixedPointNotReached(t *testing.T) {
	// expr N N+1 never settles: every pass reads the previous pass's value
	// of N back out of exprVals and increments it, so `changed` stays true
	// forever. With StrictMacroExpansion unset this silently returns
	// whatever MaxPasses left behind; with it set, it's a hard error.
	a := arena.New()
	lines := mustTokenize(t, a, "expr N N+1\n")
	lenient := preprocess.New(a, nil)
	_, err := lenient.Run(lines)
	require.NoError(t, err)

	a2 := arena.New()
	lines2 := mustTokenize(t, a2, "expr N N+1\n")
	strict := preprocess.New(a2, nil)
	strict.StrictMacroExpansion = true
	_, err = strict.Run(lines2)
	require.ErrorContains(t, err, "did not reach a fixed point")
}

func TestPreprocessorFixedPoint(t *testing.T) {
	a := arena.New()
	lines := mustTokenize(t, a, "static x 0\nproc init\nmove out x\nret\n")
	pp := preprocess.New(a, nil)
	out1, err := pp.Run(lines)
	require.NoError(t, err)
	pp2 := preprocess.New(a, nil)
	out2, err := pp2.Run(out1)
	require.NoError(t, err)
	require.Equal(t, len(out1), len(out2))
	for i := range out1 {
		require.Equal(t, lineStrings(a, out1[i]), lineStrings(a, out2[i]))
	}
}
