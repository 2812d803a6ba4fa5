package lexer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/stretchr/testify/require"
)

func tokStrings(a *arena.Arena, l lexer.Line) []string {
	out := make([]string, len(l.Tokens))
	for i, h := range l.Tokens {
		out[i] = a.String(h)
	}
	return out
}

func TestTokenizeBytesBasic(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte("move out sum ; a comment\nadd i 1\n"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, []string{"move", "out", "sum"}, tokStrings(a, lines[0]))
	require.Equal(t, 1, lines[0].SourceLine)
	require.Equal(t, []string{"add", "i", "1"}, tokStrings(a, lines[1]))
	require.Equal(t, 2, lines[1].SourceLine)
}

func TestTokenizeQuotedString(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte(`static msg string "hi\n"` + "\n"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "hi\n", a.String(lines[0].Tokens[3]))
}

func TestTokenizeQuotedStringSpansLines(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte("static msg string \"a\\\nb\"\nnext line\n"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "ab", a.String(lines[0].Tokens[3]))
	require.Equal(t, 3, lines[1].SourceLine)
}

func TestTokenizeUnterminatedString(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	_, err := tz.TokenizeBytes("m", []byte(`static msg string "hi`))
	require.ErrorContains(t, err, "unterminated string")
}

func TestTokenizeCRLFVariants(t *testing.T) {
	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a}
	lines, err := tz.TokenizeBytes("m", []byte("a b\r\nc d\n\re f\rg h\n"))
	require.NoError(t, err)
	require.Len(t, lines, 4)
	require.Equal(t, []string{"a", "b"}, tokStrings(a, lines[0]))
	require.Equal(t, []string{"c", "d"}, tokStrings(a, lines[1]))
	require.Equal(t, []string{"e", "f"}, tokStrings(a, lines[2]))
	require.Equal(t, []string{"g", "h"}, tokStrings(a, lines[3]))
}

func canonSafePath(path string) (string, error) {
	return filepath.Abs(path)
}

func TestTokenizeInclude(t *testing.T) {
	dir := t.TempDir()
	incPath := filepath.Join(dir, "inc.casm")
	require.NoError(t, os.WriteFile(incPath, []byte("included line\n"), 0o644))

	mainPath := filepath.Join(dir, "main.casm")
	src := "before\ninclude " + incPath + "\nafter\n"
	require.NoError(t, os.WriteFile(mainPath, []byte(src), 0o644))

	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a, SafePath: canonSafePath}
	lines, err := tz.TokenizeFile(mainPath)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, []string{"before"}, tokStrings(a, lines[0]))
	require.Equal(t, []string{"included", "line"}, tokStrings(a, lines[1]))
	require.Equal(t, incPath, lines[1].Module)
	require.Equal(t, []string{"after"}, tokStrings(a, lines[2]))
}

func TestTokenizeIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.casm")
	bPath := filepath.Join(dir, "b.casm")
	require.NoError(t, os.WriteFile(aPath, []byte("include "+bPath+"\n"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("include "+aPath+"\n"), 0o644))

	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a, SafePath: canonSafePath}
	_, err := tz.TokenizeFile(aPath)
	require.ErrorContains(t, err, "cyclic include")
}

func TestTokenizeIncludeUnsafePath(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	outsidePath := filepath.Join(outside, "evil.casm")
	require.NoError(t, os.WriteFile(outsidePath, []byte("x\n"), 0o644))

	mainPath := filepath.Join(dir, "main.casm")
	require.NoError(t, os.WriteFile(mainPath, []byte("include "+outsidePath+"\n"), 0o644))

	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a, SafePath: canonSafePath}
	_, err := tz.TokenizeFile(mainPath)
	require.ErrorContains(t, err, "unsafe path")
}

func TestTokenizeIncludeDepthExceeded(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < lexer.MaxIncludeDepth+2; i++ {
		paths = append(paths, filepath.Join(dir, "f"+itoa(i)+".casm"))
	}
	for i := 0; i < len(paths)-1; i++ {
		require.NoError(t, os.WriteFile(paths[i], []byte("include "+paths[i+1]+"\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(paths[len(paths)-1], []byte("x\n"), 0o644))

	a := arena.New()
	tz := &lexer.Tokenizer{Arena: a, SafePath: canonSafePath}
	_, err := tz.TokenizeFile(paths[0])
	require.ErrorContains(t, err, "include depth")
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
