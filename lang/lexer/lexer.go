// Package lexer implements the CrustyVM tokenizer and includer described in
// spec.md §4.2: it turns source bytes plus a logical module name into a flat
// sequence of Lines, splicing in `include`d files subject to a host-supplied
// safe-path predicate and a cycle/depth check.
package lexer

import (
	"fmt"
	"os"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/token"
)

// MaxIncludeDepth is the maximum include nesting depth, per spec.md §4.2.
const MaxIncludeDepth = 16

// Line is a single significant source line: a vector of token-arena handles
// plus the module+line it originated from, per spec.md §3.2. InstrIndex is
// left at -1 here; it is filled in by the code generator.
type Line struct {
	Module     string
	SourceLine int
	Tokens     []arena.Handle
	InstrIndex int
}

// Pos returns the diagnostic Position for this line, optionally pointing at
// a specific 1-based token index (0 for the whole line).
func (l *Line) Pos(tokenIndex int) token.Position {
	return token.Position{Module: l.Module, Line: l.SourceLine, Token: tokenIndex}
}

// SafePath canonicalizes a candidate path about to be opened for include or
// binclude, returning an error if the path cannot be resolved (e.g. it does
// not exist, or the host's predicate refuses it outright). The tokenizer
// itself enforces the "first opened file's directory becomes the prefix for
// every later open" policy from spec.md §4.2 on top of whatever this
// function returns, so a SafePath implementation only needs to answer "what
// is the canonical form of this path, if it may be opened at all".
type SafePath func(path string) (canonical string, err error)

// Tokenizer turns source bytes into a flat, include-expanded Line stream.
type Tokenizer struct {
	Arena    *arena.Arena
	SafePath SafePath

	// includeStack holds the module name of every file currently being
	// tokenized, innermost last, for cycle detection.
	includeStack []string
	prefix       string
	havePrefix   bool
	errs         token.ErrorList
}

// TokenizeFile tokenizes the named file as the root module.
func (t *Tokenizer) TokenizeFile(path string) ([]Line, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if t.SafePath != nil {
		canon, err := t.SafePath(path)
		if err != nil {
			return nil, fmt.Errorf("%s: unsafe path: %w", path, err)
		}
		t.prefix, t.havePrefix = dirOf(canon), true
	}
	return t.tokenizeModule(path, src)
}

// TokenizeBytes tokenizes src under the given logical module name, with no
// safe-path prefix established yet (so the first `include` inside it
// establishes one, if SafePath is set).
func (t *Tokenizer) TokenizeBytes(module string, src []byte) ([]Line, error) {
	return t.tokenizeModule(module, src)
}

func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i+1]
		}
	}
	return ""
}

// tokenizeModule scans src, which is named module for diagnostics, and
// returns the flattened Line stream with any `include`s already spliced in.
func (t *Tokenizer) tokenizeModule(module string, src []byte) ([]Line, error) {
	for _, m := range t.includeStack {
		if m == module {
			t.errs.Addf(token.Position{Module: module, Line: 1}, "cyclic include: %s", module)
			return nil, t.errs.Err()
		}
	}
	if len(t.includeStack) >= MaxIncludeDepth {
		t.errs.Addf(token.Position{Module: module, Line: 1}, "maximum include depth (%d) exceeded", MaxIncludeDepth)
		return nil, t.errs.Err()
	}
	t.includeStack = append(t.includeStack, module)
	defer func() { t.includeStack = t.includeStack[:len(t.includeStack)-1] }()

	sc := &moduleScanner{t: t, module: module, src: src, line: 1}
	lines, err := sc.run()
	if err != nil {
		return nil, err
	}
	return lines, t.errs.Err()
}

// moduleScanner tracks the mutable state of scanning a single module's
// bytes into Lines, including quoted strings that may span physical lines.
type moduleScanner struct {
	t      *Tokenizer
	module string
	src    []byte
	pos    int
	line   int
}

func (sc *moduleScanner) errPos() token.Position {
	return token.Position{Module: sc.module, Line: sc.line}
}

func (sc *moduleScanner) run() ([]Line, error) {
	var out []Line
	for sc.pos < len(sc.src) {
		line, ok, err := sc.scanLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(line.Tokens) > 0 && sc.t.Arena.EqualString(line.Tokens[0], "include") {
			inlined, err := sc.handleInclude(line)
			if err != nil {
				return nil, err
			}
			out = append(out, inlined...)
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// scanLine consumes one logical source line (which may span several
// physical lines via a quoted string) starting at sc.pos, returning the
// resulting Line and whether anything was scanned at all (false at EOF with
// nothing left).
func (sc *moduleScanner) scanLine() (Line, bool, error) {
	if sc.pos >= len(sc.src) {
		return Line{}, false, nil
	}

	startLine := sc.line
	var tokens []arena.Handle
	var cur []byte
	haveCur := false

	flush := func() {
		if haveCur {
			tokens = append(tokens, sc.t.Arena.InternRaw(cur))
			cur = nil
			haveCur = false
		}
	}

	inComment := false
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]

		// newline handling (\n, \r, \r\n, \n\r)
		if c == '\n' || c == '\r' {
			flush()
			sc.pos++
			sc.line++
			if sc.pos < len(sc.src) {
				o := sc.src[sc.pos]
				if (c == '\n' && o == '\r') || (c == '\r' && o == '\n') {
					sc.pos++
				}
			}
			return Line{Module: sc.module, SourceLine: startLine, Tokens: tokens, InstrIndex: -1}, true, nil
		}

		if inComment {
			sc.pos++
			continue
		}

		if c == ';' {
			inComment = true
			sc.pos++
			continue
		}

		if c == ' ' || c == '\t' {
			flush()
			sc.pos++
			continue
		}

		if c == '"' {
			flush()
			raw, err := sc.scanQuoted()
			if err != nil {
				return Line{}, false, err
			}
			h, nl, err := sc.t.Arena.InternQuoted(raw)
			if err != nil {
				sc.t.errs.Add(sc.errPos(), err.Error())
				return Line{}, false, sc.t.errs.Err()
			}
			sc.line += nl
			tokens = append(tokens, h)
			continue
		}

		cur = append(cur, c)
		haveCur = true
		sc.pos++
	}

	// EOF without a trailing newline
	flush()
	return Line{Module: sc.module, SourceLine: startLine, Tokens: tokens, InstrIndex: -1}, true, nil
}

// scanQuoted consumes the contents of a double-quoted token, starting just
// after the opening quote (sc.pos is positioned at the opening '"' on
// entry), and returns the raw (still-escaped) bytes between the quotes. It
// is legal for the string to span physical lines; unescaped newlines are
// kept in the raw bytes and counted here, while backslash-newline
// continuations are counted by InternQuoted.
func (sc *moduleScanner) scanQuoted() ([]byte, error) {
	sc.pos++ // consume opening quote
	start := sc.pos
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]
		if c == '\\' {
			sc.pos += 2
			continue
		}
		if c == '\n' || c == '\r' {
			sc.line++
			if c == '\r' && sc.pos+1 < len(sc.src) && sc.src[sc.pos+1] == '\n' {
				sc.pos++
			}
		}
		if c == '"' {
			raw := sc.src[start:sc.pos]
			sc.pos++ // consume closing quote
			return raw, nil
		}
		sc.pos++
	}
	sc.t.errs.Add(sc.errPos(), "unterminated string reached end of file")
	return nil, sc.t.errs.Err()
}

// handleInclude opens and tokenizes the file named by an `include` line,
// returning the included module's Lines so the caller can splice them in
// place of the include directive itself.
func (sc *moduleScanner) handleInclude(line Line) ([]Line, error) {
	if len(line.Tokens) != 2 {
		sc.t.errs.Add(line.Pos(1), "include takes a single filename")
		return nil, sc.t.errs.Err()
	}
	path := sc.t.Arena.String(line.Tokens[1])

	if sc.t.SafePath != nil {
		canon, err := sc.t.SafePath(path)
		if err != nil {
			sc.t.errs.Addf(line.Pos(2), "failed to open include file %s: %v", path, err)
			return nil, sc.t.errs.Err()
		}
		dir := dirOf(canon)
		if !sc.t.havePrefix {
			sc.t.prefix, sc.t.havePrefix = dir, true
		} else if len(dir) < len(sc.t.prefix) || dir[:len(sc.t.prefix)] != sc.t.prefix {
			sc.t.errs.Addf(line.Pos(2), "file attempted to be accessed from unsafe path: %s", canon)
			return nil, sc.t.errs.Err()
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		sc.t.errs.Addf(line.Pos(2), "failed to open include file %s: %v", path, err)
		return nil, sc.t.errs.Err()
	}

	return sc.t.tokenizeModule(path, src)
}
