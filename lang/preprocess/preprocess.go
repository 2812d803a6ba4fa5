// Package preprocess implements the macro/expr/if preprocessor described in
// spec.md §4.4. It iterates the line stream to a fixed point (at most 16
// passes), expanding macro calls, `expr`-defined names, `if` gates, and
// host-supplied command-line defines.
package preprocess

import (
	"strconv"
	"strings"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/expr"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/token"
	"github.com/dolthub/swiss"
)

// MaxPasses bounds the fixed-point iteration, per spec.md §4.4.
const MaxPasses = 16

// MaxMacroDepth bounds nested macro-call recursion, per spec.md §4.4.
const MaxMacroDepth = 32

// mnemonics and directiveKeywords are never treated as a macro-call name:
// a line whose first token matches neither is assumed to invoke a macro.
var mnemonics = map[string]bool{
	"move": true, "add": true, "sub": true, "mul": true, "div": true,
	"mod": true, "and": true, "or": true, "xor": true, "shl": true,
	"shr": true, "cmp": true, "jump": true, "jumpn": true, "jumpz": true,
	"jumpl": true, "jumpg": true, "call": true, "ret": true,
}

var directiveKeywords = map[string]bool{
	"include": true, "stack": true, "static": true, "proc": true,
	"local": true, "label": true, "binclude": true, "macro": true,
	"endmacro": true, "if": true, "expr": true,
}

// line is the preprocessor's working representation: plain strings rather
// than arena handles, since every pass rewrites token text in place.
type line struct {
	module     string
	sourceLine int
	tokens     []string
}

type macroDef struct {
	name   string
	params []string
	body   []line
}

type macroFrame struct {
	name   string
	actual map[string]string
}

// Preprocessor holds the state that persists across the whole fixed-point
// iteration: command-line defines, discovered macro definitions and
// expr-bound names. The three lookup tables are append-mostly and consulted
// on every token of every pass, so they are backed by swiss.Map rather than
// a built-in map, the same choice the teacher makes for its own hot-path
// name tables.
type Preprocessor struct {
	Arena   *arena.Arena
	Defines map[string]string

	// StrictMacroExpansion turns a fixed-point iteration that still hasn't
	// settled after MaxPasses into a hard error instead of silently using
	// whatever the last pass produced.
	StrictMacroExpansion bool

	defines  *swiss.Map[string, string]
	macros   *swiss.Map[string, *macroDef]
	exprVals *swiss.Map[string, string]
	errs     token.ErrorList
}

// New returns a Preprocessor seeded with the given command-line defines
// (name -> textual value; a bare define with no value should be recorded
// as "1" by the caller, per spec.md §4.4's "bare name defaults to integer
// 1" rule).
func New(a *arena.Arena, defines map[string]string) *Preprocessor {
	if defines == nil {
		defines = map[string]string{}
	}
	dt := swiss.NewMap[string, string](uint32(len(defines) + 1))
	for k, v := range defines {
		dt.Put(k, v)
	}
	return &Preprocessor{
		Arena:    a,
		Defines:  defines,
		defines:  dt,
		macros:   swiss.NewMap[string, *macroDef](8),
		exprVals: swiss.NewMap[string, string](8),
	}
}

// Run preprocesses lines to a fixed point and returns the resulting line
// stream, re-interned into the Preprocessor's arena.
func (p *Preprocessor) Run(lines []lexer.Line) ([]lexer.Line, error) {
	cur := toInternal(p.Arena, lines)
	for pass := 0; pass < MaxPasses; pass++ {
		next, changed, err := p.expandStream(cur, nil)
		if err != nil {
			return nil, err
		}
		if !changed {
			return toLexer(p.Arena, next), nil
		}
		cur = next
	}
	if p.StrictMacroExpansion {
		pos := token.Position{}
		if len(cur) > 0 {
			pos = token.Position{Module: cur[0].module, Line: cur[0].sourceLine}
		}
		p.errs.Addf(pos, "preprocessor did not reach a fixed point after %d passes", MaxPasses)
		return nil, p.errs.Err()
	}
	return toLexer(p.Arena, cur), nil
}

func toInternal(a *arena.Arena, lines []lexer.Line) []line {
	out := make([]line, len(lines))
	for i, l := range lines {
		toks := make([]string, len(l.Tokens))
		for j, h := range l.Tokens {
			toks[j] = a.String(h)
		}
		out[i] = line{module: l.Module, sourceLine: l.SourceLine, tokens: toks}
	}
	return out
}

func toLexer(a *arena.Arena, lines []line) []lexer.Line {
	out := make([]lexer.Line, len(lines))
	for i, l := range lines {
		handles := make([]arena.Handle, len(l.tokens))
		for j, s := range l.tokens {
			handles[j] = a.InternString(s)
		}
		out[i] = lexer.Line{Module: l.module, SourceLine: l.sourceLine, Tokens: handles, InstrIndex: -1}
	}
	return out
}

func (l line) pos(tokIdx int) token.Position {
	return token.Position{Module: l.module, Line: l.sourceLine, Token: tokIdx}
}

// expandStream walks lines once, expanding macro calls recursively (depth
// tracked via frames), and reports whether anything actually changed so
// Run can detect the fixed point.
func (p *Preprocessor) expandStream(lines []line, frames []macroFrame) ([]line, bool, error) {
	var out []line
	changed := false
	i := 0
	for i < len(lines) {
		l := lines[i]
		if len(l.tokens) == 0 {
			i++
			continue
		}
		name := l.tokens[0]

		if name == "macro" {
			def, consumed, err := p.captureMacro(lines[i:])
			if err != nil {
				return nil, false, err
			}
			p.macros.Put(def.name, def)
			i += consumed
			changed = true
			continue
		}
		if name == "endmacro" {
			// stray endmacro with nothing open: benign, per spec.md §4.4.
			i++
			changed = true
			continue
		}

		if name == "if" {
			// The VAR token must be checked before any substitution: a
			// command-line define's value (even "0") must not overwrite its
			// name here, or a `-D FLAG=0` could never be told apart from FLAG
			// never having been defined at all.
			if len(l.tokens) < 2 {
				p.errs.Add(l.pos(0), "if requires a variable name")
				return nil, false, p.errs.Err()
			}
			cond := p.ifCondition(l.tokens[1])
			changed = true
			if !cond {
				i++
				continue
			}
			rest := line{module: l.module, sourceLine: l.sourceLine, tokens: append([]string{}, l.tokens[2:]...)}
			newLines := make([]line, 0, len(lines))
			newLines = append(newLines, lines[:i]...)
			newLines = append(newLines, rest)
			newLines = append(newLines, lines[i+1:]...)
			lines = newLines
			continue
		}

		l = p.substituteLine(l, frames)

		if name == "expr" {
			if len(l.tokens) < 3 {
				p.errs.Add(l.pos(0), "expr requires a name and an expression")
				return nil, false, p.errs.Err()
			}
			exprName := l.tokens[1]
			exprText := strings.Join(l.tokens[2:], " ")
			v, err := expr.Eval(exprText, p.lookup)
			if err != nil {
				p.errs.Addf(l.pos(2), "expr %s: %v", exprName, err)
				return nil, false, p.errs.Err()
			}
			s := strconv.FormatInt(v, 10)
			if old, ok := p.exprVals.Get(exprName); !ok || old != s {
				changed = true
			}
			p.exprVals.Put(exprName, s)
			i++
			continue
		}

		if mnemonics[name] || directiveKeywords[name] {
			out = append(out, l)
			i++
			continue
		}

		def, ok := p.macros.Get(name)
		if !ok {
			p.errs.Addf(l.pos(0), "undefined macro or instruction %q", name)
			return nil, false, p.errs.Err()
		}
		for _, f := range frames {
			if f.name == name {
				p.errs.Addf(l.pos(0), "recursive macro call to %q", name)
				return nil, false, p.errs.Err()
			}
		}
		if len(frames)+1 > MaxMacroDepth {
			p.errs.Addf(l.pos(0), "macro expansion depth exceeds %d", MaxMacroDepth)
			return nil, false, p.errs.Err()
		}
		actuals := l.tokens[1:]
		if len(actuals) != len(def.params) {
			p.errs.Addf(l.pos(0), "macro %q expects %d argument(s), got %d", name, len(def.params), len(actuals))
			return nil, false, p.errs.Err()
		}
		bound := make(map[string]string, len(def.params))
		for k, pname := range def.params {
			bound[pname] = actuals[k]
		}
		body := make([]line, len(def.body))
		copy(body, def.body)
		expanded, _, err := p.expandStream(body, append(frames, macroFrame{name: name, actual: bound}))
		if err != nil {
			return nil, false, err
		}
		out = append(out, expanded...)
		changed = true
		i++
	}
	return out, changed, nil
}

// captureMacro scans forward from a `macro NAME param...` line, tracking
// nested macro/endmacro depth textually (nested macro *definitions* inside
// a body are not processed, per spec.md §4.4), and returns the recorded
// definition plus the number of lines consumed (including the macro and
// endmacro lines themselves).
func (p *Preprocessor) captureMacro(lines []line) (*macroDef, int, error) {
	head := lines[0]
	if len(head.tokens) < 2 {
		p.errs.Add(head.pos(0), "macro requires a name")
		return nil, 0, p.errs.Err()
	}
	def := &macroDef{name: head.tokens[1], params: append([]string{}, head.tokens[2:]...)}

	depth := 1
	i := 1
	for i < len(lines) {
		l := lines[i]
		if len(l.tokens) > 0 {
			switch l.tokens[0] {
			case "macro":
				depth++
			case "endmacro":
				depth--
				if depth == 0 {
					return def, i + 1, nil
				}
			}
		}
		def.body = append(def.body, l)
		i++
	}
	p.errs.Addf(head.pos(0), "macro %q missing endmacro", def.name)
	return nil, 0, p.errs.Err()
}

// substituteLine applies the three substitution steps of spec.md §4.4, in
// order: command-line defines, then (if inside a macro expansion) formal
// parameters, then expr-bound names.
func (p *Preprocessor) substituteLine(l line, frames []macroFrame) line {
	toks := make([]string, len(l.tokens))
	copy(toks, l.tokens)
	for i, t := range toks {
		t = substituteAllSwiss(t, p.defines)
		if len(frames) > 0 {
			t = substituteAllMap(t, frames[len(frames)-1].actual)
		}
		t = substituteAllSwiss(t, p.exprVals)
		toks[i] = t
	}
	l.tokens = toks
	return l
}

// longestFirst sorts keys so that one name is never replaced as a substring
// of a longer one that also matches.
func longestFirst(keys []string) []string {
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if len(keys[j]) > len(keys[i]) {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}

// substituteAllMap replaces every occurrence, in s, of any key in repl with
// its value. Used for a macro frame's small, short-lived parameter binding,
// which does not warrant a hash-table swap.
func substituteAllMap(s string, repl map[string]string) string {
	if len(repl) == 0 {
		return s
	}
	keys := make([]string, 0, len(repl))
	for k := range repl {
		keys = append(keys, k)
	}
	for _, k := range longestFirst(keys) {
		if k == "" {
			continue
		}
		s = strings.ReplaceAll(s, k, repl[k])
	}
	return s
}

// substituteAllSwiss is substituteAllMap's counterpart for the
// long-lived define/expr-value tables.
func substituteAllSwiss(s string, repl *swiss.Map[string, string]) string {
	if repl.Count() == 0 {
		return s
	}
	keys := make([]string, 0, int(repl.Count()))
	repl.Iter(func(k, _ string) bool {
		keys = append(keys, k)
		return false
	})
	for _, k := range longestFirst(keys) {
		if k == "" {
			continue
		}
		v, _ := repl.Get(k)
		s = strings.ReplaceAll(s, k, v)
	}
	return s
}

// ifCondition implements the `if VAR` truth test: VAR is truthy if it was
// supplied on the command line (regardless of its value, even "0" — a
// define only has to exist to gate the block in), or if it parses as a
// non-zero integer literal.
func (p *Preprocessor) ifCondition(v string) bool {
	if _, ok := p.defines.Get(v); ok {
		return true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return err == nil && n != 0
}

func (p *Preprocessor) lookup(name string) int64 {
	if s, ok := p.defines.Get(name); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	if s, ok := p.exprVals.Get(name); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return 0
}

// Errors returns any accumulated diagnostics as a formatted error, or nil.
func (p *Preprocessor) Errors() error {
	return p.errs.Err()
}
