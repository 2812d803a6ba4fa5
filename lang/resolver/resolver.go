// Package resolver implements the symbol scan described in spec.md §4.5: a
// single forward pass over preprocessed lines that discovers procedures,
// variables and labels, assigns them stack offsets, and strips the
// declarative directives out of the line stream, leaving only the
// instruction lines for the code generator.
package resolver

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/ir"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/token"
	"github.com/dolthub/swiss"
	"github.com/samber/lo"
)

// instructionMnemonics are the directive words forwarded untouched into the
// code stream for §4.6 to compile.
var instructionMnemonics = map[string]bool{
	"move": true, "add": true, "sub": true, "mul": true, "div": true,
	"mod": true, "and": true, "or": true, "xor": true, "shl": true,
	"shr": true, "cmp": true, "jump": true, "jumpn": true, "jumpz": true,
	"jumpl": true, "jumpg": true, "call": true,
}

// BincludeLoader reads a binary file under the host's safe-path predicate,
// for the `binclude` directive.
type BincludeLoader func(path string) ([]byte, error)

// Result is the product of a symbol scan: the discovered Procs and Vars,
// the initial global stack image, and the filtered instruction-only line
// stream ready for codegen. LineProc[i] is the index into Procs owning
// Lines[i].
type Result struct {
	Procs             []ir.Proc
	Vars              []ir.Variable
	GlobalsBytes      int
	InitialStackImage []byte
	Lines             []lexer.Line
	LineProc          []int
}

type pendingLocal struct {
	varIndex int
	start    int
	size     int
}

// Scanner runs the symbol scan over an already-preprocessed line stream.
type Scanner struct {
	Arena        *arena.Arena
	LoadBinclude BincludeLoader

	// LegacyBincludeTruncation makes a binclude whose requested range runs
	// past end of file silently truncate to whatever is available, instead
	// of the default: log a warning (if Log is set) and reject it.
	LegacyBincludeTruncation bool
	Log                      func(format string, args ...any)

	globalsBytes int
	initImage    []byte
	globalNames  *swiss.Map[string, int]

	vars  []ir.Variable
	procs []ir.Proc

	curProc      int // -1 when not inside a proc
	procStartPos token.Position
	procNames    *swiss.Map[string, int]
	localNames   *swiss.Map[string, int]
	localCursor  int
	pendingLocal []pendingLocal
	pendingData  []pendingLocalData

	outLines []lexer.Line
	lineProc []int

	errs token.ErrorList
}

type pendingLocalData struct {
	start int
	data  []byte
}

// NewScanner returns a Scanner. loadBinclude may be nil if the program
// never uses `binclude`.
func NewScanner(a *arena.Arena, loadBinclude BincludeLoader) *Scanner {
	return &Scanner{
		Arena:        a,
		LoadBinclude: loadBinclude,
		globalNames:  swiss.NewMap[string, int](8),
		procNames:    swiss.NewMap[string, int](8),
		curProc:      -1,
	}
}

// Scan walks lines and produces a Result, or the first accumulated error.
func (s *Scanner) Scan(lines []lexer.Line) (*Result, error) {
	for _, l := range lines {
		if err := s.scanLine(l); err != nil {
			return nil, err
		}
	}
	if s.curProc != -1 {
		s.errs.Addf(s.procStartPos, "unexpected end of file: proc %q missing ret",
			s.Arena.String(s.procs[s.curProc].Name))
		return nil, s.errs.Err()
	}
	if err := s.errs.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Procs:             s.procs,
		Vars:              s.vars,
		GlobalsBytes:      s.globalsBytes,
		InitialStackImage: s.initImage,
		Lines:             s.outLines,
		LineProc:          s.lineProc,
	}, nil
}

func (s *Scanner) tok(l lexer.Line, i int) string {
	if i >= len(l.Tokens) {
		return ""
	}
	return s.Arena.String(l.Tokens[i])
}

func (s *Scanner) scanLine(l lexer.Line) error {
	if len(l.Tokens) == 0 {
		return nil
	}
	first := s.tok(l, 0)

	switch first {
	case "stack":
		n, err := strconv.Atoi(s.tok(l, 1))
		if err != nil {
			s.errs.Addf(l.Pos(1), "stack: invalid byte count: %v", err)
			return s.errs.Err()
		}
		s.initImage = append(s.initImage, make([]byte, n)...)
		s.globalsBytes = len(s.initImage)
		return nil

	case "static":
		return s.scanStatic(l)

	case "proc":
		return s.scanProc(l)

	case "local":
		return s.scanLocal(l)

	case "label":
		return s.scanLabel(l)

	case "binclude":
		return s.scanBinclude(l)

	case "ret":
		if s.curProc == -1 {
			s.errs.Add(l.Pos(0), "ret without an open proc")
			return s.errs.Err()
		}
		closing := s.curProc
		s.closeProc()
		s.outLines = append(s.outLines, l)
		s.lineProc = append(s.lineProc, closing)
		s.curProc = -1
		return nil

	default:
		if !instructionMnemonics[first] {
			s.errs.Addf(l.Pos(0), "unknown instruction or directive %q", first)
			return s.errs.Err()
		}
		if s.curProc == -1 {
			s.errs.Addf(l.Pos(0), "instruction %q outside of any proc", first)
			return s.errs.Err()
		}
		s.outLines = append(s.outLines, l)
		s.lineProc = append(s.lineProc, s.curProc)
		return nil
	}
}

func (s *Scanner) scanProc(l lexer.Line) error {
	if s.curProc != -1 {
		s.errs.Add(l.Pos(0), "proc opened while another proc is still open")
		return s.errs.Err()
	}
	name := s.tok(l, 1)
	if name == "" {
		s.errs.Add(l.Pos(0), "proc requires a name")
		return s.errs.Err()
	}
	if _, dup := s.procNames.Get(name); dup {
		s.errs.Addf(l.Pos(1), "duplicate proc name %q", name)
		return s.errs.Err()
	}
	args := l.Tokens[2:]
	p := ir.Proc{
		Name:      l.Tokens[1],
		StartLine: l.SourceLine,
		ArgsCount: len(args),
	}
	idx := len(s.procs)
	s.procs = append(s.procs, p)
	s.procNames.Put(name, idx)
	s.curProc = idx
	s.procStartPos = l.Pos(0)
	s.localNames = swiss.NewMap[string, int](uint32(len(args) + 1))
	s.localCursor = 0
	s.pendingLocal = nil
	s.pendingData = nil

	argNames := lo.Map(args, func(h arena.Handle, _ int) string { return s.Arena.String(h) })
	if len(lo.Uniq(argNames)) != len(argNames) {
		s.errs.Addf(l.Pos(2), "proc %q: duplicate argument name", name)
		return s.errs.Err()
	}
	for k, argName := range argNames {
		v := ir.Variable{Name: args[k], Type: ir.Int, Global: false, Proc: idx, Length: 0, Offset: k + 1}
		vi := len(s.vars)
		s.vars = append(s.vars, v)
		s.localNames.Put(argName, vi)
		s.procs[idx].VarIndexes = append(s.procs[idx].VarIndexes, vi)
	}
	return nil
}

func (s *Scanner) closeProc() {
	localsSize := s.localCursor
	frameSize := localsSize + s.procs[s.curProc].ArgsCount*ir.StackArgSize
	s.procs[s.curProc].LocalStackSize = frameSize

	for _, pl := range s.pendingLocal {
		v := &s.vars[pl.varIndex]
		v.Offset = frameSize - pl.start
	}

	img := make([]byte, frameSize)
	for _, pd := range s.pendingData {
		copy(img[pd.start:], pd.data)
	}
	s.procs[s.curProc].InitializerImage = img
}

func (s *Scanner) scanLabel(l lexer.Line) error {
	if s.curProc == -1 {
		s.errs.Add(l.Pos(0), "label outside of any proc")
		return s.errs.Err()
	}
	name := s.tok(l, 1)
	if name == "" {
		s.errs.Add(l.Pos(0), "label requires a name")
		return s.errs.Err()
	}
	p := &s.procs[s.curProc]
	if p.FindLabel(s.Arena, name) != -1 {
		s.errs.Addf(l.Pos(1), "duplicate label %q", name)
		return s.errs.Err()
	}
	p.Labels = append(p.Labels, ir.Label{Name: l.Tokens[1], BoundLine: len(s.outLines), InstructionIndex: -1})
	return nil
}

func (s *Scanner) scanLocal(l lexer.Line) error {
	if s.curProc == -1 {
		s.errs.Add(l.Pos(0), "local outside of any proc")
		return s.errs.Err()
	}
	name := s.tok(l, 1)
	if name == "" {
		s.errs.Add(l.Pos(0), "local requires a name")
		return s.errs.Err()
	}
	if _, dup := s.localNames.Get(name); dup {
		s.errs.Addf(l.Pos(1), "duplicate variable name %q", name)
		return s.errs.Err()
	}
	typ, length, data, err := s.parseInitializer(l, 2)
	if err != nil {
		return err
	}
	align := typ.ElemSize()
	if align == 0 {
		align = 4
	}
	start := alignUp(s.localCursor, align)
	size := length * typ.ElemSize()

	v := ir.Variable{Name: l.Tokens[1], Type: typ, Global: false, Proc: s.curProc, Length: length}
	vi := len(s.vars)
	s.vars = append(s.vars, v)
	s.localNames.Put(name, vi)
	s.procs[s.curProc].VarIndexes = append(s.procs[s.curProc].VarIndexes, vi)
	s.pendingLocal = append(s.pendingLocal, pendingLocal{varIndex: vi, start: start, size: size})
	s.localInit(start, data)
	s.localCursor = alignUp(start+size, 4)
	return nil
}

// localInit stashes init bytes to be copied into the proc's initializer
// image once the frame size (and therefore the image's final layout) is
// known, at closeProc.
func (s *Scanner) localInit(start int, data []byte) {
	s.pendingData = append(s.pendingData, pendingLocalData{start: start, data: data})
}

func (s *Scanner) scanStatic(l lexer.Line) error {
	name := s.tok(l, 1)
	if name == "" {
		s.errs.Add(l.Pos(0), "static requires a name")
		return s.errs.Err()
	}
	if _, dup := s.globalNames.Get(name); dup {
		s.errs.Addf(l.Pos(1), "duplicate global variable %q", name)
		return s.errs.Err()
	}
	typ, length, data, err := s.parseInitializer(l, 2)
	if err != nil {
		return err
	}
	align := typ.ElemSize()
	if align == 0 {
		align = 4
	}
	for len(s.initImage)%align != 0 {
		s.initImage = append(s.initImage, 0)
	}
	offset := len(s.initImage)
	s.initImage = append(s.initImage, data...)
	for len(s.initImage)%4 != 0 {
		s.initImage = append(s.initImage, 0)
	}
	s.globalsBytes = len(s.initImage)

	v := ir.Variable{Name: l.Tokens[1], Type: typ, Global: true, Length: length, Offset: offset}
	vi := len(s.vars)
	s.vars = append(s.vars, v)
	s.globalNames.Put(name, vi)
	return nil
}

func (s *Scanner) scanBinclude(l lexer.Line) error {
	if s.LoadBinclude == nil {
		s.errs.Add(l.Pos(0), "binclude is not supported by this host")
		return s.errs.Err()
	}
	name := s.tok(l, 1)
	kind := s.tok(l, 2)
	path := s.tok(l, 3)
	if name == "" || kind == "" || path == "" {
		s.errs.Add(l.Pos(0), "binclude requires a name, type and filename")
		return s.errs.Err()
	}
	var typ ir.Type
	switch kind {
	case "chars":
		typ = ir.Char
	case "ints":
		typ = ir.Int
	case "floats":
		typ = ir.Float
	default:
		s.errs.Addf(l.Pos(2), "binclude: unknown type %q", kind)
		return s.errs.Err()
	}

	raw, err := s.LoadBinclude(path)
	if err != nil {
		s.errs.Addf(l.Pos(3), "binclude: %v", err)
		return s.errs.Err()
	}

	start := 0
	if len(l.Tokens) > 4 {
		start, err = strconv.Atoi(s.tok(l, 4))
		if err != nil || start < 0 || start > len(raw) {
			s.errs.Addf(l.Pos(4), "binclude: invalid start %q", s.tok(l, 4))
			return s.errs.Err()
		}
	}
	length := len(raw) - start
	if len(l.Tokens) > 5 {
		requested, err := strconv.Atoi(s.tok(l, 5))
		if err != nil || requested < 0 {
			s.errs.Addf(l.Pos(5), "binclude: invalid length %q", s.tok(l, 5))
			return s.errs.Err()
		}
		if start+requested > len(raw) {
			if !s.LegacyBincludeTruncation {
				if s.Log != nil {
					s.Log("binclude: %s: requested length %d at offset %d exceeds file size %d", path, requested, start, len(raw))
				}
				s.errs.Addf(l.Pos(5), "binclude: length %d starting at %d exceeds file size %d", requested, start, len(raw))
				return s.errs.Err()
			}
			requested = len(raw) - start
		}
		length = requested
	}
	elemSize := typ.ElemSize()
	length -= length % elemSize
	data := append([]byte{}, raw[start:start+length]...)
	elemCount := length / elemSize

	if s.curProc == -1 {
		if _, dup := s.globalNames.Get(name); dup {
			s.errs.Addf(l.Pos(1), "duplicate global variable %q", name)
			return s.errs.Err()
		}
		align := elemSize
		for len(s.initImage)%align != 0 {
			s.initImage = append(s.initImage, 0)
		}
		offset := len(s.initImage)
		s.initImage = append(s.initImage, data...)
		for len(s.initImage)%4 != 0 {
			s.initImage = append(s.initImage, 0)
		}
		s.globalsBytes = len(s.initImage)
		v := ir.Variable{Name: l.Tokens[1], Type: typ, Global: true, Length: elemCount, Offset: offset}
		vi := len(s.vars)
		s.vars = append(s.vars, v)
		s.globalNames.Put(name, vi)
		return nil
	}

	if _, dup := s.localNames.Get(name); dup {
		s.errs.Addf(l.Pos(1), "duplicate variable name %q", name)
		return s.errs.Err()
	}
	start2 := alignUp(s.localCursor, elemSize)
	v := ir.Variable{Name: l.Tokens[1], Type: typ, Global: false, Proc: s.curProc, Length: elemCount}
	vi := len(s.vars)
	s.vars = append(s.vars, v)
	s.localNames.Put(name, vi)
	s.procs[s.curProc].VarIndexes = append(s.procs[s.curProc].VarIndexes, vi)
	s.pendingLocal = append(s.pendingLocal, pendingLocal{varIndex: vi, start: start2, size: length})
	s.localInit(start2, data)
	s.localCursor = alignUp(start2+length, 4)
	return nil
}

// parseInitializer handles the shared `static`/`local` value grammar from
// spec.md §4.5: a bare scalar literal, an `ints`/`floats` array (list or
// single zero-filled size), or a `string` literal.
func (s *Scanner) parseInitializer(l lexer.Line, from int) (ir.Type, int, []byte, error) {
	rest := l.Tokens[from:]
	if len(rest) == 0 {
		return ir.Int, 1, make([]byte, 4), nil
	}
	kind := s.Arena.String(rest[0])
	switch kind {
	case "ints":
		vals := rest[1:]
		if len(vals) == 1 {
			n, err := strconv.Atoi(s.Arena.String(vals[0]))
			if err != nil || n < 0 {
				s.errs.Addf(l.Pos(from+1), "invalid array size %q", s.Arena.String(vals[0]))
				return 0, 0, nil, s.errs.Err()
			}
			return ir.Int, n, make([]byte, n*4), nil
		}
		data := make([]byte, 0, len(vals)*4)
		for i, h := range vals {
			n, err := strconv.ParseInt(s.Arena.String(h), 10, 32)
			if err != nil {
				s.errs.Addf(l.Pos(from+1+i), "invalid integer %q", s.Arena.String(h))
				return 0, 0, nil, s.errs.Err()
			}
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(int32(n)))
			data = append(data, buf[:]...)
		}
		return ir.Int, len(vals), data, nil

	case "floats":
		vals := rest[1:]
		if len(vals) == 1 {
			n, err := strconv.Atoi(s.Arena.String(vals[0]))
			if err != nil || n < 0 {
				s.errs.Addf(l.Pos(from+1), "invalid array size %q", s.Arena.String(vals[0]))
				return 0, 0, nil, s.errs.Err()
			}
			return ir.Float, n, make([]byte, n*8), nil
		}
		data := make([]byte, 0, len(vals)*8)
		for i, h := range vals {
			f, err := strconv.ParseFloat(s.Arena.String(h), 64)
			if err != nil {
				s.errs.Addf(l.Pos(from+1+i), "invalid float %q", s.Arena.String(h))
				return 0, 0, nil, s.errs.Err()
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			data = append(data, buf[:]...)
		}
		return ir.Float, len(vals), data, nil

	case "string":
		if len(rest) < 2 {
			s.errs.Add(l.Pos(from), "string requires a literal")
			return 0, 0, nil, s.errs.Err()
		}
		data := []byte(s.Arena.String(rest[1]))
		return ir.Char, len(data), data, nil

	default:
		text := kind
		if n, err := strconv.ParseInt(text, 10, 32); err == nil {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(int32(n)))
			return ir.Int, 1, buf[:], nil
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
			return ir.Float, 1, buf[:], nil
		}
		s.errs.Addf(l.Pos(from), "malformed initializer %q", text)
		return 0, 0, nil, s.errs.Err()
	}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	if r := n % align; r != 0 {
		n += align - r
	}
	return n
}
