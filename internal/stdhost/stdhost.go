// Package stdhost implements the OS-rooted host environment a command-line
// embedder of the machine wires in: binclude/include file loading confined
// to a safe root directory, and stdio-backed write callbacks that a program
// reaches by name once the host lists them in crustyvm.Options.Callbacks
// (spec.md §6.2's callback variables). It mirrors the sandboxing crustyvm_open_file
// and the write_to debug-output callback perform in the original
// implementation, translated to the idiomatic Go shape the resolver and
// machine packages expect.
package stdhost

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/crustyvm/crustyvm/lang/ir"
)

// SafePath confines file access to the directory containing the first file
// it ever resolves, the same rule crustyvm_open_file enforces: once a root
// program is loaded from a directory, every binclude it pulls in must
// resolve under that same directory.
type SafePath struct {
	root string
}

// Resolve turns name into an absolute path, establishing root on the first
// call and rejecting any later call that would escape it.
func (s *SafePath) Resolve(name string) (string, error) {
	full, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("stdhost: %w", err)
	}
	full = filepath.Clean(full)
	dir := filepath.Dir(full)

	if s.root == "" {
		s.root = dir
		return full, nil
	}
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("stdhost: %q: file accessed from unsafe path (root is %q)", full, s.root)
	}
	return full, nil
}

// Load reads name after validating it through Resolve. It satisfies
// resolver.BincludeLoader.
func (s *SafePath) Load(name string) ([]byte, error) {
	full, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("stdhost: %w", err)
	}
	return b, nil
}

// Writer is a host-bound write-only callback variable backed by an
// io.Writer, formatting each element the way the original write_to debug
// sink does: characters verbatim, ints as decimal, floats as %g.
type Writer struct {
	out io.Writer
}

// NewWriter wraps w as a CrustyVM write callback.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Write implements ir.WriteCallback.
func (w *Writer) Write(priv any, elemType ir.Type, data []byte, index int) error {
	var s string
	switch elemType {
	case ir.Char:
		if len(data) > 0 {
			s = string(data[0])
		}
	case ir.Int:
		if len(data) >= 4 {
			n := int32(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)
			s = fmt.Sprintf("%d", n)
		}
	case ir.Float:
		if len(data) >= 8 {
			var bits uint64
			for i := 0; i < 8; i++ {
				bits |= uint64(data[i]) << (8 * i)
			}
			s = fmt.Sprintf("%g", math.Float64frombits(bits))
		}
	}
	_, err := w.out.Write([]byte(s))
	return err
}

// Stdout and Stderr are ready-made write callbacks for the two standard
// streams, the CRUSTY_STDOUT/CRUSTY_STDERR targets of the original debug
// sink. They format one value per call, the write_to callback's contract.
var (
	Stdout = NewWriter(os.Stdout)
	Stderr = NewWriter(os.Stderr)
)

// StringWriter is the write_string_to counterpart: it only accepts CHAR
// data and writes the whole buffer handed to it (an entire array move's
// remaining run) verbatim, rather than formatting a single element.
type StringWriter struct {
	out io.Writer
}

// NewStringWriter wraps w as a CrustyVM whole-string write callback.
func NewStringWriter(w io.Writer) *StringWriter {
	return &StringWriter{out: w}
}

// Write implements ir.WriteCallback.
func (w *StringWriter) Write(priv any, elemType ir.Type, data []byte, index int) error {
	if elemType != ir.Char {
		return fmt.Errorf("stdhost: attempt to print non-string")
	}
	_, err := w.out.Write(data)
	return err
}

// StringStdout and StringStderr back the original's string_out/string_err
// callbacks.
var (
	StringStdout = NewStringWriter(os.Stdout)
	StringStderr = NewStringWriter(os.Stderr)
)
