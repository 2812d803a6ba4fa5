// Package token provides the diagnostic position type and error list shared
// by every compilation pass (tokenizer, preprocessor, resolver, compiler).
//
// Unlike a byte-offset source language, CrustyVM's unit of position is the
// (module, source line, token index) triple described in spec.md §3.2: a
// Line never outlives its originating module and source line, so that is
// all a Position needs to carry.
package token

import (
	"fmt"
	"sort"
	"strings"
)

// Position identifies a single diagnostic location: a module name (the
// logical name under which a source file, or an inlined literal, was
// tokenized), a 1-based source line within that module, and an optional
// 1-based token index within that line (0 means "the whole line").
type Position struct {
	Module string
	Line   int
	Token  int
}

func (p Position) IsValid() bool { return p.Module != "" }

func (p Position) String() string {
	if !p.IsValid() {
		return "-"
	}
	if p.Token > 0 {
		return fmt.Sprintf("%s:%d:%d", p.Module, p.Line, p.Token)
	}
	return fmt.Sprintf("%s:%d", p.Module, p.Line)
}

// Error is a single positioned compile error with one primary cause,
// per spec.md §7's "report with module+line+column-equivalent and a single
// primary cause".
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	if !e.Pos.IsValid() {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

// ErrorList collects the errors encountered by a single compilation pass.
// Passes keep going after the first error where it is cheap and useful to
// report more than one mistake at a time (mirrors go/scanner.ErrorList,
// which the teacher aliases directly; CrustyVM's position shape does not
// line up with go/scanner's, so this is its own small type rather than a
// reuse of that one).
type ErrorList []*Error

// Add appends a new error to the list.
func (l *ErrorList) Add(pos Position, msg string) {
	*l = append(*l, &Error{Pos: pos, Msg: msg})
}

// Addf appends a new formatted error to the list.
func (l *ErrorList) Addf(pos Position, format string, args ...any) {
	l.Add(pos, fmt.Sprintf(format, args...))
}

// Sort orders the list by module, then line, then token index, so
// diagnostics read top-to-bottom regardless of the order passes discovered
// them in.
func (l ErrorList) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := l[i].Pos, l[j].Pos
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Token < b.Token
	})
}

// Error implements the error interface: the first error's message, followed
// by a count of the remaining errors when there is more than one.
func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (and %d more error", l[0], len(l)-1)
	if len(l) > 2 {
		sb.WriteByte('s')
	}
	sb.WriteByte(')')
	return sb.String()
}

// Unwrap exposes the individual errors for errors.Is/errors.As traversal.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// Err returns nil if the list is empty, otherwise the list itself as an
// error (after sorting).
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	l.Sort()
	return l
}
