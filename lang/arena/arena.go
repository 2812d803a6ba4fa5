// Package arena implements the token arena described in spec.md §3.1 and
// §4.1: a single growable, append-only byte buffer from which every token
// discovered during tokenization is interned. Consumers hold byte-offset
// Handles rather than pointers or slices, so that growing the underlying
// buffer (which may reallocate) never invalidates a reference held by an
// earlier pass.
package arena

import (
	"encoding/binary"
	"fmt"
)

// align is the integer alignment that every record is padded to, matching
// spec.md §3.7's "INT uses platform int width (treat as 4 bytes)".
const align = 4

// Handle is a byte offset into an Arena's backing store. The zero Handle is
// a valid offset (the first record ever interned), so NoHandle is used as
// the sentinel for "no token".
type Handle uint32

// NoHandle is the sentinel Handle value meaning "absent".
const NoHandle Handle = ^Handle(0)

// Arena is an append-only store of interned, length-tagged byte strings.
//
// Record layout: [length: u32 LE][bytes: length][NUL], the whole record
// padded with zero bytes up to the next multiple of align. Tokens are
// immutable once written.
type Arena struct {
	buf []byte
}

// New returns an empty Arena.
func New() *Arena {
	return &Arena{}
}

// NewWithCapacity returns an empty Arena with its backing store
// pre-allocated to at least capacity bytes.
func NewWithCapacity(capacity int) *Arena {
	return &Arena{buf: make([]byte, 0, capacity)}
}

// Len returns the total number of bytes currently held by the arena,
// including record headers and padding.
func (a *Arena) Len() int { return len(a.buf) }

// Bytes returns the raw backing store, for diagnostics only (spec.md §6.3
// token_memory accessor). Callers must not retain or mutate the returned
// slice across further Intern* calls: the arena may reallocate on growth.
func (a *Arena) Bytes() []byte { return a.buf }

// InternRaw copies raw, unescaped bytes verbatim into the arena and returns
// a handle to the new record. Used for unquoted tokens.
func (a *Arena) InternRaw(b []byte) Handle {
	return a.write(b)
}

// InternString is a convenience wrapper around InternRaw for string input.
func (a *Arena) InternString(s string) Handle {
	return a.write([]byte(s))
}

// InternQuoted decodes the escape sequences described in spec.md §3.1 (\r
// \n \\ \" \x HH, and backslash-newline continuation) from raw (the bytes
// between the opening and closing quote, exclusive) and interns the
// decoded result. It returns the handle, the number of embedded newlines
// consumed by backslash-newline continuations (the caller's line counter
// must advance by this amount so that subsequent diagnostics report the
// right source line), and an error if an invalid escape is found.
func (a *Arena) InternQuoted(raw []byte) (Handle, int, error) {
	out := make([]byte, 0, len(raw))
	newlines := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(raw) {
			return NoHandle, newlines, fmt.Errorf("dangling escape at end of string")
		}
		switch raw[i] {
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		case '\\':
			out = append(out, '\\')
		case '"':
			out = append(out, '"')
		case '\n':
			newlines++
		case '\r':
			newlines++
			// swallow an immediately following \n as a single continuation
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case 'x':
			if i+2 >= len(raw) {
				return NoHandle, newlines, fmt.Errorf("incomplete \\x escape")
			}
			hi, okHi := hexDigit(raw[i+1])
			lo, okLo := hexDigit(raw[i+2])
			if !okHi || !okLo {
				return NoHandle, newlines, fmt.Errorf("invalid \\x escape")
			}
			out = append(out, byte(hi<<4|lo))
			i += 2
		default:
			return NoHandle, newlines, fmt.Errorf("unknown escape sequence \\%c", raw[i])
		}
	}
	return a.write(out), newlines, nil
}

func hexDigit(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10, true
	default:
		return 0, false
	}
}

func (a *Arena) write(b []byte) Handle {
	h := Handle(len(a.buf))
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(b)))
	a.buf = append(a.buf, hdr[:]...)
	a.buf = append(a.buf, b...)
	a.buf = append(a.buf, 0) // NUL terminator
	for len(a.buf)%align != 0 {
		a.buf = append(a.buf, 0)
	}
	return h
}

// Length returns the byte length (excluding header, NUL and padding) of
// the token at h.
func (a *Arena) Length(h Handle) int {
	return int(binary.LittleEndian.Uint32(a.buf[h : h+4]))
}

// Slice returns the raw bytes (excluding header, NUL and padding) of the
// token at h. The returned slice aliases the arena and must not be
// retained past a subsequent Intern* call.
func (a *Arena) Slice(h Handle) []byte {
	n := a.Length(h)
	start := int(h) + 4
	return a.buf[start : start+n]
}

// String returns the token at h as a Go string (a fresh copy).
func (a *Arena) String(h Handle) string {
	return string(a.Slice(h))
}

// Equal compares two tokens by length then bytes, per spec.md §3.1.
func (a *Arena) Equal(h1, h2 Handle) bool {
	if h1 == h2 {
		return true
	}
	l1, l2 := a.Length(h1), a.Length(h2)
	if l1 != l2 {
		return false
	}
	b1, b2 := a.Slice(h1), a.Slice(h2)
	for i := range b1 {
		if b1[i] != b2[i] {
			return false
		}
	}
	return true
}

// EqualString compares a token to a literal Go string.
func (a *Arena) EqualString(h Handle, s string) bool {
	if a.Length(h) != len(s) {
		return false
	}
	return string(a.Slice(h)) == s
}
