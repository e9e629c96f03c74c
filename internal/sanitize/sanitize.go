// Package sanitize keeps extracted text valid UTF-8 across chunk
// boundaries. A character split between two chunks is held back as
// carryover and completed by the next chunk; bytes that are not UTF-8 at
// all are read as a legacy single-byte encoding instead.
package sanitize

import (
	"log/slog"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Carryover holds the 0-3 leading bytes of a character that continues in
// the next chunk.
type Carryover struct {
	buf [utf8.UTFMax - 1]byte
	n   uint8
}

// Len returns the number of held bytes.
func (c Carryover) Len() int { return int(c.n) }

// Bytes returns the held bytes.
func (c Carryover) Bytes() []byte { return c.buf[:c.n] }

// Options configures a Sanitizer.
type Options struct {
	// Fallback overrides entries of the legacy byte table. An empty
	// string drops the byte.
	Fallback map[byte]string
	Logger   *slog.Logger
}

// Sanitizer validates chunks. It is not safe for concurrent use.
type Sanitizer struct {
	table     [256]string
	fallbacks int
	log       *slog.Logger
}

// New builds a Sanitizer whose legacy table is Windows-1252 with
// typographic punctuation folded to ASCII, plus opts.Fallback.
func New(opts Options) *Sanitizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Sanitizer{log: opts.Logger}
	for b := 0x80; b <= 0xff; b++ {
		s.table[b] = legacyByte(byte(b))
	}
	for b, v := range opts.Fallback {
		if b >= 0x80 {
			s.table[b] = v
		}
	}
	return s
}

func legacyByte(b byte) string {
	r := charmap.Windows1252.DecodeByte(b)
	if r == utf8.RuneError || (r >= 0x80 && r < 0xa0) {
		// Unassigned in Windows-1252.
		return "?"
	}
	if s, ok := FoldPunct(r); ok {
		return s
	}
	return string(r)
}

// Fallbacks counts the bytes that went through the legacy table.
func (s *Sanitizer) Fallbacks() int { return s.fallbacks }

// Sanitize validates carry ++ raw and returns the clean text and the new
// carryover. Only an incomplete character at the very end is carried; an
// invalid byte anywhere else is mapped through the legacy table. ASCII
// control bytes other than '\n' are dropped.
func (s *Sanitizer) Sanitize(raw []byte, carry Carryover) ([]byte, Carryover) {
	data := raw
	if carry.n > 0 {
		data = make([]byte, 0, int(carry.n)+len(raw))
		data = append(data, carry.Bytes()...)
		data = append(data, raw...)
	}

	out := make([]byte, 0, len(data))
	var next Carryover
	mapped := 0
	for i := 0; i < len(data); {
		b := data[i]
		if b < utf8.RuneSelf {
			if b >= 0x20 && b != 0x7f || b == '\n' {
				out = append(out, b)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r != utf8.RuneError || size > 1 {
			out = append(out, data[i:i+size]...)
			i += size
			continue
		}
		if !utf8.FullRune(data[i:]) {
			next.n = uint8(copy(next.buf[:], data[i:]))
			break
		}
		out = append(out, s.table[b]...)
		mapped++
		i++
	}

	if mapped > 0 {
		s.fallbacks += mapped
		s.log.Debug("legacy byte fallback applied", "bytes", mapped)
	}
	return out, next
}

// Flush settles a carryover at the end of a resource: the held bytes can no
// longer be completed, so they go through the legacy table.
func (s *Sanitizer) Flush(carry Carryover) []byte {
	if carry.n == 0 {
		return nil
	}
	var out []byte
	for _, b := range carry.Bytes() {
		out = append(out, s.table[b]...)
	}
	s.fallbacks += int(carry.n)
	return out
}

// FoldPunct maps typographic punctuation and spacing to ASCII.
func FoldPunct(r rune) (string, bool) {
	switch r {
	case 0x2018, 0x2019, 0x201A, 0x2039, 0x203A:
		return "'", true
	case 0x201C, 0x201D, 0x201E, 0x00AB, 0x00BB:
		return `"`, true
	case 0x2010, 0x2011, 0x2012, 0x2013, 0x2014, 0x2015, 0x2212:
		return "-", true
	case 0x2026:
		return "...", true
	case 0x00A0, 0x2002, 0x2003, 0x2009:
		return " ", true
	case 0x00AD, 0x200B, 0x200C, 0x200D, 0xFEFF:
		return "", true
	}
	return "", false
}
