package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func quiet() Options { return Options{} }

// feed sanitizes parts in order, checking every emitted piece is valid on
// its own, and flushes the final carryover.
func feed(t *testing.T, s *Sanitizer, parts ...[]byte) string {
	t.Helper()
	var b strings.Builder
	var carry Carryover
	for _, p := range parts {
		var out []byte
		out, carry = s.Sanitize(p, carry)
		if !utf8.Valid(out) {
			t.Fatalf("invalid UTF-8 emitted for %q: %q", p, out)
		}
		if carry.Len() > 3 {
			t.Fatalf("carryover of %d bytes", carry.Len())
		}
		b.Write(out)
	}
	b.Write(s.Flush(carry))
	return b.String()
}

func TestSanitize_ValidTextPassesThrough(t *testing.T) {
	in := "En un lugar de la Mancha, de cuyo nombre no quiero acordarme 😀 — ¿qué?\n"
	got := feed(t, New(quiet()), []byte(in))
	if got != in {
		t.Fatalf("got %q, want %q", got, in)
	}
}

func TestSanitize_LegacyBytes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"curly single quotes", "\x91x\x92", "'x'"},
		{"curly double quotes", "\x93hi\x94", `"hi"`},
		{"dashes", "a\x96b\x97c", "a-b-c"},
		{"ellipsis", "wait\x85", "wait..."},
		{"no-break space", "a\xa0b", "a b"},
		{"latin-1 letters", "Espa\xf1a \xe9t\xe9 \xbfqu\xe9?", "España été ¿qué?"},
		{"upper case accents", "\xc1\xc9\xcd\xd3\xda\xd1\xdc", "ÁÉÍÓÚÑÜ"},
		{"unassigned byte", "a\x81b", "a?b"},
		{"broken sequence", "\xe2(", "â("},
		{"lone continuation", "x\xa9y", "x©y"},
		{"surrogate encoding", "\xed\xa0\x80", "í €"},
		{"control bytes dropped", "a\x01b\tc\x7f\n", "abc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(t, New(quiet()), []byte(tt.in))
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitize_FallbackOverride(t *testing.T) {
	s := New(Options{Fallback: map[byte]string{0x80: "EUR", 0xe9: "e", 0x41: "x"}})
	got := feed(t, s, []byte("10\x80 caf\xe9 A"))
	if got != "10EUR cafe A" {
		t.Fatalf("got %q", got)
	}
	if s.Fallbacks() != 2 {
		t.Errorf("fallbacks = %d, want 2", s.Fallbacks())
	}
}

func TestSanitize_CarryCompletesCharacter(t *testing.T) {
	s := New(quiet())
	out, carry := s.Sanitize([]byte("ab\xe2\x80"), Carryover{})
	if string(out) != "ab" {
		t.Fatalf("first chunk = %q, want %q", out, "ab")
	}
	if carry.Len() != 2 {
		t.Fatalf("carry = %d bytes, want 2", carry.Len())
	}
	out, carry = s.Sanitize([]byte("\x94c"), carry)
	if string(out) != "—c" {
		t.Fatalf("second chunk = %q, want %q", out, "—c")
	}
	if carry.Len() != 0 {
		t.Fatalf("carry left: %d bytes", carry.Len())
	}
	if s.Fallbacks() != 0 {
		t.Errorf("fallbacks = %d, want 0", s.Fallbacks())
	}
}

func TestSanitize_FlushMapsIncompleteTail(t *testing.T) {
	s := New(quiet())
	out, carry := s.Sanitize([]byte("end\xe2\x80"), Carryover{})
	if string(out) != "end" {
		t.Fatalf("got %q", out)
	}
	if got := string(s.Flush(carry)); got != "â€" {
		t.Fatalf("flush = %q, want %q", got, "â€")
	}
	if s.Flush(Carryover{}) != nil {
		t.Error("flush of empty carryover produced output")
	}
}

func TestSanitize_SplitPointIndependence(t *testing.T) {
	in := []byte("caf\xc3\xa9 \xe2\x80\x94 \xe9t\xe9 \xf0\x9f\x98\x80 \x93hi\x94 \xe2( \xf0\x9f\x98x \xc3")
	want := feed(t, New(quiet()), in)
	if !utf8.ValidString(want) {
		t.Fatalf("whole-input result invalid: %q", want)
	}

	for cut := 0; cut <= len(in); cut++ {
		got := feed(t, New(quiet()), in[:cut], in[cut:])
		if got != want {
			t.Fatalf("split at %d: got %q, want %q", cut, got, want)
		}
	}

	for size := 1; size <= 5; size++ {
		var parts [][]byte
		for i := 0; i < len(in); i += size {
			end := i + size
			if end > len(in) {
				end = len(in)
			}
			parts = append(parts, in[i:end])
		}
		if got := feed(t, New(quiet()), parts...); got != want {
			t.Fatalf("chunks of %d: got %q, want %q", size, got, want)
		}
	}
}

func TestFoldPunct(t *testing.T) {
	tests := map[rune]string{
		'’': "'",
		'“': `"`,
		'—': "-",
		'…': "...",
		'\u00a0': " ",
		'\u00ad': "",
	}
	for r, want := range tests {
		got, ok := FoldPunct(r)
		if !ok || got != want {
			t.Errorf("FoldPunct(%U) = %q, %v; want %q", r, got, ok, want)
		}
	}
	if _, ok := FoldPunct('a'); ok {
		t.Error("FoldPunct folded a letter")
	}
}
