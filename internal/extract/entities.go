package extract

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuanying/epubstream/internal/sanitize"
)

// defaultEntities maps HTML entity names to their replacement text.
// Typographic punctuation is normalized to ASCII for the display font.
var defaultEntities = map[string]string{
	"amp": "&", "lt": "<", "gt": ">", "quot": `"`,
	"apos": "'", "lsquo": "'", "rsquo": "'", "sbquo": "'", "lsaquo": "'", "rsaquo": "'",
	"ldquo": `"`, "rdquo": `"`, "bdquo": `"`, "laquo": `"`, "raquo": `"`,
	"nbsp": " ", "ensp": " ", "emsp": " ", "thinsp": " ",
	"ndash": "-", "mdash": "-", "minus": "-",
	"hellip": "...",
	"shy": "", "zwj": "", "zwnj": "",
	"bull": "*", "middot": "·",
	"copy": "©", "reg": "®", "trade": "™", "deg": "°",
	"sect": "§", "para": "¶", "times": "×", "divide": "÷",
	"frac12": "½", "frac14": "¼", "frac34": "¾",
	"euro": "€", "pound": "£", "ordf": "ª", "ordm": "º",
	"iexcl": "¡", "iquest": "¿", "szlig": "ß",

	"aacute": "á", "eacute": "é", "iacute": "í", "oacute": "ó", "uacute": "ú",
	"Aacute": "Á", "Eacute": "É", "Iacute": "Í", "Oacute": "Ó", "Uacute": "Ú",
	"agrave": "à", "egrave": "è", "igrave": "ì", "ograve": "ò", "ugrave": "ù",
	"Agrave": "À", "Egrave": "È", "Igrave": "Ì", "Ograve": "Ò", "Ugrave": "Ù",
	"acirc": "â", "ecirc": "ê", "icirc": "î", "ocirc": "ô", "ucirc": "û",
	"auml": "ä", "euml": "ë", "iuml": "ï", "ouml": "ö", "uuml": "ü",
	"Auml": "Ä", "Ouml": "Ö", "Uuml": "Ü",
	"ntilde": "ñ", "Ntilde": "Ñ", "ccedil": "ç", "Ccedil": "Ç",
}

// Entities resolves entity names. Lookups try the exact name first and then
// its lower-case form, so "AMP" and "Nbsp" resolve as well.
type Entities map[string]string

// NewEntities returns the built-in table with extra merged over it.
func NewEntities(extra map[string]string) Entities {
	t := make(Entities, len(defaultEntities)+len(extra))
	for k, v := range defaultEntities {
		t[k] = v
	}
	for k, v := range extra {
		t[k] = v
	}
	return t
}

// Decode resolves a named ("amp") or numeric ("#39", "#x2014") entity.
func (t Entities) Decode(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if name[0] == '#' {
		return decodeNumeric(name[1:])
	}
	if s, ok := t[name]; ok {
		return s, true
	}
	s, ok := t[strings.ToLower(name)]
	return s, ok
}

var builtin = NewEntities(nil)

// DecodeEntity resolves name against the built-in table.
func DecodeEntity(name string) (string, bool) {
	return builtin.Decode(name)
}

func decodeNumeric(digits string) (string, bool) {
	base := 10
	if digits != "" && (digits[0] == 'x' || digits[0] == 'X') {
		base = 16
		digits = digits[1:]
	}
	if digits == "" {
		return "", false
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil || v == 0 {
		return "", false
	}
	r := rune(v)
	if !utf8.ValidRune(r) {
		return "", false
	}
	if s, ok := sanitize.FoldPunct(r); ok {
		return s, true
	}
	return string(r), true
}
