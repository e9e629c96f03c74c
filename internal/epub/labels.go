package epub

import (
	"path"
	"strconv"
	"strings"
	"unicode"
)

// ChapterLabel derives a short navigation label from a resource path.
//
//	text/chapter12.xhtml  -> "Chapter 12"
//	2000-h-3.htm.xhtml    -> "Chapter 4"
//	007.xhtml             -> "Chapter 7"
//	part_one.xhtml        -> "Part One"
func ChapterLabel(href string) string {
	stem := strings.TrimSpace(stemOf(href))
	if n, ok := chapterNumber(stem); ok {
		if n < 1 {
			n = 1
		}
		return "Chapter " + strconv.Itoa(n)
	}
	if label := titleCase(stem, true); label != "" {
		return label
	}
	return "Section"
}

// TitleFromFilename builds a display title for a book without dc:title:
// the extension is dropped, separators become spaces and words are
// capitalized.
func TitleFromFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	if t := titleCase(base, false); t != "" {
		return t
	}
	return "Untitled"
}

func stemOf(href string) string {
	base := path.Base(href)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func chapterNumber(stem string) (int, bool) {
	if stem == "" {
		return 0, false
	}
	lower := strings.ToLower(stem)

	if i := strings.Index(lower, "-h-"); i >= 0 {
		if n, ok := leadingNumber(lower[i+3:]); ok {
			return n + 1, true
		}
	}
	if n, err := strconv.Atoi(stem); err == nil && allDigits(stem) {
		return n, true
	}
	for _, word := range []string{"chapter", "capitulo", "cap"} {
		if !strings.Contains(lower, word) {
			continue
		}
		end := len(stem)
		for end > 0 && stem[end-1] >= '0' && stem[end-1] <= '9' {
			end--
		}
		if end < len(stem) {
			n, err := strconv.Atoi(stem[end:])
			return n, err == nil
		}
		break
	}
	return 0, false
}

func leadingNumber(s string) (int, bool) {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s[:n])
	return v, err == nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// titleCase turns separators ('_', '-', and '.' when dots is set) into
// single spaces and capitalizes each word. Other punctuation is dropped.
func titleCase(s string, dots bool) string {
	var sb strings.Builder
	wordStart := true
	for _, r := range s {
		if r == '_' || r == '-' || unicode.IsSpace(r) || (dots && r == '.') {
			if sb.Len() > 0 && !wordStart {
				sb.WriteByte(' ')
			}
			wordStart = true
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' {
			continue
		}
		if wordStart {
			sb.WriteRune(unicode.ToUpper(r))
		} else {
			sb.WriteRune(unicode.ToLower(r))
		}
		wordStart = false
	}
	return strings.TrimSpace(sb.String())
}
