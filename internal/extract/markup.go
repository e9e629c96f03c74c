package extract

import (
	"bytes"

	"golang.org/x/net/html/atom"
)

// blockTags insert a paragraph break when opened or closed.
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Aside:      true,
	atom.Header:     true,
	atom.Footer:     true,
	atom.Nav:        true,
	atom.Li:         true,
	atom.Ul:         true,
	atom.Ol:         true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Blockquote: true,
	atom.Pre:        true,
	atom.Table:      true,
	atom.Tr:         true,
	atom.Br:         true,
	atom.Hr:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Figcaption: true,
}

// spacedTags separate their content by a single space.
var spacedTags = map[atom.Atom]bool{
	atom.Td: true,
	atom.Th: true,
}

type tagInfo struct {
	name        atom.Atom
	closing     bool
	selfClosing bool
}

// parseTag reads the element name out of the bytes between '<' and '>'.
// Declarations, processing instructions and empty tags yield ok=false.
func parseTag(raw []byte, last byte) (tagInfo, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '!' || raw[0] == '?' {
		return tagInfo{}, false
	}
	var info tagInfo
	if raw[0] == '/' {
		info.closing = true
		raw = bytes.TrimSpace(raw[1:])
	}
	info.selfClosing = last == '/'

	end := 0
	for end < len(raw) && raw[end] != '/' && !isSpace(raw[end]) {
		end++
	}
	if end == 0 {
		return tagInfo{}, false
	}
	name := raw[:end]
	if i := bytes.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	info.name = atom.Lookup(bytes.ToLower(name))
	return info, true
}

// applyTag updates the head/body/script/style flags.
func (f *htmlFlags) applyTag(t tagInfo) {
	open := !t.closing && !t.selfClosing
	switch t.name {
	case atom.Head:
		f.set(flagInHead, open)
	case atom.Body:
		if t.closing {
			f.set(flagInBody, false)
			return
		}
		f.set(flagBodySeen, true)
		f.set(flagInHead, false)
		f.set(flagInBody, !t.selfClosing)
	case atom.Script:
		f.set(flagInScript, open)
	case atom.Style:
		f.set(flagInStyle, open)
	}
}

// scan runs the markup scanner over one window of resource bytes.
func (x *Extractor) scan(out []byte, cur *Cursor, data []byte, plain bool) []byte {
	for i := 0; i < len(data); i++ {
		b := data[i]
		if plain {
			out = x.textByte(out, cur, b)
			continue
		}
		switch cur.State {
		case InTag:
			out = x.tagByte(out, cur, b)
		case InEntity:
			var reprocess bool
			out, reprocess = x.entityByte(out, cur, b)
			if reprocess {
				i--
			}
		default:
			switch {
			case b == '<':
				cur.State = InTag
				cur.tag = cur.tag[:0]
				cur.tagLast = 0
				cur.tagQuote = 0
				cur.comment = false
				cur.dashes = 0
			case !cur.flags.emitting():
			case b == '&':
				cur.State = InEntity
				cur.entity = cur.entity[:0]
			default:
				out = x.textByte(out, cur, b)
			}
		}
	}
	return out
}

func (x *Extractor) textByte(out []byte, cur *Cursor, b byte) []byte {
	switch {
	case isSpace(b):
		if cur.sep == sepNone {
			cur.sep = sepSpace
		}
		return out
	case b < 0x20 || b == 0x7f:
		return out
	}
	return x.visible(out, cur, b)
}

func (x *Extractor) tagByte(out []byte, cur *Cursor, b byte) []byte {
	if cur.comment {
		switch {
		case b == '>' && cur.dashes >= 2:
			cur.comment = false
			cur.State = Text
		case b == '-':
			cur.dashes++
		default:
			cur.dashes = 0
		}
		return out
	}

	if cur.tagQuote != 0 {
		// '<' and '>' are attribute text until the quote closes.
		if b == cur.tagQuote {
			cur.tagQuote = 0
			cur.tagLast = b
		}
		cur.appendTag(b)
		return out
	}
	if (b == '"' || b == '\'') && cur.tagLast == '=' {
		cur.tagQuote = b
		cur.tagLast = b
		cur.appendTag(b)
		return out
	}

	if b == '>' {
		cur.State = Text
		info, ok := parseTag(cur.tag, cur.tagLast)
		if !ok {
			return out
		}
		cur.flags.applyTag(info)
		if !cur.flags.emitting() {
			return out
		}
		switch {
		case blockTags[info.name]:
			cur.sep = sepBreak
		case spacedTags[info.name] && cur.sep == sepNone:
			cur.sep = sepSpace
		}
		return out
	}

	if b == '<' {
		// A bare '<' opened no tag; start over at this one.
		cur.tag = cur.tag[:0]
		cur.tagLast = 0
		return out
	}
	if !isSpace(b) {
		cur.tagLast = b
	}
	cur.appendTag(b)
	return out
}

// appendTag keeps the first maxTagBytes of the tag; the element name is all
// parseTag needs.
func (c *Cursor) appendTag(b byte) {
	if len(c.tag) < maxTagBytes {
		if c.tag == nil {
			c.tag = make([]byte, 0, maxTagBytes)
		}
		c.tag = append(c.tag, b)
		if len(c.tag) == 3 && string(c.tag) == "!--" {
			c.comment = true
		}
	}
}

// entityByte consumes one byte of an entity. When the byte cannot belong to
// the entity, the buffered text is emitted literally and the byte must be
// scanned again as text.
func (x *Extractor) entityByte(out []byte, cur *Cursor, b byte) ([]byte, bool) {
	if b == ';' {
		cur.State = Text
		if s, ok := x.entities.Decode(string(cur.entity)); ok {
			return x.decoded(out, cur, s), false
		}
		x.log.Debug("unresolved entity kept literally", "entity", string(cur.entity))
		out = x.visible(out, cur, '&')
		out = x.visible(out, cur, cur.entity...)
		return x.visible(out, cur, ';'), false
	}
	if isEntityByte(b) && len(cur.entity) < x.maxEntity {
		cur.entity = append(cur.entity, b)
		return out, false
	}
	cur.State = Text
	return x.flushEntity(out, cur), true
}

// flushEntity emits an abandoned entity as the literal text it came from.
func (x *Extractor) flushEntity(out []byte, cur *Cursor) []byte {
	out = x.visible(out, cur, '&')
	for _, b := range cur.entity {
		out = x.textByte(out, cur, b)
	}
	cur.entity = cur.entity[:0]
	return out
}

func (x *Extractor) decoded(out []byte, cur *Cursor, s string) []byte {
	for i := 0; i < len(s); i++ {
		out = x.textByte(out, cur, s[i])
	}
	return out
}

// visible writes bytes of text, preceded by any separator owed. A separator
// is never written at the very start of the stream.
func (x *Extractor) visible(out []byte, cur *Cursor, bs ...byte) []byte {
	if len(bs) == 0 {
		return out
	}
	if cur.sep != sepNone {
		if cur.started {
			sep := byte(' ')
			if cur.sep == sepBreak {
				sep = '\n'
			}
			out = x.put(out, cur, sep)
		}
		cur.sep = sepNone
	}
	cur.started = true
	for _, b := range bs {
		out = x.put(out, cur, b)
	}
	return out
}

// put appends to the chunk, spilling into the cursor once the chunk is full.
func (x *Extractor) put(out []byte, cur *Cursor, b byte) []byte {
	if len(out) < x.capacity && len(cur.pending) == 0 {
		return append(out, b)
	}
	if len(cur.pending) == 0 {
		cur.pendingChapter = cur.Chapter
	}
	cur.pending = append(cur.pending, b)
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func isEntityByte(b byte) bool {
	return b == '#' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
