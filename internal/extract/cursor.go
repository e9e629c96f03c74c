package extract

import "github.com/yuanying/epubstream/internal/zipentry"

// MarkupState is the scanner state carried between chunks.
type MarkupState uint8

const (
	Text MarkupState = iota
	InTag
	InEntity
)

func (s MarkupState) String() string {
	switch s {
	case Text:
		return "text"
	case InTag:
		return "tag"
	case InEntity:
		return "entity"
	default:
		return "unknown"
	}
}

type htmlFlags uint8

const (
	flagInHead htmlFlags = 1 << iota
	flagInBody
	flagBodySeen
	flagInScript
	flagInStyle
)

func (f htmlFlags) has(flag htmlFlags) bool { return f&flag != 0 }

func (f *htmlFlags) set(flag htmlFlags, on bool) {
	if on {
		*f |= flag
	} else {
		*f &^= flag
	}
}

// emitting reports whether character data at this point is body text.
func (f htmlFlags) emitting() bool {
	if f.has(flagInScript) || f.has(flagInStyle) {
		return false
	}
	if f.has(flagBodySeen) {
		return f.has(flagInBody)
	}
	return !f.has(flagInHead)
}

// separator is whitespace owed before the next visible byte.
type separator uint8

const (
	sepNone separator = iota
	sepSpace
	sepBreak
)

const maxTagBytes = 64

// Cursor is the extraction position inside one book. Everything needed to
// continue is stored here, so a chunk boundary may fall anywhere: inside a
// tag, an entity, a whitespace run or a multi-byte character.
type Cursor struct {
	Chapter    int   // index into the extractor's chapter list
	ByteOffset int64 // decompressed bytes consumed from the current resource
	State      MarkupState
	Resume     zipentry.ResumeState
	BookDone   bool

	entity   []byte
	tag      []byte
	tagLast  byte
	tagQuote byte // open attribute quote, 0 outside one
	comment  bool
	dashes   int
	flags    htmlFlags
	sep      separator
	started  bool

	pending        []byte
	pendingChapter int
}

// Reset returns the cursor to its zero state.
func (c *Cursor) Reset() {
	*c = Cursor{}
}

// Pending reports how many extracted bytes are waiting for the next chunk.
func (c *Cursor) Pending() int { return len(c.pending) }

// resetResource clears the per-resource fields. Separator and started state
// belong to the output stream and survive.
func (c *Cursor) resetResource() {
	c.ByteOffset = 0
	c.State = Text
	c.Resume = zipentry.ResumeState{}
	c.entity = c.entity[:0]
	c.tag = c.tag[:0]
	c.tagLast = 0
	c.tagQuote = 0
	c.comment = false
	c.dashes = 0
	c.flags = 0
}
