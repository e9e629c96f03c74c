package catalog

import (
	"github.com/yuanying/epubstream/internal/extract"
	"github.com/yuanying/epubstream/internal/sanitize"
)

const (
	DefaultLowWater = 1

	// PlaceholderWord is shown while a refill is outstanding.
	PlaceholderWord = "..."
)

// ReadCursor is everything needed to continue reading one book.
type ReadCursor struct {
	Text      extract.Cursor
	Carry     sanitize.Carryover
	Paragraph int // paragraphs finished so far
	Word      int // words consumed in the current paragraph
}

// Word is one token handed to the reader.
type Word struct {
	Text         string
	EndsSentence bool
	EndsClause   bool
	Placeholder  bool
}

// Progress locates the reader inside the current paragraph. WordTotal is
// a lower bound while the paragraph's end has not been extracted yet.
type Progress struct {
	Paragraph int
	Word      int
	WordTotal int
}

type chapterMark struct {
	off     int
	chapter int
}

// Stream is the per-book state between extraction and the reader: the
// window of sanitized text not yet consumed and the cursor the next chunk
// is extracted at. It owns its ReadCursor and must not be copied.
type Stream struct {
	cursor   ReadCursor
	window   []byte
	off      int
	marks    []chapterMark
	chapter  int
	lowWater int
	bookDone bool
	waiting  bool
}

// NewStream returns a stream that asks for a refill once lowWater complete
// words or fewer are left.
func NewStream(lowWater int) *Stream {
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	return &Stream{lowWater: lowWater}
}

// Cursor returns the stream's cursor for the extractor to advance.
func (s *Stream) Cursor() *ReadCursor { return &s.cursor }

// CurrentWindow returns the unconsumed text.
func (s *Stream) CurrentWindow() []byte { return s.window[s.off:] }

// Chapter returns the chapter the next word belongs to.
func (s *Stream) Chapter() int { return s.chapter }

// BookDone reports whether the last chunk of the book has been applied.
func (s *Stream) BookDone() bool { return s.bookDone }

// Finished reports whether every word of the book has been consumed.
func (s *Stream) Finished() bool {
	return s.bookDone && nextToken(s.window, s.off) < 0
}

// WaitingForRefill reports whether the last NextWord call hit the end of
// valid text and returned the placeholder.
func (s *Stream) WaitingForRefill() bool { return s.waiting }

// RequestRefill reports whether the next chunk should be extracted now:
// the window holds lowWater complete words or fewer and the book has more.
func (s *Stream) RequestRefill() bool {
	if s.bookDone {
		return false
	}
	return completeWords(s.window[s.off:], s.lowWater+1) <= s.lowWater
}

// ApplyChunk appends a sanitized chunk to the window. Consumed text is
// dropped first, so the window only ever holds unread text.
func (s *Stream) ApplyChunk(chunk extract.TextChunk) {
	if s.off > 0 {
		n := copy(s.window, s.window[s.off:])
		s.window = s.window[:n]
		for i := range s.marks {
			s.marks[i].off -= s.off
		}
		s.off = 0
		s.advanceMarks()
	}
	switch {
	case len(chunk.Data) == 0:
	case len(s.window) == 0 && len(s.marks) == 0:
		s.chapter = chunk.Chapter
	case chunk.Chapter != s.lastChapter():
		s.marks = append(s.marks, chapterMark{off: len(s.window), chapter: chunk.Chapter})
	}
	s.window = append(s.window, chunk.Data...)
	if chunk.BookDone {
		s.bookDone = true
	}
	s.waiting = false
}

func (s *Stream) lastChapter() int {
	if len(s.marks) > 0 {
		return s.marks[len(s.marks)-1].chapter
	}
	return s.chapter
}

// NextWord consumes the next word. A word running into the end of the
// window is only returned once the book is done, since the rest of it may
// still be in the next chunk; until then the placeholder is returned. The
// second result is false once the book is finished.
func (s *Stream) NextWord() (Word, bool) {
	for s.off < len(s.window) && isBlank(s.window[s.off]) {
		if s.window[s.off] == '\n' && s.cursor.Word > 0 {
			s.cursor.Paragraph++
			s.cursor.Word = 0
		}
		s.off++
	}
	s.advanceMarks()

	start := s.off
	end := start
	for end < len(s.window) && !isBlank(s.window[end]) {
		end++
	}
	if start == end || (end == len(s.window) && !s.bookDone) {
		if s.bookDone {
			s.waiting = false
			return Word{}, false
		}
		s.waiting = true
		return Word{Text: PlaceholderWord, Placeholder: true}, true
	}

	s.off = end
	s.cursor.Word++
	s.waiting = false
	text := string(s.window[start:end])
	w := Word{Text: text}
	switch trailingMark(text) {
	case '.', '!', '?':
		w.EndsSentence = true
	case ',', ';', ':':
		w.EndsClause = true
	}
	return w, true
}

func (s *Stream) advanceMarks() {
	for len(s.marks) > 0 && s.marks[0].off <= s.off {
		s.chapter = s.marks[0].chapter
		s.marks = s.marks[1:]
	}
}

// Progress reports the reader's position in the current paragraph.
func (s *Stream) Progress() Progress {
	p := Progress{Paragraph: s.cursor.Paragraph, Word: s.cursor.Word}
	p.WordTotal = p.Word
	inWord := false
	for _, b := range s.window[s.off:] {
		if b == '\n' {
			break
		}
		switch {
		case isBlank(b):
			inWord = false
		case !inWord:
			inWord = true
			p.WordTotal++
		}
	}
	return p
}

// Reset discards everything, as when another book is opened.
func (s *Stream) Reset() {
	s.cursor = ReadCursor{}
	s.window = s.window[:0]
	s.off = 0
	s.marks = nil
	s.chapter = 0
	s.bookDone = false
	s.waiting = false
}

// JumpToChapter performs one step of a chapter seek with x and reports
// whether target has been reached. Each step moves one spine entry, so a
// seek is a sequence of calls the caller may interleave with other work.
// On arrival the window and counters are cleared for the new chapter.
func (s *Stream) JumpToChapter(x *extract.Extractor, target int) (bool, error) {
	arrived, err := x.StepToward(&s.cursor.Text, target)
	if err != nil {
		return false, err
	}
	if arrived {
		s.cursor.Carry = sanitize.Carryover{}
		s.cursor.Paragraph = 0
		s.cursor.Word = 0
		s.window = s.window[:0]
		s.off = 0
		s.marks = nil
		s.chapter = target
		s.bookDone = false
		s.waiting = false
	}
	return arrived, nil
}

// completeWords counts words followed by a separator, stopping at limit.
func completeWords(b []byte, limit int) int {
	n := 0
	inWord := false
	for _, c := range b {
		if isBlank(c) {
			if inWord {
				n++
				if n >= limit {
					return n
				}
			}
			inWord = false
			continue
		}
		inWord = true
	}
	return n
}

// nextToken returns the offset of the next non-blank byte at or after
// off, or -1.
func nextToken(b []byte, off int) int {
	for i := off; i < len(b); i++ {
		if !isBlank(b[i]) {
			return i
		}
	}
	return -1
}

// trailingMark returns the last punctuation byte of a word, looking past
// closing quotes and brackets.
func trailingMark(w string) byte {
	for i := len(w) - 1; i >= 0; i-- {
		switch w[i] {
		case '"', '\'', ')', ']':
			continue
		}
		return w[i]
	}
	return 0
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
