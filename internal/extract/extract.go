// Package extract turns (X)HTML content documents into plain text, one
// bounded chunk per call. The scanner state lives in a Cursor, so
// extraction resumes exactly where the previous chunk stopped.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/zipentry"
)

const (
	DefaultChunkCapacity = 480
	DefaultMaxEntityLen  = 16

	// UnavailableText stands in for a chapter whose resource cannot be read.
	UnavailableText = "[chapter unavailable]"
)

var ErrChapterOutOfRange = errors.New("extract: chapter out of range")

// EntryReader is the container access the extractor needs.
// *zipentry.Container satisfies it.
type EntryReader interface {
	Lookup(name string) (zipentry.Entry, error)
	ReadEntry(e zipentry.Entry, st *zipentry.ResumeState, out []byte) (int, bool, error)
	Discard(st *zipentry.ResumeState)
}

// Options configures an Extractor. Zero values select defaults.
type Options struct {
	ChunkCapacity int
	MaxEntityLen  int
	Entities      map[string]string // merged over the built-in table
	Logger        *slog.Logger
}

// TextChunk is one extraction step's output.
type TextChunk struct {
	Data         []byte
	Chapter      int  // chapter the text belongs to
	ResourceDone bool // the chapter's resource was fully consumed
	BookDone     bool // nothing is left to extract
}

// Extractor reads the chapters of one book.
type Extractor struct {
	r         EntryReader
	chapters  []epub.Chapter
	capacity  int
	maxEntity int
	entities  Entities
	log       *slog.Logger
	raw       []byte
}

// New returns an Extractor over chapters, in spine order.
func New(r EntryReader, chapters []epub.Chapter, opts Options) *Extractor {
	if opts.ChunkCapacity <= 0 {
		opts.ChunkCapacity = DefaultChunkCapacity
	}
	if opts.MaxEntityLen <= 0 {
		opts.MaxEntityLen = DefaultMaxEntityLen
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Extractor{
		r:         r,
		chapters:  chapters,
		capacity:  opts.ChunkCapacity,
		maxEntity: opts.MaxEntityLen,
		entities:  NewEntities(opts.Entities),
		log:       opts.Logger,
		raw:       make([]byte, opts.ChunkCapacity),
	}
}

// Chapters returns the chapter list the extractor walks.
func (x *Extractor) Chapters() []epub.Chapter { return x.chapters }

// Rewind positions cur at the start of the first linear text chapter.
func (x *Extractor) Rewind(cur *Cursor) {
	x.r.Discard(&cur.Resume)
	cur.Reset()
	cur.Chapter = x.nextLinear(-1)
	cur.BookDone = cur.Chapter >= len(x.chapters)
}

// Extract produces the next chunk of text at cur. A call never reads past
// the end of the current resource; when the resource ends, cur moves to the
// next linear chapter and the chunk reports ResourceDone. Reaching the end
// of the spine sets BookDone rather than failing.
//
// Unreadable chapters (missing entry, corrupt or unsupported data) are
// replaced by UnavailableText. Other errors, storage failures in
// particular, are returned; cur is left so the call can be retried.
func (x *Extractor) Extract(cur *Cursor) (TextChunk, error) {
	chunk := TextChunk{Chapter: cur.Chapter}
	if len(cur.pending) > 0 {
		chunk.Chapter = cur.pendingChapter
	}
	out := make([]byte, 0, x.capacity)
	out = x.drainPending(out, cur)

	// A chunk holds text of one chapter only.
	for len(out) < x.capacity && len(cur.pending) == 0 && !cur.BookDone && chunk.Chapter == cur.Chapter {
		if cur.Chapter < 0 || cur.Chapter >= len(x.chapters) {
			cur.BookDone = true
			break
		}
		ch := x.chapters[cur.Chapter]
		if !ch.Readable() {
			// Reached by seeking; nothing in it is prose.
			x.log.Debug("skipping non-text chapter", "chapter", cur.Chapter, "href", ch.Href, "media_type", ch.MediaType)
			out = x.endResource(out, cur)
			chunk.ResourceDone = true
			break
		}

		entry, err := x.r.Lookup(ch.Href)
		if err != nil {
			if !unreadable(err) {
				return x.abort(out, cur, chunk.Chapter, err)
			}
			out = x.unavailable(out, cur, ch, err)
			chunk.ResourceDone = true
			break
		}

		raw := x.raw[:x.capacity-len(out)]
		n, done, err := x.r.ReadEntry(entry, &cur.Resume, raw)
		if err != nil {
			if !unreadable(err) {
				return x.abort(out, cur, chunk.Chapter, err)
			}
			out = x.unavailable(out, cur, ch, err)
			chunk.ResourceDone = true
			break
		}
		cur.ByteOffset += int64(n)
		out = x.scan(out, cur, raw[:n], isPlainText(ch))

		if done {
			out = x.endResource(out, cur)
			chunk.ResourceDone = true
			break
		}
		if n == 0 {
			break
		}
	}

	chunk.Data = out
	chunk.BookDone = cur.BookDone && len(cur.pending) == 0
	return chunk, nil
}

// StepToward moves cur one chapter toward target and reports whether it has
// arrived. Each call is one bounded step; a jump to chapter k from chapter
// 0 takes k calls. Landing on a chapter restarts it from its first byte.
func (x *Extractor) StepToward(cur *Cursor, target int) (bool, error) {
	if target < 0 || target >= len(x.chapters) {
		return false, fmt.Errorf("%w: %d of %d", ErrChapterOutOfRange, target, len(x.chapters))
	}
	x.r.Discard(&cur.Resume)
	switch {
	case cur.Chapter < target:
		cur.Chapter++
	case cur.Chapter > target:
		cur.Chapter--
	}
	cur.resetResource()
	cur.pending = nil
	cur.sep = sepNone
	cur.started = false
	cur.BookDone = false
	return cur.Chapter == target, nil
}

// Suspend releases the decoder held by cur, keeping its position.
func (x *Extractor) Suspend(cur *Cursor) {
	if name := cur.Resume.Entry(); name != "" {
		x.log.Debug("text decoder suspended", "entry", name, "offset", cur.Resume.Offset)
	}
	x.r.Discard(&cur.Resume)
}

func (x *Extractor) drainPending(out []byte, cur *Cursor) []byte {
	if len(cur.pending) == 0 {
		return out
	}
	n := x.capacity - len(out)
	if n > len(cur.pending) {
		n = len(cur.pending)
	}
	out = append(out, cur.pending[:n]...)
	cur.pending = cur.pending[n:]
	if len(cur.pending) == 0 {
		cur.pending = nil
	}
	return out
}

// abort keeps already scanned text for the retry and returns err.
func (x *Extractor) abort(out []byte, cur *Cursor, chapter int, err error) (TextChunk, error) {
	if len(out) > 0 {
		cur.pending = append(append([]byte(nil), out...), cur.pending...)
		cur.pendingChapter = chapter
	}
	return TextChunk{Chapter: chapter}, err
}

func (x *Extractor) unavailable(out []byte, cur *Cursor, ch epub.Chapter, err error) []byte {
	x.log.Warn("chapter unreadable, using placeholder",
		"chapter", cur.Chapter, "href", ch.Href, "offset", cur.ByteOffset, "error", err)
	x.r.Discard(&cur.Resume)
	cur.sep = sepBreak
	out = x.decoded(out, cur, UnavailableText)
	return x.endResource(out, cur)
}

// endResource settles a half-read entity or tag and moves to the next
// linear chapter.
func (x *Extractor) endResource(out []byte, cur *Cursor) []byte {
	if cur.State == InEntity {
		out = x.flushEntity(out, cur)
	}
	x.r.Discard(&cur.Resume)
	cur.resetResource()
	cur.sep = sepBreak
	cur.Chapter = x.nextLinear(cur.Chapter)
	if cur.Chapter >= len(x.chapters) {
		cur.BookDone = true
		cur.sep = sepNone
	}
	return out
}

// nextLinear returns the next chapter after from that is read in order.
// Non-linear and non-text entries stay in the list but are passed over.
func (x *Extractor) nextLinear(from int) int {
	for i := from + 1; i < len(x.chapters); i++ {
		if x.chapters[i].Linear && x.chapters[i].Readable() {
			return i
		}
	}
	return len(x.chapters)
}

func unreadable(err error) bool {
	return errors.Is(err, zipentry.ErrEntryNotFound) ||
		errors.Is(err, zipentry.ErrCorruptArchive) ||
		errors.Is(err, zipentry.ErrUnsupportedCompression) ||
		errors.Is(err, zipentry.ErrStateMismatch)
}

func isPlainText(ch epub.Chapter) bool {
	if strings.HasPrefix(ch.MediaType, "text/plain") {
		return true
	}
	switch strings.ToLower(path.Ext(ch.Href)) {
	case ".txt", ".text":
		return true
	}
	return false
}
