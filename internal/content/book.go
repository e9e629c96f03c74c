package content

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/yuanying/epubstream/internal/catalog"
	"github.com/yuanying/epubstream/internal/cover"
	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/extract"
	"github.com/yuanying/epubstream/internal/sanitize"
	"github.com/yuanying/epubstream/internal/storage"
	"github.com/yuanying/epubstream/internal/zipentry"
)

// Options configures a source. Zero values select defaults.
type Options struct {
	Extract  extract.Options
	Fallback map[byte]string // legacy byte overrides for the sanitizer
	Cover    cover.Options
	LowWater int
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Extract.Logger == nil {
		o.Extract.Logger = o.Logger
	}
	if o.Cover.Logger == nil {
		o.Cover.Logger = o.Logger
	}
	if o.Cover.Width <= 0 {
		o.Cover.Width = cover.DefaultWidth
	}
	if o.Cover.Height <= 0 {
		o.Cover.Height = cover.DefaultHeight
	}
	return o
}

// BookSource streams books from storage. One book is open at a time and
// it exclusively owns the open file.
type BookSource struct {
	store  storage.Storage
	cat    *catalog.Catalog
	opts   Options
	log    *slog.Logger
	san    *sanitize.Sanitizer
	stream *catalog.Stream

	index     int
	handle    storage.Handle
	container *zipentry.Container
	pkg       *epub.OPF
	x         *extract.Extractor
	labels    []string
	fallbacks int // sanitizer fallback count when the book was opened
}

// NewBookSource returns a source over the books of cat.
func NewBookSource(store storage.Storage, cat *catalog.Catalog, opts Options) *BookSource {
	opts = opts.withDefaults()
	return &BookSource{
		store:  store,
		cat:    cat,
		opts:   opts,
		log:    opts.Logger,
		san:    sanitize.New(sanitize.Options{Fallback: opts.Fallback, Logger: opts.Logger}),
		stream: catalog.NewStream(opts.LowWater),
		index:  -1,
	}
}

func (s *BookSource) Catalog() *catalog.Catalog { return s.cat }

// Select opens book index, replacing the open one. A book that fails to
// open is marked unavailable in the catalog.
func (s *BookSource) Select(index int) error {
	entry, ok := s.cat.Entry(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBookOutOfRange, index)
	}
	if !entry.Available {
		return fmt.Errorf("%w: %s (%s)", ErrBookUnavailable, entry.Path, entry.Status)
	}
	s.closeBook()

	h, err := s.store.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Path, err)
	}
	pkg, c, err := catalog.OpenBook(h)
	if err != nil {
		h.Close()
		if errors.Is(err, storage.ErrIO) {
			return fmt.Errorf("failed to open %s: %w", entry.Path, err)
		}
		s.cat.MarkUnavailable(index, err)
		s.log.Warn("book unavailable", "path", entry.Path, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrBookUnavailable, entry.Path, err)
	}

	chapters := pkg.Chapters()
	toc, err := pkg.LoadTOC(c.ReadNamed)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrIO):
		h.Close()
		return fmt.Errorf("failed to open %s: %w", entry.Path, err)
	case errors.Is(err, epub.ErrNoTOC):
		s.log.Debug("no table of contents, labels from file names", "path", entry.Path)
	default:
		s.log.Warn("table of contents unreadable, labels from file names", "path", entry.Path, "error", err)
	}

	s.index = index
	s.handle = h
	s.container = c
	s.pkg = pkg
	s.x = extract.New(c, chapters, s.opts.Extract)
	s.labels = toc.Labels(chapters)
	s.fallbacks = s.san.Fallbacks()
	s.x.Rewind(&s.stream.Cursor().Text)
	s.log.Info("book opened", "path", entry.Path, "chapters", len(chapters), "toc_entries", toc.Len())
	return s.Step()
}

// Step extracts the next chunk at the stream's cursor, sanitizes it and
// applies it. A failed step leaves the cursor where it was and can be
// retried.
func (s *BookSource) Step() error {
	if s.x == nil {
		return ErrNoBook
	}
	if s.stream.BookDone() {
		return nil
	}
	cur := s.stream.Cursor()
	chunk, err := s.x.Extract(&cur.Text)
	if err != nil {
		return fmt.Errorf("failed to extract chapter %d: %w", cur.Text.Chapter, err)
	}

	s.log.Debug("chunk extracted", "chapter", chunk.Chapter, "bytes", len(chunk.Data),
		"pending", cur.Text.Pending(), "resource_done", chunk.ResourceDone)

	data, carry := s.san.Sanitize(chunk.Data, cur.Carry)
	cur.Carry = carry
	if chunk.BookDone {
		data = append(data, s.san.Flush(cur.Carry)...)
		cur.Carry = sanitize.Carryover{}
	}
	chunk.Data = data
	s.stream.ApplyChunk(chunk)
	return nil
}

// NextWord implements Source.
func (s *BookSource) NextWord() (catalog.Word, bool) {
	if s.x == nil {
		return catalog.Word{}, false
	}
	if s.stream.RequestRefill() {
		if err := s.Step(); err != nil {
			s.log.Warn("refill failed", "error", err)
		}
	}
	return s.stream.NextWord()
}

// SeekChapter implements Source. On arrival the chapter's first chunk is
// loaded.
func (s *BookSource) SeekChapter(index int) (bool, error) {
	if s.x == nil {
		return false, ErrNoBook
	}
	arrived, err := s.stream.JumpToChapter(s.x, index)
	if err != nil || !arrived {
		return arrived, err
	}
	return true, s.Step()
}

// Chapters returns a label per spine entry, taken from the table of
// contents where it names the entry.
func (s *BookSource) Chapters() []string {
	if s.x == nil {
		return nil
	}
	return append([]string(nil), s.labels...)
}

// Position implements Source.
func (s *BookSource) Position() Position {
	return Position{Book: s.index, Chapter: s.stream.Chapter(), Progress: s.stream.Progress()}
}

// Cover decodes the cover of book index. For the open book the text
// decoder is suspended first, since only one entry may be read at a time;
// reading resumes from the same offset afterwards. Books without a usable
// cover get the placeholder thumbnail and a non-ok status.
func (s *BookSource) Cover(index int) (cover.Thumbnail, cover.Status, error) {
	placeholder := cover.Placeholder(s.opts.Cover.Width, s.opts.Cover.Height)
	entry, ok := s.cat.Entry(index)
	if !ok {
		return placeholder, cover.StatusNoCover, fmt.Errorf("%w: %d", ErrBookOutOfRange, index)
	}
	if !entry.Available || !entry.HasCover {
		return placeholder, cover.StatusNoCover, nil
	}

	var (
		pkg *epub.OPF
		c   *zipentry.Container
	)
	if index == s.index && s.x != nil {
		s.x.Suspend(&s.stream.Cursor().Text)
		pkg, c = s.pkg, s.container
	} else {
		h, err := s.store.Open(entry.Path)
		if err != nil {
			return placeholder, cover.StatusNoCover, fmt.Errorf("failed to open %s: %w", entry.Path, err)
		}
		defer h.Close()
		pkg, c, err = catalog.OpenBook(h)
		if err != nil {
			if errors.Is(err, storage.ErrIO) {
				return placeholder, cover.StatusNoCover, err
			}
			return placeholder, cover.StatusNoCover, nil
		}
	}

	res, err := cover.Probe(pkg, c.ReadNamed, s.opts.Cover)
	if err != nil {
		return placeholder, cover.StatusNoCover, err
	}
	if !res.HasCover() {
		return placeholder, res.Status, nil
	}
	return res.Thumb, cover.StatusOK, nil
}

// Close releases the open book.
func (s *BookSource) Close() error {
	return s.closeBook()
}

func (s *BookSource) closeBook() error {
	if s.x != nil {
		s.x.Suspend(&s.stream.Cursor().Text)
		if n := s.san.Fallbacks() - s.fallbacks; n > 0 {
			s.log.Info("legacy encoding fallback used", "book", s.index, "bytes", n)
		}
	}
	s.stream.Reset()
	var err error
	if s.handle != nil {
		err = s.handle.Close()
	}
	s.index = -1
	s.handle = nil
	s.container = nil
	s.pkg = nil
	s.x = nil
	s.labels = nil
	return err
}
