package content

import (
	"fmt"

	"github.com/yuanying/epubstream/internal/catalog"
	"github.com/yuanying/epubstream/internal/cover"
	"github.com/yuanying/epubstream/internal/extract"
	"github.com/yuanying/epubstream/internal/sanitize"
)

const (
	StaticTitle   = "Don Quijote de la Mancha"
	staticChapter = "Capítulo primero"
)

// staticText is the opening of Don Quijote, part one, chapter one.
var staticText = []string{
	"En un lugar de la Mancha, de cuyo nombre no quiero acordarme, no ha mucho tiempo que vivía " +
		"un hidalgo de los de lanza en astillero, adarga antigua, rocín flaco y galgo corredor.",
	"Una olla de algo más vaca que carnero, salpicón las más noches, duelos y quebrantos los sábados, " +
		"lantejas los viernes, algún palomino de añadidura los domingos, consumían las tres partes de su hacienda.",
	"Es, pues, de saber que este sobredicho hidalgo, los ratos que estaba ocioso, que eran los más del año, " +
		"se daba a leer libros de caballerías con tanta afición y gusto, que olvidó casi de todo punto " +
		"el ejercicio de la caza, y aun la administración de su hacienda.",
}

// StaticSource serves one built-in book from memory. It streams the text
// through the same chunk, sanitize and apply cycle as real books.
type StaticSource struct {
	cat      *catalog.Catalog
	opts     Options
	san      *sanitize.Sanitizer
	stream   *catalog.Stream
	text     []byte
	pos      int
	capacity int
	selected bool
}

// NewStaticSource returns the built-in source.
func NewStaticSource(opts Options) *StaticSource {
	opts = opts.withDefaults()
	cat := catalog.New(1)
	cat.Add(catalog.BookEntry{Title: StaticTitle, Available: true})

	capacity := opts.Extract.ChunkCapacity
	if capacity <= 0 {
		capacity = extract.DefaultChunkCapacity
	}
	var text []byte
	for i, p := range staticText {
		if i > 0 {
			text = append(text, '\n')
		}
		text = append(text, p...)
	}
	return &StaticSource{
		cat:      cat,
		opts:     opts,
		san:      sanitize.New(sanitize.Options{Fallback: opts.Fallback, Logger: opts.Logger}),
		stream:   catalog.NewStream(opts.LowWater),
		text:     text,
		capacity: capacity,
	}
}

func (s *StaticSource) Catalog() *catalog.Catalog { return s.cat }

// Select implements Source. Only index 0 exists.
func (s *StaticSource) Select(index int) error {
	if index != 0 {
		return fmt.Errorf("%w: %d", ErrBookOutOfRange, index)
	}
	s.stream.Reset()
	s.pos = 0
	s.selected = true
	return s.Step()
}

// Step implements Source.
func (s *StaticSource) Step() error {
	if !s.selected {
		return ErrNoBook
	}
	if s.stream.BookDone() {
		return nil
	}
	end := s.pos + s.capacity
	if end > len(s.text) {
		end = len(s.text)
	}
	cur := s.stream.Cursor()
	data, carry := s.san.Sanitize(s.text[s.pos:end], cur.Carry)
	cur.Carry = carry
	s.pos = end
	done := s.pos == len(s.text)
	if done {
		data = append(data, s.san.Flush(cur.Carry)...)
		cur.Carry = sanitize.Carryover{}
	}
	s.stream.ApplyChunk(extract.TextChunk{Data: data, ResourceDone: done, BookDone: done})
	return nil
}

// NextWord implements Source.
func (s *StaticSource) NextWord() (catalog.Word, bool) {
	if !s.selected {
		return catalog.Word{}, false
	}
	if s.stream.RequestRefill() {
		s.Step()
	}
	return s.stream.NextWord()
}

// SeekChapter implements Source. The built-in book has a single chapter,
// so seeking to it restarts the text.
func (s *StaticSource) SeekChapter(index int) (bool, error) {
	if !s.selected {
		return false, ErrNoBook
	}
	if index != 0 {
		return false, fmt.Errorf("%w: %d of 1", extract.ErrChapterOutOfRange, index)
	}
	return true, s.Select(0)
}

func (s *StaticSource) Chapters() []string { return []string{staticChapter} }

// Position implements Source.
func (s *StaticSource) Position() Position {
	if !s.selected {
		return Position{Book: -1}
	}
	return Position{Book: 0, Progress: s.stream.Progress()}
}

// Cover implements Source; the built-in book has none.
func (s *StaticSource) Cover(index int) (cover.Thumbnail, cover.Status, error) {
	thumb := cover.Placeholder(s.opts.Cover.Width, s.opts.Cover.Height)
	if index != 0 {
		return thumb, cover.StatusNoCover, fmt.Errorf("%w: %d", ErrBookOutOfRange, index)
	}
	return thumb, cover.StatusNoCover, nil
}

func (s *StaticSource) Close() error {
	s.selected = false
	s.stream.Reset()
	return nil
}
