package catalog

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/epubtest"
	"github.com/yuanying/epubstream/internal/storage"
	"github.com/yuanying/epubstream/internal/zipentry"
)

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "Caf\u00e9", NormalizeTitle("Cafe\u0301"))
	assert.Equal(t, "Don Quijote de la Mancha", NormalizeTitle("  Don  Quijote\n de la\tMancha "))

	long := NormalizeTitle(strings.Repeat("ñ", 30))
	assert.Equal(t, strings.Repeat("ñ", 24), long)
	assert.LessOrEqual(t, len(long), MaxTitleBytes)

	odd := NormalizeTitle("a" + strings.Repeat("é", 30))
	assert.Equal(t, "a"+strings.Repeat("é", 23), odd)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{fmt.Errorf("read: %w", storage.ErrIO), StatusIOError},
		{epub.ErrMissingOPF, StatusMissingOPF},
		{fmt.Errorf("parse: %w", epub.ErrMalformedManifest), StatusMalformedManifest},
		{zipentry.ErrUnsupportedCompression, StatusUnsupportedCompression},
		{zipentry.ErrCorruptArchive, StatusCorruptArchive},
		{errors.New("anything else"), StatusCorruptArchive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "StatusOf(%v)", tt.err)
	}
}

func TestCatalog_Bounded(t *testing.T) {
	c := New(2)
	assert.True(t, c.Add(BookEntry{Title: "one", Available: true}))
	assert.True(t, c.Add(BookEntry{Title: "two", Available: true}))
	assert.False(t, c.Add(BookEntry{Title: "three"}))
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Full())

	e, ok := c.Entry(1)
	require.True(t, ok)
	assert.Equal(t, 1, e.Index)
	assert.Equal(t, "two", e.Title)

	c.MarkUnavailable(1, zipentry.ErrCorruptArchive)
	e, _ = c.Entry(1)
	assert.False(t, e.Available)
	assert.Equal(t, StatusCorruptArchive, e.Status)

	_, ok = c.Entry(5)
	assert.False(t, ok)
}

func simpleBook(t *testing.T, title string) []byte {
	return epubtest.MustBuild(t, epubtest.Book{
		Title:    title,
		Chapters: []epubtest.Chapter{{Name: "c1.xhtml", Body: "<p>Hello.</p>"}},
	})
}

func newScanner(t *testing.T, store storage.Storage, opts ScannerOptions) *Scanner {
	t.Helper()
	s, err := NewScanner(store, opts)
	require.NoError(t, err)
	return s
}

func TestScan_ListsBooksInOrder(t *testing.T) {
	store := storage.NewMemory()
	store.Put("books/b.epub", simpleBook(t, "Second Book"))
	store.Put("books/a_tale-of.epub", simpleBook(t, ""))
	store.Put("books/c.epub", []byte("PK\x03\x04 no directory here"))
	store.Put("books/d.EPUB", simpleBook(t, "Upper Case"))
	store.Put("books/fake.epub", []byte("just text"))
	store.Put("books/notes.txt", simpleBook(t, "Not A Book"))
	store.Put("books/nested/e.epub", simpleBook(t, "Nested"))

	cat, err := newScanner(t, store, ScannerOptions{}).Scan(context.Background(), "books")
	require.NoError(t, err)

	entries := cat.Entries()
	require.Len(t, entries, 4)

	assert.Equal(t, "books/a_tale-of.epub", entries[0].Path)
	assert.Equal(t, "A Tale Of", entries[0].Title)
	assert.True(t, entries[0].Available)

	assert.Equal(t, "Second Book", entries[1].Title)
	assert.Equal(t, StatusOK, entries[1].Status)

	assert.Equal(t, "books/c.epub", entries[2].Path)
	assert.False(t, entries[2].Available)
	assert.Equal(t, StatusCorruptArchive, entries[2].Status)
	assert.Equal(t, "C", entries[2].Title)

	assert.Equal(t, "Upper Case", entries[3].Title)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
	}
}

func TestScan_DeduplicatesNames(t *testing.T) {
	store := storage.NewMemory()
	store.Put("A.epub", simpleBook(t, "Upper"))
	store.Put("a.epub", simpleBook(t, "Lower"))

	cat, err := newScanner(t, store, ScannerOptions{}).Scan(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, cat.Len())
	e, _ := cat.Entry(0)
	assert.Equal(t, "Upper", e.Title)
}

func TestScan_Capacity(t *testing.T) {
	store := storage.NewMemory()
	book := simpleBook(t, "")
	for i := 0; i < 20; i++ {
		store.Put(fmt.Sprintf("books/book%02d.epub", i), book)
	}

	cat, err := newScanner(t, store, ScannerOptions{Capacity: 16}).Scan(context.Background(), "books")
	require.NoError(t, err)
	require.Equal(t, 16, cat.Len())
	last, _ := cat.Entry(15)
	assert.Equal(t, "books/book15.epub", last.Path)
}

func TestScan_MissingDirectoryIsEmpty(t *testing.T) {
	cat, err := newScanner(t, storage.NewMemory(), ScannerOptions{}).Scan(context.Background(), "books")
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

func TestScan_StorageFailure(t *testing.T) {
	store := storage.NewMemory()
	store.Put("books/a.epub", simpleBook(t, "A"))
	store.Fail = errors.New("bus unreachable")

	_, err := newScanner(t, store, ScannerOptions{}).Scan(context.Background(), "books")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrIO)
}

func TestScan_Canceled(t *testing.T) {
	store := storage.NewMemory()
	store.Put("books/a.epub", simpleBook(t, "A"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newScanner(t, store, ScannerOptions{}).Scan(ctx, "books")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_CoverFlag(t *testing.T) {
	store := storage.NewMemory()
	store.Put("with.epub", epubtest.MustBuild(t, epubtest.Book{
		Title:    "With Cover",
		Chapters: []epubtest.Chapter{{Name: "c1.xhtml", Body: "<p>x</p>"}},
		Cover:    epubtest.SolidPNG(t, 40, 60, color.Black),
	}))
	store.Put("without.epub", simpleBook(t, "Without Cover"))

	cat, err := newScanner(t, store, ScannerOptions{}).Scan(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())

	with, _ := cat.Entry(0)
	without, _ := cat.Entry(1)
	assert.True(t, with.HasCover)
	assert.False(t, without.HasCover)
	assert.True(t, without.Available)
}

func TestScan_MalformedBookIsolated(t *testing.T) {
	store := storage.NewMemory()
	// No chapters: the package document has an empty manifest and spine.
	store.Put("a.epub", epubtest.MustBuild(t, epubtest.Book{Title: "Broken"}))
	store.Put("b.epub", simpleBook(t, "Fine"))

	cat, err := newScanner(t, store, ScannerOptions{}).Scan(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())
	bad, _ := cat.Entry(0)
	good, _ := cat.Entry(1)
	assert.False(t, bad.Available)
	assert.Equal(t, StatusMalformedManifest, bad.Status)
	assert.True(t, good.Available)
}

func TestNewScanner_BadPattern(t *testing.T) {
	_, err := NewScanner(storage.NewMemory(), ScannerOptions{Patterns: []string{"["}})
	assert.Error(t, err)
}
