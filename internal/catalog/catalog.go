// Package catalog holds the bounded list of books found on storage, the
// scanner that builds it, and the per-book stream state the reader drains
// words from.
package catalog

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/storage"
	"github.com/yuanying/epubstream/internal/zipentry"
)

const (
	DefaultCapacity = 16
	MaxTitleBytes   = 48
)

// Status is the diagnostic code kept for a book. It is logged, never
// shown as a failure to the reader.
type Status uint8

const (
	StatusOK Status = iota
	StatusIOError
	StatusCorruptArchive
	StatusMissingOPF
	StatusMalformedManifest
	StatusUnsupportedCompression
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIOError:
		return "io-error"
	case StatusCorruptArchive:
		return "corrupt-archive"
	case StatusMissingOPF:
		return "missing-opf"
	case StatusMalformedManifest:
		return "malformed-manifest"
	case StatusUnsupportedCompression:
		return "unsupported-compression"
	default:
		return "unknown"
	}
}

// StatusOf maps an ingestion error to its status code. Unknown errors count
// as corrupt archives, since they are scoped to one book.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, storage.ErrIO):
		return StatusIOError
	case errors.Is(err, epub.ErrMissingOPF):
		return StatusMissingOPF
	case errors.Is(err, epub.ErrMalformedManifest):
		return StatusMalformedManifest
	case errors.Is(err, zipentry.ErrUnsupportedCompression):
		return StatusUnsupportedCompression
	default:
		return StatusCorruptArchive
	}
}

// BookEntry is one catalog slot.
type BookEntry struct {
	Index     int
	Title     string
	Path      string
	HasCover  bool
	Available bool
	Status    Status
}

// Catalog is a fixed-capacity ordered list of books. Its size never grows
// past the capacity it was created with.
type Catalog struct {
	capacity int
	entries  []BookEntry
}

// New returns an empty catalog holding at most capacity books.
func New(capacity int) *Catalog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Catalog{capacity: capacity, entries: make([]BookEntry, 0, capacity)}
}

func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) Cap() int { return c.capacity }

// Full reports whether no more books fit.
func (c *Catalog) Full() bool { return len(c.entries) >= c.capacity }

// Add appends e, assigning its index. It returns false when the catalog
// is full.
func (c *Catalog) Add(e BookEntry) bool {
	if c.Full() {
		return false
	}
	e.Index = len(c.entries)
	e.Title = NormalizeTitle(e.Title)
	c.entries = append(c.entries, e)
	return true
}

// Entries returns a copy of the books in catalog order.
func (c *Catalog) Entries() []BookEntry {
	return append([]BookEntry(nil), c.entries...)
}

// Entry returns the book at index i.
func (c *Catalog) Entry(i int) (BookEntry, bool) {
	if i < 0 || i >= len(c.entries) {
		return BookEntry{}, false
	}
	return c.entries[i], true
}

// MarkUnavailable flips a book to unavailable after a later failure.
func (c *Catalog) MarkUnavailable(i int, err error) {
	if i < 0 || i >= len(c.entries) {
		return
	}
	c.entries[i].Available = false
	c.entries[i].Status = StatusOf(err)
}

// NormalizeTitle NFC-normalizes a title, collapses whitespace and
// truncates it to MaxTitleBytes on a character boundary.
func NormalizeTitle(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if len(s) <= MaxTitleBytes {
		return s
	}
	cut := MaxTitleBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
