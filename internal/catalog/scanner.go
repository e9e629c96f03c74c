package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/yuanying/epubstream/internal/cover"
	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/storage"
	"github.com/yuanying/epubstream/internal/zipentry"
)

// DefaultPatterns match the file names the scanner treats as books.
var DefaultPatterns = []string{"*.epub", "*.epu", "*.kepub"}

var zipSignature = []byte("PK\x03\x04")

// ScannerOptions configures a Scanner. Zero values select defaults.
type ScannerOptions struct {
	Capacity int
	Patterns []string // matched case-insensitively against file names
	Cover    cover.Options
	Logger   *slog.Logger
}

// Scanner builds the catalog from one storage directory.
type Scanner struct {
	store    storage.Storage
	capacity int
	patterns []glob.Glob
	cover    cover.Options
	log      *slog.Logger
}

// NewScanner compiles the file name patterns.
func NewScanner(store storage.Storage, opts ScannerOptions) (*Scanner, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Scanner{
		store:    store,
		capacity: opts.Capacity,
		cover:    opts.Cover,
		log:      opts.Logger,
	}
	for _, p := range opts.Patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, g)
	}
	s.cover.Logger = opts.Logger
	return s, nil
}

// Scan lists root and probes every candidate book in lexicographic file
// name order, stopping once the catalog is full. A missing directory gives
// an empty catalog. Per-book failures are recorded in the entry's status;
// only a storage failure is returned.
func (s *Scanner) Scan(ctx context.Context, root string) (*Catalog, error) {
	cat := New(s.capacity)

	entries, err := s.store.ListEntries(root)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("books directory not found", "dir", root)
		return cat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := strings.ToLower(e.Name)
		if seen[key] || !s.matches(key) {
			continue
		}
		seen[key] = true

		if cat.Full() {
			s.log.Warn("catalog full, ignoring remaining books", "capacity", cat.Cap(), "next", e.Name)
			break
		}

		name := path.Join(root, e.Name)
		entry, ok, err := s.probe(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Debug("not a zip archive", "path", name)
			continue
		}
		cat.Add(entry)
		if entry.Status != StatusOK {
			s.log.Warn("book unavailable", "path", name, "status", entry.Status)
		}
	}

	s.log.Info("catalog scanned", "dir", root, "books", cat.Len())
	return cat, nil
}

func (s *Scanner) matches(name string) bool {
	for _, g := range s.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// probe opens one candidate. ok is false when the file is not a zip
// archive at all; err is set only for storage failures.
func (s *Scanner) probe(name string) (BookEntry, bool, error) {
	entry := BookEntry{Path: name, Title: epub.TitleFromFilename(name)}

	h, err := s.store.Open(name)
	if err != nil {
		return entry, false, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer h.Close()

	sig := make([]byte, len(zipSignature))
	if _, err := h.ReadAt(sig, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return entry, false, nil
		}
		return entry, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if string(sig) != string(zipSignature) {
		return entry, false, nil
	}

	pkg, c, err := OpenBook(h)
	if err != nil {
		entry.Status = StatusOf(err)
		if entry.Status == StatusIOError {
			return entry, false, fmt.Errorf("failed to probe %s: %w", name, err)
		}
		s.log.Debug("book rejected", "path", name, "error", err)
		return entry, true, nil
	}
	if pkg.Metadata.Title != "" {
		entry.Title = pkg.Metadata.Title
	}

	res, err := cover.Probe(pkg, c.ReadNamed, s.cover)
	switch {
	case errors.Is(err, storage.ErrIO):
		return entry, false, fmt.Errorf("failed to probe cover of %s: %w", name, err)
	case err != nil:
		s.log.Debug("cover probe failed", "path", name, "error", err)
	default:
		entry.HasCover = res.HasCover()
	}

	entry.Available = true
	return entry, true, nil
}

// OpenBook reads the zip directory of h and resolves its package document.
func OpenBook(h zipentry.Source) (*epub.OPF, *zipentry.Container, error) {
	c, err := zipentry.Open(h, zipentry.Options{})
	if err != nil {
		return nil, nil, err
	}
	pkg, err := epub.Resolve(c)
	if err != nil {
		return nil, nil, err
	}
	return pkg, c, nil
}
