// Package content wires the ingestion pipeline together behind one Source
// contract: a storage-backed source that streams real books, and a static
// source with built-in text used when storage is unreachable.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yuanying/epubstream/internal/catalog"
	"github.com/yuanying/epubstream/internal/cover"
	"github.com/yuanying/epubstream/internal/storage"
)

var (
	ErrNoBook          = errors.New("content: no book selected")
	ErrBookUnavailable = errors.New("content: book unavailable")
	ErrBookOutOfRange  = errors.New("content: book index out of range")
)

// Source is what the reader application drives. All methods do a bounded
// amount of work per call.
type Source interface {
	Catalog() *catalog.Catalog
	// Select opens a book and loads its first chunk.
	Select(index int) error
	// NextWord serves an outstanding refill, then returns the next word.
	// It returns false once the book is finished.
	NextWord() (catalog.Word, bool)
	// Step extracts and applies one chunk.
	Step() error
	// SeekChapter performs one step toward chapter index and reports
	// whether it has been reached.
	SeekChapter(index int) (bool, error)
	Chapters() []string
	Position() Position
	Cover(index int) (cover.Thumbnail, cover.Status, error)
	Close() error
}

var (
	_ Source = (*BookSource)(nil)
	_ Source = (*StaticSource)(nil)
)

// Position is the reader's place in the open book.
type Position struct {
	Book    int
	Chapter int
	catalog.Progress
}

// BootOptions configures Boot.
type BootOptions struct {
	BooksDir string
	Scanner  catalog.ScannerOptions
	Source   Options
	Logger   *slog.Logger
}

// Boot scans storage and returns the book source. When storage itself
// fails the built-in static source is returned instead, so the reader
// always has something to show.
func Boot(ctx context.Context, store storage.Storage, opts BootOptions) (Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Scanner.Logger == nil {
		opts.Scanner.Logger = opts.Logger
	}
	if opts.Source.Logger == nil {
		opts.Source.Logger = opts.Logger
	}

	scanner, err := catalog.NewScanner(store, opts.Scanner)
	if err != nil {
		return nil, err
	}
	cat, err := scanner.Scan(ctx, opts.BooksDir)
	if errors.Is(err, storage.ErrIO) {
		opts.Logger.Warn("storage unavailable, using built-in content", "error", err)
		return NewStaticSource(opts.Source), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	return NewBookSource(store, cat, opts.Source), nil
}
