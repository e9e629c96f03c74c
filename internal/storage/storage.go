// Package storage defines the block-storage contract the ingestion pipeline
// reads books through, plus a directory-backed and an in-memory implementation.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrIO marks a storage-level failure (the bus or filesystem itself).
// Callers treat it as systemic rather than per-book.
var ErrIO = errors.New("storage: i/o failure")

// Entry is one regular file reported by ListEntries.
type Entry struct {
	Name string
	Size int64
}

// Handle is an open file. ReadAt blocks and performs no caching.
type Handle interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// Storage is the consumed storage collaborator.
type Storage interface {
	// ListEntries lists regular files directly inside dir. A missing
	// directory yields an error matching fs.ErrNotExist.
	ListEntries(dir string) ([]Entry, error)
	Open(name string) (Handle, error)
}

// Dir is a Storage rooted at a host directory.
type Dir struct {
	Root string
}

// NewDir returns a Storage reading below root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) hostPath(name string) string {
	return filepath.Join(d.Root, filepath.FromSlash(path.Clean("/" + name)))
}

// ListEntries implements Storage.
func (d *Dir) ListEntries(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(d.hostPath(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("list %s: %w", dir, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("list %s: %w: %v", dir, ErrIO, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w: %v", de.Name(), ErrIO, err)
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size()})
	}
	return entries, nil
}

// Open implements Storage.
func (d *Dir) Open(name string) (Handle, error) {
	f, err := os.Open(d.hostPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w: %v", name, ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w: %v", name, ErrIO, err)
	}
	return &fileHandle{f: f, size: info.Size()}, nil
}

type fileHandle struct {
	f    *os.File
	size int64
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	n, err := h.f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read %s at %d: %w: %v", h.f.Name(), off, ErrIO, err)
	}
	return n, err
}

func (h *fileHandle) Size() int64 { return h.size }

func (h *fileHandle) Close() error { return h.f.Close() }

// Memory is an in-memory Storage. Setting Fail makes every call return it,
// which simulates an unreachable bus.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	Fail  error
}

// NewMemory returns an empty in-memory Storage.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Put stores data under name (slash separated, no leading slash).
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[strings.TrimPrefix(path.Clean(name), "/")] = data
}

// ListEntries implements Storage. Entries are returned sorted by name.
func (m *Memory) ListEntries(dir string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, fmt.Errorf("list %s: %w: %v", dir, ErrIO, m.Fail)
	}

	prefix := strings.Trim(path.Clean("/"+dir), "/")
	if prefix != "" {
		prefix += "/"
	}
	found := prefix == ""
	var entries []Entry
	for name, data := range m.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		found = true
		rest := name[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		entries = append(entries, Entry{Name: rest, Size: int64(len(data))})
	}
	if !found {
		return nil, fmt.Errorf("list %s: %w", dir, fs.ErrNotExist)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Open implements Storage.
func (m *Memory) Open(name string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, fmt.Errorf("open %s: %w: %v", name, ErrIO, m.Fail)
	}
	data, ok := m.files[strings.TrimPrefix(path.Clean(name), "/")]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return &memHandle{data: data}, nil
}

type memHandle struct {
	data []byte
}

// NewBytesHandle wraps an in-memory byte slice as a Handle.
func NewBytesHandle(data []byte) Handle {
	return &memHandle{data: data}
}

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w: negative offset", off, ErrIO)
	}
	if off >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *memHandle) Size() int64 { return int64(len(h.data)) }

func (h *memHandle) Close() error { return nil }
