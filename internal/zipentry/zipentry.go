// Package zipentry reads individual entries of a ZIP container through
// positioned reads only. The central directory is located by scanning
// backward for the end-of-central-directory record, and entry contents are
// delivered in caller-sized slices with an explicit ResumeState, so a long
// entry can be consumed across many unrelated calls.
package zipentry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	eocdSignature   = 0x06054b50
	cdirSignature   = 0x02014b50
	localSignature  = 0x04034b50
	eocdBytes       = 22
	cdirHeaderBytes = 46
	localHeadBytes  = 30
	maxCommentBytes = 0xffff
	scanBlockBytes  = 1024

	defaultMaxEntries   = 512
	defaultMaxNameBytes = 384
)

var (
	ErrCorruptArchive         = errors.New("zipentry: corrupt archive")
	ErrUnsupportedCompression = errors.New("zipentry: unsupported compression")
	ErrEntryNotFound          = errors.New("zipentry: entry not found")
	ErrEntryBusy              = errors.New("zipentry: another entry read is in flight")
)

// Method is a ZIP compression method.
type Method uint16

const (
	Store   Method = 0
	Deflate Method = 8
)

func (m Method) String() string {
	switch m {
	case Store:
		return "stored"
	case Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// Entry is one central directory record.
type Entry struct {
	Name              string
	Method            Method
	CompressedSize    int64
	UncompressedSize  int64
	LocalHeaderOffset int64
	CRC32             uint32
	Encrypted         bool

	index int
}

// Options bounds the directory table. Zero values select defaults.
type Options struct {
	MaxEntries   int
	MaxNameBytes int
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = defaultMaxEntries
	}
	if o.MaxNameBytes <= 0 {
		o.MaxNameBytes = defaultMaxNameBytes
	}
	return o
}

// Source is the positioned-read access the container needs.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Container is an opened ZIP directory bound to one storage handle.
type Container struct {
	src       Source
	entries   []Entry
	byName    map[string]int
	byFold    map[string]int
	truncated bool
	inflight  *ResumeState
}

// Open locates the end-of-central-directory record and reads the central
// directory into a table capped at opts.MaxEntries.
func Open(src Source, opts Options) (*Container, error) {
	opts = opts.withDefaults()
	size := src.Size()
	if size < eocdBytes {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorruptArchive, size)
	}

	eocdPos, eocd, err := findEOCD(src, size)
	if err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint16(eocd[4:]) != 0 || binary.LittleEndian.Uint16(eocd[6:]) != 0 {
		return nil, fmt.Errorf("%w: multi-volume archives are not supported", ErrCorruptArchive)
	}
	total := int(binary.LittleEndian.Uint16(eocd[10:]))
	cdirSize := int64(binary.LittleEndian.Uint32(eocd[12:]))
	cdirOffset := int64(binary.LittleEndian.Uint32(eocd[16:]))
	if cdirOffset == 0xffffffff || cdirSize == 0xffffffff {
		return nil, fmt.Errorf("%w: zip64 archives are not supported", ErrCorruptArchive)
	}
	if cdirOffset+cdirSize > eocdPos {
		return nil, fmt.Errorf("%w: central directory [%d,+%d) overlaps end record at %d",
			ErrCorruptArchive, cdirOffset, cdirSize, eocdPos)
	}

	c := &Container{
		src:    src,
		byName: make(map[string]int),
		byFold: make(map[string]int),
	}

	var header [cdirHeaderBytes]byte
	name := make([]byte, opts.MaxNameBytes)
	cursor := cdirOffset
	for i := 0; i < total; i++ {
		if len(c.entries) >= opts.MaxEntries {
			c.truncated = true
			break
		}
		if _, err := readFullAt(src, header[:], cursor); err != nil {
			return nil, readErr(fmt.Sprintf("central header %d", i), err)
		}
		if binary.LittleEndian.Uint32(header[0:]) != cdirSignature {
			return nil, fmt.Errorf("%w: central header %d has bad signature", ErrCorruptArchive, i)
		}

		flags := binary.LittleEndian.Uint16(header[8:])
		nameLen := int64(binary.LittleEndian.Uint16(header[28:]))
		extraLen := int64(binary.LittleEndian.Uint16(header[30:]))
		commentLen := int64(binary.LittleEndian.Uint16(header[32:]))
		next := cursor + cdirHeaderBytes + nameLen + extraLen + commentLen
		if next > eocdPos {
			return nil, fmt.Errorf("%w: central header %d runs past directory end", ErrCorruptArchive, i)
		}

		if nameLen == 0 || nameLen > int64(len(name)) {
			cursor = next
			continue
		}
		if _, err := readFullAt(src, name[:nameLen], cursor+cdirHeaderBytes); err != nil {
			return nil, readErr(fmt.Sprintf("central header %d name", i), err)
		}

		e := Entry{
			Name:              strings.TrimPrefix(string(name[:nameLen]), "./"),
			Method:            Method(binary.LittleEndian.Uint16(header[10:])),
			CRC32:             binary.LittleEndian.Uint32(header[16:]),
			CompressedSize:    int64(binary.LittleEndian.Uint32(header[20:])),
			UncompressedSize:  int64(binary.LittleEndian.Uint32(header[24:])),
			LocalHeaderOffset: int64(binary.LittleEndian.Uint32(header[42:])),
			Encrypted:         flags&0x1 != 0,
			index:             len(c.entries),
		}
		if e.LocalHeaderOffset >= cdirOffset {
			return nil, fmt.Errorf("%w: entry %q local header beyond directory", ErrCorruptArchive, e.Name)
		}
		c.entries = append(c.entries, e)
		if _, dup := c.byName[e.Name]; !dup {
			c.byName[e.Name] = e.index
		}
		if _, dup := c.byFold[strings.ToLower(e.Name)]; !dup {
			c.byFold[strings.ToLower(e.Name)] = e.index
		}
		cursor = next
	}

	return c, nil
}

// findEOCD scans backward from the end of the file, one block at a time,
// for the end-of-central-directory signature.
func findEOCD(src io.ReaderAt, size int64) (int64, []byte, error) {
	limit := size - eocdBytes - maxCommentBytes
	if limit < 0 {
		limit = 0
	}
	// Highest offset a record can start at and still fit.
	last := size - eocdBytes

	buf := make([]byte, scanBlockBytes+eocdBytes)
	end := last + 1
	for end > limit {
		start := end - scanBlockBytes
		if start < limit {
			start = limit
		}
		readEnd := end + eocdBytes - 1
		if readEnd > size {
			readEnd = size
		}
		window := buf[:readEnd-start]
		if _, err := readFullAt(src, window, start); err != nil {
			return 0, nil, readErr("reading tail", err)
		}
		for i := end - start - 1; i >= 0; i-- {
			if binary.LittleEndian.Uint32(window[i:]) != eocdSignature {
				continue
			}
			pos := start + i
			if pos+eocdBytes > size {
				continue
			}
			rec := make([]byte, eocdBytes)
			copy(rec, window[i:i+eocdBytes])
			commentLen := int64(binary.LittleEndian.Uint16(rec[20:]))
			if pos+eocdBytes+commentLen > size {
				continue
			}
			return pos, rec, nil
		}
		end = start
	}
	return 0, nil, fmt.Errorf("%w: end of central directory signature not found", ErrCorruptArchive)
}

// Entries returns the directory table in central directory order.
func (c *Container) Entries() []Entry {
	return c.entries
}

// Truncated reports whether the directory held more entries than the cap.
func (c *Container) Truncated() bool {
	return c.truncated
}

// Lookup finds an entry by exact name, then case-insensitively.
func (c *Container) Lookup(name string) (Entry, error) {
	name = strings.TrimPrefix(name, "./")
	if i, ok := c.byName[name]; ok {
		return c.entries[i], nil
	}
	if i, ok := c.byFold[strings.ToLower(name)]; ok {
		return c.entries[i], nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

// dataOffset resolves where an entry's data begins by reading its local header.
func (c *Container) dataOffset(e Entry) (int64, error) {
	var local [localHeadBytes]byte
	if _, err := readFullAt(c.src, local[:], e.LocalHeaderOffset); err != nil {
		return 0, readErr("local header of "+e.Name, err)
	}
	if binary.LittleEndian.Uint32(local[0:]) != localSignature {
		return 0, fmt.Errorf("%w: local header of %q has bad signature", ErrCorruptArchive, e.Name)
	}
	nameLen := int64(binary.LittleEndian.Uint16(local[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(local[28:]))
	off := e.LocalHeaderOffset + localHeadBytes + nameLen + extraLen
	if off+e.CompressedSize > c.src.Size() {
		return 0, fmt.Errorf("%w: data of %q runs past end of file", ErrCorruptArchive, e.Name)
	}
	return off, nil
}

// readErr keeps storage failures distinct from short reads, which mean the
// archive is truncated.
func readErr(what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: truncated", ErrCorruptArchive, what)
	}
	return fmt.Errorf("zipentry: %s: %w", what, err)
}

func readFullAt(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
