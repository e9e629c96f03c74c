package zipentry

import (
	"compress/flate"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var (
	ErrStateMismatch = errors.New("zipentry: resume state belongs to another entry")
	ErrEntryTooLarge = errors.New("zipentry: entry exceeds read limit")
)

// ResumeState records how far into one entry a reader has progressed.
// The zero value starts at the beginning of whichever entry it is first
// used with.
//
// Offset counts decompressed bytes already delivered. The decoder behind it
// can be dropped with Discard; the next ReadEntry rebuilds it and skips
// forward to Offset, so a state survives other entries being read in between.
type ResumeState struct {
	Offset int64

	name     string
	dataOff  int64
	located  bool
	done     bool
	crc      uint32
	fr       io.ReadCloser
	produced int64
}

// Entry returns the name of the entry the state is bound to, or "".
func (s *ResumeState) Entry() string { return s.name }

// finished reports whether the entry has been delivered completely.
func (s *ResumeState) finished() bool { return s.done }

// live reports whether the state currently holds decoder resources.
func (s *ResumeState) live() bool { return s.fr != nil }

// ReadEntry fills out with the next decompressed bytes of e, starting at
// st.Offset. It returns the number of bytes written and whether the entry is
// now exhausted. Only one state may hold a decoder per container; reading
// with a second state before the first finished or was discarded fails with
// ErrEntryBusy.
func (c *Container) ReadEntry(e Entry, st *ResumeState, out []byte) (int, bool, error) {
	if st.name == "" {
		st.name = e.Name
	} else if st.name != e.Name {
		return 0, false, fmt.Errorf("%w: %q, not %q", ErrStateMismatch, st.name, e.Name)
	}
	if st.done {
		return 0, true, nil
	}
	if c.inflight != nil && c.inflight != st {
		return 0, false, fmt.Errorf("%w: %s", ErrEntryBusy, c.inflight.name)
	}
	if e.Encrypted {
		return 0, false, fmt.Errorf("%w: %s is encrypted", ErrUnsupportedCompression, e.Name)
	}
	if e.Method != Store && e.Method != Deflate {
		return 0, false, fmt.Errorf("%w: %s uses %v", ErrUnsupportedCompression, e.Name, e.Method)
	}

	remaining := e.UncompressedSize - st.Offset
	if remaining <= 0 {
		return 0, true, c.finish(e, st)
	}
	if len(out) == 0 {
		return 0, false, nil
	}
	if int64(len(out)) > remaining {
		out = out[:remaining]
	}

	if !st.located {
		off, err := c.dataOffset(e)
		if err != nil {
			return 0, false, err
		}
		st.dataOff = off
		st.located = true
	}

	var (
		n   int
		err error
	)
	switch e.Method {
	case Store:
		n, err = c.readStored(e, st, out)
	case Deflate:
		c.inflight = st
		n, err = c.readDeflated(e, st, out)
	}
	if err != nil {
		c.Discard(st)
		return n, false, err
	}

	st.crc = crc32.Update(st.crc, crc32.IEEETable, out[:n])
	st.Offset += int64(n)
	if st.Offset < e.UncompressedSize {
		return n, false, nil
	}
	return n, true, c.finish(e, st)
}

func (c *Container) readStored(e Entry, st *ResumeState, out []byte) (int, error) {
	if e.CompressedSize != e.UncompressedSize {
		return 0, fmt.Errorf("%w: stored entry %q has mismatched sizes", ErrCorruptArchive, e.Name)
	}
	n, err := readFullAt(c.src, out, st.dataOff+st.Offset)
	if err != nil {
		return n, readErr("data of "+e.Name, err)
	}
	return n, nil
}

func (c *Container) readDeflated(e Entry, st *ResumeState, out []byte) (int, error) {
	if st.fr == nil {
		st.fr = flate.NewReader(io.NewSectionReader(c.src, st.dataOff, e.CompressedSize))
		st.produced = 0
	}
	if st.produced < st.Offset {
		skipped, err := io.CopyN(io.Discard, st.fr, st.Offset-st.produced)
		st.produced += skipped
		if err != nil {
			return 0, inflateErr(e, err)
		}
	}

	n := 0
	for n < len(out) {
		m, err := st.fr.Read(out[n:])
		n += m
		st.produced += int64(m)
		if err != nil {
			if errors.Is(err, io.EOF) && n == len(out) {
				break
			}
			return n, inflateErr(e, err)
		}
		if m == 0 {
			break
		}
	}
	return n, nil
}

func inflateErr(e Entry, err error) error {
	var corrupt flate.CorruptInputError
	if errors.As(err, &corrupt) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: inflating %q: %v", ErrCorruptArchive, e.Name, err)
	}
	return readErr("inflating "+e.Name, err)
}

func (c *Container) finish(e Entry, st *ResumeState) error {
	c.Discard(st)
	st.done = true
	if st.crc != e.CRC32 {
		return fmt.Errorf("%w: %q checksum %08x, want %08x", ErrCorruptArchive, e.Name, st.crc, e.CRC32)
	}
	return nil
}

// Discard releases the decoder held by st without losing its Offset.
func (c *Container) Discard(st *ResumeState) {
	if st == nil {
		return
	}
	if st.fr != nil {
		st.fr.Close()
		st.fr = nil
	}
	st.produced = 0
	if c.inflight == st {
		c.inflight = nil
	}
}

// ReadFile reads a whole entry, refusing entries larger than limit bytes.
func (c *Container) ReadFile(e Entry, limit int64) ([]byte, error) {
	if limit > 0 && e.UncompressedSize > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrEntryTooLarge, e.Name, e.UncompressedSize, limit)
	}
	data := make([]byte, e.UncompressedSize)
	var st ResumeState
	n := 0
	for {
		m, done, err := c.ReadEntry(e, &st, data[n:])
		n += m
		if err != nil {
			return nil, err
		}
		if done {
			return data[:n], nil
		}
		if m == 0 {
			c.Discard(&st)
			return nil, fmt.Errorf("%w: %s stalled at %d bytes", ErrCorruptArchive, e.Name, n)
		}
	}
}

// ReadNamed looks up name and reads it with ReadFile.
func (c *Container) ReadNamed(name string, limit int64) ([]byte, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.ReadFile(e, limit)
}
