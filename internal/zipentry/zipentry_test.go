package zipentry

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/yuanying/epubstream/internal/storage"
)

type fixtureFile struct {
	name   string
	body   string
	method uint16
}

func buildZip(t *testing.T, files []fixtureFile, comment string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: f.name, Method: f.method})
		if err != nil {
			t.Fatalf("failed to create %s: %v", f.name, err)
		}
		if _, err := fw.Write([]byte(f.body)); err != nil {
			t.Fatalf("failed to write %s: %v", f.name, err)
		}
	}
	if comment != "" {
		if err := w.SetComment(comment); err != nil {
			t.Fatalf("failed to set comment: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func openZip(t *testing.T, data []byte, opts Options) *Container {
	t.Helper()
	c, err := Open(storage.NewBytesHandle(data), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return c
}

// readAll drains an entry with a fixed small buffer.
func readAll(t *testing.T, c *Container, e Entry, bufSize int) string {
	t.Helper()
	var st ResumeState
	var sb strings.Builder
	buf := make([]byte, bufSize)
	for i := 0; i < 1<<20; i++ {
		n, done, err := c.ReadEntry(e, &st, buf)
		if err != nil {
			t.Fatalf("ReadEntry(%s) failed: %v", e.Name, err)
		}
		sb.Write(buf[:n])
		if done {
			return sb.String()
		}
	}
	t.Fatalf("ReadEntry(%s) never finished", e.Name)
	return ""
}

func TestOpen_ListsEntries(t *testing.T) {
	data := buildZip(t, []fixtureFile{
		{name: "mimetype", body: "application/epub+zip", method: zip.Store},
		{name: "META-INF/container.xml", body: "<container/>", method: zip.Deflate},
		{name: "OEBPS/ch1.xhtml", body: "<p>hi</p>", method: zip.Deflate},
	}, "")

	c := openZip(t, data, Options{})
	entries := c.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "mimetype" || entries[0].Method != Store {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[2].Method != Deflate {
		t.Errorf("expected deflate for ch1, got %v", entries[2].Method)
	}
	if c.Truncated() {
		t.Error("did not expect truncated directory")
	}
}

func TestOpen_FindsEOCDBehindComment(t *testing.T) {
	comment := strings.Repeat("c", 3000)
	data := buildZip(t, []fixtureFile{{name: "a.txt", body: "alpha", method: zip.Store}}, comment)

	c := openZip(t, data, Options{})
	e, err := c.Lookup("a.txt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got := readAll(t, c, e, 2); got != "alpha" {
		t.Errorf("got %q, want alpha", got)
	}
}

func TestOpen_MissingEOCD(t *testing.T) {
	data := buildZip(t, []fixtureFile{{name: "a.txt", body: "alpha", method: zip.Store}}, "")
	// Chop off the end record.
	data = data[:len(data)-eocdBytes]

	_, err := Open(storage.NewBytesHandle(data), Options{})
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestOpen_NotAZip(t *testing.T) {
	_, err := Open(storage.NewBytesHandle([]byte(strings.Repeat("not a zip ", 10))), Options{})
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
	_, err = Open(storage.NewBytesHandle([]byte("tiny")), Options{})
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for tiny file, got %v", err)
	}
}

func TestOpen_CapsEntries(t *testing.T) {
	var files []fixtureFile
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		files = append(files, fixtureFile{name: n, body: n, method: zip.Store})
	}
	c := openZip(t, buildZip(t, files, ""), Options{MaxEntries: 3})
	if len(c.Entries()) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(c.Entries()))
	}
	if !c.Truncated() {
		t.Error("expected truncated directory")
	}
	if _, err := c.Lookup("d"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound for dropped entry, got %v", err)
	}
}

func TestOpen_SkipsOverlongNames(t *testing.T) {
	long := strings.Repeat("n", 40) + ".xhtml"
	c := openZip(t, buildZip(t, []fixtureFile{
		{name: long, body: "x", method: zip.Store},
		{name: "short.txt", body: "y", method: zip.Store},
	}, ""), Options{MaxNameBytes: 16})

	if len(c.Entries()) != 1 || c.Entries()[0].Name != "short.txt" {
		t.Fatalf("expected only short.txt, got %+v", c.Entries())
	}
}

func TestLookup_CaseInsensitiveFallback(t *testing.T) {
	c := openZip(t, buildZip(t, []fixtureFile{
		{name: "OEBPS/Content.opf", body: "<package/>", method: zip.Deflate},
	}, ""), Options{})

	e, err := c.Lookup("oebps/content.OPF")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if e.Name != "OEBPS/Content.opf" {
		t.Errorf("got %q", e.Name)
	}
	if _, err := c.Lookup("./OEBPS/Content.opf"); err != nil {
		t.Errorf("expected ./ prefix to resolve, got %v", err)
	}
}

func TestReadEntry_BufferSizeIndependent(t *testing.T) {
	body := strings.Repeat("En un lugar de la Mancha, de cuyo nombre no quiero acordarme. ", 200)
	data := buildZip(t, []fixtureFile{
		{name: "stored.txt", body: body, method: zip.Store},
		{name: "deflated.txt", body: body, method: zip.Deflate},
	}, "")
	c := openZip(t, data, Options{})

	for _, name := range []string{"stored.txt", "deflated.txt"} {
		e, err := c.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s) failed: %v", name, err)
		}
		for _, size := range []int{1, 7, 64, 480, 1 << 16} {
			if got := readAll(t, c, e, size); got != body {
				t.Errorf("%s with %d byte buffer: content mismatch (len %d, want %d)", name, size, len(got), len(body))
			}
		}
	}
}

func TestReadEntry_ResumesAfterDiscard(t *testing.T) {
	body := strings.Repeat("0123456789", 500)
	c := openZip(t, buildZip(t, []fixtureFile{
		{name: "text.xhtml", body: body, method: zip.Deflate},
		{name: "cover.pbm", body: "P4\n1 1\n\x80", method: zip.Deflate},
	}, ""), Options{})

	text, _ := c.Lookup("text.xhtml")
	img, _ := c.Lookup("cover.pbm")

	var st ResumeState
	buf := make([]byte, 333)
	n, done, err := c.ReadEntry(text, &st, buf)
	if err != nil || done {
		t.Fatalf("first read: n=%d done=%v err=%v", n, done, err)
	}
	first := string(buf[:n])

	// A second reader is refused while the first holds the decoder.
	if _, err := c.ReadFile(img, 0); !errors.Is(err, ErrEntryBusy) {
		t.Fatalf("expected ErrEntryBusy, got %v", err)
	}

	c.Discard(&st)
	if st.live() {
		t.Fatal("expected discarded state to release its decoder")
	}
	if st.Offset != int64(n) {
		t.Fatalf("discard moved offset to %d", st.Offset)
	}
	if got, err := c.ReadFile(img, 0); err != nil || string(got) != "P4\n1 1\n\x80" {
		t.Fatalf("ReadFile(cover) = %q, %v", got, err)
	}

	rest := first
	for !done {
		n, done, err = c.ReadEntry(text, &st, buf)
		if err != nil {
			t.Fatalf("resumed read failed: %v", err)
		}
		rest += string(buf[:n])
	}
	if rest != body {
		t.Fatalf("resumed content mismatch: len %d, want %d", len(rest), len(body))
	}
	if !st.finished() {
		t.Error("expected state to be finished")
	}
}

func TestReadEntry_StateBoundToEntry(t *testing.T) {
	c := openZip(t, buildZip(t, []fixtureFile{
		{name: "a", body: "aaaa", method: zip.Store},
		{name: "b", body: "bbbb", method: zip.Store},
	}, ""), Options{})
	a, _ := c.Lookup("a")
	b, _ := c.Lookup("b")

	var st ResumeState
	if _, _, err := c.ReadEntry(a, &st, make([]byte, 2)); err != nil {
		t.Fatalf("ReadEntry(a) failed: %v", err)
	}
	if _, _, err := c.ReadEntry(b, &st, make([]byte, 2)); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestReadEntry_UnsupportedMethod(t *testing.T) {
	data := buildZip(t, []fixtureFile{{name: "x.bin", body: "payload", method: zip.Store}}, "")
	// Rewrite the method field in the central header to bzip2 (12).
	cdir := bytes.LastIndex(data, []byte{0x50, 0x4b, 0x01, 0x02})
	data[cdir+10] = 12

	c := openZip(t, data, Options{})
	e, _ := c.Lookup("x.bin")
	var st ResumeState
	if _, _, err := c.ReadEntry(e, &st, make([]byte, 16)); !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("expected ErrUnsupportedCompression, got %v", err)
	}
}

func TestReadEntry_ChecksumMismatch(t *testing.T) {
	data := buildZip(t, []fixtureFile{{name: "x.txt", body: "payload", method: zip.Store}}, "")
	// Flip a byte of the stored payload; the central CRC no longer matches.
	at := bytes.Index(data, []byte("payload"))
	data[at] = 'P'

	c := openZip(t, data, Options{})
	e, _ := c.Lookup("x.txt")
	if _, err := c.ReadFile(e, 0); !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestReadFile_Limit(t *testing.T) {
	c := openZip(t, buildZip(t, []fixtureFile{{name: "big", body: strings.Repeat("z", 100), method: zip.Deflate}}, ""), Options{})
	if _, err := c.ReadNamed("big", 10); !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
	if _, err := c.ReadNamed("missing", 10); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestOpen_StorageFailureIsNotCorruption(t *testing.T) {
	_, err := Open(failingSource{size: 4096}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("storage failure reported as corruption: %v", err)
	}
	if !errors.Is(err, storage.ErrIO) {
		t.Fatalf("expected storage.ErrIO, got %v", err)
	}
}

type failingSource struct{ size int64 }

func (f failingSource) ReadAt(p []byte, off int64) (int, error) { return 0, storage.ErrIO }
func (f failingSource) Size() int64                             { return f.size }
