package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/yuanying/epubstream/internal/zipentry"
)

const (
	containerPath = "META-INF/container.xml"

	maxContainerBytes = 64 << 10
	maxOPFBytes       = 512 << 10
)

var (
	ErrMissingOPF        = errors.New("epub: package document not found")
	ErrMalformedManifest = errors.New("epub: malformed package document")
	ErrNoCoverResource   = errors.New("epub: no cover resource")
)

// EntryReader is the container access the resolver needs.
// *zipentry.Container satisfies it.
type EntryReader interface {
	Entries() []zipentry.Entry
	Lookup(name string) (zipentry.Entry, error)
	ReadFile(e zipentry.Entry, limit int64) ([]byte, error)
}

// ParseContainer returns the package document path named by
// META-INF/container.xml. When the descriptor is missing or names no
// rootfile, the first .opf entry in the directory is used instead.
func ParseContainer(r EntryReader) (string, error) {
	if e, err := r.Lookup(containerPath); err == nil {
		data, err := r.ReadFile(e, maxContainerBytes)
		if err != nil && !errors.Is(err, zipentry.ErrEntryTooLarge) {
			return "", fmt.Errorf("failed to read %s: %w", containerPath, err)
		}
		if opfPath := rootfilePath(data); opfPath != "" {
			return opfPath, nil
		}
	}

	for _, e := range r.Entries() {
		if strings.EqualFold(path.Ext(e.Name), ".opf") {
			return e.Name, nil
		}
	}
	return "", ErrMissingOPF
}

// rootfilePath picks the package document rootfile, preferring the one
// with the OPF media type. Markup errors end the scan without failing it.
func rootfilePath(data []byte) string {
	var first string
	d := newTolerantDecoder(data)
	for {
		tok, err := d.Token()
		if err != nil {
			return first
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "rootfile" {
			continue
		}
		full := cleanHref(attr(se, "full-path"))
		if full == "" {
			continue
		}
		mt := attr(se, "media-type")
		if mt == "application/oebps-package+xml" {
			return full
		}
		if first == "" {
			first = full
		}
	}
}

// Resolve locates and parses the package document of an opened container.
func Resolve(r EntryReader) (*OPF, error) {
	opfPath, err := ParseContainer(r)
	if err != nil {
		return nil, err
	}
	e, err := r.Lookup(opfPath)
	if err != nil {
		if errors.Is(err, zipentry.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMissingOPF, opfPath)
		}
		return nil, err
	}
	data, err := r.ReadFile(e, maxOPFBytes)
	if err != nil {
		if errors.Is(err, zipentry.ErrEntryTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
		}
		return nil, fmt.Errorf("failed to read %s: %w", opfPath, err)
	}
	return ParseOPF(data, opfPath)
}

// newTolerantDecoder accepts HTML-ish markup: unknown entities, unclosed
// void elements and unquoted attributes do not stop it.
func newTolerantDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	return d
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
