// Package epubtest builds small EPUB archives in memory for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

// Chapter is one spine document. Body is wrapped in an XHTML page unless
// Raw is set, in which case it is stored as is.
type Chapter struct {
	Name       string // path relative to the package document
	Body       string
	Raw        bool
	NonLinear  bool
	MediaType  string // defaults to application/xhtml+xml
	Properties string // manifest properties attribute
}

// TOCEntry is one table of contents link. Href is relative to the package
// document.
type TOCEntry struct {
	Label string
	Href  string
}

// Book describes an archive to build.
type Book struct {
	Title    string
	Chapters []Chapter
	// Cover is stored as images/cover.png and referenced from the
	// metadata when non-nil.
	Cover []byte
	// Files are extra archive entries, by full archive path.
	Files map[string][]byte
	// NCX is written as toc.ncx and named by the spine toc attribute.
	NCX []TOCEntry
	// Nav is written as nav.xhtml with the "nav" property, outside the
	// spine.
	Nav []TOCEntry
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// Build returns the archive bytes.
func Build(b Book) ([]byte, error) {
	var opf strings.Builder
	opf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	opf.WriteString(`<package xmlns="http://www.idpf.org/2007/opf" version="2.0">` + "\n")
	opf.WriteString(`<metadata xmlns:dc="http://purl.org/dc/elements/1.1/">`)
	if b.Title != "" {
		fmt.Fprintf(&opf, "<dc:title>%s</dc:title>", html.EscapeString(b.Title))
	}
	if b.Cover != nil {
		opf.WriteString(`<meta name="cover" content="cover-image"/>`)
	}
	opf.WriteString("</metadata>\n<manifest>\n")
	for i, ch := range b.Chapters {
		mt := ch.MediaType
		if mt == "" {
			mt = "application/xhtml+xml"
		}
		props := ""
		if ch.Properties != "" {
			props = fmt.Sprintf(` properties="%s"`, ch.Properties)
		}
		fmt.Fprintf(&opf, `<item id="ch%d" href="%s" media-type="%s"%s/>`+"\n", i, ch.Name, mt, props)
	}
	if b.Cover != nil {
		opf.WriteString(`<item id="cover-image" href="images/cover.png" media-type="image/png"/>` + "\n")
	}
	if len(b.NCX) > 0 {
		opf.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>` + "\n")
	}
	if len(b.Nav) > 0 {
		opf.WriteString(`<item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")
	}
	if len(b.NCX) > 0 {
		opf.WriteString("</manifest>\n<spine toc=\"ncx\">\n")
	} else {
		opf.WriteString("</manifest>\n<spine>\n")
	}
	for i, ch := range b.Chapters {
		linear := ""
		if ch.NonLinear {
			linear = ` linear="no"`
		}
		fmt.Fprintf(&opf, `<itemref idref="ch%d"%s/>`+"\n", i, linear)
	}
	opf.WriteString("</spine>\n</package>\n")

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	add := func(name string, data []byte, method uint16) error {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	}
	if err := add("mimetype", []byte("application/epub+zip"), zip.Store); err != nil {
		return nil, err
	}
	if err := add("META-INF/container.xml", []byte(containerXML), zip.Deflate); err != nil {
		return nil, err
	}
	if err := add("OEBPS/content.opf", []byte(opf.String()), zip.Deflate); err != nil {
		return nil, err
	}
	for _, ch := range b.Chapters {
		body := ch.Body
		if !ch.Raw {
			body = Page(ch.Name, ch.Body)
		}
		if err := add("OEBPS/"+ch.Name, []byte(body), zip.Deflate); err != nil {
			return nil, err
		}
	}
	if b.Cover != nil {
		if err := add("OEBPS/images/cover.png", b.Cover, zip.Store); err != nil {
			return nil, err
		}
	}
	if len(b.NCX) > 0 {
		if err := add("OEBPS/toc.ncx", []byte(ncxDocument(b.Title, b.NCX)), zip.Deflate); err != nil {
			return nil, err
		}
	}
	if len(b.Nav) > 0 {
		if err := add("OEBPS/nav.xhtml", []byte(NavDocument(b.Nav)), zip.Deflate); err != nil {
			return nil, err
		}
	}
	for name, data := range b.Files {
		if err := add(name, data, zip.Deflate); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustBuild is Build for tests.
func MustBuild(tb testing.TB, b Book) []byte {
	tb.Helper()
	data, err := Build(b)
	if err != nil {
		tb.Fatalf("failed to build epub: %v", err)
	}
	return data
}

// Page wraps body markup in an XHTML document.
func Page(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + html.EscapeString(title) +
		`</title><style>p { margin: 0 }</style></head><body>` + body + `</body></html>`
}

func ncxDocument(title string, entries []TOCEntry) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">` + "\n")
	fmt.Fprintf(&sb, "<docTitle><text>%s</text></docTitle>\n<navMap>\n", html.EscapeString(title))
	for i, e := range entries {
		fmt.Fprintf(&sb, `<navPoint id="np%d" playOrder="%d"><navLabel><text>%s</text></navLabel><content src="%s"/></navPoint>`+"\n",
			i+1, i+1, html.EscapeString(e.Label), e.Href)
	}
	sb.WriteString("</navMap>\n</ncx>\n")
	return sb.String()
}

// NavDocument renders an EPUB 3 navigation document listing entries.
func NavDocument(entries []TOCEntry) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">` + "\n")
	sb.WriteString("<head><title>Contents</title></head><body>\n<nav epub:type=\"toc\"><h1>Contents</h1><ol>\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, `<li><a href="%s">%s</a></li>`+"\n", e.Href, html.EscapeString(e.Label))
	}
	sb.WriteString("</ol></nav>\n</body></html>\n")
	return sb.String()
}

// SolidPNG encodes a w x h image filled with c.
func SolidPNG(tb testing.TB, w, h int, c color.Color) []byte {
	tb.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
