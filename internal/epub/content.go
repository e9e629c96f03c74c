package epub

import (
	"bytes"
	"fmt"
	"path"

	"github.com/PuerkitoBio/goquery"
)

// Content is a parsed XHTML content document. Only the image references are
// kept; text goes through the streaming extractor instead.
type Content struct {
	ID        string
	Path      string
	ImageRefs []string // container paths, document order
}

// LoadContent parses an XHTML content document and collects the images it
// references from <img src>, and from SVG <image href> / <image xlink:href>.
func LoadContent(id, docPath string, content []byte) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XHTML: %w", err)
	}

	c := &Content{
		ID:        id,
		Path:      docPath,
		ImageRefs: []string{},
	}
	baseDir := path.Dir(docPath)

	doc.Find("img, image").Each(func(_ int, s *goquery.Selection) {
		for _, name := range []string{"src", "href", "xlink:href"} {
			if ref, ok := s.Attr(name); ok && ref != "" {
				if resolved := resolveHref(baseDir, ref); resolved != "" {
					c.ImageRefs = append(c.ImageRefs, resolved)
				}
				return
			}
		}
	})

	return c, nil
}
