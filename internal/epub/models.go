package epub

import (
	"path"
	"strings"
)

// OPF is the parsed package document.
type OPF struct {
	Path          string // container path of the package document
	Metadata      Metadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // manifest ids in document order
	Spine         []SpineItem
	TOCID         string // spine toc attribute, the NCX manifest id
}

// Metadata holds the few metadata fields the reader uses.
type Metadata struct {
	Title    string
	Language string
	CoverID  string // meta name="cover" content
}

// ManifestItem is one manifest resource. Href is resolved against the
// package document directory, so it is a container path.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// SpineItem is one itemref in reading order.
type SpineItem struct {
	IDRef  string
	Linear bool
}

// Chapter is a spine entry joined with its manifest resource.
type Chapter struct {
	Index     int // position in the spine
	ID        string
	Href      string
	MediaType  string
	Properties []string // manifest item properties
	Linear     bool
}

// Readable reports whether the chapter holds text to extract: an (X)HTML
// or plain text resource that is not the navigation document. Without a
// media type the file extension decides.
func (ch Chapter) Readable() bool {
	for _, p := range ch.Properties {
		if p == "nav" {
			return false
		}
	}
	if mt := strings.ToLower(ch.MediaType); mt != "" {
		return strings.Contains(mt, "html") || strings.HasPrefix(mt, "text/plain")
	}
	switch strings.ToLower(path.Ext(ch.Href)) {
	case ".xhtml", ".html", ".htm", ".xml", ".txt", ".text":
		return true
	}
	return false
}

// Chapters joins the spine with the manifest. Itemrefs that name no
// manifest item are dropped.
func (opf *OPF) Chapters() []Chapter {
	chapters := make([]Chapter, 0, len(opf.Spine))
	for i, ref := range opf.Spine {
		item, ok := opf.Manifest[ref.IDRef]
		if !ok || item.Href == "" {
			continue
		}
		chapters = append(chapters, Chapter{
			Index:      i,
			ID:         item.ID,
			Href:       item.Href,
			MediaType:  item.MediaType,
			Properties: item.Properties,
			Linear:     ref.Linear,
		})
	}
	return chapters
}

// FirstLinear returns the first linear text chapter, if any.
func FirstLinear(chapters []Chapter) (Chapter, bool) {
	for _, ch := range chapters {
		if ch.Linear && ch.Readable() {
			return ch, true
		}
	}
	return Chapter{}, false
}

func (item ManifestItem) hasProperty(prop string) bool {
	for _, p := range item.Properties {
		if p == prop {
			return true
		}
	}
	return false
}
