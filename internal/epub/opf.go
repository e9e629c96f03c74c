package epub

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ParseOPF scans a package document for manifest items, spine itemrefs,
// the title and the cover meta entry. It is not a validating parser:
// anything outside that subset is skipped, and a markup error ends the
// scan with whatever was collected so far. opfPath is the container path
// of the document; manifest hrefs are resolved against its directory.
func ParseOPF(content []byte, opfPath string) (*OPF, error) {
	opf := &OPF{
		Path:     opfPath,
		Manifest: make(map[string]ManifestItem),
	}
	base := path.Dir(opfPath)

	var (
		inMetadata, inManifest, inSpine bool
		inTitle                         bool
		title                           strings.Builder
	)

	d := newTolerantDecoder(content)
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "metadata":
				inMetadata = true
			case "manifest":
				inManifest = true
			case "spine":
				inSpine = true
				if opf.TOCID == "" {
					opf.TOCID = attr(t, "toc")
				}
			case "title":
				inTitle = inMetadata && opf.Metadata.Title == ""
			case "language":
				if inMetadata && opf.Metadata.Language == "" {
					opf.Metadata.Language = textOf(d)
				}
			case "meta":
				if inMetadata && strings.EqualFold(attr(t, "name"), "cover") && opf.Metadata.CoverID == "" {
					opf.Metadata.CoverID = attr(t, "content")
				}
			case "item":
				if !inManifest {
					continue
				}
				id := attr(t, "id")
				if id == "" {
					continue
				}
				if _, dup := opf.Manifest[id]; dup {
					continue
				}
				opf.Manifest[id] = ManifestItem{
					ID:         id,
					Href:       resolveHref(base, attr(t, "href")),
					MediaType:  strings.ToLower(attr(t, "media-type")),
					Properties: strings.Fields(attr(t, "properties")),
				}
				opf.ManifestOrder = append(opf.ManifestOrder, id)
			case "itemref":
				if !inSpine {
					continue
				}
				idref := attr(t, "idref")
				if idref == "" {
					continue
				}
				opf.Spine = append(opf.Spine, SpineItem{
					IDRef:  idref,
					Linear: !strings.EqualFold(attr(t, "linear"), "no"),
				})
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "metadata":
				inMetadata = false
			case "manifest":
				inManifest = false
			case "spine":
				inSpine = false
			case "title":
				if inTitle {
					opf.Metadata.Title = strings.Join(strings.Fields(title.String()), " ")
					inTitle = false
				}
			}
		case xml.CharData:
			if inTitle {
				title.Write(t)
			}
		}
	}

	if len(opf.Manifest) == 0 {
		return nil, fmt.Errorf("%w: %s has no manifest items", ErrMalformedManifest, opfPath)
	}
	if len(opf.Spine) == 0 {
		return nil, fmt.Errorf("%w: %s has no spine itemrefs", ErrMalformedManifest, opfPath)
	}
	if len(opf.Chapters()) == 0 {
		return nil, fmt.Errorf("%w: %s spine references no manifest item", ErrMalformedManifest, opfPath)
	}
	return opf, nil
}

// textOf collects character data up to the end of the current element.
func textOf(d *xml.Decoder) string {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return strings.TrimSpace(sb.String())
}

// resolveHref turns a document-relative href into a container path.
func resolveHref(baseDir, href string) string {
	href, _ = splitFragment(href)
	if href == "" {
		return ""
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	if strings.HasPrefix(href, "/") {
		return cleanHref(href)
	}
	return cleanHref(path.Join(baseDir, href))
}

// cleanHref normalizes a container path: forward slashes, no leading
// slash or ./ prefix.
func cleanHref(p string) string {
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// splitFragment splits an href into the path and fragment identifier.
func splitFragment(src string) (string, string) {
	p, fragment, _ := strings.Cut(src, "#")
	return p, fragment
}
