package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxTOCBytes bounds the navigation document read.
const maxTOCBytes = 256 << 10

var ErrNoTOC = errors.New("epub: no table of contents")

// TOCFormat names the navigation document kind.
type TOCFormat string

const (
	FormatNCX TOCFormat = "ncx"
	FormatNav TOCFormat = "nav"
)

// TOC is a parsed navigation document, either an EPUB 2 NCX or an EPUB 3
// nav.xhtml.
type TOC struct {
	Path      string
	Format    TOCFormat
	DocTitle  string
	NavPoints []NavPoint
}

// NavPoint is a single entry of the table of contents.
type NavPoint struct {
	ID          string
	PlayOrder   int
	Label       string
	ContentPath string // fragment-free container path
	Fragment    string // fragment identifier (without #)
	Children    []NavPoint
}

// LoadTOC finds and parses the navigation document. The NCX named by the
// spine's toc attribute wins, then the manifest item with the "nav"
// property, then any NCX in the manifest. ErrNoTOC is returned when the
// package names none.
func (opf *OPF) LoadTOC(load DocLoader) (*TOC, error) {
	item, format, ok := opf.tocItem()
	if !ok {
		return nil, ErrNoTOC
	}
	data, err := load(item.Href, maxTOCBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", item.Href, err)
	}
	var toc *TOC
	if format == FormatNCX {
		toc, err = parseNCX(data, path.Dir(item.Href))
	} else {
		toc, err = parseNAV(data, path.Dir(item.Href))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", item.Href, err)
	}
	toc.Path = item.Href
	return toc, nil
}

func (opf *OPF) tocItem() (ManifestItem, TOCFormat, bool) {
	if item, ok := opf.Manifest[opf.TOCID]; ok && opf.TOCID != "" && item.Href != "" {
		return item, tocFormatOf(item), true
	}
	for _, id := range opf.ManifestOrder {
		if item := opf.Manifest[id]; item.hasProperty("nav") && item.Href != "" {
			return item, FormatNav, true
		}
	}
	for _, id := range opf.ManifestOrder {
		if item := opf.Manifest[id]; tocFormatOf(item) == FormatNCX && item.Href != "" {
			return item, FormatNCX, true
		}
	}
	return ManifestItem{}, "", false
}

func tocFormatOf(item ManifestItem) TOCFormat {
	if strings.Contains(item.MediaType, "ncx") || strings.EqualFold(path.Ext(item.Href), ".ncx") {
		return FormatNCX
	}
	return FormatNav
}

// parseNCX reads the navMap of an NCX document. Like ParseOPF it is
// tolerant: a markup error ends the scan with the points collected so far.
func parseNCX(data []byte, baseDir string) (*TOC, error) {
	toc := &TOC{Format: FormatNCX}
	var (
		stack   []NavPoint
		seenNCX bool
		inTitle bool
		inLabel bool
		text    strings.Builder
	)

	d := newTolerantDecoder(data)
	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ncx":
				seenNCX = true
			case "docTitle":
				inTitle = true
			case "navPoint":
				order, _ := strconv.Atoi(attr(t, "playOrder"))
				stack = append(stack, NavPoint{ID: attr(t, "id"), PlayOrder: order})
			case "navLabel":
				inLabel = len(stack) > 0
			case "text":
				text.Reset()
			case "content":
				if len(stack) == 0 {
					continue
				}
				top := &stack[len(stack)-1]
				if top.ContentPath == "" {
					src, fragment := splitFragment(attr(t, "src"))
					top.ContentPath = resolveHref(baseDir, src)
					top.Fragment = fragment
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "docTitle":
				inTitle = false
			case "navLabel":
				inLabel = false
			case "text":
				label := normalizeLabel(text.String())
				switch {
				case inLabel && len(stack) > 0 && stack[len(stack)-1].Label == "":
					stack[len(stack)-1].Label = label
				case inTitle && toc.DocTitle == "":
					toc.DocTitle = label
				}
			case "navPoint":
				if len(stack) == 0 {
					continue
				}
				np := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if len(stack) > 0 {
					parent := &stack[len(stack)-1]
					parent.Children = append(parent.Children, np)
				} else {
					toc.NavPoints = append(toc.NavPoints, np)
				}
			}
		case xml.CharData:
			if inLabel || inTitle {
				text.Write(t)
			}
		}
	}

	if !seenNCX {
		return nil, fmt.Errorf("%w: not an NCX document", ErrNoTOC)
	}
	return toc, nil
}

// parseNAV reads the toc nav of an EPUB 3 navigation document, falling
// back to the first nav element. Play order is assigned depth-first.
func parseNAV(data []byte, baseDir string) (*TOC, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XHTML: %w", err)
	}

	navs := doc.Find("nav")
	nav := navs.FilterFunction(func(_ int, s *goquery.Selection) bool {
		kind, _ := s.Attr("epub:type")
		for _, k := range strings.Fields(kind) {
			if k == "toc" {
				return true
			}
		}
		return false
	}).First()
	if nav.Length() == 0 {
		nav = navs.First()
	}
	if nav.Length() == 0 {
		return nil, fmt.Errorf("%w: no nav element", ErrNoTOC)
	}

	toc := &TOC{Format: FormatNav}
	toc.DocTitle = normalizeLabel(nav.Find("h1, h2").First().Text())
	order := 0
	list := nav.ChildrenFiltered("ol").First()
	if list.Length() == 0 {
		list = nav.Find("ol").First()
	}
	toc.NavPoints = navList(list, baseDir, &order)
	return toc, nil
}

func navList(ol *goquery.Selection, baseDir string, order *int) []NavPoint {
	var points []NavPoint
	ol.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		link := li.ChildrenFiltered("a, span").First()
		*order++
		np := NavPoint{
			ID:        "nav-" + strconv.Itoa(*order),
			PlayOrder: *order,
			Label:     normalizeLabel(link.Text()),
		}
		if href, ok := link.Attr("href"); ok {
			src, fragment := splitFragment(href)
			if src != "" {
				np.ContentPath = resolveHref(baseDir, src)
			}
			np.Fragment = fragment
		}
		np.Children = navList(li.ChildrenFiltered("ol").First(), baseDir, order)
		points = append(points, np)
	})
	return points
}

// Labels returns a label per chapter: the first TOC entry pointing at the
// chapter's resource, or ChapterLabel of its path. A nil TOC yields the
// path-derived labels only.
func (t *TOC) Labels(chapters []Chapter) []string {
	byPath := make(map[string]string)
	if t != nil {
		var walk func([]NavPoint)
		walk = func(points []NavPoint) {
			for _, np := range points {
				if _, seen := byPath[np.ContentPath]; !seen && np.ContentPath != "" && np.Label != "" {
					byPath[np.ContentPath] = np.Label
				}
				walk(np.Children)
			}
		}
		walk(t.NavPoints)
	}

	labels := make([]string, len(chapters))
	for i, ch := range chapters {
		if label, ok := byPath[ch.Href]; ok {
			labels[i] = label
			continue
		}
		labels[i] = ChapterLabel(ch.Href)
	}
	return labels
}

// Len returns the number of entries at every depth.
func (t *TOC) Len() int {
	if t == nil {
		return 0
	}
	var count func([]NavPoint) int
	count = func(points []NavPoint) int {
		n := len(points)
		for _, np := range points {
			n += count(np.Children)
		}
		return n
	}
	return count(t.NavPoints)
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
