package epub

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/yuanying/epubstream/internal/zipentry"
)

// maxCoverDocBytes bounds the first spine document read for image refs.
const maxCoverDocBytes = 256 << 10

// CoverInfo describes the resolved cover resource.
type CoverInfo struct {
	ManifestID      string
	Href            string
	MediaType       string
	DetectionMethod string // "properties", "meta", "spine", "filename"
}

// DocLoader returns the bytes of a container path.
type DocLoader func(href string, limit int64) ([]byte, error)

// ResolveCover finds the cover image. Methods are tried in order:
//  1. explicit metadata: properties="cover-image", then meta name="cover"
//  2. the first raster image referenced from the first linear spine document
//  3. a raster image whose file name contains "cover"
//
// load may be nil, which skips method 2. ErrNoCoverResource is returned
// when nothing matches.
func (opf *OPF) ResolveCover(load DocLoader) (CoverInfo, error) {
	for _, id := range opf.ManifestOrder {
		item := opf.Manifest[id]
		if item.hasProperty("cover-image") && isRasterImage(item.MediaType, item.Href) {
			return coverFrom(item, "properties"), nil
		}
	}

	if ref := opf.Metadata.CoverID; ref != "" {
		if item, ok := opf.Manifest[ref]; ok && isRasterImage(item.MediaType, item.Href) {
			return coverFrom(item, "meta"), nil
		}
		// Some packages put the href rather than the id in content.
		if item, ok := opf.itemByHref(resolveHref(path.Dir(opf.Path), ref)); ok && isRasterImage(item.MediaType, item.Href) {
			return coverFrom(item, "meta"), nil
		}
	}

	if load != nil {
		info, err := opf.coverFromFirstDocument(load)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrNoCoverResource) {
			return CoverInfo{}, err
		}
	}

	for _, id := range opf.ManifestOrder {
		item := opf.Manifest[id]
		if !isRasterImage(item.MediaType, item.Href) {
			continue
		}
		if strings.Contains(strings.ToLower(path.Base(item.Href)), "cover") {
			return coverFrom(item, "filename"), nil
		}
	}

	return CoverInfo{}, ErrNoCoverResource
}

func (opf *OPF) coverFromFirstDocument(load DocLoader) (CoverInfo, error) {
	first, ok := FirstLinear(opf.Chapters())
	if !ok {
		return CoverInfo{}, ErrNoCoverResource
	}
	data, err := load(first.Href, maxCoverDocBytes)
	if errors.Is(err, zipentry.ErrEntryNotFound) || errors.Is(err, zipentry.ErrEntryTooLarge) {
		return CoverInfo{}, ErrNoCoverResource
	}
	if err != nil {
		return CoverInfo{}, fmt.Errorf("failed to load %s: %w", first.Href, err)
	}
	doc, err := LoadContent(first.ID, first.Href, data)
	if err != nil {
		return CoverInfo{}, ErrNoCoverResource
	}
	for _, ref := range doc.ImageRefs {
		if item, ok := opf.itemByHref(ref); ok {
			if isRasterImage(item.MediaType, item.Href) {
				return coverFrom(item, "spine"), nil
			}
			continue
		}
		if isRasterImage("", ref) {
			return CoverInfo{Href: ref, MediaType: mediaTypeByExt(ref), DetectionMethod: "spine"}, nil
		}
	}
	return CoverInfo{}, ErrNoCoverResource
}

func (opf *OPF) itemByHref(href string) (ManifestItem, bool) {
	if href == "" {
		return ManifestItem{}, false
	}
	for _, id := range opf.ManifestOrder {
		item := opf.Manifest[id]
		if item.Href == href || strings.EqualFold(item.Href, href) {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func coverFrom(item ManifestItem, method string) CoverInfo {
	mt := item.MediaType
	if !strings.HasPrefix(mt, "image/") {
		mt = mediaTypeByExt(item.Href)
	}
	return CoverInfo{
		ManifestID:      item.ID,
		Href:            item.Href,
		MediaType:       mt,
		DetectionMethod: method,
	}
}

// isRasterImage reports whether a resource is a raster image, judging by
// media type first and file extension when the type is missing or generic.
// SVG is excluded.
func isRasterImage(mediaType, href string) bool {
	switch {
	case mediaType == "image/svg+xml":
		return false
	case strings.HasPrefix(mediaType, "image/"):
		return true
	}
	return mediaTypeByExt(href) != ""
}

func mediaTypeByExt(href string) string {
	switch strings.ToLower(path.Ext(href)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg", ".jpe":
		return "image/jpeg"
	case ".pbm":
		return "image/x-portable-bitmap"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}
