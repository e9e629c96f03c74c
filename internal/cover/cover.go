// Package cover decodes cover images into the display's native thumbnail
// format: a fixed-size 1 bit per pixel raster, rows packed MSB first.
package cover

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strconv"

	"github.com/disintegration/imaging"
)

const (
	DefaultWidth     = 56
	DefaultHeight    = 76
	DefaultMaxBytes  = 1 << 20
	defaultMaxPixels = 16 * 1000 * 1000

	// inkThreshold is the luma below which a pixel is drawn.
	inkThreshold = 160
)

var (
	ErrUnsupportedVariant = errors.New("cover: unsupported image variant")
	ErrDecodeFailed       = errors.New("cover: image decode failed")
	ErrTooLarge           = errors.New("cover: image too large")
)

// Status is the outcome of a cover decode. Every status other than
// StatusOK leaves the book listed without a cover.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoCover
	StatusUnsupportedVariant
	StatusDecodeFailed
	StatusTooLarge
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoCover:
		return "no-cover"
	case StatusUnsupportedVariant:
		return "unsupported-variant"
	case StatusDecodeFailed:
		return "decode-failed"
	case StatusTooLarge:
		return "too-large"
	default:
		return "unknown"
	}
}

// Err returns the sentinel matching s, or nil for StatusOK and StatusNoCover.
func (s Status) Err() error {
	switch s {
	case StatusUnsupportedVariant:
		return ErrUnsupportedVariant
	case StatusDecodeFailed:
		return ErrDecodeFailed
	case StatusTooLarge:
		return ErrTooLarge
	}
	return nil
}

// Options configures decoding. Zero values select defaults.
type Options struct {
	Width     int
	Height    int
	MaxBytes  int
	MaxPixels int
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = defaultMaxPixels
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Thumbnail is a Width x Height bilevel raster. Bits holds Stride() bytes
// per row; a set bit is ink.
type Thumbnail struct {
	Width  int
	Height int
	Bits   []byte
}

// NewThumbnail returns a blank (all paper) thumbnail.
func NewThumbnail(w, h int) Thumbnail {
	return Thumbnail{Width: w, Height: h, Bits: make([]byte, (w+7)/8*h)}
}

func (t Thumbnail) Stride() int { return (t.Width + 7) / 8 }

// Ink reports whether the pixel at (x, y) is drawn.
func (t Thumbnail) Ink(x, y int) bool {
	if x < 0 || y < 0 || x >= t.Width || y >= t.Height {
		return false
	}
	return t.Bits[y*t.Stride()+x/8]&(0x80>>(x%8)) != 0
}

func (t Thumbnail) set(x, y int) {
	t.Bits[y*t.Stride()+x/8] |= 0x80 >> (x % 8)
}

// InkCount returns the number of drawn pixels.
func (t Thumbnail) InkCount() int {
	n := 0
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			if t.Ink(x, y) {
				n++
			}
		}
	}
	return n
}

// PBM encodes the thumbnail as a binary portable bitmap. PBM uses the same
// row layout and ink convention, so the bits are written as they are.
func (t Thumbnail) PBM() []byte {
	var buf bytes.Buffer
	buf.WriteString("P4\n")
	buf.WriteString(strconv.Itoa(t.Width))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(t.Height))
	buf.WriteByte('\n')
	buf.Write(t.Bits)
	return buf.Bytes()
}

// Placeholder is the default thumbnail shown for books without a cover: a
// one pixel frame.
func Placeholder(w, h int) Thumbnail {
	t := NewThumbnail(w, h)
	for x := 0; x < w; x++ {
		t.set(x, 0)
		t.set(x, h-1)
	}
	for y := 0; y < h; y++ {
		t.set(0, y)
		t.set(w-1, y)
	}
	return t
}

// Decode turns an encoded cover into a thumbnail. Non-interlaced PNG,
// baseline and extended-sequential JPEG and binary PBM are supported; any
// other variant yields StatusUnsupportedVariant. The media type is only
// consulted when the data's signature is not recognized.
func Decode(data []byte, mediaType string, opts Options) (Thumbnail, Status) {
	opts = opts.withDefaults()
	log := opts.Logger

	if len(data) == 0 {
		return Thumbnail{}, StatusDecodeFailed
	}
	if len(data) > opts.MaxBytes {
		log.Debug("cover exceeds byte limit", "bytes", len(data), "limit", opts.MaxBytes)
		return Thumbnail{}, StatusTooLarge
	}

	format := sniff(data)
	if format == formatUnknown {
		format = formatFor(mediaType)
	}

	var (
		src image.Image
		err error
	)
	switch format {
	case formatPNG:
		if interlacedPNG(data) {
			return Thumbnail{}, StatusUnsupportedVariant
		}
		if st := checkConfig(data, opts); st != StatusOK {
			return Thumbnail{}, st
		}
		src, err = png.Decode(bytes.NewReader(data))
	case formatJPEG:
		sof, serr := jpegFrameType(data)
		if serr != nil {
			log.Debug("jpeg frame scan failed", "error", serr)
			return Thumbnail{}, StatusDecodeFailed
		}
		if sof != sofBaseline && sof != sofExtended {
			return Thumbnail{}, StatusUnsupportedVariant
		}
		if st := checkConfig(data, opts); st != StatusOK {
			return Thumbnail{}, st
		}
		src, err = jpeg.Decode(bytes.NewReader(data))
	case formatPBM:
		var w, h int
		w, h, err = pbmSize(data)
		if err == nil && w*h > opts.MaxPixels {
			return Thumbnail{}, StatusTooLarge
		}
		if err == nil {
			src, err = decodePBM(data)
		}
	default:
		log.Debug("cover format not supported", "media_type", mediaType)
		return Thumbnail{}, StatusUnsupportedVariant
	}
	if err != nil {
		log.Debug("cover decode failed", "format", format, "error", err)
		return Thumbnail{}, StatusDecodeFailed
	}

	return render(src, opts.Width, opts.Height, format == formatPBM), StatusOK
}

func checkConfig(data []byte, opts Options) Status {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return StatusDecodeFailed
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return StatusDecodeFailed
	}
	if cfg.Width*cfg.Height > opts.MaxPixels {
		opts.Logger.Debug("cover exceeds pixel limit", "width", cfg.Width, "height", cfg.Height)
		return StatusTooLarge
	}
	return StatusOK
}

// render composites src over white, fits it into w x h keeping the aspect
// ratio and thresholds the luma into a thumbnail. Bitmaps are scaled with
// nearest neighbour so their edges stay sharp.
func render(src image.Image, w, h int, bitmap bool) Thumbnail {
	b := src.Bounds()
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, src, image.Pt(0, 0), 1.0)

	fw, fh := fitSize(b.Dx(), b.Dy(), w, h)
	filter := imaging.Lanczos
	if bitmap || fw > b.Dx() {
		filter = imaging.NearestNeighbor
	}
	scaled := imaging.Resize(flat, fw, fh, filter)
	canvas := imaging.PasteCenter(imaging.New(w, h, color.White), scaled)

	t := NewThumbnail(w, h)
	for y := 0; y < h; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			if luma(p[0], p[1], p[2]) < inkThreshold {
				t.set(x, y)
			}
		}
	}
	return t
}

func fitSize(sw, sh, w, h int) (int, int) {
	// Compare sw/sh with w/h without floating point.
	if sw*h >= sh*w {
		fh := sh * w / sw
		if fh < 1 {
			fh = 1
		}
		return w, fh
	}
	fw := sw * h / sh
	if fw < 1 {
		fw = 1
	}
	return fw, h
}

func luma(r, g, b uint8) int {
	return (int(r)*30 + int(g)*59 + int(b)*11) / 100
}
