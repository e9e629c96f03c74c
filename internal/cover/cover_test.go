package cover

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"
	"testing"

	"github.com/yuanying/epubstream/internal/epub"
	"github.com/yuanying/epubstream/internal/storage"
	"github.com/yuanying/epubstream/internal/zipentry"
)

func makeSolidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func mustEncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func mustEncodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

var (
	black = color.NRGBA{A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

func TestDecode_SolidImages(t *testing.T) {
	tests := []struct {
		name      string
		data      func(t *testing.T) []byte
		mediaType string
		wantInk   int
	}{
		{"black png", func(t *testing.T) []byte { return mustEncodePNG(t, makeSolidNRGBA(112, 152, black)) }, "image/png", DefaultWidth * DefaultHeight},
		{"white png", func(t *testing.T) []byte { return mustEncodePNG(t, makeSolidNRGBA(112, 152, white)) }, "image/png", 0},
		{"black jpeg", func(t *testing.T) []byte { return mustEncodeJPEG(t, makeSolidNRGBA(112, 152, black), 90) }, "image/jpeg", DefaultWidth * DefaultHeight},
		{"transparent png over white", func(t *testing.T) []byte {
			return mustEncodePNG(t, makeSolidNRGBA(56, 76, color.NRGBA{A: 0}))
		}, "image/png", 0},
		{"light gray stays paper", func(t *testing.T) []byte {
			return mustEncodePNG(t, makeSolidNRGBA(56, 76, color.NRGBA{R: 200, G: 200, B: 200, A: 255}))
		}, "image/png", 0},
		{"dark gray is ink", func(t *testing.T) []byte {
			return mustEncodePNG(t, makeSolidNRGBA(56, 76, color.NRGBA{R: 100, G: 100, B: 100, A: 255}))
		}, "image/png", DefaultWidth * DefaultHeight},
		{"media type sniffed when missing", func(t *testing.T) []byte { return mustEncodePNG(t, makeSolidNRGBA(56, 76, black)) }, "", DefaultWidth * DefaultHeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thumb, st := Decode(tt.data(t), tt.mediaType, Options{})
			if st != StatusOK {
				t.Fatalf("status = %v, want ok", st)
			}
			if thumb.Width != DefaultWidth || thumb.Height != DefaultHeight {
				t.Fatalf("size = %dx%d", thumb.Width, thumb.Height)
			}
			if len(thumb.Bits) != thumb.Stride()*thumb.Height {
				t.Fatalf("bits = %d bytes, want %d", len(thumb.Bits), thumb.Stride()*thumb.Height)
			}
			if got := thumb.InkCount(); got != tt.wantInk {
				t.Errorf("ink = %d, want %d", got, tt.wantInk)
			}
		})
	}
}

func TestDecode_HalfAndHalf(t *testing.T) {
	img := makeSolidNRGBA(112, 152, white)
	for y := 0; y < 152; y++ {
		for x := 0; x < 56; x++ {
			img.SetNRGBA(x, y, black)
		}
	}
	thumb, st := Decode(mustEncodePNG(t, img), "image/png", Options{})
	if st != StatusOK {
		t.Fatalf("status = %v", st)
	}
	for y := 0; y < thumb.Height; y++ {
		for x := 0; x < 24; x++ {
			if !thumb.Ink(x, y) {
				t.Fatalf("(%d,%d) is paper, want ink", x, y)
			}
		}
		for x := 32; x < thumb.Width; x++ {
			if thumb.Ink(x, y) {
				t.Fatalf("(%d,%d) is ink, want paper", x, y)
			}
		}
	}
}

func TestDecode_KeepsAspectRatio(t *testing.T) {
	// A wide black image fits the width and leaves paper above and below.
	thumb, st := Decode(mustEncodePNG(t, makeSolidNRGBA(200, 50, black)), "image/png", Options{})
	if st != StatusOK {
		t.Fatalf("status = %v", st)
	}
	if thumb.Ink(28, 0) || thumb.Ink(28, thumb.Height-1) {
		t.Error("letterbox rows carry ink")
	}
	if !thumb.Ink(28, thumb.Height/2) {
		t.Error("center row is paper")
	}
}

func TestDecode_CustomSize(t *testing.T) {
	thumb, st := Decode(mustEncodePNG(t, makeSolidNRGBA(30, 30, black)), "image/png", Options{Width: 10, Height: 10})
	if st != StatusOK {
		t.Fatalf("status = %v", st)
	}
	if thumb.Stride() != 2 || len(thumb.Bits) != 20 {
		t.Fatalf("stride = %d, bits = %d", thumb.Stride(), len(thumb.Bits))
	}
	if thumb.InkCount() != 100 {
		t.Errorf("ink = %d, want 100", thumb.InkCount())
	}
	// Padding bits past the row width stay clear.
	if thumb.Bits[1]&0x3f != 0 {
		t.Errorf("padding bits set: %08b", thumb.Bits[1])
	}
}

func TestDecode_PBM(t *testing.T) {
	data := append([]byte("P4\n# test\n8 2\n"), 0xF0, 0x0F)
	thumb, st := Decode(data, "image/x-portable-bitmap", Options{})
	if st != StatusOK {
		t.Fatalf("status = %v", st)
	}
	// Scaled by 7 to 56x14 and centered vertically at row 31.
	checks := []struct {
		x, y int
		ink  bool
	}{
		{0, 31, true}, {27, 37, true}, {28, 31, false}, {55, 37, false},
		{0, 38, false}, {27, 44, false}, {28, 38, true}, {55, 44, true},
		{0, 30, false}, {55, 45, false},
	}
	for _, c := range checks {
		if got := thumb.Ink(c.x, c.y); got != c.ink {
			t.Errorf("Ink(%d,%d) = %v, want %v", c.x, c.y, got, c.ink)
		}
	}
}

func TestDecode_PBMErrors(t *testing.T) {
	tests := map[string][]byte{
		"truncated raster": []byte("P4 8 2\n\xff"),
		"missing height":   []byte("P4 8\n"),
		"zero width":       []byte("P4 0 2\n"),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, st := Decode(data, "", Options{}); st != StatusDecodeFailed {
				t.Errorf("status = %v, want decode-failed", st)
			}
		})
	}
}

func TestDecode_UnsupportedVariants(t *testing.T) {
	interlaced := mustEncodePNG(t, makeSolidNRGBA(8, 8, black))
	interlaced[28] = 1

	// SOI, an APP0 segment, then a progressive frame header.
	progressive := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x04, 'J', 'F', 0xFF, 0xC2, 0x00, 0x0B, 8, 0, 8, 0, 8, 1, 1, 0x11, 0}

	tests := []struct {
		name      string
		data      []byte
		mediaType string
	}{
		{"interlaced png", interlaced, "image/png"},
		{"progressive jpeg", progressive, "image/jpeg"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), "image/gif"},
		{"svg by media type", []byte("<svg xmlns='http://www.w3.org/2000/svg'/>"), "image/svg+xml"},
		{"ascii pbm", []byte("P1\n1 1\n1\n"), ""},
		{"unknown", []byte("hello"), "image/webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, st := Decode(tt.data, tt.mediaType, Options{})
			if st != StatusUnsupportedVariant {
				t.Fatalf("status = %v, want unsupported-variant", st)
			}
			if !errors.Is(st.Err(), ErrUnsupportedVariant) {
				t.Errorf("Err() = %v", st.Err())
			}
		})
	}
}

func TestDecode_Limits(t *testing.T) {
	data := mustEncodePNG(t, makeSolidNRGBA(64, 64, black))
	if _, st := Decode(data, "image/png", Options{MaxBytes: 16}); st != StatusTooLarge {
		t.Errorf("byte limit: status = %v, want too-large", st)
	}
	if _, st := Decode(data, "image/png", Options{MaxPixels: 100}); st != StatusTooLarge {
		t.Errorf("pixel limit: status = %v, want too-large", st)
	}
	if _, st := Decode(nil, "image/png", Options{}); st != StatusDecodeFailed {
		t.Errorf("empty data: status = %v, want decode-failed", st)
	}
	if _, st := Decode(data[:40], "image/png", Options{}); st != StatusDecodeFailed {
		t.Errorf("truncated png: status = %v, want decode-failed", st)
	}
}

func TestJPEGFrameType(t *testing.T) {
	data := mustEncodeJPEG(t, makeSolidNRGBA(16, 16, black), 80)
	sof, err := jpegFrameType(data)
	if err != nil {
		t.Fatalf("jpegFrameType() error = %v", err)
	}
	if sof != sofBaseline {
		t.Errorf("frame marker = %#x, want %#x", sof, sofBaseline)
	}
	if _, err := jpegFrameType([]byte{0xFF, 0xD8, 0xFF, 0xDA, 0x00, 0x02}); err == nil {
		t.Error("scan before frame accepted")
	}
}

func TestThumbnail_PBMAndPlaceholder(t *testing.T) {
	p := Placeholder(10, 4)
	if !p.Ink(0, 0) || !p.Ink(9, 3) || p.Ink(5, 2) {
		t.Fatal("placeholder is not a frame")
	}
	enc := p.PBM()
	if !bytes.HasPrefix(enc, []byte("P4\n10 4\n")) {
		t.Fatalf("header = %q", enc[:8])
	}
	img, err := decodePBM(enc)
	if err != nil {
		t.Fatalf("decodePBM() error = %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 4 {
		t.Errorf("decoded %v", img.Bounds())
	}
}

const probeOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata><meta name="cover" content="%s"/></metadata>
  <manifest>
    <item id="c1" href="text/c1.xhtml" media-type="application/xhtml+xml"/>
    <item id="img" href="images/pic.png" media-type="image/png"/>
  </manifest>
  <spine><itemref idref="c1"/></spine>
</package>`

func mapLoader(files map[string][]byte) epub.DocLoader {
	return func(href string, limit int64) ([]byte, error) {
		data, ok := files[href]
		if !ok {
			return nil, fmt.Errorf("%w: %s", zipentry.ErrEntryNotFound, href)
		}
		if limit > 0 && int64(len(data)) > limit {
			return nil, fmt.Errorf("%w: %s", zipentry.ErrEntryTooLarge, href)
		}
		return data, nil
	}
}

func TestProbe(t *testing.T) {
	pic := mustEncodePNG(t, makeSolidNRGBA(56, 76, black))
	doc := []byte(`<html><body><p>text only</p></body></html>`)

	t.Run("meta cover decoded", func(t *testing.T) {
		pkg, err := epub.ParseOPF([]byte(fmt.Sprintf(probeOPF, "img")), "OEBPS/content.opf")
		if err != nil {
			t.Fatalf("ParseOPF() error = %v", err)
		}
		res, err := Probe(pkg, mapLoader(map[string][]byte{"OEBPS/images/pic.png": pic, "OEBPS/text/c1.xhtml": doc}), Options{})
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if !res.HasCover() || res.Info.DetectionMethod != "meta" {
			t.Fatalf("result = %+v", res.Info)
		}
		if res.Thumb.InkCount() != DefaultWidth*DefaultHeight {
			t.Errorf("ink = %d", res.Thumb.InkCount())
		}
	})

	t.Run("no cover resource", func(t *testing.T) {
		opf := `<package><manifest><item id="c1" href="c1.xhtml" media-type="application/xhtml+xml"/></manifest><spine><itemref idref="c1"/></spine></package>`
		pkg, err := epub.ParseOPF([]byte(opf), "content.opf")
		if err != nil {
			t.Fatalf("ParseOPF() error = %v", err)
		}
		res, err := Probe(pkg, mapLoader(map[string][]byte{"c1.xhtml": doc}), Options{})
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if res.Status != StatusNoCover || res.HasCover() {
			t.Errorf("status = %v, want no-cover", res.Status)
		}
	})

	t.Run("image entry missing", func(t *testing.T) {
		pkg, err := epub.ParseOPF([]byte(fmt.Sprintf(probeOPF, "img")), "OEBPS/content.opf")
		if err != nil {
			t.Fatalf("ParseOPF() error = %v", err)
		}
		res, err := Probe(pkg, mapLoader(map[string][]byte{"OEBPS/text/c1.xhtml": doc}), Options{})
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if res.Status != StatusNoCover {
			t.Errorf("status = %v, want no-cover", res.Status)
		}
	})

	t.Run("undecodable cover is logged with its error", func(t *testing.T) {
		pkg, err := epub.ParseOPF([]byte(fmt.Sprintf(probeOPF, "img")), "OEBPS/content.opf")
		if err != nil {
			t.Fatalf("ParseOPF() error = %v", err)
		}
		interlaced := mustEncodePNG(t, makeSolidNRGBA(8, 8, black))
		interlaced[28] = 1
		files := map[string][]byte{"OEBPS/images/pic.png": interlaced, "OEBPS/text/c1.xhtml": doc}

		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		res, err := Probe(pkg, mapLoader(files), Options{Logger: logger})
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if res.Status != StatusUnsupportedVariant {
			t.Errorf("status = %v, want unsupported-variant", res.Status)
		}
		if !strings.Contains(logs.String(), ErrUnsupportedVariant.Error()) {
			t.Errorf("log = %q, want it to name %q", logs.String(), ErrUnsupportedVariant)
		}

		logs.Reset()
		res, err = Probe(pkg, mapLoader(files), Options{MaxBytes: 8, Logger: logger})
		if err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
		if res.Status != StatusTooLarge {
			t.Errorf("status = %v, want too-large", res.Status)
		}
		if !strings.Contains(logs.String(), ErrTooLarge.Error()) {
			t.Errorf("log = %q, want it to name %q", logs.String(), ErrTooLarge)
		}
	})

	t.Run("storage failure escalates", func(t *testing.T) {
		pkg, err := epub.ParseOPF([]byte(fmt.Sprintf(probeOPF, "img")), "OEBPS/content.opf")
		if err != nil {
			t.Fatalf("ParseOPF() error = %v", err)
		}
		failing := func(string, int64) ([]byte, error) { return nil, fmt.Errorf("read: %w", storage.ErrIO) }
		if _, err := Probe(pkg, failing, Options{}); !errors.Is(err, storage.ErrIO) {
			t.Errorf("error = %v, want ErrIO", err)
		}
	})
}
