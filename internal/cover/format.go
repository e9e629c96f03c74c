package cover

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
)

type format uint8

const (
	formatUnknown format = iota
	formatPNG
	formatJPEG
	formatPBM
	formatOther
)

func (f format) String() string {
	switch f {
	case formatPNG:
		return "png"
	case formatJPEG:
		return "jpeg"
	case formatPBM:
		return "pbm"
	case formatOther:
		return "other"
	default:
		return "unknown"
	}
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// sniff identifies the image format from its signature.
func sniff(data []byte) format {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return formatPNG
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return formatJPEG
	case bytes.HasPrefix(data, []byte("P4")) && len(data) > 2 && isPBMSpace(data[2]):
		return formatPBM
	case bytes.HasPrefix(data, []byte("GIF8")), bytes.HasPrefix(data, []byte("RIFF")),
		bytes.HasPrefix(data, []byte("<svg")), bytes.HasPrefix(data, []byte("<?xml")),
		bytes.HasPrefix(data, []byte("P1")), bytes.HasPrefix(data, []byte("P5")), bytes.HasPrefix(data, []byte("P6")):
		return formatOther
	}
	return formatUnknown
}

func formatFor(mediaType string) format {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/png":
		return formatPNG
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return formatJPEG
	case "image/x-portable-bitmap", "image/x-portable-anymap":
		return formatPBM
	case "", "application/octet-stream":
		return formatUnknown
	}
	return formatOther
}

// interlacedPNG reads the interlace method byte of the IHDR chunk.
func interlacedPNG(data []byte) bool {
	const interlaceOffset = 8 + 8 + 12
	if len(data) <= interlaceOffset || string(data[12:16]) != "IHDR" {
		return false
	}
	return data[interlaceOffset] != 0
}

const (
	sofBaseline    = 0xc0
	sofExtended    = 0xc1
	sofProgressive = 0xc2
)

var errNoFrame = errors.New("no frame header")

// jpegFrameType walks the marker segments up to the first start-of-frame
// marker and returns it.
func jpegFrameType(data []byte) (byte, error) {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xff {
			return 0, fmt.Errorf("marker expected at %d", i)
		}
		m := data[i+1]
		if m == 0xff {
			i++
			continue
		}
		switch {
		case m >= 0xc0 && m <= 0xcf && m != 0xc4 && m != 0xc8 && m != 0xcc:
			return m, nil
		case m == 0xd9 || m == 0xda:
			return 0, errNoFrame
		case m == 0x01 || m >= 0xd0 && m <= 0xd7:
			i += 2
			continue
		}
		n := int(data[i+2])<<8 | int(data[i+3])
		if n < 2 {
			return 0, fmt.Errorf("bad segment length %d", n)
		}
		i += 2 + n
	}
	return 0, errNoFrame
}

func isPBMSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// pbmHeader parses "P4 <width> <height>" with optional # comments and
// returns the offset of the raster, which follows one whitespace byte.
func pbmHeader(data []byte) (w, h, off int, err error) {
	if !bytes.HasPrefix(data, []byte("P4")) {
		return 0, 0, 0, errors.New("not a binary PBM")
	}
	i := 2
	var vals [2]int
	for k := range vals {
		for i < len(data) {
			if data[i] == '#' {
				for i < len(data) && data[i] != '\n' {
					i++
				}
				continue
			}
			if !isPBMSpace(data[i]) {
				break
			}
			i++
		}
		start := i
		v := 0
		for i < len(data) && data[i] >= '0' && data[i] <= '9' {
			v = v*10 + int(data[i]-'0')
			if v > 1<<20 {
				return 0, 0, 0, errors.New("pbm dimension out of range")
			}
			i++
		}
		if i == start || v == 0 {
			return 0, 0, 0, errors.New("pbm dimension missing")
		}
		vals[k] = v
	}
	if i >= len(data) || !isPBMSpace(data[i]) {
		return 0, 0, 0, errors.New("pbm header not terminated")
	}
	return vals[0], vals[1], i + 1, nil
}

func pbmSize(data []byte) (int, int, error) {
	w, h, _, err := pbmHeader(data)
	return w, h, err
}

// decodePBM unpacks a binary PBM into a gray image. A set bit is black.
func decodePBM(data []byte) (image.Image, error) {
	w, h, off, err := pbmHeader(data)
	if err != nil {
		return nil, err
	}
	stride := (w + 7) / 8
	if len(data)-off < stride*h {
		return nil, fmt.Errorf("pbm raster truncated: have %d bytes, want %d", len(data)-off, stride*h)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	raster := data[off:]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.Gray{Y: 0xff}
			if raster[y*stride+x/8]&(0x80>>(x%8)) != 0 {
				c.Y = 0
			}
			img.SetGray(x, y, c)
		}
	}
	return img, nil
}
