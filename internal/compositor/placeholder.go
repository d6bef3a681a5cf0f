package compositor

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PlaceholderSize is used when the scan size is unknown
const PlaceholderSize = 256

// Placeholder draws caption in black on a white canvas. It only uses
// in-process drawing so it cannot fail on a broken native library.
func Placeholder(caption string, width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		width, height = PlaceholderSize, PlaceholderSize
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lines := wrap(caption, (width-20)/7)
	lineHeight := face.Metrics().Height.Ceil()
	top := height/2 - len(lines)*lineHeight/2 + face.Metrics().Ascent.Ceil()

	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	for i, line := range lines {
		d.Dot = fixed.P(10, top+i*lineHeight)
		d.DrawString(line)
	}
	return img
}

// wrap splits caption into lines of at most limit characters
func wrap(caption string, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	var lines []string
	var cur string
	for _, word := range strings.Fields(caption) {
		switch {
		case cur == "":
			cur = word
		case len(cur)+1+len(word) <= limit:
			cur += " " + word
		default:
			lines = append(lines, cur)
			cur = word
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// PlaceholderPNGBase64 encodes a captioned placeholder for inline use
func PlaceholderPNGBase64(caption string, width, height int) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Placeholder(caption, width, height)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PlaceholderJPEG encodes a captioned placeholder as a JPEG artifact
func PlaceholderJPEG(caption string, width, height int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Placeholder(caption, width, height), &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
