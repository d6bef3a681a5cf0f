package analyzer

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

type tesseractDetector struct {
	language string
}

// NewTesseractDetector returns a TextDetector backed by Tesseract.
// Each call opens its own client, the underlying API is not goroutine safe.
func NewTesseractDetector(language string) TextDetector {
	if language == "" {
		language = "eng"
	}
	return &tesseractDetector{language: language}
}

func (d *tesseractDetector) CountWords(img image.Image) (int, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return 0, fmt.Errorf("encode for OCR: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(d.language); err != nil {
		return 0, fmt.Errorf("set OCR language: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("load OCR image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return 0, fmt.Errorf("OCR: %w", err)
	}
	return countWords(text), nil
}

// countWords counts tokens that carry at least two letters. Scan noise
// tends to come back as stray single symbols.
func countWords(text string) int {
	n := 0
	for _, field := range strings.Fields(text) {
		letters := 0
		for _, r := range field {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 2 {
			n++
		}
	}
	return n
}
