// Package preprocess decodes uploaded scans into a classifier tensor and
// a display image.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/anime-shed/mri-gradcam-go/internal/heatmap"
	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned for file extensions we cannot decode
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Error reports which stage rejected the upload
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preprocess %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var decoders = map[string]func(data []byte) (image.Image, error){
	".jpg":  decodeImaging,
	".jpeg": decodeImaging,
	".png":  decodeImaging,
	".bmp":  func(data []byte) (image.Image, error) { return bmp.Decode(bytes.NewReader(data)) },
	".tif":  func(data []byte) (image.Image, error) { return tiff.Decode(bytes.NewReader(data)) },
	".tiff": func(data []byte) (image.Image, error) { return tiff.Decode(bytes.NewReader(data)) },
}

func decodeImaging(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// Extension returns the lower-cased extension of a file name
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsDICOM reports whether the name carries a DICOM extension
func IsDICOM(name string) bool {
	return Extension(name) == ".dcm"
}

// Supported reports whether the file name has a decodable extension
func Supported(name string) bool {
	ext := Extension(name)
	_, ok := decoders[ext]
	return ok || ext == ".dcm"
}

// SupportedExtensions lists accepted extensions
func SupportedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".dcm"}
}

// Result is a prepared scan
type Result struct {
	Tensor   *model.Tensor
	Original *model.OriginalImage
	// Mask is 255 on tissue (intensity above 15, closed) and 0 elsewhere
	Mask *image.Gray
	// Source is the decoded image before resizing, for validators
	Source image.Image
}

// Prepare decodes data according to name's extension and resizes it to
// size x size. Standard images keep their 8-bit RGB values in the
// original; DICOM slices are normalized by their maximum and kept as a
// single unit-range channel.
func Prepare(name string, data []byte, size int) (*Result, error) {
	if size <= 0 {
		return nil, &Error{Stage: "configure", Err: fmt.Errorf("invalid target size %d", size)}
	}
	if len(data) == 0 {
		return nil, &Error{Stage: "read", Err: errors.New("empty upload")}
	}
	if IsDICOM(name) {
		res, err := prepareDICOM(data, size)
		if err != nil {
			return nil, err
		}
		return withTissueMask(res)
	}

	decode, ok := decoders[Extension(name)]
	if !ok {
		return nil, &Error{Stage: "detect", Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, Extension(name))}
	}
	img, err := decode(data)
	if err != nil {
		return nil, &Error{Stage: "decode", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &Error{Stage: "decode", Err: errors.New("image has no pixels")}
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)
	original := model.NewOriginalImage(size, size, model.ImageFormat{Range: model.RangeByte, Channels: 3})
	tensor := model.NewTensor(size, size, 3)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			for c := 0; c < 3; c++ {
				v := float64(row[x*4+c])
				original.Pix[(y*size+x)*3+c] = v
				tensor.Set(y, x, c, v/255)
			}
		}
	}
	return withTissueMask(&Result{Tensor: tensor, Original: original, Source: img})
}

// withTissueMask attaches the closed tissue mask of the original
func withTissueMask(res *Result) (*Result, error) {
	mask, err := heatmap.TissueMask(res.Original)
	if err != nil {
		return nil, &Error{Stage: "mask", Err: err}
	}
	res.Mask = mask
	return res, nil
}
