package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"github.com/nfnt/resize"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// prepareDICOM reads the first frame of the pixel data, resizes it and
// divides by the slice maximum
func prepareDICOM(data []byte, size int) (*Result, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, &Error{Stage: "dicom", Err: err}
	}
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, &Error{Stage: "dicom", Err: fmt.Errorf("no pixel data: %w", err)}
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if len(info.Frames) == 0 {
		return nil, &Error{Stage: "dicom", Err: errors.New("pixel data has no frames")}
	}
	frame, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, &Error{Stage: "dicom", Err: err}
	}
	if frame.Bounds().Empty() {
		return nil, &Error{Stage: "dicom", Err: errors.New("frame has no pixels")}
	}

	resized := resize.Resize(uint(size), uint(size), frame, resize.Lanczos3)
	return fromIntensities(intensities(resized), size, resized), nil
}

// intensities reads 16-bit luminance of every pixel
func intensities(img image.Image) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, (float64(r)+float64(g)+float64(bl))/3)
		}
	}
	return out
}

func fromIntensities(values []float64, size int, source image.Image) *Result {
	var maxV float64
	for _, v := range values {
		if v > maxV {
			maxV = v
		}
	}
	if maxV == 0 {
		maxV = 1
	}
	original := model.NewOriginalImage(size, size, model.ImageFormat{Range: model.RangeUnit, Channels: 1})
	tensor := model.NewTensor(size, size, 3)
	for i, v := range values {
		n := v / maxV
		original.Pix[i] = n
		y, x := i/size, i%size
		for c := 0; c < 3; c++ {
			tensor.Set(y, x, c, n)
		}
	}
	return &Result{Tensor: tensor, Original: original, Source: source}
}
