package heatmap

import (
	"fmt"
	"image"

	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Overlay is the post-processed output handed to the compositor. All
// images share the original image's working resolution.
type Overlay struct {
	// Original is the scan as 8-bit RGB
	Original *image.RGBA
	// Heatmap is the jet-colorized heat with non-tissue pixels zeroed
	Heatmap *image.RGBA
	// Mask marks tissue pixels with 255
	Mask *image.Gray
	// Intensity is the blurred, re-normalized and thresholded relevance
	Intensity *mat.Dense
}

// Bounds returns the overlay rectangle
func (o *Overlay) Bounds() image.Rectangle {
	return o.Original.Bounds()
}

// PostProcess normalizes, resizes, blurs, re-normalizes, thresholds
// and colorizes raw, then intersects the result with mask. A nil mask
// is derived from the original image. Panics from the native image
// library are returned as errors.
func PostProcess(raw *mat.Dense, original *model.OriginalImage, mask *image.Gray) (overlay *Overlay, err error) {
	defer func() {
		if r := recover(); r != nil {
			overlay, err = nil, fmt.Errorf("post-processing panicked: %v", r)
		}
	}()

	if raw == nil {
		return nil, fmt.Errorf("raw heatmap is nil")
	}
	if r, c := raw.Dims(); r == 0 || c == 0 {
		return nil, fmt.Errorf("raw heatmap is empty")
	}
	if err := original.Validate(); err != nil {
		return nil, err
	}
	w, h := original.Width, original.Height

	src := denseToMat(Normalize(raw))
	defer src.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(resized, &blurred, image.Pt(BlurKernel, BlurKernel), 0, 0, gocv.BorderDefault)

	intensity := Threshold(Normalize(matToDense(blurred)), Cutoff)

	heat8 := denseToGrayMat(intensity)
	defer heat8.Close()
	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(heat8, &colored, gocv.ColormapJet)

	base, err := RGBToMat(original.ToRGB(), w, h)
	if err != nil {
		return nil, err
	}
	defer base.Close()

	tissue, err := maskMat(base, mask)
	if err != nil {
		return nil, err
	}
	defer tissue.Close()

	tissue3 := gocv.NewMat()
	defer tissue3.Close()
	gocv.CvtColor(tissue, &tissue3, gocv.ColorGrayToBGR)

	masked := gocv.NewMat()
	defer masked.Close()
	gocv.BitwiseAnd(colored, tissue3, &masked)

	origRGBA, err := MatToRGBA(base)
	if err != nil {
		return nil, err
	}
	heatRGBA, err := MatToRGBA(masked)
	if err != nil {
		return nil, err
	}
	maskGray, err := matToGray(tissue)
	if err != nil {
		return nil, err
	}
	return &Overlay{Original: origRGBA, Heatmap: heatRGBA, Mask: maskGray, Intensity: intensity}, nil
}

// maskMat returns the caller's mask at the image size, or derives one
func maskMat(base gocv.Mat, mask *image.Gray) (gocv.Mat, error) {
	if mask == nil {
		return deriveMaskMat(base), nil
	}
	m, err := GrayToMat(mask)
	if err != nil {
		return gocv.NewMat(), err
	}
	if m.Rows() == base.Rows() && m.Cols() == base.Cols() {
		return m, nil
	}
	defer m.Close()
	resized := gocv.NewMat()
	gocv.Resize(m, &resized, image.Pt(base.Cols(), base.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)
	return resized, nil
}
