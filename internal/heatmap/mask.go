package heatmap

import (
	"fmt"
	"image"

	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"gocv.io/x/gocv"
)

// tissueMat thresholds the grayscale image at MaskIntensity and closes
// the result with a square kernel to fill small gaps
func tissueMat(bgr gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, MaskIntensity, 255, gocv.ThresholdBinary)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(MorphKernel, MorphKernel))
	defer kernel.Close()

	closed := gocv.NewMat()
	gocv.MorphologyEx(binary, &closed, gocv.MorphClose, kernel)
	return closed
}

// deriveMaskMat is tissueMat followed by an opening that drops speckle
func deriveMaskMat(bgr gocv.Mat) gocv.Mat {
	closed := tissueMat(bgr)
	defer closed.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(MorphKernel, MorphKernel))
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, kernel)
	return opened
}

// DeriveMask builds the closed and opened tissue mask the post-processor
// uses when the caller supplies none
func DeriveMask(original *model.OriginalImage) (*image.Gray, error) {
	return maskFor(original, deriveMaskMat)
}

// TissueMask builds the closed-only tissue mask produced at preprocessing
func TissueMask(original *model.OriginalImage) (*image.Gray, error) {
	return maskFor(original, tissueMat)
}

func maskFor(original *model.OriginalImage, build func(gocv.Mat) gocv.Mat) (*image.Gray, error) {
	if err := original.Validate(); err != nil {
		return nil, err
	}
	base, err := RGBToMat(original.ToRGB(), original.Width, original.Height)
	if err != nil {
		return nil, err
	}
	defer base.Close()

	m := build(base)
	defer m.Close()
	if m.Empty() {
		return nil, fmt.Errorf("mask derivation produced an empty result")
	}
	return matToGray(m)
}
