package heatmap

import (
	"image"
	"testing"

	"github.com/anime-shed/mri-gradcam-go/internal/model"

	"gonum.org/v1/gonum/mat"
)

// discImage returns a dark square with a bright centered disc
func discImage(size int, format model.ImageFormat) *model.OriginalImage {
	img := model.NewOriginalImage(size, size, format)
	level := 180.0
	if format.Range == model.RangeUnit {
		level = 180.0 / 255
	}
	c := float64(size) / 2
	r := float64(size) / 3
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= r*r {
				for ch := 0; ch < format.Channels; ch++ {
					img.Pix[(y*size+x)*format.Channels+ch] = level
				}
			}
		}
	}
	return img
}

func rampHeatmap(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d.Set(i, j, float64(i*n+j))
		}
	}
	return d
}

func isBlack(img *image.RGBA, x, y int) bool {
	i := img.PixOffset(x, y)
	return img.Pix[i] == 0 && img.Pix[i+1] == 0 && img.Pix[i+2] == 0
}

func TestPostProcess_ResizesAndMasks(t *testing.T) {
	formats := []model.ImageFormat{
		{Range: model.RangeByte, Channels: 3},
		{Range: model.RangeUnit, Channels: 1},
	}
	for _, format := range formats {
		t.Run(format.Range.String(), func(t *testing.T) {
			overlay, err := PostProcess(rampHeatmap(4), discImage(256, format), nil)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if overlay.Heatmap.Bounds().Dx() != 256 || overlay.Heatmap.Bounds().Dy() != 256 {
				t.Fatalf("Expected 256x256 heatmap, got %v", overlay.Heatmap.Bounds())
			}
			for _, p := range []image.Point{{0, 0}, {255, 0}, {0, 255}, {255, 255}, {5, 128}} {
				if overlay.Mask.GrayAt(p.X, p.Y).Y != 0 {
					t.Errorf("Expected background at %v to be outside mask", p)
				}
				if !isBlack(overlay.Heatmap, p.X, p.Y) {
					t.Errorf("Expected no heat outside mask at %v", p)
				}
			}
			if overlay.Mask.GrayAt(128, 128).Y != 255 {
				t.Error("Expected disc center inside mask")
			}
			if isBlack(overlay.Heatmap, 128, 128) {
				t.Error("Expected colorized heat inside mask")
			}
			if overlay.Original.Pix[overlay.Original.PixOffset(128, 128)] != 180 {
				t.Errorf("Expected original intensity 180 without double scaling, got %d",
					overlay.Original.Pix[overlay.Original.PixOffset(128, 128)])
			}
		})
	}
}

func TestPostProcess_IntensityThresholded(t *testing.T) {
	overlay, err := PostProcess(rampHeatmap(8), discImage(64, model.ImageFormat{Range: model.RangeByte, Channels: 3}), nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for _, v := range overlay.Intensity.RawMatrix().Data {
		if v != 0 && v < Cutoff {
			t.Fatalf("Found intensity %g below cutoff", v)
		}
		if v > 1 {
			t.Fatalf("Found intensity %g above 1", v)
		}
	}
}

func TestPostProcess_AllZeroMask(t *testing.T) {
	original := discImage(32, model.ImageFormat{Range: model.RangeByte, Channels: 3})
	mask := image.NewGray(image.Rect(0, 0, 32, 32))

	overlay, err := PostProcess(rampHeatmap(4), original, mask)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if !isBlack(overlay.Heatmap, x, y) {
				t.Fatalf("Expected no heat with an empty mask, found some at (%d,%d)", x, y)
			}
		}
	}
}

func TestPostProcess_ResizesCallerMask(t *testing.T) {
	original := discImage(32, model.ImageFormat{Range: model.RangeByte, Channels: 3})
	mask := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	overlay, err := PostProcess(rampHeatmap(4), original, mask)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if overlay.Mask.Bounds().Dx() != 32 || overlay.Mask.GrayAt(0, 0).Y != 255 {
		t.Error("Expected caller mask resized to the image and kept")
	}
}

func TestPostProcess_InvalidInputs(t *testing.T) {
	original := discImage(16, model.ImageFormat{Range: model.RangeByte, Channels: 3})
	tests := []struct {
		name     string
		raw      *mat.Dense
		original *model.OriginalImage
	}{
		{"nil heatmap", nil, original},
		{"nil original", rampHeatmap(4), nil},
		{"bad channel count", rampHeatmap(4), &model.OriginalImage{Format: model.ImageFormat{Channels: 2}, Width: 1, Height: 1, Pix: []float64{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PostProcess(tt.raw, tt.original, nil); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestDeriveMask(t *testing.T) {
	mask, err := DeriveMask(discImage(64, model.ImageFormat{Range: model.RangeByte, Channels: 3}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if mask.GrayAt(32, 32).Y != 255 || mask.GrayAt(0, 0).Y != 0 {
		t.Error("Expected disc inside and corners outside the mask")
	}
}

func TestTissueMask_KeepsSpeckle(t *testing.T) {
	original := discImage(64, model.ImageFormat{Range: model.RangeByte, Channels: 1})
	for y := 2; y < 4; y++ {
		for x := 2; x < 4; x++ {
			original.Pix[y*64+x] = 200
		}
	}

	tissue, err := TissueMask(original)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if tissue.Bounds().Dx() != 64 || tissue.GrayAt(32, 32).Y != 255 || tissue.GrayAt(60, 60).Y != 0 {
		t.Error("Expected a 64x64 mask covering the disc only")
	}
	if tissue.GrayAt(2, 2).Y != 255 {
		t.Error("Expected closing alone to keep the 2x2 speck")
	}

	opened, err := DeriveMask(original)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if opened.GrayAt(2, 2).Y != 0 {
		t.Error("Expected opening to drop the 2x2 speck")
	}
}

func TestEdgeMagnitudeAndCanny(t *testing.T) {
	gray := discImage(64, model.ImageFormat{Range: model.RangeByte, Channels: 1}).ToGray()

	mag, err := EdgeMagnitude(gray)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if r, c := mag.Dims(); r != 64 || c != 64 {
		t.Fatalf("Expected 64x64 magnitude, got %dx%d", r, c)
	}
	if mat.Max(mag) < 254 || mat.Min(mag) != 0 {
		t.Errorf("Expected magnitude scaled to [0,255], got [%g,%g]", mat.Min(mag), mat.Max(mag))
	}
	if mag.At(32, 32) != 0 {
		t.Error("Expected no edge response inside the flat disc")
	}

	edges, err := CannyEdges(gray)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if mat.Max(edges) != 255 {
		t.Error("Expected Canny to find the disc boundary")
	}
}
