package analyzer

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func createTestImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// createScanImage draws a bright textured disc on a black field.
func createScanImage(size int) *image.RGBA {
	img := createTestImage(size, size, color.RGBA{0, 0, 0, 255})
	c := float64(size) / 2
	r := float64(size) * 0.35
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy <= r*r {
				v := uint8(120 + 60*math.Sin(float64(x)/3)*math.Cos(float64(y)/4))
				img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
			}
		}
	}
	return img
}

func TestNewMetricsCalculator(t *testing.T) {
	calc := NewMetricsCalculator()
	if calc == nil {
		t.Error("Expected non-nil metrics calculator")
	}
}

func TestCalculateScanStatistics(t *testing.T) {
	tests := []struct {
		name          string
		img           image.Image
		wantImbalance float64
		wantDark      float64
		wantLuma      float64
	}{
		{"uniform gray", createTestImage(50, 50, color.RGBA{128, 128, 128, 255}), 0, 0, 128},
		{"black", createTestImage(50, 50, color.RGBA{0, 0, 0, 255}), 0, 1, 0},
		{"pure red", createTestImage(50, 50, color.RGBA{255, 0, 0, 255}), 2.0 / 3.0, 0, 0.299 * 255},
	}

	calc := NewMetricsCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := calc.CalculateScanStatistics(tt.img, 30)
			if math.Abs(s.ChannelImbalance-tt.wantImbalance) > 0.01 {
				t.Errorf("Expected imbalance ~%f, got %f", tt.wantImbalance, s.ChannelImbalance)
			}
			if math.Abs(s.DarkFraction-tt.wantDark) > 0.01 {
				t.Errorf("Expected dark fraction ~%f, got %f", tt.wantDark, s.DarkFraction)
			}
			if math.Abs(s.Brightness-tt.wantLuma) > 0.5 {
				t.Errorf("Expected brightness ~%f, got %f", tt.wantLuma, s.Brightness)
			}
		})
	}
}

func TestCalculateScanStatistics_ScanLikeImage(t *testing.T) {
	s := NewMetricsCalculator().CalculateScanStatistics(createScanImage(100), 30)

	// disc covers ~38% of the field
	if s.DarkFraction < 0.5 || s.DarkFraction > 0.7 {
		t.Errorf("Expected dark fraction around 0.6, got %f", s.DarkFraction)
	}
	if s.ChannelImbalance > 0.001 {
		t.Errorf("Expected grayscale image to be balanced, got %f", s.ChannelImbalance)
	}
}

func TestCalculateScanStatistics_EmptyImage(t *testing.T) {
	s := NewMetricsCalculator().CalculateScanStatistics(image.NewRGBA(image.Rect(0, 0, 0, 0)), 30)
	if s != (ScanStatistics{}) {
		t.Errorf("Expected zero statistics, got %+v", s)
	}
}

func TestCalculateLaplacianVariance_UniformImage(t *testing.T) {
	calc := NewMetricsCalculator()

	gray := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}

	if v := calc.CalculateLaplacianVariance(gray); v > 1.0 {
		t.Errorf("Expected near-zero variance for uniform image, got %f", v)
	}
}

func TestCalculateLaplacianVariance_Checkerboard(t *testing.T) {
	calc := NewMetricsCalculator()

	gray := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if (x/5+y/5)%2 == 0 {
				gray.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	if v := calc.CalculateLaplacianVariance(gray); v < 1000 {
		t.Errorf("Expected high variance for checkerboard, got %f", v)
	}
}

func TestCalculateLaplacianVariance_TinyImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	if v := NewMetricsCalculator().CalculateLaplacianVariance(gray); v != 0 {
		t.Errorf("Expected 0 for images smaller than the kernel, got %f", v)
	}
}
