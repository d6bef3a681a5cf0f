package analyzer

import (
	"context"
	"image"

	"github.com/anime-shed/mri-gradcam-go/pkg/validation"
)

// ScanAnalyzer measures how scan-like an upload looks.
type ScanAnalyzer interface {
	Analyze(ctx context.Context, img image.Image) (validation.ScanMetrics, error)
	Stats() PoolStats
	Close() error
}

// MetricsCalculator handles image metrics computation
type MetricsCalculator interface {
	CalculateScanStatistics(img image.Image, darkLevel float64) ScanStatistics
	CalculateLaplacianVariance(gray *image.Gray) float64
}

// TextDetector counts recognised words in an image.
type TextDetector interface {
	CountWords(img image.Image) (int, error)
}
