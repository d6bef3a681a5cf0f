package analyzer

import "github.com/anime-shed/mri-gradcam-go/pkg/validation"

// AnalysisOptions configures the scan analyzer.
type AnalysisOptions struct {
	// Longest side of the thumbnail the statistics are computed on.
	ThumbnailSize uint

	// Luma below which a pixel counts as background.
	DarkLevel float64

	// OCR options
	OCREnabled  bool
	OCRLanguage string

	MaxWorkers int
}

// DefaultOptions returns default analysis options
func DefaultOptions() AnalysisOptions {
	return AnalysisOptions{
		ThumbnailSize: 256,
		DarkLevel:     validation.DefaultScanThresholds().DarkLevel,
		OCREnabled:    false,
		OCRLanguage:   "eng",
		MaxWorkers:    0, // Use default CPU count
	}
}

// WithOCR enables the text check in the given language.
func (opts AnalysisOptions) WithOCR(language string) AnalysisOptions {
	opts.OCREnabled = true
	if language != "" {
		opts.OCRLanguage = language
	}
	return opts
}

// WithThumbnailSize overrides the analysis resolution.
func (opts AnalysisOptions) WithThumbnailSize(size uint) AnalysisOptions {
	if size > 0 {
		opts.ThumbnailSize = size
	}
	return opts
}

// WithWorkers sets the pool size.
func (opts AnalysisOptions) WithWorkers(n int) AnalysisOptions {
	opts.MaxWorkers = n
	return opts
}
