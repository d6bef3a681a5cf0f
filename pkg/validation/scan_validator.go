package validation

import (
	"fmt"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ScanThresholds defines the heuristic limits an upload must meet to be
// treated as a brain MRI slice.
type ScanThresholds struct {
	// Mean absolute difference between colour channels, in 0..1.
	// MRI slices are grayscale, so anything colourful is rejected.
	MaxChannelImbalance float64

	// Share of pixels darker than DarkLevel. Scans sit on a black field.
	MinDarkFraction float64
	DarkLevel       float64

	// Laplacian variance below this means the image is blank.
	MinLaplacianVariance float64

	// Brightness range on the 0..255 scale.
	MinBrightness float64
	MaxBrightness float64

	// Recognised words above this mean a document or screenshot.
	MaxTextWords int

	MinWidth  int
	MinHeight int
}

// DefaultScanThresholds returns the thresholds used by the heuristic validator.
func DefaultScanThresholds() ScanThresholds {
	return ScanThresholds{
		MaxChannelImbalance:  0.08,
		MinDarkFraction:      0.15,
		DarkLevel:            30,
		MinLaplacianVariance: 5,
		MinBrightness:        5,
		MaxBrightness:        200,
		MaxTextWords:         8,
		MinWidth:             64,
		MinHeight:            64,
	}
}

// ScanMetrics is what the analyzer measures on an upload.
type ScanMetrics struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	ChannelImbalance  float64 `json:"channel_imbalance"`
	DarkFraction      float64 `json:"dark_fraction"`
	LaplacianVariance float64 `json:"laplacian_variance"`
	Brightness        float64 `json:"brightness"`
	TextWords         int     `json:"text_words"`
	OCRChecked        bool    `json:"ocr_checked"`
}

// ScanIssue represents a failed plausibility check
type ScanIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"`
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// ScanValidator applies ScanThresholds to measured metrics.
type ScanValidator struct {
	thresholds ScanThresholds
}

// NewScanValidator creates a validator with default thresholds
func NewScanValidator() *ScanValidator {
	return &ScanValidator{thresholds: DefaultScanThresholds()}
}

// NewScanValidatorWithThresholds creates a validator with custom thresholds
func NewScanValidatorWithThresholds(thresholds ScanThresholds) *ScanValidator {
	return &ScanValidator{thresholds: thresholds}
}

// Thresholds returns the active thresholds.
func (v *ScanValidator) Thresholds() ScanThresholds {
	return v.thresholds
}

// Validate returns every check the metrics fail, errors first in check order.
func (v *ScanValidator) Validate(m ScanMetrics) []ScanIssue {
	var issues []ScanIssue
	t := v.thresholds

	if m.Width < t.MinWidth || m.Height < t.MinHeight {
		issues = append(issues, ScanIssue{
			Type:        "resolution",
			Message:     fmt.Sprintf("Image is too small (%dx%d)", m.Width, m.Height),
			Severity:    SeverityError,
			ActualValue: float64(m.Width * m.Height),
			Threshold:   float64(t.MinWidth * t.MinHeight),
		})
	}

	if m.ChannelImbalance > t.MaxChannelImbalance {
		issues = append(issues, ScanIssue{
			Type:        "color",
			Message:     "Image is in colour; MRI slices are grayscale",
			Severity:    SeverityError,
			ActualValue: m.ChannelImbalance,
			Threshold:   t.MaxChannelImbalance,
		})
	}

	if m.DarkFraction < t.MinDarkFraction {
		issues = append(issues, ScanIssue{
			Type:        "background",
			Message:     "Image has no dark background around the anatomy",
			Severity:    SeverityError,
			ActualValue: m.DarkFraction,
			Threshold:   t.MinDarkFraction,
		})
	}

	if m.LaplacianVariance < t.MinLaplacianVariance {
		issues = append(issues, ScanIssue{
			Type:        "blank",
			Message:     "Image has no visible structure",
			Severity:    SeverityError,
			ActualValue: m.LaplacianVariance,
			Threshold:   t.MinLaplacianVariance,
		})
	}

	if m.OCRChecked && m.TextWords > t.MaxTextWords {
		issues = append(issues, ScanIssue{
			Type:        "text",
			Message:     "Image contains too much text to be a scan",
			Severity:    SeverityError,
			ActualValue: float64(m.TextWords),
			Threshold:   float64(t.MaxTextWords),
		})
	}

	if m.Brightness < t.MinBrightness {
		issues = append(issues, ScanIssue{
			Type:        "too_dark",
			Message:     "Image is almost entirely black",
			Severity:    SeverityWarning,
			ActualValue: m.Brightness,
			Threshold:   t.MinBrightness,
		})
	} else if m.Brightness > t.MaxBrightness {
		issues = append(issues, ScanIssue{
			Type:        "too_bright",
			Message:     "Image is unusually bright for a scan",
			Severity:    SeverityWarning,
			ActualValue: m.Brightness,
			Threshold:   t.MaxBrightness,
		})
	}

	return issues
}

// IsPlausible reports whether no error-severity issue was found, along with
// the message of the first one that was.
func (v *ScanValidator) IsPlausible(m ScanMetrics) (bool, string) {
	for _, issue := range v.Validate(m) {
		if issue.Severity == SeverityError {
			return false, issue.Message
		}
	}
	return true, ""
}
