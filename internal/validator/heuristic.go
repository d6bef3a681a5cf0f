package validator

import (
	"context"
	"errors"

	"github.com/anime-shed/mri-gradcam-go/internal/analyzer"
	"github.com/anime-shed/mri-gradcam-go/pkg/validation"
)

// HeuristicValidator checks image statistics locally.
type HeuristicValidator struct {
	analyzer analyzer.ScanAnalyzer
	rules    *validation.ScanValidator
}

// NewHeuristicValidator combines an analyzer with threshold rules.
func NewHeuristicValidator(a analyzer.ScanAnalyzer, rules *validation.ScanValidator) *HeuristicValidator {
	if rules == nil {
		rules = validation.NewScanValidator()
	}
	return &HeuristicValidator{analyzer: a, rules: rules}
}

func (v *HeuristicValidator) Validate(ctx context.Context, upload Upload) Verdict {
	if upload.Image == nil {
		return errorVerdict(errors.New("image was not decoded"))
	}
	metrics, err := v.analyzer.Analyze(ctx, upload.Image)
	if err != nil {
		return errorVerdict(err)
	}
	if ok, reason := v.rules.IsPlausible(metrics); !ok {
		return Verdict{Valid: false, Message: MessageNotMRI, Reason: reason}
	}
	return Verdict{Valid: true, Message: MessageValid}
}
