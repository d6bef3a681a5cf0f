package validation

import "testing"

func plausibleMetrics() ScanMetrics {
	return ScanMetrics{
		Width:             256,
		Height:            256,
		ChannelImbalance:  0.0,
		DarkFraction:      0.45,
		LaplacianVariance: 120,
		Brightness:        60,
	}
}

func TestScanValidator_Plausible(t *testing.T) {
	v := NewScanValidator()
	ok, msg := v.IsPlausible(plausibleMetrics())
	if !ok {
		t.Errorf("Expected plausible scan, got rejection %q", msg)
	}
	if issues := v.Validate(plausibleMetrics()); len(issues) != 0 {
		t.Errorf("Expected no issues, got %v", issues)
	}
}

func TestScanValidator_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ScanMetrics)
		wantType string
	}{
		{"too small", func(m *ScanMetrics) { m.Width = 32 }, "resolution"},
		{"colour photo", func(m *ScanMetrics) { m.ChannelImbalance = 0.3 }, "color"},
		{"no background", func(m *ScanMetrics) { m.DarkFraction = 0.01 }, "background"},
		{"blank", func(m *ScanMetrics) { m.LaplacianVariance = 0.5 }, "blank"},
		{"document", func(m *ScanMetrics) { m.OCRChecked = true; m.TextWords = 40 }, "text"},
	}

	v := NewScanValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := plausibleMetrics()
			tt.mutate(&m)
			ok, msg := v.IsPlausible(m)
			if ok {
				t.Fatal("Expected rejection")
			}
			if msg == "" {
				t.Error("Expected a rejection message")
			}
			issues := v.Validate(m)
			if len(issues) == 0 || issues[0].Type != tt.wantType {
				t.Errorf("Expected first issue %s, got %v", tt.wantType, issues)
			}
		})
	}
}

func TestScanValidator_TextIgnoredWithoutOCR(t *testing.T) {
	m := plausibleMetrics()
	m.TextWords = 100
	if ok, _ := NewScanValidator().IsPlausible(m); !ok {
		t.Error("Expected word count to be ignored when OCR did not run")
	}
}

func TestScanValidator_BrightnessIsWarningOnly(t *testing.T) {
	m := plausibleMetrics()
	m.Brightness = 250

	v := NewScanValidator()
	issues := v.Validate(m)
	if len(issues) != 1 || issues[0].Severity != SeverityWarning {
		t.Fatalf("Expected a single warning, got %v", issues)
	}
	if ok, _ := v.IsPlausible(m); !ok {
		t.Error("Expected warnings not to reject the scan")
	}
}

func TestScanValidator_CustomThresholds(t *testing.T) {
	th := DefaultScanThresholds()
	th.MinDarkFraction = 0.9
	v := NewScanValidatorWithThresholds(th)

	if v.Thresholds().MinDarkFraction != 0.9 {
		t.Errorf("Expected custom threshold, got %f", v.Thresholds().MinDarkFraction)
	}
	if ok, _ := v.IsPlausible(plausibleMetrics()); ok {
		t.Error("Expected stricter background threshold to reject")
	}
}
