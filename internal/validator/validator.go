// Package validator decides whether an upload plausibly is an MRI scan
// before it reaches the classifiers.
package validator

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Verdict messages returned to clients.
const (
	MessageValid  = "Valid MRI image"
	MessageNotMRI = "The uploaded image does not appear to be an MRI scan"
)

// Mode selects the validator implementation.
type Mode string

const (
	ModeRemote    Mode = "remote"
	ModeHeuristic Mode = "heuristic"
	ModeOff       Mode = "off"
)

// ParseMode accepts the VALIDATOR_MODE values.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeRemote, ModeHeuristic, ModeOff:
		return m, nil
	case "":
		return ModeHeuristic, nil
	}
	return "", fmt.Errorf("unknown validator mode %q (want remote, heuristic or off)", s)
}

// Upload is the raw file plus its decoded image.
type Upload struct {
	Name  string
	Data  []byte
	Image image.Image
}

// Verdict is the outcome of a plausibility check. Reason carries the
// failed check when there is one.
type Verdict struct {
	Valid   bool   `json:"is_valid_mri"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Validator never fails: errors become invalid verdicts.
type Validator interface {
	Validate(ctx context.Context, upload Upload) Verdict
}

func errorVerdict(err error) Verdict {
	return Verdict{Valid: false, Message: fmt.Sprintf("Error validating image: %v", err)}
}

// Disabled accepts everything.
type Disabled struct{}

func (Disabled) Validate(context.Context, Upload) Verdict {
	return Verdict{Valid: true, Message: MessageValid}
}
