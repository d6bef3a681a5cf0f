package validation

import (
	"net/url"
	"path"
	"strings"

	apperrors "github.com/anime-shed/mri-gradcam-go/internal/errors"
)

// ModelExtensions lists the artifact types the model loader understands.
var ModelExtensions = []string{".json", ".onnx"}

// URLValidator checks remote endpoints: model artifact URLs and the
// plausibility service base URL.
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator creates a new URL validator with default settings
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateURL validates scheme and host of an endpoint URL.
func (v *URLValidator) ValidateURL(rawURL string) error {
	_, err := v.parse(rawURL)
	return err
}

// ValidateModelURL additionally requires the path to name a supported model
// artifact.
func (v *URLValidator) ValidateModelURL(rawURL string) error {
	parsedURL, err := v.parse(rawURL)
	if err != nil {
		return err
	}
	ext := strings.ToLower(path.Ext(parsedURL.Path))
	for _, allowed := range ModelExtensions {
		if ext == allowed {
			return nil
		}
	}
	return apperrors.NewValidationError("URL does not point to a supported model file", nil).
		WithDetails("supported: " + strings.Join(ModelExtensions, ", "))
}

func (v *URLValidator) parse(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, apperrors.NewValidationError("URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid URL format", err)
	}

	if !v.isSchemeAllowed(parsedURL.Scheme) {
		return nil, apperrors.NewValidationError("URL scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return nil, apperrors.NewValidationError("URL must have a valid host", nil)
	}

	if !v.isHostAllowed(parsedURL.Hostname()) {
		return nil, apperrors.NewValidationError("URL host not allowed", nil)
	}

	return parsedURL, nil
}

// isSchemeAllowed checks if the URL scheme is in the allowed list
func (v *URLValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isHostAllowed returns true when no host restrictions are set.
func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}
