package validator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/mri-gradcam-go/internal/logger"
)

// RemoteValidator asks a hosted detection model. Any detection counts as
// a scan.
type RemoteValidator struct {
	client  *resty.Client
	modelID string
	apiKey  string
}

type detectionResponse struct {
	Predictions []struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

// NewRemoteValidator posts uploads to baseURL/modelID.
func NewRemoteValidator(baseURL, modelID, apiKey string, timeout time.Duration) *RemoteValidator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetHostURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1)
	return &RemoteValidator{client: client, modelID: strings.Trim(modelID, "/"), apiKey: apiKey}
}

func (v *RemoteValidator) Validate(ctx context.Context, upload Upload) Verdict {
	if len(upload.Data) == 0 {
		return errorVerdict(fmt.Errorf("empty upload"))
	}

	var result detectionResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetQueryParam("api_key", v.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(base64.StdEncoding.EncodeToString(upload.Data)).
		SetResult(&result).
		Post("/" + v.modelID)
	if err != nil {
		logger.WithError(err).Warn("Remote MRI validation failed")
		return errorVerdict(err)
	}
	if resp.IsError() {
		err := fmt.Errorf("validator returned %s", resp.Status())
		logger.WithError(err).Warn("Remote MRI validation failed")
		return errorVerdict(err)
	}

	logger.WithFields(logrus.Fields{
		"file":        upload.Name,
		"detections":  len(result.Predictions),
		"duration_ms": resp.Time().Milliseconds(),
	}).Debug("Remote MRI validation finished")

	if len(result.Predictions) > 0 {
		return Verdict{Valid: true, Message: MessageValid}
	}
	return Verdict{Valid: false, Message: MessageNotMRI}
}
