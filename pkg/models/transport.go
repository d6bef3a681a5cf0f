package models

import "time"

// ErrorResponse represents an error response. HeatmapURL is set by the
// subclass endpoint, which stores a placeholder heatmap even on failure.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Details    string `json:"details,omitempty"`
	HeatmapURL string `json:"heatmap_url,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status              string `json:"status"`
	Model               string `json:"model"`
	XAI                 string `json:"xai"`
	SubclassModelLoaded bool   `json:"subclass_model_loaded"`
	Validator           string `json:"validator"`
}

// ReadinessResponse is returned by GET /readyz
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// BinaryPredictionResponse is returned by POST /predict
type BinaryPredictionResponse struct {
	Success              bool    `json:"success"`
	Prediction           string  `json:"prediction"`
	Confidence           float64 `json:"confidence"`
	RawScore             float64 `json:"raw_score"`
	IsValidMRI           bool    `json:"is_valid_mri"`
	ValidationMessage    string  `json:"validation_message,omitempty"`
	GradCAMVisualization string  `json:"gradcam_visualization"`
	GradCAMSource        string  `json:"gradcam_source"`
	GradCAMLayer         string  `json:"gradcam_layer,omitempty"`
	GradCAMError         string  `json:"gradcam_error,omitempty"`
	ProcessingTimeSec    float64 `json:"processing_time_sec"`
}

// ExplanationAttempt records one failed rung of the fallback ladder
type ExplanationAttempt struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// GradCAMResponse is returned by POST /gradcam
type GradCAMResponse struct {
	Success              bool                 `json:"success"`
	GradCAMVisualization string               `json:"gradcam_visualization"`
	GradCAMSource        string               `json:"gradcam_source"`
	GradCAMLayer         string               `json:"gradcam_layer,omitempty"`
	ClassIndex           int                  `json:"class_index"`
	Attempts             []ExplanationAttempt `json:"attempts,omitempty"`
	GradCAMError         string               `json:"gradcam_error,omitempty"`
	ProcessingTimeSec    float64              `json:"processing_time_sec"`
}

// SubclassPredictionResponse is returned by POST /subclass_predict
type SubclassPredictionResponse struct {
	Success            bool               `json:"success"`
	Prediction         string             `json:"prediction"`
	Confidence         float64            `json:"confidence"`
	ClassProbabilities map[string]float64 `json:"class_probabilities"`
	HeatmapURL         string             `json:"heatmap_url"`
	HeatmapID          string             `json:"heatmap_id,omitempty"`
	GradCAMSource      string             `json:"gradcam_source"`
	GradCAMLayer       string             `json:"gradcam_layer,omitempty"`
	ProcessingTimeSec  float64            `json:"processing_time_sec"`
}

// LayerNode is one entry of an introspected layer tree
type LayerNode struct {
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	OutputShape []int       `json:"output_shape,omitempty"`
	Children    []LayerNode `json:"children,omitempty"`
}

// ModelLayers describes one loaded model for GET /models/layers
type ModelLayers struct {
	Pipeline    string      `json:"pipeline"`
	Name        string      `json:"name"`
	Source      string      `json:"source"`
	LoadedAt    time.Time   `json:"loaded_at"`
	Classes     []string    `json:"classes"`
	Layers      []LayerNode `json:"layers"`
	TargetLayer string      `json:"target_layer,omitempty"`
	TargetFound bool        `json:"target_found"`
	Strategies  []string    `json:"strategies"`
}

// LayersResponse is returned by GET /models/layers
type LayersResponse struct {
	Success bool          `json:"success"`
	Models  []ModelLayers `json:"models"`
}

// HistoryEntry is one stored prediction
type HistoryEntry struct {
	ID                 int64              `json:"id"`
	Pipeline           string             `json:"pipeline"`
	Prediction         string             `json:"prediction"`
	Confidence         float64            `json:"confidence"`
	RawScore           *float64           `json:"raw_score,omitempty"`
	ClassProbabilities map[string]float64 `json:"class_probabilities,omitempty"`
	ExplanationSource  string             `json:"explanation_source,omitempty"`
	HeatmapURL         string             `json:"heatmap_url,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// HistoryResponse is returned by GET /history
type HistoryResponse struct {
	Success     bool           `json:"success"`
	Predictions []HistoryEntry `json:"predictions"`
}
