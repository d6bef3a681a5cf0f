package repository

import (
	"context"
	"time"
)

// Pipeline names the classifier that produced a prediction.
type Pipeline string

const (
	PipelineBinary   Pipeline = "binary"
	PipelineSubclass Pipeline = "subclass"
)

// DefaultHistoryLimit and MaxHistoryLimit bound Recent queries.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// PredictionRepository stores prediction history for the frontend.
type PredictionRepository interface {
	// Save stores a record and fills in its ID and CreatedAt.
	Save(ctx context.Context, record *PredictionRecord) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]PredictionRecord, error)

	Ping(ctx context.Context) error
	Close()
}

// PredictionRecord is one stored prediction.
type PredictionRecord struct {
	ID                int64              `json:"id"`
	Pipeline          Pipeline           `json:"pipeline"`
	Label             string             `json:"label"`
	Confidence        float64            `json:"confidence"`
	RawScore          *float64           `json:"raw_score,omitempty"`
	Probabilities     map[string]float64 `json:"class_probabilities,omitempty"`
	ExplanationSource string             `json:"explanation_source,omitempty"`
	ArtifactID        string             `json:"artifact_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

func (r *PredictionRecord) validate() error {
	if r == nil || r.Label == "" {
		return ErrInvalidRecord
	}
	switch r.Pipeline {
	case PipelineBinary, PipelineSubclass:
		return nil
	}
	return ErrInvalidRecord
}

// ClampLimit maps a requested limit into [1, MaxHistoryLimit], using the
// default for non-positive values.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
