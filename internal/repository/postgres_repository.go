package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createPredictionsTable = `
CREATE TABLE IF NOT EXISTS predictions (
	id                 BIGSERIAL PRIMARY KEY,
	pipeline           TEXT NOT NULL,
	label              TEXT NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	raw_score          DOUBLE PRECISION,
	probabilities      JSONB,
	explanation_source TEXT NOT NULL DEFAULT '',
	artifact_id        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresRepository stores predictions in the predictions table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Connect opens a pool, pings it and makes sure the table exists.
func Connect(ctx context.Context, url string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := pool.Exec(ctx, createPredictionsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create predictions table: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (p *PostgresRepository) Save(ctx context.Context, record *PredictionRecord) error {
	if err := record.validate(); err != nil {
		return err
	}

	var probabilities any
	if len(record.Probabilities) > 0 {
		probabilities = record.Probabilities
	}

	err := p.pool.QueryRow(ctx, `
		INSERT INTO predictions (pipeline, label, confidence, raw_score, probabilities, explanation_source, artifact_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		string(record.Pipeline), record.Label, record.Confidence, record.RawScore,
		probabilities, record.ExplanationSource, record.ArtifactID,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (p *PostgresRepository) Recent(ctx context.Context, limit int) ([]PredictionRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, pipeline, label, confidence, raw_score, probabilities, explanation_source, artifact_id, created_at
		FROM predictions
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []PredictionRecord
	for rows.Next() {
		var r PredictionRecord
		var pipeline string
		if err := rows.Scan(&r.ID, &pipeline, &r.Label, &r.Confidence, &r.RawScore,
			&r.Probabilities, &r.ExplanationSource, &r.ArtifactID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		r.Pipeline = Pipeline(pipeline)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	return out, nil
}

func (p *PostgresRepository) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return nil
}

func (p *PostgresRepository) Close() {
	p.pool.Close()
}
