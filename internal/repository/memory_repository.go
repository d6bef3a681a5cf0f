package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps the last capacity records in a ring.
type MemoryRepository struct {
	mu       sync.RWMutex
	records  []PredictionRecord
	next     int
	count    int
	sequence int64
	now      func() time.Time
}

// NewMemoryRepository creates a ring holding capacity records.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = MaxHistoryLimit
	}
	return &MemoryRepository{
		records: make([]PredictionRecord, capacity),
		now:     time.Now,
	}
}

func (m *MemoryRepository) Save(ctx context.Context, record *PredictionRecord) error {
	if err := record.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	record.ID = m.sequence
	record.CreatedAt = m.now().UTC()

	stored := *record
	if record.Probabilities != nil {
		stored.Probabilities = make(map[string]float64, len(record.Probabilities))
		for k, v := range record.Probabilities {
			stored.Probabilities[k] = v
		}
	}
	m.records[m.next] = stored
	m.next = (m.next + 1) % len(m.records)
	if m.count < len(m.records) {
		m.count++
	}
	return nil
}

func (m *MemoryRepository) Recent(ctx context.Context, limit int) ([]PredictionRecord, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit > m.count {
		limit = m.count
	}
	out := make([]PredictionRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.records)) % len(m.records)
		out = append(out, m.records[idx])
	}
	return out, nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryRepository) Close() {}
