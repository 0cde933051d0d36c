package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemorySink keeps alerts in memory. Suitable for development and tests.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		records: make([]Record, 0),
		byID:    make(map[string]int),
	}
}

// Create stores the record under a new id.
func (s *MemorySink) Create(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rec.ID = uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// Get returns the record with the given id.
func (s *MemorySink) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.records[i], nil
}

// Query returns matching records, newest first.
func (s *MemorySink) Query(ctx context.Context, opts QueryOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Record, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if opts.match(s.records[i]) {
			results = append(results, s.records[i])
		}
	}
	return opts.page(results), nil
}

// Len returns the number of stored records.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *MemorySink) Close() error {
	return nil
}
