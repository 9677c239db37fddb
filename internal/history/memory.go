package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and as a seed source.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []OutcomeRow

	// FailSegments makes QuerySegment fail for the listed segments, to
	// exercise cold-segment failure paths in tests.
	FailSegments map[Segment]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) QuerySegment(ctx context.Context, seg Segment, since time.Time) ([]OutcomeRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.FailSegments[seg]; ok {
		return nil, err
	}
	var out []OutcomeRow
	for _, r := range s.rows {
		if r.CurrencyID == seg.CurrencyID && r.PaymentMethodID == seg.PaymentMethodID && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) QueryAll(ctx context.Context, since time.Time) ([]OutcomeRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OutcomeRow
	for _, r := range s.rows {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, rows ...OutcomeRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

func (*MemoryStore) Close() error { return nil }
