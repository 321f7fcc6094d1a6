package storage

import (
	"context"
	"sync"

	"github.com/loopwork/factotum/pkg/models"
)

// MemoryStore is an in-memory transcript store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*models.TranscriptRecord
	cap     int
}

// NewMemoryStore creates an in-memory store keeping at most cap records per
// chat. cap <= 0 means unbounded.
func NewMemoryStore(cap int) *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*models.TranscriptRecord),
		cap:     cap,
	}
}

// Append implements TranscriptStore.
func (s *MemoryStore) Append(_ context.Context, chatID string, rec *models.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	recs := append(s.records[chatID], &cp)
	if s.cap > 0 && len(recs) > s.cap {
		recs = recs[len(recs)-s.cap:]
	}
	s.records[chatID] = recs
	return nil
}

// Recent implements TranscriptStore.
func (s *MemoryStore) Recent(_ context.Context, chatID string, limit int) ([]*models.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[chatID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]*models.TranscriptRecord, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// Close implements TranscriptStore.
func (s *MemoryStore) Close() error {
	return nil
}
