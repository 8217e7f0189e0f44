package memory

import (
	"context"
	"sync"

	"edurag/internal/domain"
	"edurag/internal/vectorstore"
)

// Storage is an in-memory index using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]domain.IndexEntry
}

var _ vectorstore.Index = (*Storage)(nil)

// NewStorage creates an empty index. dimension <= 0 adopts the width of the first write.
func NewStorage(dimension int) *Storage {
	return &Storage{dimension: dimension, entries: make(map[string]domain.IndexEntry)}
}

func (s *Storage) Add(_ context.Context, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := vectorstore.Validate(entries, s.dimension); err != nil {
		return err
	}
	if s.dimension <= 0 {
		s.dimension = len(entries[0].Vector)
	}
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		s.entries[e.ID] = e
	}
	return nil
}

func (s *Storage) Query(_ context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]domain.RetrievalResult, 0, len(s.entries))
	for _, e := range s.entries {
		if !filter.Matches(e.Chunk.Metadata()) {
			continue
		}
		results = append(results, domain.RetrievalResult{
			Chunk:      e.Chunk,
			Similarity: vectorstore.Clamp(vectorstore.Cosine(vector, e.Vector)),
		})
	}
	return vectorstore.Rank(results, k), nil
}

func (s *Storage) Delete(_ context.Context, filter domain.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if filter.Matches(e.Chunk.Metadata()) {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *Storage) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *Storage) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.IndexEntry)
	return nil
}

func (s *Storage) Close() error { return nil }
