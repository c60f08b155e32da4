package timeline

import (
	"context"
	"sync"

	"github.com/devrev/tableview/internal/model"
)

// MemoryStore keeps instant records in memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.Instant][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.Instant][]byte)}
}

func (s *MemoryStore) ListInstants(ctx context.Context) ([]model.Instant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.Instant, 0, len(s.records))
	for inst := range s.records {
		records = append(records, inst)
	}
	return latestStates(records), nil
}

func (s *MemoryStore) ReadPayload(ctx context.Context, instant model.Instant) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.records[instant]
	if !ok {
		return nil, ErrInstantNotFound
	}
	return append([]byte(nil), payload...), nil
}

func (s *MemoryStore) WritePayload(ctx context.Context, instant model.Instant, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[instant] = append([]byte(nil), payload...)
	return nil
}

func (s *MemoryStore) DeleteState(ctx context.Context, instant model.Instant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, instant)
	return nil
}

func (s *MemoryStore) DeleteInstant(ctx context.Context, key model.InstantKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for inst := range s.records {
		if inst.Key() == key {
			delete(s.records, inst)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
