package memory

import (
	"context"
	"sort"
	"sync"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEvent // keyed by event_id
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.LedgerEvent),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Insert(_ context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.EventID == "" || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[e.EventID] = &copy
	return nil
}

// GetByPool retrieves all events of a pool, ordered by (timestamp, seq) ASC.
func (s *EventStore) GetByPool(_ context.Context, poolID uint64) ([]*domain.LedgerEvent, error) {
	return s.filter(func(e *domain.LedgerEvent) bool {
		return e.PoolID == poolID
	}), nil
}

// GetByUser retrieves a user's events in a pool, ordered by (timestamp, seq) ASC.
func (s *EventStore) GetByUser(_ context.Context, poolID uint64, user domain.Pubkey) ([]*domain.LedgerEvent, error) {
	return s.filter(func(e *domain.LedgerEvent) bool {
		return e.PoolID == poolID && e.User == user
	}), nil
}

func (s *EventStore) filter(match func(*domain.LedgerEvent) bool) []*domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if match(e) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].Seq < result[j].Seq
	})
	return result
}

var _ storage.EventStore = (*EventStore)(nil)
