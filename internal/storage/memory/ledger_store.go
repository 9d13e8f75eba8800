package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// poolEntry holds one pool's counters.
// Every write to the pool or to one of its positions happens under mu.
type poolEntry struct {
	mu   sync.Mutex
	pool domain.Pool
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// Updates within a pool are serialized on the pool entry. Lock order: poolEntry.mu, then s.mu.
type LedgerStore struct {
	mu        sync.RWMutex // guards the maps
	pools     map[uint64]*poolEntry
	positions map[domain.PositionKey]*domain.Position
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		pools:     make(map[uint64]*poolEntry),
		positions: make(map[domain.PositionKey]*domain.Position),
	}
}

// InsertPool adds a new pool. Returns ErrDuplicateKey if pool_id exists.
func (s *LedgerStore) InsertPool(_ context.Context, p *domain.Pool) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[p.PoolID]; exists {
		return storage.ErrDuplicateKey
	}
	s.pools[p.PoolID] = &poolEntry{pool: *p}
	return nil
}

// GetPool retrieves a pool. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPool(_ context.Context, poolID uint64) (*domain.Pool, error) {
	entry := s.entry(poolID)
	if entry == nil {
		return nil, storage.ErrNotFound
	}

	entry.mu.Lock()
	p := entry.pool
	entry.mu.Unlock()
	return &p, nil
}

// ListPools retrieves all pools ordered by pool_id ASC.
func (s *LedgerStore) ListPools(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	entries := make([]*poolEntry, 0, len(s.pools))
	for _, e := range s.pools {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make([]*domain.Pool, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		p := e.pool
		e.mu.Unlock()
		result = append(result, &p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PoolID < result[j].PoolID
	})
	return result, nil
}

// GetPosition retrieves a position. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPosition(_ context.Context, poolID uint64, user domain.Pubkey) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[domain.PositionKey{PoolID: poolID, User: user}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *pos
	return &copy, nil
}

// ListPositions retrieves all positions of a pool ordered by user ASC.
func (s *LedgerStore) ListPositions(_ context.Context, poolID uint64) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.positionsOf(poolID), nil
}

// Snapshot returns a pool and its positions under the pool lock.
func (s *LedgerStore) Snapshot(_ context.Context, poolID uint64) (*domain.Pool, []*domain.Position, error) {
	entry := s.entry(poolID)
	if entry == nil {
		return nil, nil, storage.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.RLock()
	positions := s.positionsOf(poolID)
	s.mu.RUnlock()

	p := entry.pool
	return &p, positions, nil
}

// Update runs fn with exclusive access to the pool and commits its transition.
func (s *LedgerStore) Update(ctx context.Context, key domain.PositionKey, fn storage.UpdateFunc) (*domain.Pool, *domain.Position, error) {
	if fn == nil {
		return nil, nil, storage.ErrInvalidInput
	}

	entry := s.entry(key.PoolID)
	if entry == nil {
		return nil, nil, storage.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	pool := entry.pool
	pos := s.position(key)

	tr, err := fn(pool, clonePosition(pos))
	if err != nil {
		return nil, nil, err
	}
	if tr == nil {
		return &pool, pos, nil
	}

	staged := entry.pool
	if err := staged.Apply(tr.Delta); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", storage.ErrConstraint, err)
	}

	if tr.Effect != nil {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := tr.Effect(ctx); err != nil {
			return nil, nil, err
		}
	}

	entry.pool = staged
	if tr.Position != nil {
		copy := *tr.Position
		copy.PoolID, copy.User = key.PoolID, key.User
		s.mu.Lock()
		s.positions[key] = &copy
		s.mu.Unlock()
		pos = &copy
	}

	committed := staged
	if pos != nil {
		out := *pos
		pos = &out
	}
	return &committed, pos, nil
}

func (s *LedgerStore) entry(poolID uint64) *poolEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[poolID]
}

func (s *LedgerStore) position(key domain.PositionKey) *domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePosition(s.positions[key])
}

func clonePosition(pos *domain.Position) *domain.Position {
	if pos == nil {
		return nil
	}
	copy := *pos
	return &copy
}

// positionsOf must be called with s.mu held.
func (s *LedgerStore) positionsOf(poolID uint64) []*domain.Position {
	var result []*domain.Position
	for k, pos := range s.positions {
		if k.PoolID == poolID {
			copy := *pos
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].User.String() < result[j].User.String()
	})
	return result
}

var _ storage.LedgerStore = (*LedgerStore)(nil)
