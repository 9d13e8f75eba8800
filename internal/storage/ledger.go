package storage

import (
	"context"

	"staking-ledger/internal/domain"
)

// Transition is the outcome of an UpdateFunc: the new position record, the pool counter
// changes, and the external side effect that must succeed for the transition to commit.
type Transition struct {
	// Position replaces the stored record. Nil leaves the position untouched.
	Position *domain.Position

	// Delta is applied to the pool counters with checked arithmetic.
	Delta domain.PoolDelta

	// Effect runs after the transition is staged and before it is committed.
	// A non-nil error aborts the transition.
	Effect func(ctx context.Context) error
}

// UpdateFunc computes a transition from the current pool and position.
// pos is nil when no record exists for the key. Returning a nil Transition commits nothing.
type UpdateFunc func(pool domain.Pool, pos *domain.Position) (*Transition, error)

// LedgerStore persists pools and positions.
type LedgerStore interface {
	// InsertPool adds a new pool. Returns ErrDuplicateKey if pool_id exists.
	InsertPool(ctx context.Context, p *domain.Pool) error

	// GetPool retrieves a pool. Returns ErrNotFound if not exists.
	GetPool(ctx context.Context, poolID uint64) (*domain.Pool, error)

	// ListPools retrieves all pools ordered by pool_id ASC.
	ListPools(ctx context.Context) ([]*domain.Pool, error)

	// GetPosition retrieves a position. Returns ErrNotFound if not exists.
	GetPosition(ctx context.Context, poolID uint64, user domain.Pubkey) (*domain.Position, error)

	// ListPositions retrieves all positions of a pool ordered by user ASC.
	ListPositions(ctx context.Context, poolID uint64) ([]*domain.Position, error)

	// Snapshot returns a pool and all its positions as of a single point in time.
	Snapshot(ctx context.Context, poolID uint64) (*domain.Pool, []*domain.Position, error)

	// Update runs fn with exclusive access to the pool and the position at key and commits the returned
	// transition atomically: position write, pool counter delta and effect all happen or none do.
	// Returns ErrNotFound if the pool does not exist and ErrConstraint wrapping the domain
	// counter error if the delta breaks a counter bound. Returns the committed pool and position (position nil if none exists).
	Update(ctx context.Context, key domain.PositionKey, fn UpdateFunc) (*domain.Pool, *domain.Position, error)
}

// EventStore provides access to the append-only ledger event journal.
type EventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.LedgerEvent) error

	// GetByPool retrieves all events of a pool, ordered by (timestamp, seq) ASC.
	GetByPool(ctx context.Context, poolID uint64) ([]*domain.LedgerEvent, error)

	// GetByUser retrieves a user's events in a pool, ordered by (timestamp, seq) ASC.
	GetByUser(ctx context.Context, poolID uint64, user domain.Pubkey) ([]*domain.LedgerEvent, error)
}
