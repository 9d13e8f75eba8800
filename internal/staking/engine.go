// Package staking implements the staking ledger: pools, positions, and the
// stake, claim and unstake transitions that move tokens between users and pool vaults.
package staking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/idhash"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/pda"
	"staking-ledger/internal/storage"
)

// Publisher receives committed ledger events. Publish must not block.
type Publisher interface {
	Publish(e *domain.LedgerEvent)
}

// Options for creating Engine.
type Options struct {
	// ProgramID is the address pool and position addresses are derived from.
	ProgramID domain.Pubkey

	// Required collaborators
	Ledger  storage.LedgerStore
	Custody custody.Transferer

	// Optional event journal and live feed
	Events    storage.EventStore
	Publisher Publisher

	Logger *log.Logger
	Clock  func() time.Time
}

// Engine executes ledger operations.
// All mutations go through LedgerStore.Update, which serializes transitions per pool.
type Engine struct {
	programID domain.Pubkey
	ledger    storage.LedgerStore
	custody   custody.Transferer
	events    storage.EventStore
	publisher Publisher
	logger    *log.Logger
	clock     func() time.Time

	seq atomic.Uint64
}

// New creates a new Engine.
func New(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("staking: ledger store is required")
	}
	if opts.Custody == nil {
		return nil, errors.New("staking: custody transferer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		programID: opts.ProgramID,
		ledger:    opts.Ledger,
		custody:   opts.Custody,
		events:    opts.Events,
		publisher: opts.Publisher,
		logger:    logger,
		clock:     clock,
	}, nil
}

// WithClock sets a custom clock function for deterministic timestamps.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ProgramID returns the address pools are derived from.
func (e *Engine) ProgramID() domain.Pubkey {
	return e.programID
}

func (e *Engine) now() int64 {
	return e.clock().Unix()
}

// CreatePoolRequest holds the parameters of a new pool.
type CreatePoolRequest struct {
	PoolID     uint64
	RewardRate uint64 // annual, fixed-point x1e6
	LockPeriod int64  // seconds
	TokenMint  domain.Pubkey
	Authority  domain.Pubkey
}

// CreatePool creates a pool with zeroed counters. An existing pool is never overwritten.
func (e *Engine) CreatePool(ctx context.Context, req CreatePoolRequest) (pool *domain.Pool, err error) {
	defer e.observe("create_pool", time.Now(), &err)

	if req.LockPeriod < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLockPeriod, req.LockPeriod)
	}

	addr, bump, err := pda.PoolAddress(e.programID, req.PoolID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}

	now := e.now()
	pool = &domain.Pool{
		PoolID:     req.PoolID,
		RewardRate: req.RewardRate,
		LockPeriod: req.LockPeriod,
		Authority:  req.Authority,
		TokenMint:  req.TokenMint,
		Address:    addr,
		Bump:       bump,
		CreatedAt:  now,
	}

	if err := e.ledger.InsertPool(ctx, pool); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %d", ErrPoolAlreadyExists, req.PoolID)
		}
		return nil, fmt.Errorf("insert pool: %w", err)
	}

	e.logger.Printf("created pool %d rate=%d lock=%ds mint=%s address=%s",
		pool.PoolID, pool.RewardRate, pool.LockPeriod, pool.TokenMint, pool.Address)
	e.committed(ctx, pool, domain.LedgerEvent{
		Kind:   domain.EventCreatePool,
		PoolID: pool.PoolID,
		User:   req.Authority,
	}, now)

	return pool, nil
}

// GetPool returns a pool by id.
func (e *Engine) GetPool(ctx context.Context, poolID uint64) (*domain.Pool, error) {
	pool, err := e.ledger.GetPool(ctx, poolID)
	if err != nil {
		return nil, e.ledgerError(poolID, err)
	}
	return pool, nil
}

// ListPools returns all pools ordered by id.
func (e *Engine) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	pools, err := e.ledger.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	return pools, nil
}

// GetPosition returns a user's position record, dormant or active.
func (e *Engine) GetPosition(ctx context.Context, poolID uint64, user domain.Pubkey) (*domain.Position, error) {
	if _, err := e.GetPool(ctx, poolID); err != nil {
		return nil, err
	}

	pos, err := e.ledger.GetPosition(ctx, poolID, user)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: pool %d user %s", ErrPositionNotFound, poolID, user)
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return pos, nil
}

// ListPositions returns all position records of a pool.
func (e *Engine) ListPositions(ctx context.Context, poolID uint64) ([]*domain.Position, error) {
	if _, err := e.GetPool(ctx, poolID); err != nil {
		return nil, err
	}

	positions, err := e.ledger.ListPositions(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return positions, nil
}

// ledgerError maps a storage error from a pool-scoped call.
func (e *Engine) ledgerError(poolID uint64, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %d", ErrPoolNotFound, poolID)
	case errors.Is(err, storage.ErrConstraint):
		return e.invariant("counter_bound", err)
	default:
		return err
	}
}

// invariant logs and counts a bookkeeping defect and wraps it.
func (e *Engine) invariant(kind string, err error) error {
	observability.RecordInvariantViolation(kind)
	e.logger.Printf("ERROR invariant violation (%s): %v", kind, err)
	return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
}

// committed journals and publishes an event for a committed transition.
func (e *Engine) committed(ctx context.Context, pool *domain.Pool, ev domain.LedgerEvent, now int64) {
	observability.UpdatePool(pool.PoolID, pool.TotalStaked, pool.TotalRewards, pool.RewardReserve(), now)

	ev.Seq = e.seq.Add(1)
	ev.TotalStaked = pool.TotalStaked
	ev.Timestamp = now
	idAmount := ev.Amount
	if idAmount == 0 {
		idAmount = ev.Rewards
	}
	ev.EventID = idhash.ComputeEventID(ev.Kind, ev.PoolID, ev.User, idAmount, ev.Timestamp, ev.Seq)

	if e.events != nil {
		// The transition is committed; the journal write must not observe the caller's cancellation.
		if err := e.events.Insert(context.WithoutCancel(ctx), &ev); err != nil {
			observability.RecordJournalError()
			e.logger.Printf("ERROR journal %s event %s: %v", ev.Kind, ev.EventID, err)
		}
	}
	if e.publisher != nil {
		e.publisher.Publish(&ev)
	}
}

// observe records the outcome and latency of an operation.
func (e *Engine) observe(op string, start time.Time, err *error) {
	observability.RecordOperation(op, outcome(*err), time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case IsRejection(err):
		return "rejected"
	default:
		return "error"
	}
}
