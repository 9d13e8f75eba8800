package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// querier is satisfied by *Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const poolColumns = `
	pool_id::text, reward_rate::text, lock_period,
	total_staked::text, total_rewards::text, rewards_funded::text,
	authority, token_mint, address, bump, created_at
`

const positionColumns = `
	pool_id::text, user_key, amount::text, stake_time,
	rewards_claimed::text, total_claimed::text, address, updated_at
`

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Update locks the pool row, so transitions within a pool are serialized.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// InsertPool adds a new pool. Returns ErrDuplicateKey if pool_id or address exists.
func (s *LedgerStore) InsertPool(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.LockPeriod < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (
			pool_id, reward_rate, lock_period, total_staked, total_rewards, rewards_funded,
			authority, token_mint, address, bump, created_at
		) VALUES (
			$1::numeric, $2::numeric, $3, $4::numeric, $5::numeric, $6::numeric,
			$7, $8, $9, $10, $11
		)
	`

	_, err := s.pool.Exec(ctx, query,
		u64(p.PoolID),
		u64(p.RewardRate),
		p.LockPeriod,
		u64(p.TotalStaked),
		u64(p.TotalRewards),
		u64(p.RewardsFunded),
		p.Authority.String(),
		p.TokenMint.String(),
		p.Address.String(),
		int16(p.Bump),
		p.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// GetPool retrieves a pool. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPool(ctx context.Context, poolID uint64) (*domain.Pool, error) {
	return getPool(ctx, s.pool, poolID, false)
}

// ListPools retrieves all pools ordered by pool_id ASC.
func (s *LedgerStore) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY pool_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []*domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}
	return pools, nil
}

// GetPosition retrieves a position. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPosition(ctx context.Context, poolID uint64, user domain.Pubkey) (*domain.Position, error) {
	return getPosition(ctx, s.pool, domain.PositionKey{PoolID: poolID, User: user})
}

// ListPositions retrieves all positions of a pool ordered by user ASC.
func (s *LedgerStore) ListPositions(ctx context.Context, poolID uint64) ([]*domain.Position, error) {
	return listPositions(ctx, s.pool, poolID)
}

// Snapshot reads a pool and its positions in one repeatable-read transaction.
func (s *LedgerStore) Snapshot(ctx context.Context, poolID uint64) (*domain.Pool, []*domain.Position, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := getPool(ctx, tx, poolID, false)
	if err != nil {
		return nil, nil, err
	}
	positions, err := listPositions(ctx, tx, poolID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}
	return p, positions, nil
}

// Update runs fn inside a transaction holding the pool row lock and commits its transition.
// The effect runs before COMMIT; if COMMIT then fails the error wraps ErrCommitAfterEffect.
func (s *LedgerStore) Update(ctx context.Context, key domain.PositionKey, fn storage.UpdateFunc) (*domain.Pool, *domain.Position, error) {
	if fn == nil {
		return nil, nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := getPool(ctx, tx, key.PoolID, true)
	if err != nil {
		return nil, nil, err
	}

	pos, err := getPosition(ctx, tx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	var arg *domain.Position
	if pos != nil {
		copy := *pos
		arg = &copy
	}

	tr, err := fn(*current, arg)
	if err != nil {
		return nil, nil, err
	}
	if tr == nil {
		return current, pos, nil
	}

	staged := *current
	if err := staged.Apply(tr.Delta); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", storage.ErrConstraint, err)
	}

	if !tr.Delta.IsZero() {
		if err := updatePoolCounters(ctx, tx, &staged); err != nil {
			return nil, nil, err
		}
	}

	if tr.Position != nil {
		next := *tr.Position
		next.PoolID, next.User = key.PoolID, key.User
		if err := upsertPosition(ctx, tx, &next); err != nil {
			return nil, nil, err
		}
		pos = &next
	}

	if tr.Effect != nil {
		if err := tr.Effect(ctx); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if tr.Effect != nil {
			return nil, nil, fmt.Errorf("%w: %w", storage.ErrCommitAfterEffect, err)
		}
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}

	if pos != nil {
		out := *pos
		pos = &out
	}
	return &staged, pos, nil
}

func getPool(ctx context.Context, q querier, poolID uint64, forUpdate bool) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE pool_id = $1::numeric`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p, err := scanPool(q.QueryRow(ctx, query, u64(poolID)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by id: %w", err)
	}
	return p, nil
}

func updatePoolCounters(ctx context.Context, q querier, p *domain.Pool) error {
	query := `
		UPDATE pools
		SET total_staked = $2::numeric, total_rewards = $3::numeric, rewards_funded = $4::numeric
		WHERE pool_id = $1::numeric
	`

	_, err := q.Exec(ctx, query,
		u64(p.PoolID),
		u64(p.TotalStaked),
		u64(p.TotalRewards),
		u64(p.RewardsFunded),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %w", storage.ErrConstraint, err)
		}
		return fmt.Errorf("update pool counters: %w", err)
	}
	return nil
}

func getPosition(ctx context.Context, q querier, key domain.PositionKey) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE pool_id = $1::numeric AND user_key = $2`

	pos, err := scanPosition(q.QueryRow(ctx, query, u64(key.PoolID), key.User.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return pos, nil
}

func listPositions(ctx context.Context, q querier, poolID uint64) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE pool_id = $1::numeric
		ORDER BY user_key COLLATE "C" ASC
	`

	rows, err := q.Query(ctx, query, u64(poolID))
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

func upsertPosition(ctx context.Context, q querier, pos *domain.Position) error {
	query := `
		INSERT INTO positions (
			pool_id, user_key, amount, stake_time, rewards_claimed, total_claimed, address, updated_at
		) VALUES ($1::numeric, $2, $3::numeric, $4, $5::numeric, $6::numeric, $7, $8)
		ON CONFLICT (pool_id, user_key) DO UPDATE SET
			amount = EXCLUDED.amount,
			stake_time = EXCLUDED.stake_time,
			rewards_claimed = EXCLUDED.rewards_claimed,
			total_claimed = EXCLUDED.total_claimed,
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at
	`

	_, err := q.Exec(ctx, query,
		u64(pos.PoolID),
		pos.User.String(),
		u64(pos.Amount),
		pos.StakeTime,
		u64(pos.RewardsClaimed),
		u64(pos.TotalClaimed),
		pos.Address.String(),
		pos.UpdatedAt,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %w", storage.ErrConstraint, err)
		}
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// scanPool scans a single row into a Pool.
func scanPool(row pgx.Row) (*domain.Pool, error) {
	var (
		p                                  domain.Pool
		poolID, rate, staked, paid, funded string
		authority, mint, address           string
		bump                               int16
	)

	err := row.Scan(
		&poolID, &rate, &p.LockPeriod,
		&staked, &paid, &funded,
		&authority, &mint, &address, &bump, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var d decoder
	p.PoolID = d.u64("pool_id", poolID)
	p.RewardRate = d.u64("reward_rate", rate)
	p.TotalStaked = d.u64("total_staked", staked)
	p.TotalRewards = d.u64("total_rewards", paid)
	p.RewardsFunded = d.u64("rewards_funded", funded)
	p.Authority = d.pubkey("authority", authority)
	p.TokenMint = d.pubkey("token_mint", mint)
	p.Address = d.pubkey("address", address)
	p.Bump = uint8(bump)
	if d.err != nil {
		return nil, d.err
	}
	return &p, nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		pos                            domain.Position
		poolID, user, amount           string
		claimed, totalClaimed, address string
	)

	err := row.Scan(
		&poolID, &user, &amount, &pos.StakeTime,
		&claimed, &totalClaimed, &address, &pos.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var d decoder
	pos.PoolID = d.u64("pool_id", poolID)
	pos.User = d.pubkey("user_key", user)
	pos.Amount = d.u64("amount", amount)
	pos.RewardsClaimed = d.u64("rewards_claimed", claimed)
	pos.TotalClaimed = d.u64("total_claimed", totalClaimed)
	pos.Address = d.pubkey("address", address)
	if d.err != nil {
		return nil, d.err
	}
	return &pos, nil
}

// decoder converts text columns, keeping the first error.
type decoder struct {
	err error
}

func (d *decoder) u64(column, s string) uint64 {
	if d.err != nil {
		return 0
	}
	v, err := parseU64(column, s)
	d.err = err
	return v
}

func (d *decoder) pubkey(column, s string) domain.Pubkey {
	if d.err != nil {
		return domain.ZeroPubkey
	}
	k, err := domain.ParsePubkey(s)
	if err != nil {
		d.err = fmt.Errorf("decode %s: %w", column, err)
	}
	return k
}
