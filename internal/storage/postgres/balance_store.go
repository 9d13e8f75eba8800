package postgres

import (
	"context"
	"fmt"
	"math/bits"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
)

// BalanceStore implements custody.Ledger using the token_balances table.
// Use a pool separate from the LedgerStore's: ledger transactions hold a
// connection while their transfer effect runs.
type BalanceStore struct {
	pool *Pool
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(pool *Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Compile-time interface check.
var _ custody.Ledger = (*BalanceStore)(nil)

// Transfer moves amount between accounts in one transaction.
// Rows are locked in (owner, mint) order so opposing transfers cannot deadlock.
func (s *BalanceStore) Transfer(ctx context.Context, from, to domain.TokenAccount, amount uint64, auth custody.Authority) error {
	if err := custody.Authorize(from, to, amount, auth); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ordered := []domain.TokenAccount{from, to}
	if accountLess(to, from) {
		ordered[0], ordered[1] = to, from
	}

	balances := make(map[domain.TokenAccount]uint64, 2)
	for _, acct := range ordered {
		if err := ensureBalanceRow(ctx, tx, acct); err != nil {
			return err
		}
		bal, err := lockBalance(ctx, tx, acct)
		if err != nil {
			return err
		}
		balances[acct] = bal
	}

	src := balances[from]
	if src < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", custody.ErrInsufficientFunds, from, src, amount)
	}
	if from == to {
		return nil
	}

	dst, carry := bits.Add64(balances[to], amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %s", custody.ErrBalanceOverflow, to)
	}

	if err := setBalance(ctx, tx, from, src-amount); err != nil {
		return err
	}
	if err := setBalance(ctx, tx, to, dst); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Balance returns the balance of acct, 0 if it was never funded.
func (s *BalanceStore) Balance(ctx context.Context, acct domain.TokenAccount) (uint64, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text FROM token_balances WHERE owner = $1 AND mint = $2`,
		acct.Owner.String(), acct.Mint.String(),
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return parseU64("amount", amount)
}

// Deposit credits acct from outside the ledger.
func (s *BalanceStore) Deposit(ctx context.Context, acct domain.TokenAccount, amount uint64) error {
	if amount == 0 {
		return custody.ErrInvalidAmount
	}

	query := `
		INSERT INTO token_balances (owner, mint, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (owner, mint) DO UPDATE SET
			amount = token_balances.amount + EXCLUDED.amount,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query, acct.Owner.String(), acct.Mint.String(), u64(amount))
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", custody.ErrBalanceOverflow, acct)
		}
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

func ensureBalanceRow(ctx context.Context, q querier, acct domain.TokenAccount) error {
	_, err := q.Exec(ctx,
		`INSERT INTO token_balances (owner, mint) VALUES ($1, $2) ON CONFLICT (owner, mint) DO NOTHING`,
		acct.Owner.String(), acct.Mint.String(),
	)
	if err != nil {
		return fmt.Errorf("ensure balance row: %w", err)
	}
	return nil
}

func lockBalance(ctx context.Context, q querier, acct domain.TokenAccount) (uint64, error) {
	var amount string
	err := q.QueryRow(ctx,
		`SELECT amount::text FROM token_balances WHERE owner = $1 AND mint = $2 FOR UPDATE`,
		acct.Owner.String(), acct.Mint.String(),
	).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("lock balance %s: %w", acct, err)
	}
	return parseU64("amount", amount)
}

func setBalance(ctx context.Context, q querier, acct domain.TokenAccount, amount uint64) error {
	_, err := q.Exec(ctx,
		`UPDATE token_balances SET amount = $3::numeric, updated_at = NOW() WHERE owner = $1 AND mint = $2`,
		acct.Owner.String(), acct.Mint.String(), u64(amount),
	)
	if err != nil {
		return fmt.Errorf("set balance %s: %w", acct, err)
	}
	return nil
}

func accountLess(a, b domain.TokenAccount) bool {
	if a.Owner != b.Owner {
		return a.Owner.String() < b.Owner.String()
	}
	return a.Mint.String() < b.Mint.String()
}
