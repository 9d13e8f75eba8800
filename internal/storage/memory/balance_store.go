package memory

import (
	"context"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
)

// BalanceStore is an in-memory token ledger implementing custody.Ledger.
type BalanceStore struct {
	mu   sync.RWMutex
	data map[domain.TokenAccount]uint64
}

// NewBalanceStore creates a new in-memory balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		data: make(map[domain.TokenAccount]uint64),
	}
}

// Transfer moves amount from one account to another. Moves all or nothing.
func (s *BalanceStore) Transfer(_ context.Context, from, to domain.TokenAccount, amount uint64, auth custody.Authority) error {
	if err := custody.Authorize(from, to, amount, auth); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.data[from]
	if src < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", custody.ErrInsufficientFunds, from, src, amount)
	}
	if from == to {
		return nil
	}

	dst, carry := bits.Add64(s.data[to], amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %s", custody.ErrBalanceOverflow, to)
	}

	s.data[from] = src - amount
	s.data[to] = dst
	return nil
}

// Balance returns the balance of acct, 0 if it was never funded.
func (s *BalanceStore) Balance(_ context.Context, acct domain.TokenAccount) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[acct], nil
}

// Deposit credits acct from outside the ledger.
func (s *BalanceStore) Deposit(_ context.Context, acct domain.TokenAccount, amount uint64) error {
	if amount == 0 {
		return custody.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bal, carry := bits.Add64(s.data[acct], amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %s", custody.ErrBalanceOverflow, acct)
	}
	s.data[acct] = bal
	return nil
}

// Accounts returns every account with a recorded balance, ordered by owner then mint.
func (s *BalanceStore) Accounts(_ context.Context) ([]domain.TokenAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TokenAccount, 0, len(s.data))
	for acct := range s.data {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].String() < result[j].String()
	})
	return result, nil
}

var _ custody.Ledger = (*BalanceStore)(nil)
