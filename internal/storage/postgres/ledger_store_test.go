package postgres

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

var testMint = domain.Pubkey{9}

func createTestPool(t *testing.T, ctx context.Context, store *LedgerStore, id uint64) *domain.Pool {
	t.Helper()

	p := &domain.Pool{
		PoolID:     id,
		RewardRate: 125_000,
		LockPeriod: 86_400,
		Authority:  domain.Pubkey{1},
		TokenMint:  testMint,
		Address:    domain.Pubkey{byte(id), 0xAA, byte(id >> 8)},
		Bump:       253,
		CreatedAt:  1_700_000_000,
	}
	require.NoError(t, store.InsertPool(ctx, p))
	return p
}

func TestLedgerStore_InsertAndGetPool(t *testing.T) {
	pool, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	want := createTestPool(t, ctx, store, math.MaxUint64)

	got, err := store.GetPool(ctx, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = store.InsertPool(ctx, want)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetPool(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_ListPools(t *testing.T) {
	pool, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	for _, id := range []uint64{30, 10, 20} {
		createTestPool(t, ctx, store, id)
	}

	pools, err := store.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, uint64(10), pools[0].PoolID)
	assert.Equal(t, uint64(20), pools[1].PoolID)
	assert.Equal(t, uint64(30), pools[2].PoolID)
}

func TestLedgerStore_UpdateCommitsPositionAndCounters(t *testing.T) {
	pool, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	createTestPool(t, ctx, store, 1)

	user := domain.Pubkey{7}
	key := domain.PositionKey{PoolID: 1, User: user}

	p, pos, err := store.Update(ctx, key, func(cur domain.Pool, existing *domain.Position) (*storage.Transition, error) {
		assert.Nil(t, existing)
		return &storage.Transition{
			Position: &domain.Position{
				Amount:    math.MaxUint64,
				StakeTime: 1_700_000_100,
				Address:   domain.Pubkey{3},
				UpdatedAt: 1_700_000_100,
			},
			Delta: domain.PoolDelta{StakedIn: math.MaxUint64, RewardsFunded: 10},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), p.TotalStaked)
	assert.Equal(t, uint64(10), p.RewardsFunded)
	assert.Equal(t, user, pos.User)

	stored, err := store.GetPosition(ctx, 1, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), stored.Amount)
	assert.Equal(t, int64(1_700_000_100), stored.StakeTime)

	// Counters past uint64 are rejected before reaching the database.
	_, _, err = store.Update(ctx, key, func(domain.Pool, *domain.Position) (*storage.Transition, error) {
		return &storage.Transition{Delta: domain.PoolDelta{StakedIn: 1}}, nil
	})
	assert.ErrorIs(t, err, storage.ErrConstraint)
	assert.ErrorIs(t, err, domain.ErrCounterOverflow)
}

func TestLedgerStore_UpdateEffectFailureRollsBack(t *testing.T) {
	pool, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	createTestPool(t, ctx, store, 1)

	boom := errors.New("boom")
	key := domain.PositionKey{PoolID: 1, User: domain.Pubkey{7}}

	_, _, err := store.Update(ctx, key, func(domain.Pool, *domain.Position) (*storage.Transition, error) {
		return &storage.Transition{
			Position: &domain.Position{Amount: 100},
			Delta:    domain.PoolDelta{StakedIn: 100},
			Effect:   func(context.Context) error { return boom },
		}, nil
	})
	assert.ErrorIs(t, err, boom)

	p, err := store.GetPool(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, p.TotalStaked)

	_, err = store.GetPosition(ctx, 1, key.User)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_ConcurrentStakesWithTransfers(t *testing.T) {
	pool, custodyPool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	balances := NewBalanceStore(custodyPool)
	p := createTestPool(t, ctx, store, 1)

	const (
		users   = 6
		perUser = 10
	)

	for u := 0; u < users; u++ {
		acct := domain.TokenAccount{Owner: domain.Pubkey{byte(u + 10)}, Mint: testMint}
		require.NoError(t, balances.Deposit(ctx, acct, perUser))
	}

	var wg sync.WaitGroup
	errs := make(chan error, users*perUser)
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(owner domain.Pubkey) {
			defer wg.Done()
			key := domain.PositionKey{PoolID: 1, User: owner}
			from := domain.TokenAccount{Owner: owner, Mint: testMint}
			for i := 0; i < perUser; i++ {
				_, _, err := store.Update(ctx, key, func(_ domain.Pool, cur *domain.Position) (*storage.Transition, error) {
					next := domain.Position{Amount: 1}
					if cur != nil {
						next.Amount = cur.Amount + 1
					}
					return &storage.Transition{
						Position: &next,
						Delta:    domain.PoolDelta{StakedIn: 1},
						Effect: func(ctx context.Context) error {
							return balances.Transfer(ctx, from, p.Vault(), 1, custody.Owner(owner))
						},
					}, nil
				})
				if err != nil {
					errs <- err
				}
			}
		}(domain.Pubkey{byte(u + 10)})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Update failed: %v", err)
	}

	snap, positions, err := store.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(users*perUser), snap.TotalStaked)
	require.Len(t, positions, users)

	var sum uint64
	for _, pos := range positions {
		sum += pos.Amount
	}
	assert.Equal(t, snap.TotalStaked, sum)

	vault, err := balances.Balance(ctx, p.Vault())
	require.NoError(t, err)
	assert.Equal(t, snap.TotalStaked, vault)
}
