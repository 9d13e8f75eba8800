package postgres

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
)

func TestBalanceStore_DepositAndTransfer(t *testing.T) {
	_, custodyPool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBalanceStore(custodyPool)

	alice := domain.TokenAccount{Owner: domain.Pubkey{1}, Mint: testMint}
	bob := domain.TokenAccount{Owner: domain.Pubkey{2}, Mint: testMint}

	bal, err := store.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, bal)

	require.NoError(t, store.Deposit(ctx, alice, 1000))
	require.NoError(t, store.Deposit(ctx, alice, 500))
	require.NoError(t, store.Transfer(ctx, alice, bob, 600, custody.Owner(alice.Owner)))

	a, err := store.Balance(ctx, alice)
	require.NoError(t, err)
	b, err := store.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), a)
	assert.Equal(t, uint64(600), b)
}

func TestBalanceStore_TransferFailures(t *testing.T) {
	_, custodyPool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBalanceStore(custodyPool)

	alice := domain.TokenAccount{Owner: domain.Pubkey{1}, Mint: testMint}
	bob := domain.TokenAccount{Owner: domain.Pubkey{2}, Mint: testMint}

	require.NoError(t, store.Deposit(ctx, alice, 100))
	require.NoError(t, store.Deposit(ctx, bob, math.MaxUint64))

	err := store.Transfer(ctx, alice, bob, 101, custody.Owner(alice.Owner))
	assert.ErrorIs(t, err, custody.ErrInsufficientFunds)

	err = store.Transfer(ctx, alice, bob, 10, custody.Owner(bob.Owner))
	assert.ErrorIs(t, err, custody.ErrUnauthorized)

	err = store.Transfer(ctx, alice, bob, 10, custody.Owner(alice.Owner))
	assert.ErrorIs(t, err, custody.ErrBalanceOverflow)

	err = store.Deposit(ctx, bob, 1)
	assert.ErrorIs(t, err, custody.ErrBalanceOverflow)

	a, err := store.Balance(ctx, alice)
	require.NoError(t, err)
	b, err := store.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a)
	assert.Equal(t, uint64(math.MaxUint64), b)
}
