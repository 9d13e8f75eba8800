package clickhouse

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

func TestEventStore_InsertAndGetByPool(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(conn)
	ctx := context.Background()

	alice := domain.Pubkey{1}
	bob := domain.Pubkey{2}

	events := []*domain.LedgerEvent{
		{EventID: "e2", Seq: 2, Kind: domain.EventStake, PoolID: 1, User: bob, Amount: 50, TotalStaked: 150, Timestamp: 100},
		{EventID: "e1", Seq: 1, Kind: domain.EventStake, PoolID: 1, User: alice, Amount: 100, TotalStaked: 100, Timestamp: 100},
		{EventID: "e3", Seq: 3, Kind: domain.EventUnstake, PoolID: 1, User: alice, Amount: math.MaxUint64, Rewards: 7, Forfeited: 1, Timestamp: 200},
		{EventID: "e4", Seq: 4, Kind: domain.EventStake, PoolID: 2, User: alice, Amount: 5, Timestamp: 50},
	}
	for _, e := range events {
		require.NoError(t, store.Insert(ctx, e))
	}

	got, err := store.GetByPool(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e1", got[0].EventID)
	assert.Equal(t, "e2", got[1].EventID)
	assert.Equal(t, "e3", got[2].EventID)
	assert.Equal(t, events[2], got[2])

	aliceEvents, err := store.GetByUser(ctx, 1, alice)
	require.NoError(t, err)
	require.Len(t, aliceEvents, 2)
	assert.Equal(t, domain.EventUnstake, aliceEvents[1].Kind)
}

func TestEventStore_Insert_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEventStore(conn)
	ctx := context.Background()

	e := &domain.LedgerEvent{EventID: "dup", Seq: 1, Kind: domain.EventClaim, PoolID: 1, Rewards: 3, Timestamp: 100}
	require.NoError(t, store.Insert(ctx, e))

	err := store.Insert(ctx, e)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
