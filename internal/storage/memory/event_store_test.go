package memory

import (
	"context"
	"errors"
	"testing"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

func TestEventStore_InsertAndGet(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	alice := domain.Pubkey{1}
	bob := domain.Pubkey{2}

	events := []*domain.LedgerEvent{
		{EventID: "e3", Seq: 3, Kind: domain.EventClaim, PoolID: 1, User: alice, Rewards: 5, Timestamp: 200},
		{EventID: "e1", Seq: 1, Kind: domain.EventStake, PoolID: 1, User: alice, Amount: 100, Timestamp: 100},
		{EventID: "e2", Seq: 2, Kind: domain.EventStake, PoolID: 1, User: bob, Amount: 50, Timestamp: 100},
		{EventID: "e4", Seq: 4, Kind: domain.EventStake, PoolID: 2, User: alice, Amount: 10, Timestamp: 50},
	}
	for _, e := range events {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert(%s) failed: %v", e.EventID, err)
		}
	}

	pool1, err := store.GetByPool(ctx, 1)
	if err != nil {
		t.Fatalf("GetByPool failed: %v", err)
	}
	want := []string{"e1", "e2", "e3"}
	if len(pool1) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(pool1))
	}
	for i, id := range want {
		if pool1[i].EventID != id {
			t.Errorf("events[%d] = %s, want %s", i, pool1[i].EventID, id)
		}
	}

	aliceEvents, err := store.GetByUser(ctx, 1, alice)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(aliceEvents) != 2 {
		t.Errorf("Expected 2 events for alice in pool 1, got %d", len(aliceEvents))
	}
}

func TestEventStore_DuplicateKey(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	e := &domain.LedgerEvent{EventID: "e1", Kind: domain.EventStake, PoolID: 1, Timestamp: 100}
	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, e); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestEventStore_InvalidInput(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	tests := []struct {
		name  string
		event *domain.LedgerEvent
	}{
		{name: "nil", event: nil},
		{name: "empty id", event: &domain.LedgerEvent{Kind: domain.EventStake}},
		{name: "unknown kind", event: &domain.LedgerEvent{EventID: "x", Kind: "BURN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Insert(ctx, tt.event); !errors.Is(err, storage.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
