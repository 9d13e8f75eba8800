package staking

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
	"staking-ledger/internal/storage/memory"
)

const (
	t0      = int64(1_700_000_000)
	day     = int64(86_400)
	oneYear = int64(31_536_000)
)

var (
	testProgramID = domain.MustParsePubkey("Stake11111111111111111111111111111111111111")
	testMint      = domain.Pubkey{0xEE, 0x01}
	authority     = domain.Pubkey{0xA0}
	funder        = domain.Pubkey{0xF0}
	alice         = domain.Pubkey{0x01}
	bob           = domain.Pubkey{0x02}
)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now int64
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *testClock) Set(unix int64) {
	c.mu.Lock()
	c.now = unix
	c.mu.Unlock()
}

func (c *testClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []*domain.LedgerEvent
}

func (r *recorder) Publish(e *domain.LedgerEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type harness struct {
	engine    *Engine
	ledger    *memory.LedgerStore
	balances  *memory.BalanceStore
	events    *memory.EventStore
	published *recorder
	clock     *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLedger(t, nil)
}

// newHarnessWithLedger builds an engine over memory stores. wrap, if set, decorates the ledger store.
func newHarnessWithLedger(t *testing.T, wrap func(*memory.LedgerStore) storage.LedgerStore) *harness {
	t.Helper()

	h := &harness{
		ledger:    memory.NewLedgerStore(),
		balances:  memory.NewBalanceStore(),
		events:    memory.NewEventStore(),
		published: &recorder{},
		clock:     &testClock{now: t0},
	}

	var ledger storage.LedgerStore = h.ledger
	if wrap != nil {
		ledger = wrap(h.ledger)
	}

	engine, err := New(Options{
		ProgramID: testProgramID,
		Ledger:    ledger,
		Custody:   h.balances,
		Events:    h.events,
		Publisher: h.published,
		Logger:    log.New(io.Discard, "", 0),
		Clock:     h.clock.Now,
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) createPool(t *testing.T, id, rate uint64, lock int64) *domain.Pool {
	t.Helper()
	pool, err := h.engine.CreatePool(context.Background(), CreatePoolRequest{
		PoolID:     id,
		RewardRate: rate,
		LockPeriod: lock,
		TokenMint:  testMint,
		Authority:  authority,
	})
	require.NoError(t, err)
	return pool
}

func (h *harness) deposit(t *testing.T, owner domain.Pubkey, amount uint64) {
	t.Helper()
	require.NoError(t, h.balances.Deposit(context.Background(), account(owner), amount))
}

func (h *harness) fundPool(t *testing.T, poolID, amount uint64) {
	t.Helper()
	h.deposit(t, funder, amount)
	_, err := h.engine.FundRewards(context.Background(), poolID, funder, amount)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, acct domain.TokenAccount) uint64 {
	t.Helper()
	bal, err := h.balances.Balance(context.Background(), acct)
	require.NoError(t, err)
	return bal
}

func (h *harness) pool(t *testing.T, id uint64) *domain.Pool {
	t.Helper()
	p, err := h.engine.GetPool(context.Background(), id)
	require.NoError(t, err)
	return p
}

func account(owner domain.Pubkey) domain.TokenAccount {
	return domain.TokenAccount{Owner: owner, Mint: testMint}
}
