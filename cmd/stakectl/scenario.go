package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/staking"
	"staking-ledger/internal/storage/memory"
)

const (
	demoStart = int64(1_735_689_600) // 2025-01-01T00:00:00Z
	demoDay   = int64(86_400)
	demoYear  = int64(31_536_000)
	demoEnd   = demoStart + demoYear + 30*demoDay
)

var (
	demoMint      = domain.Pubkey{0xEE, 0x01}
	demoAuthority = domain.Pubkey{0xA0}
	demoAlice     = domain.Pubkey{0x01}
	demoBob       = domain.Pubkey{0x02}
	demoCarol     = domain.Pubkey{0x03}
)

// demoClock is a settable clock.
type demoClock struct {
	mu  sync.Mutex
	now int64
}

func (c *demoClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0).UTC()
}

func (c *demoClock) Set(unix int64) {
	c.mu.Lock()
	c.now = unix
	c.mu.Unlock()
}

// demo runs a fixed sequence of operations on in-memory stores.
type demo struct {
	ledger   *memory.LedgerStore
	balances *memory.BalanceStore
	events   *memory.EventStore
	engine   *staking.Engine
	clock    *demoClock
}

func newDemo(programID domain.Pubkey) (*demo, error) {
	d := &demo{
		ledger:   memory.NewLedgerStore(),
		balances: memory.NewBalanceStore(),
		events:   memory.NewEventStore(),
		clock:    &demoClock{now: demoStart},
	}
	engine, err := staking.New(staking.Options{
		ProgramID: programID,
		Ledger:    d.ledger,
		Custody:   d.balances,
		Events:    d.events,
		Logger:    log.New(io.Discard, "", 0),
		Clock:     d.clock.Now,
	})
	if err != nil {
		return nil, err
	}
	d.engine = engine
	return d, nil
}

// run executes the scenario and writes one line per step to out.
//
// Pool 1 pays 100% a year with a 7 day lock; alice stakes for a year and claims.
// Pool 2 pays 10% a year with a 7 day lock; bob hits the lock, then unstakes with rewards.
// Carol stakes in pool 2 and unstakes after its reserve is spent, forfeiting the remainder.
func (d *demo) run(ctx context.Context, out io.Writer) error {
	step := func(at int64, format string, args ...any) {
		fmt.Fprintf(out, "[day %3d] %s\n", (at-demoStart)/demoDay, fmt.Sprintf(format, args...))
	}

	deposits := map[domain.Pubkey]uint64{
		demoAuthority: 1_000_000 + 200_000,
		demoAlice:     1_000_000,
		demoBob:       100_000_000,
		demoCarol:     50_000_000,
	}
	for owner, amount := range deposits {
		if err := d.balances.Deposit(ctx, domain.TokenAccount{Owner: owner, Mint: demoMint}, amount); err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
	}

	for _, req := range []staking.CreatePoolRequest{
		{PoolID: 1, RewardRate: 1_000_000, LockPeriod: 7 * demoDay, TokenMint: demoMint, Authority: demoAuthority},
		{PoolID: 2, RewardRate: 100_000, LockPeriod: 7 * demoDay, TokenMint: demoMint, Authority: demoAuthority},
	} {
		pool, err := d.engine.CreatePool(ctx, req)
		if err != nil {
			return fmt.Errorf("create pool %d: %w", req.PoolID, err)
		}
		step(demoStart, "created pool %d at %s (bump %d)", pool.PoolID, pool.Address, pool.Bump)
	}

	if _, err := d.engine.FundRewards(ctx, 1, demoAuthority, 1_000_000); err != nil {
		return fmt.Errorf("fund pool 1: %w", err)
	}
	if _, err := d.engine.FundRewards(ctx, 2, demoAuthority, 200_000); err != nil {
		return fmt.Errorf("fund pool 2: %w", err)
	}
	step(demoStart, "funded pool 1 with 1000000 and pool 2 with 200000")

	if _, err := d.engine.Stake(ctx, 1, demoAlice, 1_000_000); err != nil {
		return fmt.Errorf("alice stake: %w", err)
	}
	step(demoStart, "alice staked 1000000 in pool 1")

	if _, err := d.engine.Stake(ctx, 2, demoBob, 100_000_000); err != nil {
		return fmt.Errorf("bob stake: %w", err)
	}
	step(demoStart, "bob staked 100000000 in pool 2")

	at := demoStart + 7*demoDay - 1
	d.clock.Set(at)
	if _, err := d.engine.Unstake(ctx, 2, demoBob); err == nil {
		return fmt.Errorf("bob unstake before lock expiry should fail")
	} else {
		step(at, "bob unstake rejected: %v", err)
	}

	at = demoStart + 7*demoDay
	d.clock.Set(at)
	res, err := d.engine.Unstake(ctx, 2, demoBob)
	if err != nil {
		return fmt.Errorf("bob unstake: %w", err)
	}
	step(at, "bob unstaked %d with %d rewards", res.Withdrawn, res.RewardsPaid)

	if _, err := d.engine.Stake(ctx, 2, demoCarol, 50_000_000); err != nil {
		return fmt.Errorf("carol stake: %w", err)
	}
	step(at, "carol staked 50000000 in pool 2")

	at = demoStart + demoYear
	d.clock.Set(at)
	paid, err := d.engine.Claim(ctx, 1, demoAlice)
	if err != nil {
		return fmt.Errorf("alice claim: %w", err)
	}
	step(at, "alice claimed %d", paid)

	if _, err := d.engine.Claim(ctx, 1, demoAlice); err == nil {
		return fmt.Errorf("second claim should fail")
	} else {
		step(at, "alice second claim rejected: %v", err)
	}

	at = demoEnd
	d.clock.Set(at)
	res, err = d.engine.Unstake(ctx, 2, demoCarol)
	if err != nil {
		return fmt.Errorf("carol unstake: %w", err)
	}
	step(at, "carol unstaked %d with %d rewards, %d forfeited", res.Withdrawn, res.RewardsPaid, res.RewardsForfeited)

	return nil
}
