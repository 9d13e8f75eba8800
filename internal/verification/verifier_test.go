package verification

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/staking"
	"staking-ledger/internal/storage"
	"staking-ledger/internal/storage/memory"
)

const t0 = int64(1_700_000_000)

var (
	programID = domain.MustParsePubkey("Stake11111111111111111111111111111111111111")
	mint      = domain.Pubkey{0xEE}
	funder    = domain.Pubkey{0xF0}
	alice     = domain.Pubkey{0x01}
	bob       = domain.Pubkey{0x02}
)

type fixture struct {
	ledger   *memory.LedgerStore
	balances *memory.BalanceStore
	events   *memory.EventStore
	engine   *staking.Engine
	now      int64
}

// newFixture runs a small history on pool 1: funding, two stakes, a claim and an unstake.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		ledger:   memory.NewLedgerStore(),
		balances: memory.NewBalanceStore(),
		events:   memory.NewEventStore(),
		now:      t0,
	}
	engine, err := staking.New(staking.Options{
		ProgramID: programID,
		Ledger:    f.ledger,
		Custody:   f.balances,
		Events:    f.events,
		Logger:    log.New(io.Discard, "", 0),
		Clock:     f.clock,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.engine = engine

	if _, err := engine.CreatePool(ctx, staking.CreatePoolRequest{
		PoolID: 1, RewardRate: 100_000, LockPeriod: 86_400, TokenMint: mint, Authority: funder,
	}); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	for owner, amount := range map[domain.Pubkey]uint64{funder: 1_000_000, alice: 10_000_000, bob: 5_000_000} {
		if err := f.balances.Deposit(ctx, domain.TokenAccount{Owner: owner, Mint: mint}, amount); err != nil {
			t.Fatalf("Deposit failed: %v", err)
		}
	}

	if _, err := engine.FundRewards(ctx, 1, funder, 1_000_000); err != nil {
		t.Fatalf("FundRewards failed: %v", err)
	}
	if _, err := engine.Stake(ctx, 1, alice, 10_000_000); err != nil {
		t.Fatalf("Stake alice failed: %v", err)
	}
	if _, err := engine.Stake(ctx, 1, bob, 5_000_000); err != nil {
		t.Fatalf("Stake bob failed: %v", err)
	}
	f.now += 30 * 86_400
	if _, err := engine.Claim(ctx, 1, alice); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := engine.Unstake(ctx, 1, bob); err != nil {
		t.Fatalf("Unstake failed: %v", err)
	}
	return f
}

func (f *fixture) clock() time.Time {
	return time.Unix(f.now, 0)
}

func (f *fixture) verifier() *Verifier {
	return NewVerifier(f.ledger).WithCustody(f.balances).WithProgramID(programID).WithClock(f.clock)
}

// corrupt overwrites a position record without touching the pool counters.
func (f *fixture) corrupt(t *testing.T, user domain.Pubkey, mutate func(p *domain.Position)) {
	t.Helper()
	_, _, err := f.ledger.Update(context.Background(), domain.PositionKey{PoolID: 1, User: user},
		func(_ domain.Pool, pos *domain.Position) (*storage.Transition, error) {
			mutate(pos)
			return &storage.Transition{Position: pos}, nil
		})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func hasCheck(violations []Violation, check string) bool {
	for _, v := range violations {
		if v.Check == check {
			return true
		}
	}
	return false
}

func TestVerifyPool_ConsistentLedger(t *testing.T) {
	f := newFixture(t)

	res, err := f.verifier().VerifyPool(context.Background(), 1)
	if err != nil {
		t.Fatalf("VerifyPool failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected consistent ledger, got %v", res.Violations)
	}
	if res.Positions != 2 || res.Active != 1 {
		t.Errorf("positions=%d active=%d, want 2/1", res.Positions, res.Active)
	}
}

func TestVerifyPool_Violations(t *testing.T) {
	tests := []struct {
		name   string
		user   domain.Pubkey
		mutate func(p *domain.Position)
		check  string
	}{
		{
			name:   "amount drift",
			user:   alice,
			mutate: func(p *domain.Position) { p.Amount++ },
			check:  CheckTotalStaked,
		},
		{
			name:   "dormant with stake time",
			user:   bob,
			mutate: func(p *domain.Position) { p.StakeTime = t0 },
			check:  CheckDormantShape,
		},
		{
			name: "claimed beyond accrual",
			user: alice,
			mutate: func(p *domain.Position) {
				p.RewardsClaimed += 1_000_000
				p.TotalClaimed += 1_000_000
			},
			check: CheckRewardBound,
		},
		{
			name:   "period claims exceed lifetime",
			user:   alice,
			mutate: func(p *domain.Position) { p.TotalClaimed = 0 },
			check:  CheckClaimedTotal,
		},
		{
			name:   "lifetime claims drift",
			user:   bob,
			mutate: func(p *domain.Position) { p.TotalClaimed++ },
			check:  CheckRewardsPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.corrupt(t, tt.user, tt.mutate)

			res, err := f.verifier().VerifyPool(context.Background(), 1)
			if err != nil {
				t.Fatalf("VerifyPool failed: %v", err)
			}
			if res.OK {
				t.Fatal("expected violations")
			}
			if !hasCheck(res.Violations, tt.check) {
				t.Errorf("expected %s violation, got %v", tt.check, res.Violations)
			}
		})
	}
}

func TestVerifyPool_VaultShortfall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.ledger.GetPool(ctx, 1)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}

	// Drain one token from the vault behind the ledger's back.
	sink := domain.TokenAccount{Owner: domain.Pubkey{0x99}, Mint: mint}
	if err := f.balances.Transfer(ctx, pool.Vault(), sink, 1, signer(pool.Address)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	res, err := f.verifier().VerifyPool(ctx, 1)
	if err != nil {
		t.Fatalf("VerifyPool failed: %v", err)
	}
	if !hasCheck(res.Violations, CheckVaultCoverage) {
		t.Errorf("expected vault coverage violation, got %v", res.Violations)
	}
}

func TestVerifyPool_WrongProgram(t *testing.T) {
	f := newFixture(t)

	other := domain.MustParsePubkey("11111111111111111111111111111111")
	res, err := NewVerifier(f.ledger).WithProgramID(other).WithClock(f.clock).VerifyPool(context.Background(), 1)
	if err != nil {
		t.Fatalf("VerifyPool failed: %v", err)
	}
	if !hasCheck(res.Violations, CheckPoolAddress) {
		t.Errorf("expected pool address violation, got %v", res.Violations)
	}
}

func TestVerifyPool_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.verifier().VerifyPool(context.Background(), 42)
	if !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestVerifyAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.CreatePool(ctx, staking.CreatePoolRequest{
		PoolID: 2, RewardRate: 50_000, TokenMint: mint, Authority: funder,
	}); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	f.corrupt(t, alice, func(p *domain.Position) { p.Amount-- })

	report, err := f.verifier().VerifyAll(ctx)
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	if report.TotalPools != 2 || report.PassedPools != 1 || report.FailedPools != 1 {
		t.Errorf("report = %d/%d/%d, want 2/1/1", report.TotalPools, report.PassedPools, report.FailedPools)
	}
	if report.Results[0].PoolID != 1 || report.Results[0].OK {
		t.Errorf("pool 1 should fail: %+v", report.Results[0])
	}
}

func TestCheckVault(t *testing.T) {
	pool := &domain.Pool{TotalStaked: 100, TotalRewards: 10, RewardsFunded: 30}

	if v := CheckVault(pool, 120); len(v) != 0 {
		t.Errorf("exact coverage should pass: %v", v)
	}
	if v := CheckVault(pool, 500); len(v) != 0 {
		t.Errorf("surplus should pass: %v", v)
	}
	if v := CheckVault(pool, 119); len(v) != 1 {
		t.Errorf("shortfall should fail, got %v", v)
	}
}

type signer domain.Pubkey

func (s signer) Signer() domain.Pubkey { return domain.Pubkey(s) }
