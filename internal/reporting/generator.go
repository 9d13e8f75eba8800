// Package reporting renders pool and position reports from the ledger.
package reporting

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/reward"
	"staking-ledger/internal/storage"
	"staking-ledger/internal/verification"
)

// Generator produces reports from stored data.
type Generator struct {
	ledger   storage.LedgerStore
	verifier *verification.Verifier
	now      func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(ledger storage.LedgerStore) *Generator {
	return &Generator{
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithVerifier adds an integrity section produced by v.
func (g *Generator) WithVerifier(v *verification.Verifier) *Generator {
	g.verifier = v
	return g
}

// Generate produces a complete report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	now := g.now()
	r := &Report{
		GeneratedAt: now,
		AsOf:        now.Unix(),
	}

	pools, err := g.ledger.ListPools(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range pools {
		pool, positions, err := g.ledger.Snapshot(ctx, p.PoolID)
		if err != nil {
			return nil, fmt.Errorf("snapshot pool %d: %w", p.PoolID, err)
		}
		row, posRows := buildPool(pool, positions, r.AsOf)
		r.Pools = append(r.Pools, row)
		r.Positions = append(r.Positions, posRows...)
	}

	r.Summary = summarize(r.Pools)

	if g.verifier != nil {
		vr, err := g.verifier.VerifyAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		r.Integrity.Checked = true
		for _, res := range vr.Results {
			for _, v := range res.Violations {
				r.Integrity.Violations = append(r.Integrity.Violations, fmt.Sprintf("pool %d: %s", res.PoolID, v))
			}
		}
		r.Integrity.AllChecksPassed = vr.FailedPools == 0
	}

	return r, nil
}

func buildPool(pool *domain.Pool, positions []*domain.Position, asOf int64) (PoolRow, []PositionRow) {
	row := PoolRow{
		PoolID:         pool.PoolID,
		RatePercent:    RatePercent(pool.RewardRate),
		LockPeriod:     pool.LockPeriod,
		TokenMint:      pool.TokenMint,
		Address:        pool.Address,
		TotalStaked:    pool.TotalStaked,
		TotalRewards:   pool.TotalRewards,
		RewardsFunded:  pool.RewardsFunded,
		RewardReserve:  pool.RewardReserve(),
		PendingRewards: decimal.Zero,
	}

	rows := make([]PositionRow, 0, len(positions))
	for _, pos := range positions {
		pr := PositionRow{
			PoolID:         pos.PoolID,
			User:           pos.User,
			Amount:         pos.Amount,
			StakeTime:      pos.StakeTime,
			RewardsClaimed: pos.RewardsClaimed,
			TotalClaimed:   pos.TotalClaimed,
			PendingRewards: decimal.Zero,
		}
		if pos.IsActive() {
			row.ActivePositions++
			pr.UnlockTime = unlockTime(pos.StakeTime, pool.LockPeriod)
			pr.Unlocked = asOf >= pr.UnlockTime
			// Inconsistent records report nothing pending; the integrity section names them.
			if pending, err := reward.ClaimableWide(pos.Amount, pool.RewardRate, pos.StakeTime, asOf, pos.RewardsClaimed); err == nil {
				pr.PendingRewards = decimal.NewFromBigInt(pending.ToBig(), 0)
			}
			row.PendingRewards = row.PendingRewards.Add(pr.PendingRewards)
		} else {
			row.DormantPositions++
		}
		rows = append(rows, pr)
	}

	row.ReserveCoverage = coverage(row.RewardReserve, row.PendingRewards)
	return row, rows
}

func summarize(pools []PoolRow) Summary {
	s := Summary{
		Pools:          len(pools),
		TotalStaked:    decimal.Zero,
		TotalRewards:   decimal.Zero,
		RewardsFunded:  decimal.Zero,
		PendingRewards: decimal.Zero,
	}
	for _, p := range pools {
		s.ActivePositions += p.ActivePositions
		s.DormantPositions += p.DormantPositions
		s.TotalStaked = s.TotalStaked.Add(fromUint64(p.TotalStaked))
		s.TotalRewards = s.TotalRewards.Add(fromUint64(p.TotalRewards))
		s.RewardsFunded = s.RewardsFunded.Add(fromUint64(p.RewardsFunded))
		s.PendingRewards = s.PendingRewards.Add(p.PendingRewards)
	}
	return s
}

// RatePercent converts a fixed-point annual rate (1_000_000 == 100%) to percent.
func RatePercent(rate uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(rate), -4)
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func coverage(reserve uint64, pending decimal.Decimal) string {
	if pending.IsZero() {
		return "n/a"
	}
	return fromUint64(reserve).DivRound(pending, 4).String()
}

// unlockTime saturates at the int64 maximum.
func unlockTime(stakeTime, lockPeriod int64) int64 {
	if lockPeriod > 0 && stakeTime > (1<<63-1)-lockPeriod {
		return 1<<63 - 1
	}
	return stakeTime + lockPeriod
}
