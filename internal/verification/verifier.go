// Package verification checks stored ledger state against the invariants every committed
// transition must preserve, and replays the event journal against the pool counters.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/pda"
	"staking-ledger/internal/reward"
	"staking-ledger/internal/storage"
)

// ErrPoolNotFound is returned when the pool id doesn't exist.
var ErrPoolNotFound = errors.New("pool not found")

// Check names.
const (
	CheckTotalStaked   = "total_staked"
	CheckRewardsPaid   = "rewards_paid"
	CheckRewardReserve = "reward_reserve"
	CheckDormantShape  = "dormant_shape"
	CheckRewardBound   = "reward_bound"
	CheckClaimedTotal  = "claimed_total"
	CheckPoolAddress   = "pool_address"
	CheckVaultCoverage = "vault_coverage"
)

// Violation is one failed check.
type Violation struct {
	Check  string
	User   *domain.Pubkey // nil for pool-level checks
	Detail string
}

// String returns "check: detail" or "check[user]: detail".
func (v Violation) String() string {
	if v.User != nil {
		return fmt.Sprintf("%s[%s]: %s", v.Check, v.User, v.Detail)
	}
	return fmt.Sprintf("%s: %s", v.Check, v.Detail)
}

// PoolResult contains the result of verifying a single pool.
type PoolResult struct {
	PoolID     uint64
	Positions  int
	Active     int
	OK         bool
	Violations []Violation
}

// VerificationReport contains results for all pools.
type VerificationReport struct {
	TotalPools  int
	PassedPools int
	FailedPools int
	Results     []PoolResult
}

// Verifier checks ledger invariants over consistent pool snapshots.
type Verifier struct {
	ledger    storage.LedgerStore
	custody   custody.Ledger
	programID *domain.Pubkey
	now       func() time.Time
}

// NewVerifier creates a new Verifier.
func NewVerifier(ledger storage.LedgerStore) *Verifier {
	return &Verifier{
		ledger: ledger,
		now:    time.Now,
	}
}

// WithCustody enables the vault coverage check.
func (v *Verifier) WithCustody(c custody.Ledger) *Verifier {
	v.custody = c
	return v
}

// WithProgramID enables the pool address check.
func (v *Verifier) WithProgramID(programID domain.Pubkey) *Verifier {
	v.programID = &programID
	return v
}

// WithClock sets a custom clock function for the reward bound check.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifyPool checks one pool.
func (v *Verifier) VerifyPool(ctx context.Context, poolID uint64) (*PoolResult, error) {
	pool, positions, err := v.ledger.Snapshot(ctx, poolID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, poolID)
		}
		return nil, err
	}

	violations := CheckSnapshot(pool, positions, v.now().Unix())

	if v.programID != nil {
		violations = append(violations, checkAddress(*v.programID, pool)...)
	}

	if v.custody != nil {
		vault, err := v.custody.Balance(ctx, pool.Vault())
		if err != nil {
			return nil, fmt.Errorf("vault balance of pool %d: %w", poolID, err)
		}
		violations = append(violations, CheckVault(pool, vault)...)
	}

	res := &PoolResult{
		PoolID:     poolID,
		Positions:  len(positions),
		OK:         len(violations) == 0,
		Violations: violations,
	}
	for _, p := range positions {
		if p.IsActive() {
			res.Active++
		}
	}
	return res, nil
}

// VerifyAll checks every pool.
func (v *Verifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	pools, err := v.ledger.ListPools(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{TotalPools: len(pools)}
	for _, p := range pools {
		res, err := v.VerifyPool(ctx, p.PoolID)
		if err != nil {
			return nil, err
		}
		if res.OK {
			report.PassedPools++
		} else {
			report.FailedPools++
		}
		report.Results = append(report.Results, *res)
	}
	return report, nil
}

// CheckSnapshot checks a pool against its positions at time now.
func CheckSnapshot(pool *domain.Pool, positions []*domain.Position, now int64) []Violation {
	var violations []Violation

	var staked, claimed uint64
	var stakedOverflow, claimedOverflow bool
	for _, p := range positions {
		user := p.User

		var carry uint64
		staked, carry = bits.Add64(staked, p.Amount, 0)
		stakedOverflow = stakedOverflow || carry != 0
		claimed, carry = bits.Add64(claimed, p.TotalClaimed, 0)
		claimedOverflow = claimedOverflow || carry != 0

		if p.RewardsClaimed > p.TotalClaimed {
			violations = append(violations, Violation{
				Check:  CheckClaimedTotal,
				User:   &user,
				Detail: fmt.Sprintf("rewards_claimed=%d > total_claimed=%d", p.RewardsClaimed, p.TotalClaimed),
			})
		}

		if !p.IsActive() {
			if p.StakeTime != 0 || p.RewardsClaimed != 0 {
				violations = append(violations, Violation{
					Check:  CheckDormantShape,
					User:   &user,
					Detail: fmt.Sprintf("dormant with stake_time=%d rewards_claimed=%d", p.StakeTime, p.RewardsClaimed),
				})
			}
			continue
		}

		if _, err := reward.ClaimableWide(p.Amount, pool.RewardRate, p.StakeTime, now, p.RewardsClaimed); err != nil {
			violations = append(violations, Violation{
				Check:  CheckRewardBound,
				User:   &user,
				Detail: err.Error(),
			})
		}
	}

	if stakedOverflow || staked != pool.TotalStaked {
		violations = append(violations, Violation{
			Check:  CheckTotalStaked,
			Detail: fmt.Sprintf("sum of positions=%s, pool total_staked=%d", sum(staked, stakedOverflow), pool.TotalStaked),
		})
	}
	if claimedOverflow || claimed != pool.TotalRewards {
		violations = append(violations, Violation{
			Check:  CheckRewardsPaid,
			Detail: fmt.Sprintf("sum of total_claimed=%s, pool total_rewards=%d", sum(claimed, claimedOverflow), pool.TotalRewards),
		})
	}
	if pool.TotalRewards > pool.RewardsFunded {
		violations = append(violations, Violation{
			Check:  CheckRewardReserve,
			Detail: fmt.Sprintf("total_rewards=%d > rewards_funded=%d", pool.TotalRewards, pool.RewardsFunded),
		})
	}

	return violations
}

// CheckVault checks that the vault holds the staked principal plus the unpaid reserve.
func CheckVault(pool *domain.Pool, vault uint64) []Violation {
	need, carry := bits.Add64(pool.TotalStaked, pool.RewardReserve(), 0)
	if carry == 0 && vault >= need {
		return nil
	}
	return []Violation{{
		Check:  CheckVaultCoverage,
		Detail: fmt.Sprintf("vault=%d < total_staked=%d + reserve=%d", vault, pool.TotalStaked, pool.RewardReserve()),
	}}
}

func checkAddress(programID domain.Pubkey, pool *domain.Pool) []Violation {
	addr, bump, err := pda.PoolAddress(programID, pool.PoolID)
	if err != nil {
		return []Violation{{Check: CheckPoolAddress, Detail: err.Error()}}
	}
	if addr != pool.Address || bump != pool.Bump {
		return []Violation{{
			Check:  CheckPoolAddress,
			Detail: fmt.Sprintf("stored %s/%d, derived %s/%d", pool.Address, pool.Bump, addr, bump),
		}}
	}
	return nil
}

func sum(v uint64, overflow bool) string {
	if overflow {
		return "overflow"
	}
	return fmt.Sprintf("%d", v)
}
