// Package reward implements the fixed-rate, time-proportional staking reward formula.
//
//	accrued   = floor(amount * rate * elapsed / (SecondsPerYear * FixedPointScale))
//	claimable = accrued - rewardsClaimed
//
// The product is computed in 256 bits; amount and rate are below 2^64 and elapsed below 2^63,
// so the product is below 2^191 and the multiply chain cannot wrap.
package reward

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

const (
	// SecondsPerYear is the 365-day year used for annualized rates.
	SecondsPerYear = 31_536_000
	// FixedPointScale is the scale of RewardRate: 1_000_000 == 100% per year.
	FixedPointScale = 1_000_000
)

// Reward computation errors.
var (
	// ErrNegativeElapsed is returned when now precedes the stake time.
	ErrNegativeElapsed = errors.New("stake time is in the future")
	// ErrRewardOverflow is returned when the accrued reward does not fit in uint64.
	ErrRewardOverflow = errors.New("accrued reward exceeds uint64")
	// ErrClaimedExceedsAccrued is returned when more was paid than has accrued.
	ErrClaimedExceedsAccrued = errors.New("rewards claimed exceed accrued rewards")
)

var denominator = uint256.NewInt(SecondsPerYear * FixedPointScale)

// Elapsed returns now - stakeTime, or ErrNegativeElapsed.
func Elapsed(stakeTime, now int64) (uint64, error) {
	if now < stakeTime {
		return 0, fmt.Errorf("%w: stake_time=%d now=%d", ErrNegativeElapsed, stakeTime, now)
	}
	// now >= stakeTime, so the difference fits in uint64 even across the int64 sign boundary.
	return uint64(now) - uint64(stakeTime), nil
}

// AccruedWide returns the accrued reward without narrowing.
func AccruedWide(amount, rate uint64, stakeTime, now int64) (*uint256.Int, error) {
	elapsed, err := Elapsed(stakeTime, now)
	if err != nil {
		return nil, err
	}

	acc := uint256.NewInt(amount)
	acc.Mul(acc, uint256.NewInt(rate))
	acc.Mul(acc, uint256.NewInt(elapsed))
	acc.Div(acc, denominator)
	return acc, nil
}

// Accrued returns the reward earned by amount at rate between stakeTime and now.
func Accrued(amount, rate uint64, stakeTime, now int64) (uint64, error) {
	wide, err := AccruedWide(amount, rate, stakeTime, now)
	if err != nil {
		return 0, err
	}
	if !wide.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrRewardOverflow, wide.Dec())
	}
	return wide.Uint64(), nil
}

// ClaimableWide returns accrued minus already claimed without narrowing.
// If claimed exceeds accrued it returns ErrClaimedExceedsAccrued.
func ClaimableWide(amount, rate uint64, stakeTime, now int64, claimed uint64) (*uint256.Int, error) {
	if amount == 0 {
		if claimed > 0 {
			return nil, fmt.Errorf("%w: dormant position claimed=%d", ErrClaimedExceedsAccrued, claimed)
		}
		return new(uint256.Int), nil
	}

	accrued, err := AccruedWide(amount, rate, stakeTime, now)
	if err != nil {
		return nil, err
	}
	c := uint256.NewInt(claimed)
	if accrued.Lt(c) {
		return nil, fmt.Errorf("%w: accrued=%s claimed=%d", ErrClaimedExceedsAccrued, accrued.Dec(), claimed)
	}
	return accrued.Sub(accrued, c), nil
}

// Payable splits the claimable reward into the part a reserve of limit can pay and the unpaid rest.
// unpaid saturates at math.MaxUint64.
func Payable(amount, rate uint64, stakeTime, now int64, claimed, limit uint64) (paid, unpaid uint64, err error) {
	wide, err := ClaimableWide(amount, rate, stakeTime, now, claimed)
	if err != nil {
		return 0, 0, err
	}
	if wide.IsUint64() && wide.Uint64() <= limit {
		return wide.Uint64(), 0, nil
	}
	rest := wide.Sub(wide, uint256.NewInt(limit))
	if !rest.IsUint64() {
		return limit, math.MaxUint64, nil
	}
	return limit, rest.Uint64(), nil
}

// Claimable returns accrued minus already claimed.
// If claimed exceeds accrued it returns 0 together with ErrClaimedExceedsAccrued.
func Claimable(amount, rate uint64, stakeTime, now int64, claimed uint64) (uint64, error) {
	if amount == 0 {
		// Dormant positions accrue nothing; stake time is meaningless.
		if claimed > 0 {
			return 0, fmt.Errorf("%w: dormant position claimed=%d", ErrClaimedExceedsAccrued, claimed)
		}
		return 0, nil
	}

	accrued, err := Accrued(amount, rate, stakeTime, now)
	if err != nil {
		return 0, err
	}
	if accrued < claimed {
		return 0, fmt.Errorf("%w: accrued=%d claimed=%d", ErrClaimedExceedsAccrued, accrued, claimed)
	}
	return accrued - claimed, nil
}
