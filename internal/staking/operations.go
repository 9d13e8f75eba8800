package staking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/pda"
	"staking-ledger/internal/reward"
	"staking-ledger/internal/storage"
)

// UnstakeResult is the outcome of a successful unstake.
type UnstakeResult struct {
	Withdrawn        uint64 // principal returned
	RewardsPaid      uint64 // rewards paid with the principal
	RewardsForfeited uint64 // accrued rewards the reserve could not cover
	Position         *domain.Position
}

// Stake moves amount from the user's account into the pool vault and credits the position.
//
// A dormant or new position starts a fresh accrual period. An active position may be topped up
// only while it has nothing claimable; the top-up restarts the accrual period and the lock.
func (e *Engine) Stake(ctx context.Context, poolID uint64, user domain.Pubkey, amount uint64) (pos *domain.Position, err error) {
	defer e.observe("stake", time.Now(), &err)

	if amount == 0 {
		return nil, fmt.Errorf("%w: stake amount must be positive", ErrInvalidAmount)
	}

	var (
		now int64
		leg *transferLeg
	)

	pool, pos, err := e.ledger.Update(ctx, key(poolID, user), func(pool domain.Pool, cur *domain.Position) (*storage.Transition, error) {
		now = e.now()
		next := domain.Position{PoolID: poolID, User: user}
		if cur != nil {
			next = *cur
		}

		if cur.IsActive() {
			claimable, err := reward.ClaimableWide(cur.Amount, pool.RewardRate, cur.StakeTime, now, cur.RewardsClaimed)
			if err != nil {
				return nil, e.invariant("reward", err)
			}
			if !claimable.IsZero() {
				return nil, fmt.Errorf("%w: %s claimable", ErrActivePositionExists, claimable.Dec())
			}
		}

		total, carry := bits.Add64(next.Amount, amount, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: position amount would overflow", ErrInvalidAmount)
		}
		if _, carry := bits.Add64(pool.TotalStaked, amount, 0); carry != 0 {
			return nil, fmt.Errorf("%w: pool total would overflow", ErrInvalidAmount)
		}

		if next.Address.IsZero() {
			addr, _, err := pda.PositionAddress(e.programID, user, pool.Address)
			if err != nil {
				return nil, fmt.Errorf("derive position address: %w", err)
			}
			next.Address = addr
		}

		next.Amount = total
		next.StakeTime = now
		next.RewardsClaimed = 0
		next.UpdatedAt = now

		vault := pool.Vault()
		signer, err := e.poolSigner(pool)
		if err != nil {
			return nil, err
		}
		leg = &transferLeg{
			from:        domain.TokenAccount{Owner: user, Mint: pool.TokenMint},
			to:          vault,
			amount:      amount,
			auth:        custody.Owner(user),
			reverseAuth: signer,
		}

		return &storage.Transition{
			Position: &next,
			Delta:    domain.PoolDelta{StakedIn: amount},
			Effect:   leg.effect(e),
		}, nil
	})
	if err != nil {
		return nil, e.updateError(ctx, "stake", poolID, leg, err)
	}

	observability.RecordStake(amount)
	e.logger.Printf("stake pool=%d user=%s amount=%d position=%d total_staked=%d",
		poolID, user, amount, pos.Amount, pool.TotalStaked)
	e.committed(ctx, pool, domain.LedgerEvent{
		Kind:   domain.EventStake,
		PoolID: poolID,
		User:   user,
		Amount: amount,
	}, now)

	return pos, nil
}

// Claim pays the position's claimable reward from the pool vault and returns the amount paid.
func (e *Engine) Claim(ctx context.Context, poolID uint64, user domain.Pubkey) (paid uint64, err error) {
	defer e.observe("claim", time.Now(), &err)

	var (
		now int64
		leg *transferLeg
	)

	pool, _, err := e.ledger.Update(ctx, key(poolID, user), func(pool domain.Pool, cur *domain.Position) (*storage.Transition, error) {
		now = e.now()
		if !cur.IsActive() {
			return nil, fmt.Errorf("%w: no active position", ErrNoRewardsToClaim)
		}

		wide, err := reward.ClaimableWide(cur.Amount, pool.RewardRate, cur.StakeTime, now, cur.RewardsClaimed)
		if err != nil {
			return nil, e.invariant("reward", err)
		}
		if wide.IsZero() {
			return nil, ErrNoRewardsToClaim
		}
		reserve := pool.RewardReserve()
		if !wide.IsUint64() || wide.Uint64() > reserve {
			return nil, fmt.Errorf("%w: claimable %s, reserve %d", ErrInsufficientRewardReserve, wide.Dec(), reserve)
		}
		claimable := wide.Uint64()

		next := *cur
		if err := addClaimed(&next, claimable); err != nil {
			return nil, e.invariant("claimed_counter", err)
		}
		next.UpdatedAt = now

		signer, err := e.poolSigner(pool)
		if err != nil {
			return nil, err
		}
		leg = &transferLeg{
			from:        pool.Vault(),
			to:          domain.TokenAccount{Owner: user, Mint: pool.TokenMint},
			amount:      claimable,
			auth:        signer,
			reverseAuth: custody.Owner(user),
		}

		return &storage.Transition{
			Position: &next,
			Delta:    domain.PoolDelta{RewardsPaid: claimable},
			Effect:   leg.effect(e),
		}, nil
	})
	if err != nil {
		return 0, e.updateError(ctx, "claim", poolID, leg, err)
	}

	paid = leg.amount
	observability.RecordClaim(paid)
	e.logger.Printf("claim pool=%d user=%s rewards=%d total_rewards=%d", poolID, user, paid, pool.TotalRewards)
	e.committed(ctx, pool, domain.LedgerEvent{
		Kind:    domain.EventClaim,
		PoolID:  poolID,
		User:    user,
		Rewards: paid,
	}, now)

	return paid, nil
}

// Unstake returns the full principal once the lock has elapsed, together with outstanding rewards
// in the same transfer. Rewards beyond the pool's reserve are forfeited. The record is kept, zeroed.
func (e *Engine) Unstake(ctx context.Context, poolID uint64, user domain.Pubkey) (res *UnstakeResult, err error) {
	defer e.observe("unstake", time.Now(), &err)

	var (
		now int64
		leg *transferLeg
	)
	res = &UnstakeResult{}

	pool, pos, err := e.ledger.Update(ctx, key(poolID, user), func(pool domain.Pool, cur *domain.Position) (*storage.Transition, error) {
		now = e.now()
		if !cur.IsActive() {
			return nil, ErrNoActivePosition
		}

		unlock, overflow := unlockTime(cur.StakeTime, pool.LockPeriod)
		if overflow || now < unlock {
			return nil, fmt.Errorf("%w: unlocks at %d, now %d", ErrLockPeriodNotReached, unlock, now)
		}

		// Principal is always returned; rewards are capped by the reserve.
		paid, forfeited, err := reward.Payable(cur.Amount, pool.RewardRate, cur.StakeTime, now, cur.RewardsClaimed, pool.RewardReserve())
		if err != nil {
			return nil, e.invariant("reward", err)
		}

		total, carry := bits.Add64(cur.Amount, paid, 0)
		if carry != 0 {
			return nil, e.invariant("payout", fmt.Errorf("%w: principal %d + rewards %d", domain.ErrCounterOverflow, cur.Amount, paid))
		}

		next := *cur
		if err := addClaimed(&next, paid); err != nil {
			return nil, e.invariant("claimed_counter", err)
		}
		next.Amount = 0
		next.StakeTime = 0
		next.RewardsClaimed = 0
		next.UpdatedAt = now

		signer, err := e.poolSigner(pool)
		if err != nil {
			return nil, err
		}
		leg = &transferLeg{
			from:        pool.Vault(),
			to:          domain.TokenAccount{Owner: user, Mint: pool.TokenMint},
			amount:      total,
			auth:        signer,
			reverseAuth: custody.Owner(user),
		}

		res.Withdrawn = cur.Amount
		res.RewardsPaid = paid
		res.RewardsForfeited = forfeited

		return &storage.Transition{
			Position: &next,
			Delta:    domain.PoolDelta{StakedOut: cur.Amount, RewardsPaid: paid},
			Effect:   leg.effect(e),
		}, nil
	})
	if err != nil {
		return nil, e.updateError(ctx, "unstake", poolID, leg, err)
	}
	res.Position = pos

	observability.RecordUnstake(res.Withdrawn, res.RewardsPaid, res.RewardsForfeited)
	if res.RewardsForfeited > 0 {
		e.logger.Printf("WARN unstake pool=%d user=%s forfeited %d rewards: reserve exhausted",
			poolID, user, res.RewardsForfeited)
	}
	e.logger.Printf("unstake pool=%d user=%s principal=%d rewards=%d total_staked=%d",
		poolID, user, res.Withdrawn, res.RewardsPaid, pool.TotalStaked)
	e.committed(ctx, pool, domain.LedgerEvent{
		Kind:      domain.EventUnstake,
		PoolID:    poolID,
		User:      user,
		Amount:    res.Withdrawn,
		Rewards:   res.RewardsPaid,
		Forfeited: res.RewardsForfeited,
	}, now)

	return res, nil
}

// FundRewards moves amount from the funder's account into the pool vault as reward reserve.
func (e *Engine) FundRewards(ctx context.Context, poolID uint64, funder domain.Pubkey, amount uint64) (pool *domain.Pool, err error) {
	defer e.observe("fund_rewards", time.Now(), &err)

	if amount == 0 {
		return nil, fmt.Errorf("%w: funding amount must be positive", ErrInvalidAmount)
	}

	var (
		now int64
		leg *transferLeg
	)

	pool, _, err = e.ledger.Update(ctx, key(poolID, funder), func(pool domain.Pool, _ *domain.Position) (*storage.Transition, error) {
		now = e.now()
		if _, carry := bits.Add64(pool.RewardsFunded, amount, 0); carry != 0 {
			return nil, fmt.Errorf("%w: reward reserve would overflow", ErrInvalidAmount)
		}

		signer, err := e.poolSigner(pool)
		if err != nil {
			return nil, err
		}
		leg = &transferLeg{
			from:        domain.TokenAccount{Owner: funder, Mint: pool.TokenMint},
			to:          pool.Vault(),
			amount:      amount,
			auth:        custody.Owner(funder),
			reverseAuth: signer,
		}

		return &storage.Transition{
			Delta:  domain.PoolDelta{RewardsFunded: amount},
			Effect: leg.effect(e),
		}, nil
	})
	if err != nil {
		return nil, e.updateError(ctx, "fund_rewards", poolID, leg, err)
	}

	observability.RecordFunding(amount)
	e.logger.Printf("fund pool=%d funder=%s amount=%d reserve=%d", poolID, funder, amount, pool.RewardReserve())
	e.committed(ctx, pool, domain.LedgerEvent{
		Kind:   domain.EventFundRewards,
		PoolID: poolID,
		User:   funder,
		Amount: amount,
	}, now)

	return pool, nil
}

// PendingRewards returns what Claim would pay now, without the reserve check.
// A missing or dormant position has nothing pending; a value beyond uint64 reads as math.MaxUint64.
func (e *Engine) PendingRewards(ctx context.Context, poolID uint64, user domain.Pubkey) (uint64, error) {
	pool, err := e.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}

	pos, err := e.ledger.GetPosition(ctx, poolID, user)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get position: %w", err)
	}

	claimable, err := reward.ClaimableWide(pos.Amount, pool.RewardRate, pos.StakeTime, e.now(), pos.RewardsClaimed)
	if err != nil {
		if errors.Is(err, reward.ErrClaimedExceedsAccrued) {
			observability.RecordInvariantViolation("reward")
			e.logger.Printf("ERROR pending rewards pool=%d user=%s: %v", poolID, user, err)
			return 0, nil
		}
		return 0, e.invariant("reward", err)
	}
	if !claimable.IsUint64() {
		return math.MaxUint64, nil
	}
	return claimable.Uint64(), nil
}

// updateError maps an Update failure. A commit that failed after the transfer is compensated.
func (e *Engine) updateError(ctx context.Context, op string, poolID uint64, leg *transferLeg, err error) error {
	if errors.Is(err, storage.ErrCommitAfterEffect) && leg != nil {
		return e.compensate(ctx, op, leg, err)
	}
	return e.ledgerError(poolID, err)
}

// unlockTime returns stakeTime + lockPeriod and whether the sum overflowed.
func unlockTime(stakeTime, lockPeriod int64) (int64, bool) {
	if lockPeriod > 0 && stakeTime > maxInt64-lockPeriod {
		return maxInt64, true
	}
	return stakeTime + lockPeriod, false
}

const maxInt64 = 1<<63 - 1

// addClaimed credits paid to both reward counters with overflow checks.
func addClaimed(pos *domain.Position, paid uint64) error {
	claimed, carry := bits.Add64(pos.RewardsClaimed, paid, 0)
	if carry != 0 {
		return fmt.Errorf("%w: rewards_claimed", domain.ErrCounterOverflow)
	}
	total, carry := bits.Add64(pos.TotalClaimed, paid, 0)
	if carry != 0 {
		return fmt.Errorf("%w: total_claimed", domain.ErrCounterOverflow)
	}
	pos.RewardsClaimed = claimed
	pos.TotalClaimed = total
	return nil
}

func key(poolID uint64, user domain.Pubkey) domain.PositionKey {
	return domain.PositionKey{PoolID: poolID, User: user}
}
