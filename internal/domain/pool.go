package domain

import (
	"errors"
	"fmt"
	"math/bits"
)

// Counter arithmetic errors. Both indicate a bookkeeping defect, not bad input.
var (
	ErrCounterOverflow  = errors.New("counter overflow")
	ErrCounterUnderflow = errors.New("counter underflow")
	ErrReserveExceeded  = errors.New("rewards paid exceed rewards funded")
)

// Pool is the per-pool ledger.
// Corresponds to the pools table in PostgreSQL.
type Pool struct {
	PoolID        uint64 // PRIMARY KEY
	RewardRate    uint64 // annual rate, fixed-point x1e6
	LockPeriod    int64  // seconds a stake must remain before unstake
	TotalStaked   uint64 // sum of live position amounts
	TotalRewards  uint64 // cumulative rewards paid, non-decreasing
	RewardsFunded uint64 // cumulative reward reserve deposited
	Authority     Pubkey // pool creator
	TokenMint     Pubkey // accepted token
	Address       Pubkey // program-derived pool address, owner of the vault
	Bump          uint8  // PDA bump seed
	CreatedAt     int64  // unix seconds
}

// Vault returns the pool's custodial token account.
func (p *Pool) Vault() TokenAccount {
	return TokenAccount{Owner: p.Address, Mint: p.TokenMint}
}

// RewardReserve returns funded rewards not yet paid out.
// A pool where TotalRewards exceeds RewardsFunded reports zero.
func (p *Pool) RewardReserve() uint64 {
	if p.TotalRewards >= p.RewardsFunded {
		return 0
	}
	return p.RewardsFunded - p.TotalRewards
}

// PoolDelta is a set of counter changes applied to a Pool as one step.
type PoolDelta struct {
	StakedIn      uint64
	StakedOut     uint64
	RewardsPaid   uint64
	RewardsFunded uint64
}

// IsZero reports whether the delta changes nothing.
func (d PoolDelta) IsZero() bool {
	return d == PoolDelta{}
}

// Apply adds d to the pool counters with overflow and underflow checks.
// Paid rewards may never exceed funded rewards. On error p is left unchanged.
func (p *Pool) Apply(d PoolDelta) error {
	staked, carry := bits.Add64(p.TotalStaked, d.StakedIn, 0)
	if carry != 0 {
		return fmt.Errorf("%w: total_staked", ErrCounterOverflow)
	}
	staked, borrow := bits.Sub64(staked, d.StakedOut, 0)
	if borrow != 0 {
		return fmt.Errorf("%w: total_staked", ErrCounterUnderflow)
	}
	rewards, carry := bits.Add64(p.TotalRewards, d.RewardsPaid, 0)
	if carry != 0 {
		return fmt.Errorf("%w: total_rewards", ErrCounterOverflow)
	}
	funded, carry := bits.Add64(p.RewardsFunded, d.RewardsFunded, 0)
	if carry != 0 {
		return fmt.Errorf("%w: rewards_funded", ErrCounterOverflow)
	}
	if rewards > funded {
		return fmt.Errorf("%w: total_rewards=%d rewards_funded=%d", ErrReserveExceeded, rewards, funded)
	}

	p.TotalStaked = staked
	p.TotalRewards = rewards
	p.RewardsFunded = funded
	return nil
}
