package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"staking-ledger/internal/domain"
)

// Report represents the ledger report structure.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	AsOf        int64 // unix seconds used for pending rewards

	Summary Summary

	// Integrity (verifier output)
	Integrity IntegritySection

	// Pools sorted by pool_id, positions by (pool_id, user)
	Pools     []PoolRow
	Positions []PositionRow
}

// Summary aggregates all pools. Totals are decimal so sums across pools cannot wrap.
type Summary struct {
	Pools            int
	ActivePositions  int
	DormantPositions int
	TotalStaked      decimal.Decimal
	TotalRewards     decimal.Decimal
	RewardsFunded    decimal.Decimal
	PendingRewards   decimal.Decimal
}

// IntegritySection contains verifier violations.
type IntegritySection struct {
	Checked         bool
	Violations      []string
	AllChecksPassed bool
}

// PoolRow represents one row in the pools table.
type PoolRow struct {
	PoolID           uint64
	RatePercent      decimal.Decimal // annual rate in percent
	LockPeriod       int64           // seconds
	TokenMint        domain.Pubkey
	Address          domain.Pubkey
	TotalStaked      uint64
	TotalRewards     uint64
	RewardsFunded    uint64
	RewardReserve    uint64
	ActivePositions  int
	DormantPositions int
	PendingRewards   decimal.Decimal
	ReserveCoverage  string // reserve / pending, "n/a" when nothing is pending
}

// PositionRow represents one position.
type PositionRow struct {
	PoolID         uint64
	User           domain.Pubkey
	Amount         uint64
	StakeTime      int64
	UnlockTime     int64
	Unlocked       bool
	RewardsClaimed uint64
	TotalClaimed   uint64
	PendingRewards decimal.Decimal
}
