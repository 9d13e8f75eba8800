package domain

// Position is a user's stake in one pool, keyed by (PoolID, User).
// Corresponds to the positions table in PostgreSQL.
type Position struct {
	PoolID         uint64
	User           Pubkey
	Amount         uint64 // 0 when dormant
	StakeTime      int64  // start of current accrual period (unix seconds), 0 when dormant
	RewardsClaimed uint64 // paid during the current accrual period
	TotalClaimed   uint64 // lifetime rewards paid, survives unstake
	Address        Pubkey // program-derived position address
	UpdatedAt      int64  // unix seconds
}

// IsActive reports whether the position holds stake.
func (p *Position) IsActive() bool {
	return p != nil && p.Amount > 0
}

// PositionKey identifies a position record.
type PositionKey struct {
	PoolID uint64
	User   Pubkey
}

// Key returns the record key.
func (p *Position) Key() PositionKey {
	return PositionKey{PoolID: p.PoolID, User: p.User}
}
