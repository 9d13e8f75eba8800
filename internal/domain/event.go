package domain

// EventKind represents the ledger operation that produced an event.
type EventKind string

const (
	EventCreatePool  EventKind = "CREATE_POOL"
	EventFundRewards EventKind = "FUND_REWARDS"
	EventStake       EventKind = "STAKE"
	EventUnstake     EventKind = "UNSTAKE"
	EventClaim       EventKind = "CLAIM"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventCreatePool, EventFundRewards, EventStake, EventUnstake, EventClaim:
		return true
	}
	return false
}

// LedgerEvent is an append-only record of a committed ledger transition.
// Corresponds to the ledger_events table in ClickHouse.
type LedgerEvent struct {
	EventID     string    // deterministic hash
	Seq         uint64    // per-process sequence number
	Kind        EventKind // operation
	PoolID      uint64
	User        Pubkey // actor (authority for CREATE_POOL, funder for FUND_REWARDS)
	Amount      uint64 // principal moved (stake, unstake, fund)
	Rewards     uint64 // rewards paid (claim, unstake)
	Forfeited   uint64 // rewards forfeited on unstake
	TotalStaked uint64 // pool total after the transition
	Timestamp   int64  // unix seconds
}
