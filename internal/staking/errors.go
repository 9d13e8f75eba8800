package staking

import "errors"

// Validation errors. The request was rejected and nothing changed.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidLockPeriod    = errors.New("invalid lock period")
	ErrPoolAlreadyExists    = errors.New("pool already exists")
	ErrPoolNotFound         = errors.New("pool not found")
	ErrPositionNotFound     = errors.New("position not found")
	ErrActivePositionExists = errors.New("active position has unclaimed rewards")
	ErrNoActivePosition     = errors.New("no active position")
)

// Temporal errors.
var (
	ErrLockPeriodNotReached = errors.New("lock period not reached")
)

// Reward errors.
var (
	ErrNoRewardsToClaim          = errors.New("no rewards to claim")
	ErrInsufficientRewardReserve = errors.New("insufficient reward reserve")
)

// Arithmetic and collaborator errors.
var (
	// ErrInvariantViolation wraps a bookkeeping defect: counter overflow or underflow,
	// rewards claimed beyond accrual, or a commit that failed after value moved.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrTransferFailed wraps the custody error, so errors.Is also matches the custody sentinel.
	ErrTransferFailed = errors.New("transfer failed")
)

// IsRejection reports whether err is a validation, temporal or reward rejection.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInvalidLockPeriod, ErrPoolAlreadyExists, ErrPoolNotFound,
		ErrPositionNotFound, ErrActivePositionExists, ErrNoActivePosition,
		ErrLockPeriodNotReached, ErrNoRewardsToClaim, ErrInsufficientRewardReserve,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
