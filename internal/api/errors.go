package api

import (
	"errors"
	"net/http"

	"staking-ledger/internal/staking"
)

// httpError is an error with a status code, returned by handlers for request-level failures.
type httpError struct {
	status int
	code   string
	msg    string
}

func (e *httpError) Error() string {
	return e.msg
}

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, code: "bad_request", msg: msg}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, staking.ErrInvalidAmount), errors.Is(err, staking.ErrInvalidLockPeriod):
		return http.StatusBadRequest
	case errors.Is(err, staking.ErrPoolNotFound), errors.Is(err, staking.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, staking.ErrPoolAlreadyExists),
		errors.Is(err, staking.ErrActivePositionExists),
		errors.Is(err, staking.ErrNoActivePosition),
		errors.Is(err, staking.ErrLockPeriodNotReached),
		errors.Is(err, staking.ErrNoRewardsToClaim),
		errors.Is(err, staking.ErrInsufficientRewardReserve):
		return http.StatusConflict
	case errors.Is(err, staking.ErrTransferFailed):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// errorCode names the failure for clients.
func errorCode(err error) string {
	var he *httpError
	if errors.As(err, &he) {
		return he.code
	}
	for _, c := range []struct {
		target error
		code   string
	}{
		{staking.ErrInvalidAmount, "invalid_amount"},
		{staking.ErrInvalidLockPeriod, "invalid_lock_period"},
		{staking.ErrPoolAlreadyExists, "pool_already_exists"},
		{staking.ErrPoolNotFound, "pool_not_found"},
		{staking.ErrPositionNotFound, "position_not_found"},
		{staking.ErrActivePositionExists, "active_position_exists"},
		{staking.ErrNoActivePosition, "no_active_position"},
		{staking.ErrLockPeriodNotReached, "lock_period_not_reached"},
		{staking.ErrNoRewardsToClaim, "no_rewards_to_claim"},
		{staking.ErrInsufficientRewardReserve, "insufficient_reward_reserve"},
		{staking.ErrTransferFailed, "transfer_failed"},
		{staking.ErrInvariantViolation, "invariant_violation"},
	} {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "internal"
}
