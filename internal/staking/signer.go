package staking

import (
	"context"
	"errors"
	"fmt"

	"staking-ledger/internal/custody"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/pda"
)

// poolSigner is the pool's authority over its vault. Only the engine can construct one,
// and only for a pool whose stored address re-derives from the program id.
type poolSigner struct {
	address domain.Pubkey
}

func (s poolSigner) Signer() domain.Pubkey {
	return s.address
}

func (e *Engine) poolSigner(pool domain.Pool) (custody.Authority, error) {
	addr, bump, err := pda.PoolAddress(e.programID, pool.PoolID)
	if err != nil {
		return nil, e.invariant("pool_address", err)
	}
	if addr != pool.Address || bump != pool.Bump {
		return nil, e.invariant("pool_address",
			fmt.Errorf("pool %d stored address %s/%d, derived %s/%d", pool.PoolID, pool.Address, pool.Bump, addr, bump))
	}
	return poolSigner{address: addr}, nil
}

// transferLeg is the external value movement of one transition.
type transferLeg struct {
	from, to    domain.TokenAccount
	amount      uint64
	auth        custody.Authority
	reverseAuth custody.Authority
}

// effect returns the transfer as a storage.Transition effect.
func (l *transferLeg) effect(e *Engine) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := e.custody.Transfer(ctx, l.from, l.to, l.amount, l.auth); err != nil {
			observability.RecordTransferFailure(transferReason(err))
			return fmt.Errorf("%w: %d from %s to %s: %w", ErrTransferFailed, l.amount, l.from, l.to, err)
		}
		return nil
	}
}

// compensate reverses a leg whose ledger commit failed after the transfer succeeded.
func (e *Engine) compensate(ctx context.Context, op string, l *transferLeg, cause error) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.custody.Transfer(ctx, l.to, l.from, l.amount, l.reverseAuth); err != nil {
		observability.RecordCompensation("failed")
		e.logger.Printf("ERROR %s: compensation of %d from %s to %s failed: %v (commit: %v)",
			op, l.amount, l.to, l.from, err, cause)
		return e.invariant("compensation_failed",
			fmt.Errorf("%s commit failed and %d could not be returned to %s: %w", op, l.amount, l.from, errors.Join(cause, err)))
	}

	observability.RecordCompensation("ok")
	e.logger.Printf("ERROR %s: commit failed after transfer, returned %d to %s: %v", op, l.amount, l.from, cause)
	return e.invariant("commit_after_transfer", fmt.Errorf("%s commit failed, transfer compensated: %w", op, cause))
}

func transferReason(err error) string {
	switch {
	case errors.Is(err, custody.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, custody.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, custody.ErrMintMismatch):
		return "mint_mismatch"
	case errors.Is(err, custody.ErrBalanceOverflow):
		return "balance_overflow"
	default:
		return "other"
	}
}
