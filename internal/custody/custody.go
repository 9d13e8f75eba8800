// Package custody defines the value-transfer primitive the staking ledger consumes.
package custody

import (
	"context"
	"errors"
	"fmt"

	"staking-ledger/internal/domain"
)

// Transfer errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMintMismatch      = errors.New("mint mismatch")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrInvalidAmount     = errors.New("invalid transfer amount")
)

// Authority is a signing capability presented with a transfer.
// The source account's owner must match Signer().
type Authority interface {
	Signer() domain.Pubkey
}

// Owner is the authority of an account holder over its own balances.
type Owner domain.Pubkey

// Signer returns the owner key.
func (o Owner) Signer() domain.Pubkey {
	return domain.Pubkey(o)
}

// Transferer moves value between custodial balances.
// Transfer moves exactly amount or nothing.
type Transferer interface {
	Transfer(ctx context.Context, from, to domain.TokenAccount, amount uint64, auth Authority) error
}

// Ledger is a Transferer that can also report and seed balances.
type Ledger interface {
	Transferer

	// Balance returns the balance of acct, 0 if it was never funded.
	Balance(ctx context.Context, acct domain.TokenAccount) (uint64, error)

	// Deposit credits acct from outside the ledger (faucet, airdrop, bridge).
	Deposit(ctx context.Context, acct domain.TokenAccount, amount uint64) error
}

// Authorize validates a transfer request before any balance is touched.
func Authorize(from, to domain.TokenAccount, amount uint64, auth Authority) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from.Mint != to.Mint {
		return fmt.Errorf("%w: %s -> %s", ErrMintMismatch, from.Mint, to.Mint)
	}
	if auth == nil || auth.Signer() != from.Owner {
		return fmt.Errorf("%w: %s may not debit %s", ErrUnauthorized, signerOf(auth), from)
	}
	return nil
}

func signerOf(auth Authority) string {
	if auth == nil {
		return "<nil>"
	}
	return auth.Signer().String()
}
