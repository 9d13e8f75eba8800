package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	// Pools and ledger events are never overwritten.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConstraint is returned when staging a transition would break a counter bound.
	ErrConstraint = errors.New("constraint violation")

	// ErrCommitAfterEffect is returned when a transition's effect ran but the commit failed.
	// The caller owns compensating the effect.
	ErrCommitAfterEffect = errors.New("commit failed after effect")
)
