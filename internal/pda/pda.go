// Package pda derives Solana program-derived addresses for pools and positions.
package pda

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"staking-ledger/internal/domain"
)

// Seed prefixes used by the staking program.
const (
	PoolSeed     = "staking_pool"
	PositionSeed = "user_stake"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// Derivation errors.
var (
	ErrMaxSeedLength = errors.New("seed exceeds 32 bytes")
	ErrTooManySeeds  = errors.New("more than 16 seeds")
	ErrNoViableBump  = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress hashes seeds||programID||"ProgramDerivedAddress".
// The last seed is normally the bump. Returns ok=false if the hash lands on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID domain.Pubkey) (domain.Pubkey, bool, error) {
	if len(seeds) > maxSeeds {
		return domain.Pubkey{}, false, ErrTooManySeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return domain.Pubkey{}, false, ErrMaxSeedLength
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr domain.Pubkey
	copy(addr[:], h.Sum(nil))
	if isOnCurve(addr[:]) {
		return domain.Pubkey{}, false, nil
	}
	return addr, true, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first off-curve address.
func FindProgramAddress(seeds [][]byte, programID domain.Pubkey) (domain.Pubkey, uint8, error) {
	if len(seeds) >= maxSeeds {
		return domain.Pubkey{}, 0, ErrTooManySeeds
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := byte(255); bump > 0; bump-- {
		withBump[len(seeds)] = []byte{bump}
		addr, ok, err := CreateProgramAddress(withBump, programID)
		if err != nil {
			return domain.Pubkey{}, 0, err
		}
		if ok {
			return addr, bump, nil
		}
	}

	return domain.Pubkey{}, 0, ErrNoViableBump
}

// PoolAddress derives the pool PDA: ["staking_pool", pool_id LE8].
func PoolAddress(programID domain.Pubkey, poolID uint64) (domain.Pubkey, uint8, error) {
	idBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBytes, poolID)

	addr, bump, err := FindProgramAddress([][]byte{[]byte(PoolSeed), idBytes}, programID)
	if err != nil {
		return domain.Pubkey{}, 0, fmt.Errorf("derive pool %d address: %w", poolID, err)
	}
	return addr, bump, nil
}

// PositionAddress derives the position PDA: ["user_stake", user, pool_address].
func PositionAddress(programID, user, poolAddress domain.Pubkey) (domain.Pubkey, uint8, error) {
	addr, bump, err := FindProgramAddress([][]byte{[]byte(PositionSeed), user[:], poolAddress[:]}, programID)
	if err != nil {
		return domain.Pubkey{}, 0, fmt.Errorf("derive position address for %s: %w", user, err)
	}
	return addr, bump, nil
}

// IsOnCurve reports whether key is a valid ed25519 point, i.e. could have a private key.
func IsOnCurve(key domain.Pubkey) bool {
	return isOnCurve(key[:])
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
