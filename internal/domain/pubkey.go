package domain

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of an ed25519 public key / Solana address.
const PubkeyLength = 32

// ErrInvalidPubkey is returned when a base58 string does not decode to 32 bytes.
var ErrInvalidPubkey = errors.New("invalid pubkey")

// Pubkey identifies an account holder, a mint or a program-derived address.
type Pubkey [PubkeyLength]byte

// ZeroPubkey is the all-zero key (the system program address).
var ZeroPubkey Pubkey

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	if s == "" {
		return pk, fmt.Errorf("%w: empty", ErrInvalidPubkey)
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(decoded) != PubkeyLength {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPubkey, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustParsePubkey is ParsePubkey for constants and tests.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLength {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPubkey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 encoding.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the raw key.
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLength)
	copy(b, p[:])
	return b
}

// IsZero reports whether p is the zero key.
func (p Pubkey) IsZero() bool {
	return p == ZeroPubkey
}

// MarshalText implements encoding.TextMarshaler (JSON and YAML use base58).
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}
