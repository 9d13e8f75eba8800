package domain

import "fmt"

// TokenAccount is a custodial balance of one mint held by one owner.
type TokenAccount struct {
	Owner Pubkey
	Mint  Pubkey
}

// String returns "owner/mint".
func (a TokenAccount) String() string {
	return fmt.Sprintf("%s/%s", a.Owner, a.Mint)
}
