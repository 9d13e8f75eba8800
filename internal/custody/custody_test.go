package custody

import (
	"errors"
	"testing"

	"staking-ledger/internal/domain"
)

func TestAuthorize(t *testing.T) {
	mint := domain.Pubkey{9}
	other := domain.Pubkey{8}
	alice := domain.Pubkey{1}
	bob := domain.Pubkey{2}

	from := domain.TokenAccount{Owner: alice, Mint: mint}
	to := domain.TokenAccount{Owner: bob, Mint: mint}

	tests := []struct {
		name    string
		to      domain.TokenAccount
		amount  uint64
		auth    Authority
		wantErr error
	}{
		{name: "owner signs", to: to, amount: 10, auth: Owner(alice)},
		{name: "zero amount", to: to, amount: 0, auth: Owner(alice), wantErr: ErrInvalidAmount},
		{name: "wrong signer", to: to, amount: 10, auth: Owner(bob), wantErr: ErrUnauthorized},
		{name: "nil authority", to: to, amount: 10, auth: nil, wantErr: ErrUnauthorized},
		{name: "mint mismatch", to: domain.TokenAccount{Owner: bob, Mint: other}, amount: 10, auth: Owner(alice), wantErr: ErrMintMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(from, tt.to, tt.amount, tt.auth)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Authorize failed: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
