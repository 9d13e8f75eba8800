package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"staking-ledger/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(kind|pool_id|user|amount|timestamp|seq)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	kind domain.EventKind,
	poolID uint64,
	user domain.Pubkey,
	amount uint64,
	timestamp int64,
	seq uint64,
) string {
	data := fmt.Sprintf("%s|%d|%s|%d|%d|%d",
		string(kind),
		poolID,
		user.String(),
		amount,
		timestamp,
		seq,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
