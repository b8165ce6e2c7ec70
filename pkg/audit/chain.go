package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// genesisHash is the fixed previous_hash value for the first entry of any
// agent's chain (spec.md §4.7).
func genesisHash() string {
	sum := sha256.Sum256([]byte("GENESIS"))
	return hex.EncodeToString(sum[:])
}

// computeHash links a new entry to the preceding one. It covers identity and
// ordering (prev log_id, prev timestamp, new log_id) plus the new entry's
// action, deliberately excluding resource/context/metadata.
func computeHash(prevLogID string, prevTimestamp time.Time, newLogID, newAction string) string {
	raw := prevLogID + "|" + prevTimestamp.Format(time.RFC3339Nano) + "|" + newLogID + "|" + newAction
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
