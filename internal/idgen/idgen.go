// Package idgen generates the identifiers the store hands out: time-ordered
// UUIDs for attempts, outputs, and events, and content hashes for the blob
// store.
package idgen

import (
	"encoding/hex"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// NewAttemptID returns a new time-ordered 128-bit UUID (v7) suitable for an
// attempt, output, or event identity. UUIDv7 embeds a millisecond timestamp
// in its high bits, so lexical sort order and creation order agree.
func NewAttemptID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/rand source is broken beyond
		// repair; fall back to a random v4 rather than panic a caller that's
		// just trying to record a command.
		return uuid.New().String()
	}
	return id.String()
}

// ContentHash returns the hex-encoded 256-bit BLAKE3 hash of bytes, the
// identity used by the blob store and by Output.ContentHash.
func ContentHash(data []byte) string {
	hasher := blake3.New(32, nil)
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ShardSubdir returns the two-character sharding subdirectory for a hex
// hash, matching the blob store's layout.
func ShardSubdir(hexHash string) string {
	if len(hexHash) < 2 {
		return "00"
	}
	return hexHash[0:2]
}
