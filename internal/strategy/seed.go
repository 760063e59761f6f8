package strategy

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Bucket places a participant in [1,100] for the given plan.
//
// The seed is the wrapping sum of the low 64 bits of the plan guid and of the
// health id, each read as a UUID. The arithmetic (two's-complement abs and
// truncated modulo) must stay exactly as is: changing it would move existing
// participants between A/B groups.
func Bucket(planGUID, healthID string) int {
	seed := leastSignificantBits(planGUID) + leastSignificantBits(healthID)
	if seed < 0 {
		seed = -seed // MinInt64 stays negative, and so does its remainder.
	}
	return int(seed%100) + 1
}

// leastSignificantBits returns bytes 8..15 of id as a signed big-endian
// integer. Identifiers that are not UUIDs are first mapped to a name-based
// UUID so the derivation stays stable.
func leastSignificantBits(id string) int64 {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	return int64(binary.BigEndian.Uint64(u[8:]))
}
