// Package refid generates transaction reference ids. The generator is a
// best-effort collision avoider; the database unique index on reference_id
// remains the source of truth for uniqueness.
package refid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generate returns "{prefix}_{unixMillis}_{96 bits of hex randomness}".
// Collisions need the same millisecond and the same 12 random bytes, so the
// probability is negligible but callers still handle the duplicate-key path.
func Generate(prefix string) string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process has bigger problems; a
		// nanosecond fallback keeps the id usable for the unique index.
		return fmt.Sprintf("%s_%d_%024x", prefix, time.Now().UnixMilli(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}
