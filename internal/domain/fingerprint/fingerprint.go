// Package fingerprint derives dedup keys from message payloads.
package fingerprint

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Size is the length of a fingerprint string.
const Size = 16

// Fingerprint returns the xxHash64 of payload as 16 lowercase hex characters.
// It is not a cryptographic digest; collisions are possible but rare.
func Fingerprint(payload []byte) string {
	var buf [8]byte
	sum := xxhash.Sum64(payload)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(sum)
		sum >>= 8
	}
	return hex.EncodeToString(buf[:])
}
