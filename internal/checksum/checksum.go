package checksum

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Sum returns the hex-encoded BLAKE3 digest of data.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Equal reports whether a and b have the same digest.
func Equal(a, b []byte) bool {
	return blake3.Sum256(a) == blake3.Sum256(b)
}
