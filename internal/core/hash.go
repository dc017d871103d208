package core

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// bucketHash maps s to a stable non-negative integer: the first eight bytes
// of its SHA-256 digest read big-endian, with the sign bit cleared. The
// result must never change across releases; stored rollouts depend on it.
func bucketHash(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8]) & math.MaxInt64
}
