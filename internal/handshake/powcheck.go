package handshake

import (
	"math"
	"math/bits"

	"golang.org/x/crypto/blake2b"
)

// DefaultPowTarget is the default proof-of-work difficulty target used
// when a connection message's soft check runs without an explicit target.
const DefaultPowTarget = 26.0

// checkProofOfWork verifies that blake2b(region) has at least target
// leading zero bits. The digest's leading-zero count is a whole number, so
// a fractional target is met only by the next whole number of bits. A
// target of zero or less always passes.
func checkProofOfWork(region []byte, target float64) bool {
	if target <= 0 {
		return true
	}
	sum := blake2b.Sum256(region)
	return leadingZeroBits(sum[:]) >= target
}

func leadingZeroBits(digest []byte) float64 {
	var total int
	for _, b := range digest {
		if b == 0 {
			total += 8
			continue
		}
		total += bits.LeadingZeros8(b)
		break
	}
	return math.Min(float64(total), float64(len(digest)*8))
}
