package media

import (
	"hash/fnv"
	"math/bits"
)

// fingerprintThreshold is the Hamming distance under which two media
// fingerprints are considered the same page state.
const fingerprintThreshold = 3

// Fingerprint computes a 64-bit SimHash over a list of media sources.
// Each source is one token hashed with FNV-64a. Order does not matter.
func Fingerprint(sources []string) uint64 {
	if len(sources) == 0 {
		return 0
	}

	var vector [64]int
	for _, src := range sources {
		h := fnv.New64a()
		h.Write([]byte(src))
		hash := h.Sum64()
		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether a and b are within threshold bits of each other.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
