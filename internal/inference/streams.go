package inference

import (
	"math/rand/v2"
)

// DerivedStreams implements ports.RNGPort with one PCG stream per draw
type DerivedStreams struct{}

// Stream seeds a PCG generator from the base seed and a hash of the procedure name and draw index.
func (DerivedStreams) Stream(name string, seed uint64, index int) *rand.Rand {
	stream := uint64(hashString(name))<<32 ^ uint64(index)*0x9E3779B97F4A7C15
	return rand.New(rand.NewPCG(seed, stream))
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2
	}
	return hash
}
