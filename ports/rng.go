package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic resampling
type RNGPort interface {
	// Stream returns the generator for draw index of a named procedure. The same
	// (name, seed, index) must always yield the same sequence, independent of call order.
	Stream(name string, seed uint64, index int) *rand.Rand
}
