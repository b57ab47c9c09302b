// Package entropy provides the random source shared by the stochastic
// market models: equity shocks, loan defaults, condition decay, event rolls.
// A fixed seed makes a run reproducible; seed 0 draws one from crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
)

// Source is a goroutine-safe pseudo-random source.
type Source struct {
	mu   sync.Mutex
	rng  *mrand.Rand
	seed int64
}

// New creates a Source. A zero seed is replaced with a crypto-random one.
func New(seed int64) *Source {
	if seed == 0 {
		seed = cryptoSeed()
	}
	return &Source{
		rng:  mrand.New(mrand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the seed the source was built with.
func (s *Source) Seed() int64 { return s.seed }

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NormFloat64 returns a standard normal draw.
func (s *Source) NormFloat64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()
}

// Intn returns a uniform int in [0, n). n <= 0 yields 0.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Chance reports whether an event with probability p fires.
func (s *Source) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.Float64() < p
}

func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to a fixed seed.
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
