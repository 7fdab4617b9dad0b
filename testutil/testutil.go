package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over per-element calls).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// Embedding returns one random unit-norm embedding of the given dimension.
// Components are drawn from a standard normal so directions are uniform on
// the sphere, matching the distribution of real feature extractor output
// better than uniform box sampling.
func (r *RNG) Embedding(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.embeddingLocked(dim)
}

func (r *RNG) embeddingLocked(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.rand.NormFloat64())
	}
	distance.NormalizeL2InPlace(v)
	return v
}

// Embeddings returns num random unit-norm embeddings.
func (r *RNG) Embeddings(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]float32, num)
	for i := range out {
		out[i] = r.embeddingLocked(dim)
	}
	return out
}

// Perturbed returns a unit-norm embedding close to base: base plus scaled
// gaussian noise, renormalized. Useful for building queries with a known
// nearest neighbor.
func (r *RNG) Perturbed(base []float32, noise float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := make([]float32, len(base))
	for i := range v {
		v[i] = base[i] + noise*float32(r.rand.NormFloat64())
	}
	if !distance.NormalizeL2InPlace(v) {
		copy(v, distance.CanonicalUnit(len(v)))
	}
	return v
}

// IDs returns sequential ids with the given prefix: "<prefix>-0" onward.
func IDs(prefix string, num int) []string {
	out := make([]string, num)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}
