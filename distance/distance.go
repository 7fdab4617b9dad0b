// Package distance provides vector distance and normalization primitives for
// fixed-dimension float32 embeddings.
package distance

import (
	"fmt"
	"math"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// CanonicalUnit returns the deterministic unit vector substituted for
// zero-norm inputs: the first standard basis vector e0.
// Degenerate embeddings therefore produce reproducible search results.
func CanonicalUnit(dim int) []float32 {
	v := make([]float32, dim)
	if dim > 0 {
		v[0] = 1
	}
	return v
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm; v is left unchanged in that case.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// A zero-norm src yields CanonicalUnit(len(src)) so that callers never
// observe a non-unit vector.
func NormalizeL2Copy(src []float32) []float32 {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return CanonicalUnit(len(src))
	}
	return dst
}

// Metric represents the similarity metric used for vector comparison.
type Metric int

const (
	// MetricInnerProduct scores by dot product over L2-normalized vectors
	// (cosine similarity).
	MetricInnerProduct Metric = iota
	// MetricL2 scores by negated squared Euclidean distance.
	MetricL2
)

func (m Metric) String() string {
	switch m {
	case MetricInnerProduct:
		return "InnerProduct"
	case MetricL2:
		return "L2"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Func scores the similarity of two vectors. Higher is more similar.
type Func func(a, b []float32) float32

// Provider returns the scoring function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricInnerProduct:
		return Dot, nil
	case MetricL2:
		return func(a, b []float32) float32 { return -SquaredL2(a, b) }, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}
