package vectorstore

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
)

func benchStore(b *testing.B, count, dim int) (*Store, [][]float32) {
	b.Helper()
	r := rand.New(rand.NewSource(1))

	s, err := New(WithDimension(dim))
	if err != nil {
		b.Fatal(err)
	}
	queries := make([][]float32, 64)
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(r.NormFloat64())
		}
		if err := s.Add(fmt.Sprintf("v%d", i), vec, nil); err != nil {
			b.Fatal(err)
		}
	}
	for i := range queries {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(r.NormFloat64())
		}
		distance.NormalizeL2InPlace(vec)
		queries[i] = vec
	}
	return s, queries
}

func BenchmarkSearch(b *testing.B) {
	for _, count := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("count=%d", count), func(b *testing.B) {
			s, queries := benchStore(b, count, 128)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Search(queries[i%len(queries)], 10, nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkAdd(b *testing.B) {
	r := rand.New(rand.NewSource(2))
	s, err := New(WithDimension(128))
	if err != nil {
		b.Fatal(err)
	}
	vec := make([]float32, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range vec {
			vec[j] = float32(r.NormFloat64())
		}
		if err := s.Add(fmt.Sprintf("v%d", i), vec, nil); err != nil {
			b.Fatal(err)
		}
	}
}
