package cache

import (
	"math/rand"
	"testing"
)

func BenchmarkPutGet(b *testing.B) {
	for _, policy := range []Policy{PolicyLRU, PolicyLFU, PolicyTTL, PolicyAdaptive} {
		b.Run(policy.String(), func(b *testing.B) {
			c, err := New(
				WithMaxBytes(1<<20),
				WithPolicy(policy),
			)
			if err != nil {
				b.Fatal(err)
			}

			r := rand.New(rand.NewSource(1))
			values := make([][]byte, 64)
			for i := range values {
				values[i] = make([]byte, 256+r.Intn(768))
				r.Read(values[i])
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				key := uint64(i % 512)
				if i%4 == 0 {
					if err := c.Put(key, values[i%len(values)], 0); err != nil {
						b.Fatal(err)
					}
				} else {
					c.Get(key)
				}
			}
		})
	}
}

func BenchmarkFingerprint(b *testing.B) {
	r := rand.New(rand.NewSource(2))
	query := make([]float32, 128)
	for i := range query {
		query[i] = r.Float32()
	}
	params := []string{"faces", "skin_type=oily"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fingerprint(query, 10, params...)
	}
}

func BenchmarkEvictionPressure(b *testing.B) {
	for _, policy := range []Policy{PolicyLRU, PolicyAdaptive} {
		b.Run(policy.String(), func(b *testing.B) {
			// Budget fits roughly 32 entries, so most puts evict.
			c, err := New(
				WithMaxBytes(32*1100),
				WithPolicy(policy),
			)
			if err != nil {
				b.Fatal(err)
			}
			r := rand.New(rand.NewSource(3))
			value := make([]byte, 1024)
			r.Read(value)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := c.Put(uint64(i), value, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
