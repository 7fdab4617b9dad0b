package vectorstore

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
)

func newStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := New(WithDimension(dim))
	require.NoError(t, err)
	return s
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New()
	assert.Error(t, err, "zero dimension must be rejected")

	_, err = New(WithDimension(8), WithMetric(distance.Metric(42)))
	assert.Error(t, err)
}

func TestAdd(t *testing.T) {
	t.Run("SelfMatchScoresOne", func(t *testing.T) {
		s := newStore(t, 3)
		require.NoError(t, s.Add("a", []float32{1, 2, 3}, nil))

		res, err := s.Search([]float32{1, 2, 3}, 1, nil)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "a", res[0].ID)
		assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	})

	t.Run("DimensionMismatchCountsError", func(t *testing.T) {
		s := newStore(t, 128)
		before := s.Counters().Errors

		err := s.Add("bad", make([]float32, 129), nil)
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 128, dm.Expected)
		assert.Equal(t, 129, dm.Actual)
		assert.Equal(t, before+1, s.Counters().Errors)
		assert.Equal(t, 0, s.Count())
	})

	t.Run("DuplicateIDNoMutation", func(t *testing.T) {
		s := newStore(t, 2)
		require.NoError(t, s.Add("a", []float32{1, 0}, nil))

		err := s.Add("a", []float32{0, 1}, nil)
		var dup *ErrDuplicateID
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, 1, s.Count())

		// Original vector untouched.
		v, err := s.Reconstruct(0)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, v[0], 1e-6)
	})

	t.Run("ZeroVectorStoredAsCanonicalUnit", func(t *testing.T) {
		s := newStore(t, 4)
		require.NoError(t, s.Add("zero", make([]float32, 4), nil))

		v, err := s.Reconstruct(0)
		require.NoError(t, err)
		assert.Equal(t, distance.CanonicalUnit(4), v)
	})
}

func TestBatchAdd(t *testing.T) {
	s := newStore(t, 2)
	errs := s.BatchAdd(
		[]string{"a", "b", "a", "c"},
		[][]float32{{1, 0}, {0, 1, 1}, {0, 1}, {1, 1}},
		nil,
	)

	require.Len(t, errs, 4)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1], "wrong dimension is skipped, not fatal")
	assert.Error(t, errs[2], "duplicate id is skipped, not fatal")
	assert.NoError(t, errs[3])
	assert.Equal(t, 2, s.Count())
}

func TestSearch(t *testing.T) {
	t.Run("EmptyStore", func(t *testing.T) {
		s := newStore(t, 2)
		res, err := s.Search([]float32{1, 0}, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("InvalidK", func(t *testing.T) {
		s := newStore(t, 2)
		_, err := s.Search([]float32{1, 0}, 0, nil)
		assert.ErrorIs(t, err, ErrInvalidK)
	})

	t.Run("QueryDimensionMismatch", func(t *testing.T) {
		s := newStore(t, 2)
		require.NoError(t, s.Add("a", []float32{1, 0}, nil))
		_, err := s.Search([]float32{1, 0, 0}, 1, nil)
		var dm *ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)
	})

	t.Run("RanksDescendingSelfFirst", func(t *testing.T) {
		const dim = 128
		rng := rand.New(rand.NewSource(7))
		s := newStore(t, dim)

		queries := make([][]float32, 5)
		for i := 0; i < 5; i++ {
			v := make([]float32, dim)
			for j := range v {
				v[j] = rng.Float32() - 0.5
			}
			queries[i] = v
			require.NoError(t, s.Add(fmt.Sprintf("img%d", i), v, nil))
		}

		res, err := s.Search(queries[0], 5, nil)
		require.NoError(t, err)
		require.Len(t, res, 5)
		assert.Equal(t, "img0", res[0].ID)
		assert.InDelta(t, 1.0, res[0].Score, 1e-5)
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}
	})

	t.Run("TiesBreakByInsertionOrder", func(t *testing.T) {
		s := newStore(t, 2)
		require.NoError(t, s.Add("first", []float32{1, 0}, nil))
		require.NoError(t, s.Add("second", []float32{1, 0}, nil))

		res, err := s.Search([]float32{1, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "first", res[0].ID)
		assert.Equal(t, "second", res[1].ID)
	})

	t.Run("KLargerThanStore", func(t *testing.T) {
		s := newStore(t, 2)
		require.NoError(t, s.Add("a", []float32{1, 0}, nil))
		res, err := s.Search([]float32{1, 0}, 10, nil)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	})

	t.Run("MetadataFilter", func(t *testing.T) {
		s := newStore(t, 2)
		require.NoError(t, s.Add("a", []float32{1, 0}, map[string]any{"skin_type": "oily"}))
		require.NoError(t, s.Add("b", []float32{1, 0}, map[string]any{"skin_type": "dry"}))
		require.NoError(t, s.Add("c", []float32{0, 1}, map[string]any{"skin_type": "oily"}))

		res, err := s.Search([]float32{1, 0}, 10, &SearchOptions{
			Filter: map[string]string{"skin_type": "oily"},
		})
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "a", res[0].ID)
		assert.Equal(t, "c", res[1].ID)
	})

	t.Run("FilterOnUnknownValueMatchesNothing", func(t *testing.T) {
		s := newStore(t, 2)
		require.NoError(t, s.Add("a", []float32{1, 0}, map[string]any{"skin_type": "oily"}))

		res, err := s.Search([]float32{1, 0}, 10, &SearchOptions{
			Filter: map[string]string{"skin_type": "combination"},
		})
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestSearchL2Metric(t *testing.T) {
	s, err := New(WithDimension(2), WithMetric(distance.MetricL2))
	require.NoError(t, err)

	require.NoError(t, s.Add("near", []float32{1, 1}, nil))
	require.NoError(t, s.Add("far", []float32{5, 5}, nil))

	res, err := s.Search([]float32{0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "near", res[0].ID)
	assert.Greater(t, res[0].Score, res[1].Score)
}

func TestRemove(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Add("a", []float32{1, 0}, map[string]any{"tone": "warm"}))
	require.NoError(t, s.Add("b", []float32{0, 1}, map[string]any{"tone": "cool"}))
	require.NoError(t, s.Add("c", []float32{1, 1}, map[string]any{"tone": "warm"}))

	require.NoError(t, s.Remove("a"))
	assert.Equal(t, 2, s.Count())

	// Removed id never surfaces again.
	res, err := s.Search([]float32{1, 0}, 10, nil)
	require.NoError(t, err)
	for _, r := range res {
		assert.NotEqual(t, "a", r.ID)
	}

	// Remaining records are renumbered consistently.
	for pos, id := range s.IDs() {
		m, ok := s.MetaFor(id)
		require.True(t, ok)
		assert.Equal(t, pos, m.Position)
	}

	// Postings were rebuilt against the new positions.
	res, err = s.Search([]float32{1, 1}, 10, &SearchOptions{
		Filter: map[string]string{"tone": "warm"},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c", res[0].ID)

	var nf *ErrIDNotFound
	assert.ErrorAs(t, s.Remove("a"), &nf)
}

func TestReconstruct(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Add("a", []float32{3, 4}, nil))

	v, err := s.Reconstruct(0)
	require.NoError(t, err)
	// Inner-product metric stores normalized vectors.
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	_, err = s.Reconstruct(1)
	var ip *ErrInvalidPosition
	assert.ErrorAs(t, err, &ip)
}

func TestRestore(t *testing.T) {
	s := newStore(t, 2)
	require.NoError(t, s.Add("a", []float32{1, 0}, map[string]any{"skin_type": "oily"}))
	require.NoError(t, s.Add("b", []float32{0, 1}, nil))

	restored, err := Restore(Options{Dimension: 2, Metric: distance.MetricInnerProduct},
		s.Vectors(), s.IDs(), s.Metadata())
	require.NoError(t, err)

	assert.Equal(t, s.IDs(), restored.IDs())

	res, err := restored.Search([]float32{1, 0}, 1, &SearchOptions{
		Filter: map[string]string{"skin_type": "oily"},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)

	t.Run("DuplicateIDsRejected", func(t *testing.T) {
		_, err := Restore(Options{Dimension: 2, Metric: distance.MetricInnerProduct},
			make([]float32, 4), []string{"x", "x"}, nil)
		var dup *ErrDuplicateID
		assert.ErrorAs(t, err, &dup)
	})

	t.Run("VectorCountMismatchRejected", func(t *testing.T) {
		_, err := Restore(Options{Dimension: 2, Metric: distance.MetricInnerProduct},
			make([]float32, 2), []string{"x", "y"}, nil)
		assert.Error(t, err)
	})

	t.Run("PositionDriftRepaired", func(t *testing.T) {
		meta := s.Metadata()
		meta["a"].Position = 99
		restored, err := Restore(Options{Dimension: 2, Metric: distance.MetricInnerProduct},
			s.Vectors(), s.IDs(), meta)
		require.NoError(t, err)
		m, ok := restored.MetaFor("a")
		require.True(t, ok)
		assert.Equal(t, 0, m.Position)
	})
}
