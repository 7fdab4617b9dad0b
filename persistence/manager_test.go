package persistence

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmessenger/shine-skincare-app-sub001/blobstore"
	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
	"github.com/mcpmessenger/shine-skincare-app-sub001/vectorstore"
)

func newTestManager(t *testing.T, blobs blobstore.BlobStore) *Manager {
	t.Helper()
	s, err := vectorstore.New(vectorstore.WithDimension(4))
	require.NoError(t, err)

	m, err := NewManager(s,
		WithName("shine"),
		WithBlobStore(blobs),
		WithLogger(slog.Default()),
	)
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresBlobStore(t *testing.T) {
	s, err := vectorstore.New(vectorstore.WithDimension(4))
	require.NoError(t, err)

	_, err = NewManager(s)
	assert.ErrorIs(t, err, ErrNoBlobStore)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, map[string]any{"skin_type": "oily"}))
	require.NoError(t, m.Store().Add("b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, m.Store().Add("c", []float32{0, 0, 1, 0}, nil))
	require.NoError(t, m.Save(ctx))

	names, err := blobs.List(ctx, "shine")
	require.NoError(t, err)
	assert.Equal(t, []string{"shine.index", "shine_ids.json", "shine_metadata.json", "shine_stats.json"}, names)

	// Load into a fresh instance.
	m2 := newTestManager(t, blobs)
	require.NoError(t, m2.Load(ctx))
	require.Equal(t, 3, m2.Store().Count())
	assert.Equal(t, m.Store().IDs(), m2.Store().IDs())
	assert.False(t, m2.Corrupted())

	// Identical search results for a fixed query.
	query := []float32{1, 0, 0, 0}
	want, err := m.Store().Search(query, 3, nil)
	require.NoError(t, err)
	got, err := m2.Store().Search(query, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Metadata survived, including filters.
	res, err := m2.Store().Search(query, 3, &vectorstore.SearchOptions{
		Filter: map[string]string{"skin_type": "oily"},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)
}

func TestLoadMissingArtifactsStartsEmpty(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, blobstore.NewMemoryStore())

	require.NoError(t, m.Load(ctx))
	assert.Equal(t, 0, m.Store().Count())
	assert.False(t, m.Corrupted())
}

func TestLoadMissingSideArtifactsInitializeEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Save(ctx))
	require.NoError(t, blobs.Delete(ctx, "shine_ids.json"))
	require.NoError(t, blobs.Delete(ctx, "shine_metadata.json"))

	m2 := newTestManager(t, blobs)
	require.NoError(t, m2.Load(ctx))
	assert.Equal(t, 0, m2.Store().Count())
}

func TestLoadDetectsTruncatedIDArtifact(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, m.Store().Add("b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, m.Save(ctx))

	// Truncate the id artifact mid-JSON.
	idsBytes, err := blobs.Get(ctx, "shine_ids.json")
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, "shine_ids.json", idsBytes[:len(idsBytes)/2]))

	m2 := newTestManager(t, blobs)
	err = m2.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruption)
	assert.True(t, m2.Corrupted())

	// Rebuild recovers to a consistent (possibly reduced) store.
	require.NoError(t, m2.Rebuild(ctx))
	assert.False(t, m2.Corrupted())
	assert.Equal(t, m2.Store().Count(), len(m2.Store().IDs()))
}

func TestLoadDetectsCountMismatch(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, m.Store().Add("b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, m.Save(ctx))

	// Valid JSON, but one id short.
	require.NoError(t, blobs.Put(ctx, "shine_ids.json", []byte(`["a"]`)))

	m2 := newTestManager(t, blobs)
	err := m2.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruption)
	assert.True(t, m2.Corrupted())

	// Rebuild keeps the one mappable slot and drops the rest.
	require.NoError(t, m2.Rebuild(ctx))
	assert.Equal(t, 1, m2.Store().Count())
	assert.Equal(t, []string{"a"}, m2.Store().IDs())
	assert.False(t, m2.Corrupted())

	stats := m2.Stats()
	assert.Equal(t, uint64(1), stats.RebuildCount)
}

func TestLoadDetectsFlippedByte(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, m.Save(ctx))

	raw, err := blobs.Get(ctx, "shine.index")
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	require.NoError(t, blobs.Put(ctx, "shine.index", raw))

	m2 := newTestManager(t, blobs)
	err = m2.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruption)

	var mismatch *ChecksumMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestLoadDetectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, m.Store().Add("b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, m.Save(ctx))

	require.NoError(t, blobs.Put(ctx, "shine_ids.json", []byte(`["a","a"]`)))

	m2 := newTestManager(t, blobs)
	err := m2.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestLoadRepairsPositionDrift(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, m.Store().Add("b", []float32{0, 1, 0, 0}, nil))
	require.NoError(t, m.Save(ctx))

	// Corrupt only the metadata positions; this is repairable.
	require.NoError(t, blobs.Put(ctx, "shine_metadata.json",
		[]byte(`{"a":{"added_at":"2026-01-01T00:00:00Z","position":7},"b":{"added_at":"2026-01-01T00:00:00Z","position":9}}`)))

	m2 := newTestManager(t, blobs)
	require.NoError(t, m2.Load(ctx))
	assert.False(t, m2.Corrupted())

	ma, ok := m2.Store().MetaFor("a")
	require.True(t, ok)
	assert.Equal(t, 0, ma.Position)
	mb, ok := m2.Store().MetaFor("b")
	require.True(t, ok)
	assert.Equal(t, 1, mb.Position)
}

func TestLoadRejectsConfigMismatch(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Save(ctx))

	other, err := vectorstore.New(
		vectorstore.WithDimension(8),
		vectorstore.WithMetric(distance.MetricL2),
	)
	require.NoError(t, err)
	m2, err := NewManager(other, WithName("shine"), WithBlobStore(blobs))
	require.NoError(t, err)

	err = m2.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestStatsCountersSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	m := newTestManager(t, blobs)
	require.NoError(t, m.Store().Add("a", []float32{1, 0, 0, 0}, nil))
	_, err := m.Store().Search([]float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx))

	m2 := newTestManager(t, blobs)
	require.NoError(t, m2.Load(ctx))

	stats := m2.Stats()
	assert.Equal(t, uint64(1), stats.AddCount)
	assert.Equal(t, uint64(1), stats.SearchCount)
	assert.Equal(t, 1, stats.TotalVectors)
	assert.False(t, stats.LastLoadTime.IsZero())
}

func TestEncodeDecodeIndex(t *testing.T) {
	vectors := []float32{1, 2, 3, 4, 5, 6, 7, 8}

	blob := EncodeIndex(distance.MetricInnerProduct, 4, vectors)
	hdr, got, err := DecodeIndex(blob)
	require.NoError(t, err)
	assert.Equal(t, 4, hdr.Dimension)
	assert.Equal(t, 2, hdr.Count)
	assert.Equal(t, distance.MetricInnerProduct, hdr.Metric)
	assert.Equal(t, vectors, got)

	t.Run("Empty", func(t *testing.T) {
		blob := EncodeIndex(distance.MetricL2, 4, nil)
		hdr, got, err := DecodeIndex(blob)
		require.NoError(t, err)
		assert.Equal(t, 0, hdr.Count)
		assert.Empty(t, got)
	})

	t.Run("BadMagic", func(t *testing.T) {
		blob := EncodeIndex(distance.MetricL2, 4, vectors)
		blob[0] = 0x00
		_, _, err := DecodeIndex(blob)
		var bad *ErrBadHeader
		assert.ErrorAs(t, err, &bad)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, _, err := DecodeIndex([]byte{1, 2, 3})
		var bad *ErrBadHeader
		assert.ErrorAs(t, err, &bad)
	})
}
