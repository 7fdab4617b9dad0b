// Package vectorstore implements the flat similarity index over facial-skin
// feature embeddings: a contiguous float32 buffer with id↔position maps,
// per-record metadata, and roaring posting bitmaps for filtered search.
//
// The Store is not synchronized; callers serialize access (the facematch
// engine wraps every operation in a single guard).
package vectorstore

import (
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
	"github.com/mcpmessenger/shine-skincare-app-sub001/internal/queue"
)

// RecordMeta is the side metadata kept for every stored embedding.
type RecordMeta struct {
	AddedAt  time.Time      `json:"added_at"`
	Position int            `json:"position"`
	Custom   map[string]any `json:"custom_metadata,omitempty"`
}

// Result is one ranked search hit. Score is metric-dependent but always
// descending-better: dot product for inner-product search, negated squared
// distance for L2.
type Result struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// SearchOptions narrows a search beyond plain top-k.
type SearchOptions struct {
	// Filter restricts results to records whose string metadata matches
	// every key/value pair. Used by demographic-aware re-rankers.
	Filter map[string]string

	// Allow restricts results to the given store positions. Nil allows all.
	Allow *roaring.Bitmap
}

// Options contains construction-time configuration. Immutable afterwards.
type Options struct {
	// Dimension is the fixed vector dimensionality. Must be > 0.
	Dimension int

	// Metric selects the similarity metric. Inner-product stores normalize
	// vectors on insert so the score is cosine similarity.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration for a store.
var DefaultOptions = Options{
	Dimension: 0,
	Metric:    distance.MetricInnerProduct,
}

// Counters holds the operation counters surfaced in the stats artifact.
type Counters struct {
	Adds     uint64 `json:"add_count"`
	Searches uint64 `json:"search_count"`
	Errors   uint64 `json:"error_count"`
}

// Store is a flat vector index.
type Store struct {
	opts    Options
	scoreFn distance.Func

	vectors  []float32                             // len == count*dim
	ids      []string                              // position -> id
	index    map[string]int                        // id -> position
	meta     map[string]*RecordMeta                // id -> side metadata
	postings map[string]map[string]*roaring.Bitmap // field -> value -> positions

	counters Counters
}

// New creates an empty store.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &ErrDimensionMismatch{Expected: 1, Actual: opts.Dimension}
	}
	scoreFn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &Store{
		opts:     opts,
		scoreFn:  scoreFn,
		index:    make(map[string]int),
		meta:     make(map[string]*RecordMeta),
		postings: make(map[string]map[string]*roaring.Bitmap),
	}, nil
}

// WithDimension sets the fixed vector dimensionality.
func WithDimension(dim int) func(o *Options) {
	return func(o *Options) { o.Dimension = dim }
}

// WithMetric sets the similarity metric.
func WithMetric(m distance.Metric) func(o *Options) {
	return func(o *Options) { o.Metric = m }
}

// Dimension returns the fixed vector dimensionality.
func (s *Store) Dimension() int { return s.opts.Dimension }

// Metric returns the configured similarity metric.
func (s *Store) Metric() distance.Metric { return s.opts.Metric }

// Count returns the number of stored embeddings.
func (s *Store) Count() int { return len(s.ids) }

// Counters returns a copy of the operation counters.
func (s *Store) Counters() Counters { return s.counters }

// SetCounters restores counters from a loaded stats artifact.
func (s *Store) SetCounters(c Counters) { s.counters = c }

// Add inserts one embedding. Inner-product stores normalize the vector;
// zero vectors are remapped to the deterministic canonical unit vector.
func (s *Store) Add(id string, vec []float32, custom map[string]any) error {
	if len(vec) != s.opts.Dimension {
		s.counters.Errors++
		return &ErrDimensionMismatch{Expected: s.opts.Dimension, Actual: len(vec)}
	}
	if _, exists := s.index[id]; exists {
		s.counters.Errors++
		return &ErrDuplicateID{ID: id}
	}

	stored := vec
	if s.opts.Metric == distance.MetricInnerProduct {
		stored = distance.NormalizeL2Copy(vec)
	} else {
		stored = slices.Clone(vec)
	}

	pos := len(s.ids)
	s.vectors = append(s.vectors, stored...)
	s.ids = append(s.ids, id)
	s.index[id] = pos
	s.meta[id] = &RecordMeta{
		AddedAt:  time.Now().UTC(),
		Position: pos,
		Custom:   custom,
	}
	s.addPostings(pos, custom)
	s.counters.Adds++
	return nil
}

// BatchAdd inserts many embeddings, validating each item independently.
// A malformed item is skipped and reported at its index; the rest of the
// batch proceeds.
func (s *Store) BatchAdd(ids []string, vecs [][]float32, customs []map[string]any) []error {
	errs := make([]error, len(ids))
	for i, id := range ids {
		var vec []float32
		if i < len(vecs) {
			vec = vecs[i]
		}
		var custom map[string]any
		if i < len(customs) {
			custom = customs[i]
		}
		errs[i] = s.Add(id, vec, custom)
	}
	return errs
}

// Search returns the k most similar stored embeddings, score descending,
// ties broken by insertion order (earlier id wins).
// An empty store yields an empty result, not an error.
func (s *Store) Search(query []float32, k int, opts *SearchOptions) ([]Result, error) {
	if k <= 0 {
		s.counters.Errors++
		return nil, ErrInvalidK
	}
	if len(query) != s.opts.Dimension {
		s.counters.Errors++
		return nil, &ErrDimensionMismatch{Expected: s.opts.Dimension, Actual: len(query)}
	}

	s.counters.Searches++
	if len(s.ids) == 0 {
		return nil, nil
	}

	q := query
	if s.opts.Metric == distance.MetricInnerProduct {
		q = distance.NormalizeL2Copy(query)
	}

	allow, err := s.allowedPositions(opts)
	if err != nil {
		return nil, err
	}

	dim := s.opts.Dimension
	top := queue.NewTopK(min(k, len(s.ids)))
	for pos := range s.ids {
		if allow != nil && !allow.Contains(uint32(pos)) {
			continue
		}
		vec := s.vectors[pos*dim : (pos+1)*dim]
		top.Push(queue.Item{Position: pos, Score: s.scoreFn(q, vec)})
	}

	items := top.Sorted()
	results := make([]Result, 0, len(items))
	for _, it := range items {
		results = append(results, Result{ID: s.ids[it.Position], Score: it.Score})
	}
	return results, nil
}

// allowedPositions resolves filter options to a position bitmap.
// A filter term with no posting list short-circuits to an empty bitmap.
func (s *Store) allowedPositions(opts *SearchOptions) (*roaring.Bitmap, error) {
	if opts == nil {
		return nil, nil
	}

	var allow *roaring.Bitmap
	if opts.Allow != nil {
		allow = opts.Allow.Clone()
	}

	for field, value := range opts.Filter {
		byValue, ok := s.postings[field]
		if !ok {
			return roaring.New(), nil
		}
		bm, ok := byValue[value]
		if !ok {
			return roaring.New(), nil
		}
		if allow == nil {
			allow = bm.Clone()
		} else {
			allow.And(bm)
		}
	}
	return allow, nil
}

// Remove drops an embedding and compacts the store. Flat indexes have no
// point delete, so every record past the removed slot is renumbered.
func (s *Store) Remove(id string) error {
	pos, ok := s.index[id]
	if !ok {
		s.counters.Errors++
		return &ErrIDNotFound{ID: id}
	}

	dim := s.opts.Dimension
	s.vectors = append(s.vectors[:pos*dim], s.vectors[(pos+1)*dim:]...)
	s.ids = append(s.ids[:pos], s.ids[pos+1:]...)
	delete(s.index, id)
	delete(s.meta, id)

	// Renumber everything past the removed slot.
	for p := pos; p < len(s.ids); p++ {
		movedID := s.ids[p]
		s.index[movedID] = p
		if m := s.meta[movedID]; m != nil {
			m.Position = p
		}
	}
	s.rebuildPostings()
	return nil
}

// Reconstruct returns a copy of the vector stored at a position.
func (s *Store) Reconstruct(pos int) ([]float32, error) {
	if pos < 0 || pos >= len(s.ids) {
		return nil, &ErrInvalidPosition{Position: pos, Count: len(s.ids)}
	}
	dim := s.opts.Dimension
	return slices.Clone(s.vectors[pos*dim : (pos+1)*dim]), nil
}

// IDAt returns the id stored at a position.
func (s *Store) IDAt(pos int) (string, error) {
	if pos < 0 || pos >= len(s.ids) {
		return "", &ErrInvalidPosition{Position: pos, Count: len(s.ids)}
	}
	return s.ids[pos], nil
}

// MetaFor returns the side metadata for an id.
func (s *Store) MetaFor(id string) (*RecordMeta, bool) {
	m, ok := s.meta[id]
	return m, ok
}

// IDs returns the position-ordered id list as a copy.
func (s *Store) IDs() []string {
	return slices.Clone(s.ids)
}

// Clear drops every record but keeps configuration and counters.
func (s *Store) Clear() {
	s.vectors = nil
	s.ids = nil
	s.index = make(map[string]int)
	s.meta = make(map[string]*RecordMeta)
	s.postings = make(map[string]map[string]*roaring.Bitmap)
}

// Vectors returns the raw position-ordered buffer as a copy.
// Used by the persistence layer.
func (s *Store) Vectors() []float32 {
	return slices.Clone(s.vectors)
}

// Metadata returns the id -> metadata map as a shallow copy.
// Used by the persistence layer.
func (s *Store) Metadata() map[string]*RecordMeta {
	out := make(map[string]*RecordMeta, len(s.meta))
	for id, m := range s.meta {
		out[id] = m
	}
	return out
}

// Restore rebuilds a store from persisted artifacts. ids must be
// position-ordered and vectors position-aligned; metadata positions are
// realigned here; the persistence layer decides which inconsistencies are
// fatal before calling Restore.
func Restore(opts Options, vectors []float32, ids []string, meta map[string]*RecordMeta) (*Store, error) {
	s, err := New(func(o *Options) { *o = opts })
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(ids)*opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: len(ids) * opts.Dimension, Actual: len(vectors)}
	}

	s.vectors = slices.Clone(vectors)
	s.ids = slices.Clone(ids)
	for pos, id := range s.ids {
		if _, dup := s.index[id]; dup {
			return nil, &ErrDuplicateID{ID: id}
		}
		s.index[id] = pos

		m, ok := meta[id]
		if !ok || m == nil {
			m = &RecordMeta{AddedAt: time.Now().UTC()}
		}
		m.Position = pos
		s.meta[id] = m
		s.addPostings(pos, m.Custom)
	}
	return s, nil
}

func (s *Store) addPostings(pos int, custom map[string]any) {
	for field, v := range custom {
		value, ok := v.(string)
		if !ok {
			continue
		}
		byValue, ok := s.postings[field]
		if !ok {
			byValue = make(map[string]*roaring.Bitmap)
			s.postings[field] = byValue
		}
		bm, ok := byValue[value]
		if !ok {
			bm = roaring.New()
			byValue[value] = bm
		}
		bm.Add(uint32(pos))
	}
}

func (s *Store) rebuildPostings() {
	s.postings = make(map[string]map[string]*roaring.Bitmap)
	for pos, id := range s.ids {
		if m := s.meta[id]; m != nil {
			s.addPostings(pos, m.Custom)
		}
	}
}
