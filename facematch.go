// Package facematch provides an embedded similarity index for facial-skin
// feature embeddings, with durable persistence and an adaptive result cache.
//
// The engine stores fixed-dimension float32 embeddings under string ids and
// answers top-k similarity queries:
//
//   - Exact (flat) search with inner-product or L2 scoring
//   - Metadata filtering backed by a Roaring Bitmap inverted index
//   - Atomic multi-artifact persistence with corruption detection and rebuild
//   - A bounded result cache with LRU/LFU/TTL/adaptive eviction
//   - Single-lock concurrency: every operation is linearizable
//
// # Quick Start
//
// Create an engine for 128-dimensional embeddings backed by local disk:
//
//	blobs, err := blobstore.NewLocalStore("./data")
//	if err != nil {
//	    panic(err)
//	}
//	eng, err := facematch.New(128,
//	    facematch.WithBlobStore(blobs),
//	    facematch.WithSaveEvery(100),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
// Add embeddings produced by an external feature extractor:
//
//	err = eng.Add(ctx, "case-0017", embedding, map[string]any{
//	    "skin_type": "oily",
//	    "region":    "cheek",
//	})
//
// Search for the most similar prior cases:
//
//	results, err := eng.Search(ctx, query, 5)
//	for _, r := range results {
//	    fmt.Printf("%s %.3f\n", r.ID, r.Score)
//	}
//
// Repeated queries are answered from the result cache; mutations and
// persistence invalidate or refresh it as needed.
package facematch

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mcpmessenger/shine-skincare-app-sub001/blobstore"
	"github.com/mcpmessenger/shine-skincare-app-sub001/cache"
	"github.com/mcpmessenger/shine-skincare-app-sub001/codec"
	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
	"github.com/mcpmessenger/shine-skincare-app-sub001/persistence"
	"github.com/mcpmessenger/shine-skincare-app-sub001/vectorstore"
)

// Engine is a similarity index over facial-skin embeddings with a result
// cache in front of it. All operations are serialized through one mutex;
// callers observe them in lock-acquisition order.
type Engine struct {
	mu      sync.Mutex
	manager *persistence.Manager
	cache   *cache.ResultCache
	blobs   blobstore.BlobStore
	codec   codec.Codec
	metrics MetricsCollector
	logger  *Logger

	// sf deduplicates concurrent identical cache misses so one store scan
	// serves every waiter.
	sf singleflight.Group

	name      string
	metric    distance.Metric
	saveEvery int
	mutations int
	closed    bool
}

// New creates an Engine for vectors of the given dimension.
func New(dimension int, optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	blobs := opts.blobs
	if blobs == nil {
		blobs = blobstore.NewMemoryStore()
	}
	c := opts.codec
	if c == nil {
		c = codec.Default
	}

	store, err := vectorstore.New(
		vectorstore.WithDimension(dimension),
		vectorstore.WithMetric(opts.metric),
	)
	if err != nil {
		return nil, translateError(err)
	}

	manager, err := persistence.NewManager(store,
		persistence.WithName(opts.name),
		persistence.WithBlobStore(blobs),
		persistence.WithCodec(c),
		persistence.WithLogger(opts.logger.Logger),
	)
	if err != nil {
		return nil, translateError(err)
	}

	eng := &Engine{
		manager:   manager,
		blobs:     blobs,
		codec:     c,
		metrics:   opts.metricsCollector,
		logger:    opts.logger,
		name:      opts.name,
		metric:    opts.metric,
		saveEvery: opts.saveEvery,
	}

	if !opts.disableCache {
		cacheFns := append([]func(*cache.Options){
			func(o *cache.Options) { o.Logger = opts.logger.Logger },
		}, opts.cacheOptions...)
		eng.cache, err = cache.New(cacheFns...)
		if err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// SearchResult is one ranked similarity hit. Score is descending-better:
// cosine similarity for the inner-product metric, negated squared distance
// for L2.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// SearchOptions contains options for similarity search.
type SearchOptions struct {
	// Filter restricts results to records whose string metadata matches
	// every key/value pair. Consumed by demographic-aware re-rankers.
	Filter map[string]string
}

// Dimension returns the fixed vector dimensionality.
func (e *Engine) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Store().Dimension()
}

// Count returns the number of stored embeddings.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Store().Count()
}

// Metric returns the configured similarity metric.
func (e *Engine) Metric() distance.Metric {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Store().Metric()
}

// IsAvailable reports whether the engine can serve requests: it is false
// after Close and while persisted state is flagged as corrupted.
func (e *Engine) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.manager.Corrupted()
}

// Add stores an embedding under id with optional metadata. Inner-product
// engines L2-normalize the vector on insert; zero vectors are remapped to a
// fixed canonical unit vector so degenerate inputs stay reproducible.
func (e *Engine) Add(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	start := time.Now()

	e.mu.Lock()
	var err error
	if e.closed {
		err = ErrUnavailable
	} else {
		err = translateError(e.manager.Store().Add(id, vector, metadata))
		if err == nil {
			e.afterMutationLocked(ctx, 1)
		}
	}
	e.mu.Unlock()

	e.metrics.RecordAdd(time.Since(start), err)
	e.logger.LogAdd(ctx, id, len(vector), err)
	return err
}

// Record is one embedding for BatchAdd.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// BatchAdd stores multiple embeddings. Validation is per item: a malformed
// item is skipped and reported at its index without aborting the batch. The
// returned slice has one entry per input, nil on success.
func (e *Engine) BatchAdd(ctx context.Context, items []Record) []error {
	start := time.Now()

	ids := make([]string, len(items))
	vecs := make([][]float32, len(items))
	metas := make([]map[string]any, len(items))
	for i, item := range items {
		ids[i] = item.ID
		vecs[i] = item.Vector
		metas[i] = item.Metadata
	}

	e.mu.Lock()
	var errs []error
	if e.closed {
		errs = make([]error, len(items))
		for i := range errs {
			errs[i] = ErrUnavailable
		}
	} else {
		errs = e.manager.Store().BatchAdd(ids, vecs, metas)
		inserted := 0
		for i, err := range errs {
			if err != nil {
				errs[i] = translateError(err)
			} else {
				inserted++
			}
		}
		if inserted > 0 {
			e.afterMutationLocked(ctx, inserted)
		}
	}
	e.mu.Unlock()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	e.metrics.RecordBatchAdd(len(items), failed, time.Since(start))
	e.logger.LogBatchAdd(ctx, len(items), failed)
	return errs
}

// Search returns the k most similar stored embeddings, best first. Ties are
// broken by insertion order. The result cache is probed first; concurrent
// identical misses share a single store scan.
func (e *Engine) Search(ctx context.Context, query []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	start := time.Now()
	opts := SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if k <= 0 {
		e.metrics.RecordSearch(k, time.Since(start), false, ErrInvalidK)
		e.logger.LogSearch(ctx, k, 0, false, ErrInvalidK)
		return nil, ErrInvalidK
	}

	key := cache.Fingerprint(query, k, e.fingerprintParams(opts)...)

	// Cache probe.
	if e.cache != nil {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrUnavailable
		}
		payload, ok := e.cache.Get(key)
		e.mu.Unlock()
		if ok {
			var results []SearchResult
			if err := e.codec.Unmarshal(payload, &results); err == nil {
				e.metrics.RecordSearch(k, time.Since(start), true, nil)
				e.logger.LogSearch(ctx, k, len(results), true, nil)
				return results, nil
			}
			// Undecodable payload falls through to a fresh search.
		}
	}

	v, err, _ := e.sf.Do(strconv.FormatUint(key, 16), func() (any, error) {
		return e.searchStore(ctx, key, query, k, opts)
	})
	if err != nil {
		e.metrics.RecordSearch(k, time.Since(start), false, err)
		e.logger.LogSearch(ctx, k, 0, false, err)
		return nil, err
	}

	// The flight result is shared between waiters; hand each caller a copy.
	shared := v.([]SearchResult)
	results := make([]SearchResult, len(shared))
	copy(results, shared)

	e.metrics.RecordSearch(k, time.Since(start), false, nil)
	e.logger.LogSearch(ctx, k, len(results), false, nil)
	return results, nil
}

func (e *Engine) searchStore(ctx context.Context, key uint64, query []float32, k int, opts SearchOptions) ([]SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrUnavailable
	}

	var storeOpts *vectorstore.SearchOptions
	if len(opts.Filter) > 0 {
		storeOpts = &vectorstore.SearchOptions{Filter: opts.Filter}
	}

	hits, err := e.manager.Store().Search(query, k, storeOpts)
	if err != nil {
		return nil, translateError(err)
	}

	results := make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{ID: h.ID, Score: h.Score}
	}

	if e.cache != nil {
		payload, err := e.codec.Marshal(results)
		if err != nil {
			e.logger.Warn("caching search result failed", "error", err)
		} else if err := e.cache.Put(key, payload, 0); err != nil &&
			!errors.Is(err, cache.ErrValueTooLarge) {
			e.logger.Warn("caching search result failed", "error", err)
		}
	}

	return results, nil
}

// fingerprintParams folds everything beyond the query vector and k into the
// cache key. Filters are sorted so map order cannot split identical queries
// across keys.
func (e *Engine) fingerprintParams(opts SearchOptions) []string {
	params := []string{e.name, e.metric.String()}
	if len(opts.Filter) == 0 {
		return params
	}
	keys := make([]string, 0, len(opts.Filter))
	for fk := range opts.Filter {
		keys = append(keys, fk)
	}
	sort.Strings(keys)
	for _, fk := range keys {
		params = append(params, fk+"="+opts.Filter[fk])
	}
	return params
}

// Remove deletes an embedding. The flat store compacts and renumbers the
// remaining records; the result cache is cleared so the removed id can never
// surface from a stale entry.
func (e *Engine) Remove(ctx context.Context, id string) error {
	start := time.Now()

	e.mu.Lock()
	var err error
	if e.closed {
		err = ErrUnavailable
	} else {
		err = translateError(e.manager.Store().Remove(id))
		if err == nil {
			if e.cache != nil {
				e.cache.Clear()
			}
			e.afterMutationLocked(ctx, 1)
		}
	}
	e.mu.Unlock()

	e.metrics.RecordRemove(time.Since(start), err)
	e.logger.LogRemove(ctx, id, err)
	return err
}

// Reconstruct returns the stored vector for id as it lives in the index,
// i.e. normalized for inner-product engines.
func (e *Engine) Reconstruct(id string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrUnavailable
	}
	store := e.manager.Store()
	meta, ok := store.MetaFor(id)
	if !ok {
		return nil, ErrNotFound
	}
	vec, err := store.Reconstruct(meta.Position)
	return vec, translateError(err)
}

// Save writes all index artifacts and the cache snapshot to the blob store.
// Artifacts are replaced atomically; a failed save leaves prior state intact.
func (e *Engine) Save(ctx context.Context) error {
	start := time.Now()

	e.mu.Lock()
	var err error
	if e.closed {
		err = ErrUnavailable
	} else {
		err = e.saveLocked(ctx)
	}
	count := e.manager.Store().Count()
	e.mu.Unlock()

	e.metrics.RecordSave(time.Since(start), err)
	e.logger.LogSave(ctx, e.name, count, err)
	return err
}

func (e *Engine) saveLocked(ctx context.Context) error {
	if err := e.manager.Save(ctx); err != nil {
		return translateIOError(err)
	}
	if e.cache != nil {
		if err := e.cache.Backup(ctx, e.blobs); err != nil {
			return translateIOError(err)
		}
	}
	return nil
}

// Load replaces in-memory state from the blob store. Missing artifacts
// yield an empty index; artifacts that fail validation flag corruption and
// return ErrCorruption, after which Rebuild recovers what it can. The cache
// snapshot is restored best-effort.
func (e *Engine) Load(ctx context.Context) error {
	start := time.Now()

	e.mu.Lock()
	var err error
	if e.closed {
		err = ErrUnavailable
	} else {
		err = translateIOError(e.manager.Load(ctx))
		if e.cache != nil {
			if rerr := e.cache.Restore(ctx, e.blobs); rerr != nil {
				// A cold cache is acceptable; the index state is what counts.
				e.logger.Warn("cache snapshot restore failed", "error", rerr)
			}
		}
	}
	count := e.manager.Store().Count()
	e.mu.Unlock()

	e.metrics.RecordLoad(time.Since(start), err)
	e.logger.LogLoad(ctx, e.name, count, err)
	return err
}

// Rebuild reconstructs a fresh store from every recoverable record, clears
// the corruption flag, and saves. Slots that cannot be reconstructed are
// dropped with a log entry. The result cache is cleared.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrUnavailable
	}

	before := e.manager.Store().Count()
	if err := e.manager.Rebuild(ctx); err != nil {
		e.logger.LogRebuild(ctx, 0, 0, err)
		return translateIOError(err)
	}
	if e.cache != nil {
		e.cache.Clear()
	}
	kept := e.manager.Store().Count()
	dropped := before - kept
	if dropped < 0 {
		dropped = 0
	}
	e.logger.LogRebuild(ctx, kept, dropped, nil)
	return nil
}

// Stats is a combined snapshot of index, persistence, and cache state.
type Stats struct {
	Index     persistence.Stats `json:"index"`
	Cache     *cache.Stats      `json:"cache,omitempty"`
	Available bool              `json:"available"`
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Index:     e.manager.Stats(),
		Available: !e.closed && !e.manager.Corrupted(),
	}
	if e.cache != nil {
		cs := e.cache.Stats()
		s.Cache = &cs
	}
	return s
}

// ClearCache drops every cached result without touching the index.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Close marks the engine unavailable. When auto-save is configured, a final
// Save runs first so the mutation tail is not lost.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	var err error
	if e.saveEvery > 0 {
		err = e.saveLocked(context.Background())
	}
	e.closed = true
	return err
}

// afterMutationLocked advances the mutation counter and, at the configured
// cadence, runs a save plus cache maintenance. Auto-save failures are
// logged, not returned: the in-memory mutation already succeeded.
func (e *Engine) afterMutationLocked(ctx context.Context, n int) {
	if e.saveEvery <= 0 {
		return
	}
	before := e.mutations / e.saveEvery
	e.mutations += n
	if e.mutations/e.saveEvery == before {
		return
	}

	if err := e.saveLocked(ctx); err != nil {
		e.logger.Warn("auto-save failed", "error", err)
	}
	if e.cache != nil {
		e.cache.CleanupExpired()
		e.cache.AutoOptimize()
	}
}
