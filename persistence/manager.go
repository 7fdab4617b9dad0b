package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpmessenger/shine-skincare-app-sub001/blobstore"
	"github.com/mcpmessenger/shine-skincare-app-sub001/codec"
	"github.com/mcpmessenger/shine-skincare-app-sub001/vectorstore"
)

// ErrCorruption indicates a detected mismatch between the vector store and
// its side metadata. The index stays unavailable until Rebuild succeeds.
var ErrCorruption = errors.New("corruption detected; rebuild required")

// ErrNoBlobStore is returned when a manager is constructed without storage.
var ErrNoBlobStore = errors.New("blob store is required")

// Stats is the counters artifact (`<name>_stats.json`).
type Stats struct {
	TotalVectors       int       `json:"total_vectors"`
	SearchCount        uint64    `json:"search_count"`
	AddCount           uint64    `json:"add_count"`
	ErrorCount         uint64    `json:"error_count"`
	LastSaveTime       time.Time `json:"last_save_time"`
	LastLoadTime       time.Time `json:"last_load_time"`
	CorruptionDetected bool      `json:"corruption_detected"`
	RebuildCount       uint64    `json:"rebuild_count"`
}

// Options configures the persistence manager.
type Options struct {
	// Name is the artifact basename; artifacts become `<Name>.index`,
	// `<Name>_ids.json`, `<Name>_metadata.json`, `<Name>_stats.json`.
	Name string

	// Blobs is where artifacts live. Required.
	Blobs blobstore.BlobStore

	// Codec serializes the id, metadata and stats artifacts.
	Codec codec.Codec

	// Logger receives structured save/load/rebuild events.
	Logger *slog.Logger
}

// DefaultOptions contains the default manager configuration.
var DefaultOptions = Options{
	Name: "index",
}

// Manager owns the live vector store reference and the on-disk artifacts of
// one index instance. A single Manager must be the only writer of its
// artifact set; multi-process sharing of one path is unsupported.
//
// Manager is not synchronized; the engine guard serializes access.
type Manager struct {
	name   string
	blobs  blobstore.BlobStore
	codec  codec.Codec
	logger *slog.Logger

	store     *vectorstore.Store
	corrupted bool
	recovery  *recoveryState

	rebuildCount uint64
	lastSave     time.Time
	lastLoad     time.Time
}

// recoveryState retains whatever Load could parse from an inconsistent
// artifact set, so Rebuild can salvage the reconstructable slots.
type recoveryState struct {
	vectors []float32
	ids     []string
	meta    map[string]*vectorstore.RecordMeta
}

// NewManager creates a manager around an existing (typically empty) store.
func NewManager(store *vectorstore.Store, optFns ...func(o *Options)) (*Manager, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Blobs == nil {
		return nil, ErrNoBlobStore
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		name:   opts.Name,
		blobs:  opts.Blobs,
		codec:  opts.Codec,
		logger: opts.Logger,
		store:  store,
	}, nil
}

// WithName sets the artifact basename.
func WithName(name string) func(o *Options) {
	return func(o *Options) { o.Name = name }
}

// WithBlobStore sets the artifact storage.
func WithBlobStore(b blobstore.BlobStore) func(o *Options) {
	return func(o *Options) { o.Blobs = b }
}

// WithCodec sets the artifact codec.
func WithCodec(c codec.Codec) func(o *Options) {
	return func(o *Options) { o.Codec = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Store returns the live vector store. The reference changes after a
// successful Load or Rebuild; callers must re-fetch it per operation.
func (m *Manager) Store() *vectorstore.Store { return m.store }

// Corrupted reports whether the last Load detected fatal inconsistencies.
func (m *Manager) Corrupted() bool { return m.corrupted }

// Stats assembles the counters artifact from live state.
func (m *Manager) Stats() Stats {
	c := m.store.Counters()
	return Stats{
		TotalVectors:       m.store.Count(),
		SearchCount:        c.Searches,
		AddCount:           c.Adds,
		ErrorCount:         c.Errors,
		LastSaveTime:       m.lastSave,
		LastLoadTime:       m.lastLoad,
		CorruptionDetected: m.corrupted,
		RebuildCount:       m.rebuildCount,
	}
}

func (m *Manager) indexName() string { return m.name + ".index" }
func (m *Manager) idsName() string   { return m.name + "_ids.json" }
func (m *Manager) metaName() string  { return m.name + "_metadata.json" }
func (m *Manager) statsName() string { return m.name + "_stats.json" }

// Save writes the four artifacts. Every artifact write is individually
// atomic (replace-on-rename or object-store put), so a failed save never
// leaves a prior artifact half-written.
func (m *Manager) Save(ctx context.Context) error {
	now := time.Now().UTC()

	stats := m.Stats()
	stats.LastSaveTime = now

	idsBytes, err := m.codec.Marshal(m.store.IDs())
	if err != nil {
		return m.saveFailed("ids", err)
	}
	metaBytes, err := m.codec.Marshal(m.store.Metadata())
	if err != nil {
		return m.saveFailed("metadata", err)
	}
	statsBytes, err := m.codec.Marshal(stats)
	if err != nil {
		return m.saveFailed("stats", err)
	}

	artifacts := map[string][]byte{
		m.indexName(): EncodeIndex(m.store.Metric(), m.store.Dimension(), m.store.Vectors()),
		m.idsName():   idsBytes,
		m.metaName():  metaBytes,
		m.statsName(): statsBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, data := range artifacts {
		g.Go(func() error {
			if err := m.blobs.Put(gctx, name, data); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return m.saveFailed("artifact", err)
	}

	m.lastSave = now
	m.logger.Debug("index saved",
		"name", m.name,
		"vectors", m.store.Count(),
	)
	return nil
}

func (m *Manager) saveFailed(what string, err error) error {
	m.logger.Error("index save failed", "name", m.name, "artifact", what, "error", err)
	return fmt.Errorf("persistence: save %s: %w", what, err)
}

// Load reads the artifacts and replaces the live store. A missing index
// artifact initializes an empty store. Missing id or metadata artifacts
// initialize empty rather than failing. Count mismatches and duplicate ids
// are fatal and raise the corrupted flag; metadata position drift is
// repaired with a warning.
func (m *Manager) Load(ctx context.Context) error {
	opts := vectorstore.Options{Dimension: m.store.Dimension(), Metric: m.store.Metric()}

	indexBytes, err := m.blobs.Get(ctx, m.indexName())
	if errors.Is(err, blobstore.ErrNotFound) {
		fresh, newErr := vectorstore.Restore(opts, nil, nil, nil)
		if newErr != nil {
			return fmt.Errorf("persistence: load: %w", newErr)
		}
		m.store = fresh
		m.corrupted = false
		m.recovery = nil
		m.lastLoad = time.Now().UTC()
		m.logger.Info("no index artifact; starting empty", "name", m.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persistence: load index: %w", err)
	}

	hdr, vectors, err := DecodeIndex(indexBytes)
	if err != nil {
		return m.corruptionDetected(nil, fmt.Errorf("index artifact: %w", err))
	}
	if hdr.Dimension != opts.Dimension || hdr.Metric != opts.Metric {
		return m.corruptionDetected(nil, fmt.Errorf(
			"index artifact is %s/dim=%d, store configured %s/dim=%d",
			hdr.Metric, hdr.Dimension, opts.Metric, opts.Dimension))
	}

	ids, err := m.loadIDs(ctx)
	if err != nil {
		return m.corruptionDetected(&recoveryState{vectors: vectors}, err)
	}
	meta, err := m.loadMetadata(ctx)
	if err != nil {
		return m.corruptionDetected(&recoveryState{vectors: vectors, ids: ids}, err)
	}

	rec := &recoveryState{vectors: vectors, ids: ids, meta: meta}
	if err := validateConsistency(hdr.Count, ids); err != nil {
		return m.corruptionDetected(rec, err)
	}
	m.repairPositionDrift(ids, meta)

	restored, err := vectorstore.Restore(opts, vectors, ids, meta)
	if err != nil {
		return m.corruptionDetected(rec, err)
	}

	if stats, ok := m.loadStats(ctx); ok {
		restored.SetCounters(vectorstore.Counters{
			Adds:     stats.AddCount,
			Searches: stats.SearchCount,
			Errors:   stats.ErrorCount,
		})
		m.rebuildCount = stats.RebuildCount
		m.lastSave = stats.LastSaveTime
	}

	m.store = restored
	m.corrupted = false
	m.recovery = nil
	m.lastLoad = time.Now().UTC()
	m.logger.Info("index loaded", "name", m.name, "vectors", restored.Count())
	return nil
}

func (m *Manager) loadIDs(ctx context.Context) ([]string, error) {
	data, err := m.blobs.Get(ctx, m.idsName())
	if errors.Is(err, blobstore.ErrNotFound) {
		m.logger.Warn("id artifact missing; initializing empty", "name", m.name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ids artifact: %w", err)
	}
	var ids []string
	if err := m.codec.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("ids artifact: %w", err)
	}
	return ids, nil
}

func (m *Manager) loadMetadata(ctx context.Context) (map[string]*vectorstore.RecordMeta, error) {
	data, err := m.blobs.Get(ctx, m.metaName())
	if errors.Is(err, blobstore.ErrNotFound) {
		m.logger.Warn("metadata artifact missing; initializing empty", "name", m.name)
		return map[string]*vectorstore.RecordMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata artifact: %w", err)
	}
	meta := map[string]*vectorstore.RecordMeta{}
	if err := m.codec.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("metadata artifact: %w", err)
	}
	return meta, nil
}

// loadStats tolerates a missing or unreadable stats artifact; counters are
// convenience state, not structural.
func (m *Manager) loadStats(ctx context.Context) (Stats, bool) {
	var stats Stats
	data, err := m.blobs.Get(ctx, m.statsName())
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			m.logger.Warn("stats artifact unreadable", "name", m.name, "error", err)
		}
		return stats, false
	}
	if err := m.codec.Unmarshal(data, &stats); err != nil {
		m.logger.Warn("stats artifact unreadable", "name", m.name, "error", err)
		return stats, false
	}
	return stats, true
}

func (m *Manager) corruptionDetected(rec *recoveryState, cause error) error {
	m.corrupted = true
	m.recovery = rec
	m.logger.Error("index corruption detected",
		"name", m.name,
		"error", cause,
	)
	return fmt.Errorf("%w: %w", ErrCorruption, cause)
}

// validateConsistency checks the structural invariants between the vector
// payload and the id list. Violations here are fatal.
func validateConsistency(count int, ids []string) error {
	if count != len(ids) {
		return fmt.Errorf("store holds %d vectors but id list holds %d", count, len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate id %q in id list", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// repairPositionDrift realigns metadata positions with the id list.
// Drift is repairable because the id list is the position authority.
func (m *Manager) repairPositionDrift(ids []string, meta map[string]*vectorstore.RecordMeta) {
	for pos, id := range ids {
		if rm, ok := meta[id]; ok && rm != nil && rm.Position != pos {
			m.logger.Warn("repairing metadata position drift",
				"name", m.name,
				"id", id,
				"stored_position", rm.Position,
				"actual_position", pos,
			)
			rm.Position = pos
		}
	}
}

// Rebuild constructs a fresh store from the currently retained vectors,
// skipping any slot that cannot be reconstructed, swaps it in, clears the
// corrupted flag, and saves. After a corrupted Load it salvages from the
// partially parsed artifacts instead of the live store.
func (m *Manager) Rebuild(ctx context.Context) error {
	opts := vectorstore.Options{Dimension: m.store.Dimension(), Metric: m.store.Metric()}
	dim := opts.Dimension

	var src recoveryState
	if m.corrupted && m.recovery != nil {
		src = *m.recovery
	} else {
		src = recoveryState{
			vectors: m.store.Vectors(),
			ids:     m.store.IDs(),
			meta:    m.store.Metadata(),
		}
	}
	if src.meta == nil {
		src.meta = map[string]*vectorstore.RecordMeta{}
	}

	slots := len(src.vectors) / dim
	keptVectors := make([]float32, 0, len(src.vectors))
	keptIDs := make([]string, 0, slots)
	seen := make(map[string]struct{}, slots)
	dropped := 0

	for pos := 0; pos < slots; pos++ {
		if pos >= len(src.ids) {
			m.logger.Warn("rebuild: dropping slot without id", "position", pos)
			dropped++
			continue
		}
		id := src.ids[pos]
		if _, dup := seen[id]; dup {
			m.logger.Warn("rebuild: dropping duplicate id", "id", id, "position", pos)
			dropped++
			continue
		}
		seen[id] = struct{}{}
		keptVectors = append(keptVectors, src.vectors[pos*dim:(pos+1)*dim]...)
		keptIDs = append(keptIDs, id)
	}
	for pos := slots; pos < len(src.ids); pos++ {
		m.logger.Warn("rebuild: dropping id without vector", "id", src.ids[pos], "position", pos)
		dropped++
	}

	counters := m.store.Counters()
	fresh, err := vectorstore.Restore(opts, keptVectors, keptIDs, src.meta)
	if err != nil {
		return fmt.Errorf("persistence: rebuild: %w", err)
	}
	fresh.SetCounters(counters)

	m.store = fresh
	m.corrupted = false
	m.recovery = nil
	m.rebuildCount++
	m.logger.Info("index rebuilt",
		"name", m.name,
		"vectors", fresh.Count(),
		"dropped_slots", dropped,
	)
	return m.Save(ctx)
}
