package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcpmessenger/shine-skincare-app-sub001/blobstore"
	"github.com/mcpmessenger/shine-skincare-app-sub001/codec"
	"github.com/mcpmessenger/shine-skincare-app-sub001/internal/compress"
)

const (
	// SnapshotBlobName holds the compressed entry payload.
	SnapshotBlobName = "cache_data.zst"

	// SnapshotStatsName holds a human-readable stats sidecar.
	SnapshotStatsName = "cache_stats.json"

	snapshotVersion = 1
)

type snapshotEntry struct {
	Key         uint64        `json:"key"`
	Value       []byte        `json:"value"`
	CreatedAt   int64         `json:"created_at"`
	LastAccess  int64         `json:"last_access"`
	ExpiresAt   int64         `json:"expires_at"`
	TTL         time.Duration `json:"ttl"`
	AccessCount uint64        `json:"access_count"`
}

type snapshot struct {
	Version  int             `json:"version"`
	Policy   string          `json:"policy"`
	MaxBytes int64           `json:"max_bytes"`
	SavedAt  time.Time       `json:"saved_at"`
	Entries  []snapshotEntry `json:"entries"`
	Stats    Stats           `json:"stats"`
}

// Backup serializes live entries and stats to the blob store. Payloads are
// stored decompressed inside the snapshot so a restore can recompress under
// a different configuration; the snapshot itself is zstd-compressed.
func (c *ResultCache) Backup(ctx context.Context, blobs blobstore.BlobStore) error {
	c.mu.Lock()
	snap := snapshot{
		Version:  snapshotVersion,
		Policy:   c.opts.Policy.String(),
		MaxBytes: c.opts.MaxBytes,
		SavedAt:  c.opts.Now(),
		Entries:  make([]snapshotEntry, 0, len(c.index)),
	}
	now := c.opts.Now().UnixNano()
	for _, idx := range c.index {
		e := &c.arena[idx]
		if e.expiresAt != 0 && now > e.expiresAt {
			continue
		}
		value, err := compress.Decode(e.payload)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("decode entry %d: %w", e.key, err)
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			Key:         e.key,
			Value:       value,
			CreatedAt:   e.createdAt,
			LastAccess:  e.lastAccess,
			ExpiresAt:   e.expiresAt,
			TTL:         e.ttl,
			AccessCount: e.accessCount,
		})
	}
	snap.Stats = c.stats
	snap.Stats.Entries = len(snap.Entries)
	snap.Stats.BytesUsed = c.used
	snap.Stats.MaxBytes = c.opts.MaxBytes
	c.mu.Unlock()

	data, err := codec.Default.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	block, err := compress.Encode(data, compress.ZSTD)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := blobs.Put(ctx, SnapshotBlobName, block); err != nil {
		return fmt.Errorf("write %s: %w", SnapshotBlobName, err)
	}

	statsData, err := codec.JSON{}.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := blobs.Put(ctx, SnapshotStatsName, statsData); err != nil {
		return fmt.Errorf("write %s: %w", SnapshotStatsName, err)
	}

	c.opts.Logger.Info("cache: snapshot written",
		"entries", len(snap.Entries), "bytes", len(block))
	return nil
}

// Restore replaces the cache contents from a snapshot, preserving access
// counts and timestamps. Entries already expired at restore time are
// dropped. A missing snapshot is not an error; the cache starts cold.
func (c *ResultCache) Restore(ctx context.Context, blobs blobstore.BlobStore) error {
	block, err := blobs.Get(ctx, SnapshotBlobName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read %s: %w", SnapshotBlobName, err)
	}
	data, err := compress.Decode(block)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap snapshot
	if err := codec.Default.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.arena = nil
	c.free = nil
	c.index = make(map[uint64]int32, len(snap.Entries))
	c.head, c.tail = nilIdx, nilIdx
	c.used = 0

	now := c.opts.Now().UnixNano()
	restored, dropped := 0, 0
	for _, se := range snap.Entries {
		if se.ExpiresAt != 0 && now > se.ExpiresAt {
			dropped++
			continue
		}
		payload, err := compress.Encode(se.Value, c.opts.Compression)
		if err != nil {
			return fmt.Errorf("compress entry %d: %w", se.Key, err)
		}
		size := int64(len(payload)) + entryOverhead
		if c.used+size > c.opts.MaxBytes {
			c.evictLocked(c.used + size - c.opts.MaxBytes)
		}
		idx := c.allocLocked()
		c.arena[idx] = entry{
			key:         se.Key,
			payload:     payload,
			createdAt:   se.CreatedAt,
			lastAccess:  se.LastAccess,
			expiresAt:   se.ExpiresAt,
			ttl:         se.TTL,
			accessCount: se.AccessCount,
			size:        size,
			prev:        nilIdx,
			next:        nilIdx,
			used:        true,
		}
		c.index[se.Key] = idx
		c.pushFrontLocked(idx)
		c.used += size
		restored++
	}

	c.opts.Logger.Info("cache: snapshot restored",
		"restored", restored, "dropped_expired", dropped)
	return nil
}
