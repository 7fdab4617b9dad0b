package cache

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Puts        uint64 `json:"puts"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Rejected    uint64 `json:"rejected"`

	Entries   int   `json:"entries"`
	BytesUsed int64 `json:"bytes_used"`
	MaxBytes  int64 `json:"max_bytes"`

	// HotEntries/ColdEntries count entries whose access frequency sits far
	// above or below the population mean; the same thresholds drive TTL
	// adjustment in auto-optimization.
	HotEntries  int `json:"hot_entries"`
	ColdEntries int `json:"cold_entries"`

	// AvgAccessNanos is the mean wall time of Get calls.
	AvgAccessNanos int64 `json:"avg_access_nanos"`
}

// HitRate returns hits / (hits + misses), or 0 for an untouched cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
