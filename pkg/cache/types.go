package cache

// Tier identifies one level of the cache hierarchy.
type Tier string

const (
	// TierMemory is the in-process L1 tier.
	TierMemory Tier = "l1"
	// TierRemote is the networked key-value L2 tier.
	TierRemote Tier = "l2"
	// TierFile is the durable on-disk L3 tier.
	TierFile Tier = "l3"
)

// Classification buckets a key by its observed access frequency.
type Classification string

const (
	// ClassUnknown marks a key that has never been recorded.
	ClassUnknown Classification = "unknown"
	// ClassHot marks a key accessed more often than the hot threshold.
	ClassHot Classification = "hot"
	// ClassWarm marks a key between the warm and hot thresholds.
	ClassWarm Classification = "warm"
	// ClassCold marks a key at or below the warm threshold.
	ClassCold Classification = "cold"
)

// TierStats represents hit and miss counters for a single tier.
type TierStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// MemoryStats represents a snapshot of the L1 tier.
type MemoryStats struct {
	Entries        int     `json:"entries"`
	MaxEntries     int     `json:"max_entries"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalAccesses  uint64  `json:"total_accesses"`
	AvgAccessCount float64 `json:"avg_access_count"`
}

// Statistics represents a point-in-time snapshot of cache behavior.
// Counters accumulate from construction and reset only on ClearAll.
type Statistics struct {
	TotalRequests uint64             `json:"total_requests"`
	HitRate       float64            `json:"hit_rate"`
	Tiers         map[Tier]TierStats `json:"tiers"`
	Memory        MemoryStats        `json:"l1_stats"`
	KeysHot       int                `json:"keys_hot"`
	KeysWarm      int                `json:"keys_warm"`
	KeysCold      int                `json:"keys_cold"`
}

// TierHealth represents the point-in-time health of one tier.
type TierHealth struct {
	Tier    Tier   `json:"tier"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail"`
}
