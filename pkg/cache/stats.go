package cache

import "sync"

// cacheStats accumulates request counters for the orchestrator. Every Get
// counts one request; each tier consulted on the way down records a hit or
// a miss. A request hits at most one tier, so the overall hit count is the
// sum of the per-tier hits.
type cacheStats struct {
	mu            sync.RWMutex
	totalRequests uint64
	tierHits      map[Tier]uint64
	tierMisses    map[Tier]uint64
}

func newCacheStats() *cacheStats {
	return &cacheStats{
		tierHits:   make(map[Tier]uint64),
		tierMisses: make(map[Tier]uint64),
	}
}

func (s *cacheStats) recordRequest() {
	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()
}

func (s *cacheStats) recordHit(tier Tier) {
	s.mu.Lock()
	s.tierHits[tier]++
	s.mu.Unlock()
}

func (s *cacheStats) recordMiss(tier Tier) {
	s.mu.Lock()
	s.tierMisses[tier]++
	s.mu.Unlock()
}

// reset clears all counters. Only ClearAll calls this.
func (s *cacheStats) reset() {
	s.mu.Lock()
	s.totalRequests = 0
	s.tierHits = make(map[Tier]uint64)
	s.tierMisses = make(map[Tier]uint64)
	s.mu.Unlock()
}

// snapshot returns the counter portion of Statistics. The caller fills in
// memory and classification details.
func (s *cacheStats) snapshot() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		TotalRequests: s.totalRequests,
		Tiers:         make(map[Tier]TierStats, len(s.tierHits)),
	}

	var hits uint64
	for tier, n := range s.tierHits {
		entry := stats.Tiers[tier]
		entry.Hits = n
		stats.Tiers[tier] = entry
		hits += n
	}
	for tier, n := range s.tierMisses {
		entry := stats.Tiers[tier]
		entry.Misses = n
		stats.Tiers[tier] = entry
	}
	if s.totalRequests > 0 {
		stats.HitRate = float64(hits) / float64(s.totalRequests)
	}
	return stats
}
