package cache

import (
	"sync"
	"time"
)

// memoryEntry is one L1 record. The value is held natively; sizeBytes is
// the encoded length reported by the orchestrator, carried for statistics
// only.
type memoryEntry[V any] struct {
	value       V
	sizeBytes   int64
	createdAt   time.Time
	accessedAt  time.Time
	expiresAt   time.Time // zero means no expiry
	accessCount uint64
}

func (e *memoryEntry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryTier is the in-process L1 cache. Capacity is an entry count, not
// bytes. Expiry is lazy: expired entries are removed when a get observes
// them. A single mutex guards all state.
type memoryTier[V any] struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry[V]
	maxEntries int

	now func() time.Time
}

func newMemoryTier[V any](maxEntries int) *memoryTier[V] {
	if maxEntries <= 0 {
		maxEntries = defaultL1MaxEntries
	}
	return &memoryTier[V]{
		entries:    make(map[string]*memoryEntry[V]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// get returns the value for key when present and unexpired. Hits bump the
// entry's access time and count.
func (m *memoryTier[V]) get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	entry, exists := m.entries[key]
	if !exists {
		return zero, false
	}

	now := m.now()
	if entry.expired(now) {
		delete(m.entries, key)
		return zero, false
	}

	entry.accessedAt = now
	entry.accessCount++
	return entry.value, true
}

// set stores value under key. Overwrites update in place with a fresh
// createdAt and a zeroed access count. Inserting a new key at capacity
// first evicts the entry with the oldest accessedAt, ties broken by lowest
// accessCount. Returns the number of entries evicted.
func (m *memoryTier[V]) set(key string, value V, sizeBytes int64, ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if entry, exists := m.entries[key]; exists {
		entry.value = value
		entry.sizeBytes = sizeBytes
		entry.createdAt = now
		entry.accessedAt = now
		entry.expiresAt = expiresAt
		entry.accessCount = 0
		return 0
	}

	evicted := 0
	for len(m.entries) >= m.maxEntries {
		if !m.evictVictim() {
			break
		}
		evicted++
	}

	m.entries[key] = &memoryEntry[V]{
		value:      value,
		sizeBytes:  sizeBytes,
		createdAt:  now,
		accessedAt: now,
		expiresAt:  expiresAt,
	}
	return evicted
}

// delete removes key, reporting whether it was present.
func (m *memoryTier[V]) delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.entries[key]
	if exists {
		delete(m.entries, key)
	}
	return exists
}

// clear removes every entry.
func (m *memoryTier[V]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry[V])
}

func (m *memoryTier[V]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// setMaxEntries changes the capacity, evicting down to the new bound when
// needed. Returns the number of entries evicted.
func (m *memoryTier[V]) setMaxEntries(n int) int {
	if n <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.maxEntries = n
	evicted := 0
	for len(m.entries) > m.maxEntries {
		if !m.evictVictim() {
			break
		}
		evicted++
	}
	return evicted
}

// stats snapshots the tier.
func (m *memoryTier[V]) stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totalSize int64
	var totalAccesses uint64
	for _, entry := range m.entries {
		totalSize += entry.sizeBytes
		totalAccesses += entry.accessCount
	}

	s := MemoryStats{
		Entries:        len(m.entries),
		MaxEntries:     m.maxEntries,
		TotalSizeBytes: totalSize,
		TotalAccesses:  totalAccesses,
	}
	if len(m.entries) > 0 {
		s.AvgAccessCount = float64(totalAccesses) / float64(len(m.entries))
	}
	return s
}

// evictVictim removes the entry with the oldest accessedAt, ties broken by
// lowest accessCount. Caller holds the mutex.
func (m *memoryTier[V]) evictVictim() bool {
	if len(m.entries) == 0 {
		return false
	}

	var victim string
	var victimAt time.Time
	var victimCount uint64
	first := true

	for key, entry := range m.entries {
		older := entry.accessedAt.Before(victimAt)
		tied := entry.accessedAt.Equal(victimAt) && entry.accessCount < victimCount
		if first || older || tied {
			victim = key
			victimAt = entry.accessedAt
			victimCount = entry.accessCount
			first = false
		}
	}

	delete(m.entries, victim)
	return true
}
