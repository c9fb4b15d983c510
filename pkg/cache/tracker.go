package cache

import (
	"math"
	"sync"
	"time"
)

// defaultFrequency is the assumed accesses-per-hour for a key seen exactly
// once, before any interval exists to measure.
const defaultFrequency = 1.0

// accessRecord holds the sliding interval window for one key.
type accessRecord struct {
	lastAccess time.Time
	intervals  []float64 // seconds between consecutive accesses
	frequency  float64   // cached accesses per hour
}

// Tracker observes per-key access timing and classifies keys as hot, warm,
// or cold. Records survive tier eviction; they are removed only by Forget
// or Reset. All methods are safe for concurrent use.
type Tracker struct {
	mu            sync.Mutex
	records       map[string]*accessRecord
	windowSize    int
	hotThreshold  float64
	warmThreshold float64

	// now is replaceable for deterministic tests.
	now func() time.Time
}

// NewTracker creates a tracker. A nil config uses defaults.
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		def := DefaultConfig().Tracker
		config = &def
	}

	windowSize := config.WindowSize
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	hot := config.HotThresholdPerHour
	if hot <= 0 {
		hot = defaultHotThreshold
	}
	warm := config.WarmThresholdPerHour
	if warm <= 0 {
		warm = defaultWarmThreshold
	}

	return &Tracker{
		records:       make(map[string]*accessRecord),
		windowSize:    windowSize,
		hotThreshold:  hot,
		warmThreshold: warm,
		now:           time.Now,
	}
}

// RecordAccess notes one access to key at the current time.
func (t *Tracker) RecordAccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, exists := t.records[key]
	if !exists {
		t.records[key] = &accessRecord{
			lastAccess: now,
			frequency:  defaultFrequency,
		}
		return
	}

	interval := now.Sub(rec.lastAccess).Seconds()
	rec.intervals = append(rec.intervals, interval)
	if len(rec.intervals) > t.windowSize {
		rec.intervals = rec.intervals[1:]
	}
	rec.lastAccess = now
	rec.frequency = frequencyOf(rec.intervals)
}

// Frequency returns the observed accesses per hour for key and whether the
// key has ever been recorded.
func (t *Tracker) Frequency(key string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[key]
	if !exists {
		return 0, false
	}
	return rec.frequency, true
}

// Classify buckets key per the configured thresholds. Keys never recorded
// classify as unknown.
func (t *Tracker) Classify(key string) Classification {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[key]
	if !exists {
		return ClassUnknown
	}
	return t.classifyFrequency(rec.frequency)
}

// Forget drops all tracking state for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key)
}

// Reset drops tracking state for every key.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*accessRecord)
}

// SetThresholds replaces the hot and warm boundaries. Callers validate.
func (t *Tracker) SetThresholds(hot, warm float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hotThreshold = hot
	t.warmThreshold = warm
}

// SnapshotCounts returns how many tracked keys currently classify as hot,
// warm, and cold.
func (t *Tracker) SnapshotCounts() (hot, warm, cold int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.records {
		switch t.classifyFrequency(rec.frequency) {
		case ClassHot:
			hot++
		case ClassWarm:
			warm++
		default:
			cold++
		}
	}
	return hot, warm, cold
}

func (t *Tracker) classifyFrequency(freq float64) Classification {
	switch {
	case freq > t.hotThreshold:
		return ClassHot
	case freq > t.warmThreshold:
		return ClassWarm
	default:
		return ClassCold
	}
}

// frequencyOf converts an interval window to accesses per hour. A zero or
// negative mean (same-instant accesses) yields +Inf, which classifies hot.
func frequencyOf(intervals []float64) float64 {
	if len(intervals) == 0 {
		return defaultFrequency
	}
	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return math.Inf(1)
	}
	return 3600.0 / mean
}
