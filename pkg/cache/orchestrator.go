package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terracache/terracache/internal/metrics"
	"github.com/terracache/terracache/pkg/codec"
	"github.com/terracache/terracache/pkg/errors"
)

// Promotion TTLs for copies created on the way up. A promoted value lives
// briefly in the faster tier and falls back out unless the key stays hot.
const (
	l1PromotionTTL = 5 * time.Minute
	l2PromotionTTL = time.Hour
)

// Cache is a three-tier cache: an in-process memory tier holding native
// values, an optional shared Redis tier, and a durable file tier. Get
// walks the tiers fastest first and copies hits upward according to how
// frequently each key is accessed; Set places values by the same
// classification. Tier unavailability and I/O failure never surface as
// errors, only as misses.
type Cache[V any] struct {
	config *Config
	codec  codec.Codec[V]
	logger *zap.Logger

	memory *memoryTier[V]
	remote *remoteTier
	files  *fileTier

	tracker   *Tracker
	stats     *cacheStats
	collector *metrics.Collector

	mu      sync.Mutex
	watcher *configWatcher
	closed  bool
}

// New creates a Cache. A nil config means all defaults; zero-valued fields
// fall back to their defaults individually. The codec translates values
// for the serialized tiers; the memory tier stores values natively.
func New[V any](config *Config, cdc codec.Codec[V]) (*Cache[V], error) {
	if cdc == nil {
		return nil, fmt.Errorf("codec must not be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   config.Metrics.Enabled,
		Port:      config.Metrics.Port,
		Path:      config.Metrics.Path,
		Namespace: config.Metrics.Namespace,
	})
	if err != nil {
		return nil, err
	}

	c := &Cache[V]{
		config:    config,
		codec:     cdc,
		logger:    logger,
		memory:    newMemoryTier[V](config.L1.MaxEntries),
		remote:    newRemoteTier(&config.L2, logger.Named("l2")),
		tracker:   NewTracker(&config.Tracker),
		stats:     newCacheStats(),
		collector: collector,
	}

	files, err := newFileTier(&config.L3, logger.Named("l3"), func(n int) {
		collector.RecordEvictions(string(TierFile), n)
	})
	if err != nil {
		_ = c.remote.close()
		return nil, err
	}
	c.files = files

	if err := collector.Start(); err != nil {
		c.files.close()
		_ = c.remote.close()
		return nil, err
	}

	logger.Info("cache ready",
		zap.Int("l1_max_entries", config.L1.MaxEntries),
		zap.Bool("l2_configured", c.remote.configured()),
		zap.String("l3_directory", config.L3.Directory))
	return c, nil
}

// Get returns the value cached under key. The lookup walks L1, then L2,
// then L3, copying hits into faster tiers when the key's access pattern
// warrants it. Absence and tier failure both report found=false; the only
// errors returned are invalid keys and stored values that fail to decode.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := validateKey(key); err != nil {
		return zero, false, err
	}

	start := time.Now()
	defer func() {
		c.collector.ObserveOperation("get", time.Since(start))
	}()

	c.stats.recordRequest()
	c.tracker.RecordAccess(key)

	if value, ok := c.memory.get(key); ok {
		c.stats.recordHit(TierMemory)
		c.collector.RecordHit(string(TierMemory))
		return value, true, nil
	}
	c.stats.recordMiss(TierMemory)

	class := c.tracker.Classify(key)

	if c.remote.configured() {
		if data, ok := c.remote.get(ctx, key); ok {
			value, err := c.codec.Unmarshal(data)
			if err != nil {
				c.stats.recordMiss(TierRemote)
				c.collector.RecordMiss()
				return zero, false, errors.NewSerialization("get", key, err)
			}
			c.stats.recordHit(TierRemote)
			c.collector.RecordHit(string(TierRemote))
			if class == ClassHot {
				c.promoteToMemory(key, value, int64(len(data)), TierRemote)
			}
			return value, true, nil
		}
		c.stats.recordMiss(TierRemote)
	}

	if data, ok := c.files.get(ctx, key); ok {
		value, err := c.codec.Unmarshal(data)
		if err != nil {
			c.stats.recordMiss(TierFile)
			c.collector.RecordMiss()
			return zero, false, errors.NewSerialization("get", key, err)
		}
		c.stats.recordHit(TierFile)
		c.collector.RecordHit(string(TierFile))

		switch class {
		case ClassHot:
			c.promoteToMemory(key, value, int64(len(data)), TierFile)
			c.promoteToRemote(ctx, key, data)
		case ClassWarm:
			c.promoteToRemote(ctx, key, data)
		}
		return value, true, nil
	}
	c.stats.recordMiss(TierFile)

	c.collector.RecordMiss()
	return zero, false, nil
}

// Set stores value in the tiers chosen by the key's access pattern: hot
// keys land in all three tiers, warm keys in L2 and L3, everything else in
// L3 only. The durable write always happens; the returned handle reports
// its completion and may be ignored. A ttl of zero means no expiry, which
// the bounded tiers cap at their promotion TTLs.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) (*WriteHandle, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		c.collector.ObserveOperation("set", time.Since(start))
	}()

	c.tracker.RecordAccess(key)

	data, err := c.codec.Marshal(value)
	if err != nil {
		return nil, errors.NewSerialization("set", key, err)
	}

	switch c.tracker.Classify(key) {
	case ClassHot:
		evicted := c.memory.set(key, value, int64(len(data)), capTTL(ttl, l1PromotionTTL))
		c.collector.RecordEvictions(string(TierMemory), evicted)
		c.collector.RecordSet(string(TierMemory))
		if c.remote.set(ctx, key, data, capTTL(ttl, l2PromotionTTL)) {
			c.collector.RecordSet(string(TierRemote))
		}
	case ClassWarm:
		if c.remote.set(ctx, key, data, capTTL(ttl, l2PromotionTTL)) {
			c.collector.RecordSet(string(TierRemote))
		}
	}

	handle := c.files.set(ctx, key, data, ttl)
	c.collector.RecordSet(string(TierFile))
	return handle, nil
}

// GetOrCompute returns the cached value for key, or runs compute on a miss
// and stores the result with ttl. Compute errors pass through unchanged
// and nothing is stored. Concurrent callers of the same key may each run
// compute; the last completed write wins in each tier. When the computed
// value cannot be encoded it is still returned, alongside the error.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error), ttl time.Duration) (V, error) {
	value, found, err := c.Get(ctx, key)
	if err != nil || found {
		return value, err
	}

	value, err = compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	if _, err := c.Set(ctx, key, value, ttl); err != nil {
		return value, err
	}
	return value, nil
}

// Delete removes key from every tier and forgets its access history. It
// reports whether any tier held the value.
func (c *Cache[V]) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	start := time.Now()
	defer func() {
		c.collector.ObserveOperation("delete", time.Since(start))
	}()

	inMemory := c.memory.delete(key)
	inRemote := c.remote.delete(ctx, key)
	inFiles := c.files.delete(ctx, key)
	c.tracker.Forget(key)

	return inMemory || inRemote || inFiles, nil
}

// ClearAll empties every tier, forgets all access history, and zeroes the
// statistics counters.
func (c *Cache[V]) ClearAll(ctx context.Context) error {
	c.memory.clear()
	c.remote.clear(ctx)
	c.files.clear(ctx)
	c.tracker.Reset()
	c.stats.reset()
	c.logger.Info("cache cleared")
	return nil
}

// Statistics returns a point-in-time snapshot of the request counters,
// memory tier usage, and key classification counts. Counters accumulate
// until ClearAll.
func (c *Cache[V]) Statistics() Statistics {
	stats := c.stats.snapshot()
	stats.Memory = c.memory.stats()
	stats.KeysHot, stats.KeysWarm, stats.KeysCold = c.tracker.SnapshotCounts()

	c.collector.SetEntries(string(TierMemory), stats.Memory.Entries)
	c.collector.SetEntries(string(TierFile), c.files.entryCount())
	c.collector.SetKeyClasses(stats.KeysHot, stats.KeysWarm, stats.KeysCold)
	return stats
}

// Reconfigure applies the runtime-adjustable settings from config: the
// memory tier capacity and the tracker classification thresholds. Tier
// topology, endpoints, directories, the tracker window, and metrics
// settings are fixed at construction; changes to them are logged and
// ignored.
func (c *Cache[V]) Reconfigure(config *Config) error {
	if config == nil {
		return fmt.Errorf("config must not be nil")
	}
	applied := config.withDefaults()
	if err := applied.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("cache is closed")
	}

	evicted := c.memory.setMaxEntries(applied.L1.MaxEntries)
	c.collector.RecordEvictions(string(TierMemory), evicted)
	c.tracker.SetThresholds(applied.Tracker.HotThresholdPerHour, applied.Tracker.WarmThresholdPerHour)

	if applied.L2 != c.config.L2 || applied.L3 != c.config.L3 ||
		applied.Metrics != c.config.Metrics ||
		applied.Tracker.WindowSize != c.config.Tracker.WindowSize {
		c.logger.Info("tier, window, and metrics settings are fixed at construction; keeping current values")
	}

	c.config.L1 = applied.L1
	c.config.Tracker.HotThresholdPerHour = applied.Tracker.HotThresholdPerHour
	c.config.Tracker.WarmThresholdPerHour = applied.Tracker.WarmThresholdPerHour

	c.logger.Info("configuration applied",
		zap.Int("l1_max_entries", applied.L1.MaxEntries),
		zap.Float64("hot_threshold_per_hour", applied.Tracker.HotThresholdPerHour),
		zap.Float64("warm_threshold_per_hour", applied.Tracker.WarmThresholdPerHour),
		zap.Int("evicted", evicted))
	return nil
}

// Close releases every resource: the config watcher, the file tier's
// workers and janitor, the remote client, and the metrics listener.
// Pending durable writes complete before Close returns. Close is
// idempotent.
func (c *Cache[V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if watcher != nil {
		watcher.stop()
	}

	c.files.close()
	err := c.remote.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := c.collector.Stop(ctx); stopErr != nil && err == nil {
		err = stopErr
	}

	c.logger.Info("cache closed")
	return err
}

// promoteToMemory copies a value into L1 with the short promotion TTL.
func (c *Cache[V]) promoteToMemory(key string, value V, sizeBytes int64, source Tier) {
	evicted := c.memory.set(key, value, sizeBytes, l1PromotionTTL)
	c.collector.RecordEvictions(string(TierMemory), evicted)
	c.collector.RecordPromotion(string(source), string(TierMemory))
}

// promoteToRemote copies encoded bytes into L2 with the remote promotion
// TTL. A degraded remote tier drops the copy silently.
func (c *Cache[V]) promoteToRemote(ctx context.Context, key string, data []byte) {
	if c.remote.set(ctx, key, data, l2PromotionTTL) {
		c.collector.RecordPromotion(string(TierFile), string(TierRemote))
	}
}

// validateKey rejects keys no tier can represent: empty keys and keys
// containing a NUL byte.
func validateKey(key string) error {
	if key == "" {
		return errors.NewInvalidKey(key, "key is empty")
	}
	if strings.ContainsRune(key, 0) {
		return errors.NewInvalidKey(key, "key contains a NUL byte")
	}
	return nil
}

// capTTL bounds ttl at limit. A ttl of zero means no expiry, which a
// bounded tier turns into the limit itself.
func capTTL(ttl, limit time.Duration) time.Duration {
	if ttl <= 0 || ttl > limit {
		return limit
	}
	return ttl
}
