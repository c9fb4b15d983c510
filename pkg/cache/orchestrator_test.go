package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terracache/terracache/pkg/codec"
	"github.com/terracache/terracache/pkg/errors"
)

type testValue struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func newTestCache(t *testing.T, mutate func(*Config)) *Cache[testValue] {
	t.Helper()

	config := DefaultConfig()
	config.L3.Directory = t.TempDir()
	config.Metrics.Enabled = false
	if mutate != nil {
		mutate(config)
	}

	c, err := New[testValue](config, codec.NewJSON[testValue]())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheSetGetRoundtrip(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	want := testValue{Name: "vpc-module", Score: 42.5}
	handle, err := c.Set(ctx, "proj/alpha", want, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	got, found, err := c.Get(ctx, "proj/alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)

	// The first lookup served from L3 and promoted the now-hot key, so
	// the second one is an L1 hit.
	got, found, err = c.Get(ctx, "proj/alpha")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)

	stats := c.Statistics()
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.Tiers[TierFile].Hits)
	assert.Equal(t, uint64(1), stats.Tiers[TierMemory].Hits)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestCacheGetMissing(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)

	got, found, err := c.Get(context.Background(), "never-set")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, got)
}

func TestCacheInvalidKeys(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	for _, key := range []string{"", "a\x00b"} {
		_, _, err := c.Get(ctx, key)
		assert.True(t, errors.IsInvalidKey(err), "Get(%q) error = %v", key, err)

		handle, err := c.Set(ctx, key, testValue{}, 0)
		assert.Nil(t, handle)
		assert.True(t, errors.IsInvalidKey(err), "Set(%q) error = %v", key, err)

		_, err = c.Delete(ctx, key)
		assert.True(t, errors.IsInvalidKey(err), "Delete(%q) error = %v", key, err)
	}
}

func TestCachePlacementByClass(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	c := newTestCache(t, func(config *Config) {
		config.L2.Endpoint = srv.Addr()
	})
	ctx := context.Background()

	clock := newFakeClock()
	c.tracker.now = clock.now

	// First sighting: no interval to measure yet, so the key classifies
	// cold and the write lands in L3 only.
	handle, err := c.Set(ctx, "state", testValue{Name: "v1"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	assert.Equal(t, 0, c.memory.len())
	assert.False(t, srv.Exists("terracache:state"))

	// Ten minutes later the key runs at six accesses per hour: warm, so
	// the write reaches L2 as well.
	clock.advance(10 * time.Minute)
	handle, err = c.Set(ctx, "state", testValue{Name: "v2"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	assert.Equal(t, 0, c.memory.len())
	assert.True(t, srv.Exists("terracache:state"))

	// A third access one second later collapses the mean interval, the
	// key goes hot, and the write reaches all three tiers.
	clock.advance(time.Second)
	handle, err = c.Set(ctx, "state", testValue{Name: "v3"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	assert.Equal(t, 1, c.memory.len())
}

func TestCacheTTLBounds(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	c := newTestCache(t, func(config *Config) {
		config.L2.Endpoint = srv.Addr()
	})
	ctx := context.Background()

	// Two rapid sightings make the key hot before the write under test.
	_, _, _ = c.Get(ctx, "bounded")
	_, _, _ = c.Get(ctx, "bounded")

	handle, err := c.Set(ctx, "bounded", testValue{Name: "v"}, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	// The bounded tiers cap a long TTL at their promotion bounds; only
	// the durable tier keeps the caller's TTL.
	c.memory.mu.Lock()
	entry := c.memory.entries["bounded"]
	c.memory.mu.Unlock()
	require.NotNil(t, entry)
	assert.WithinDuration(t, time.Now().Add(l1PromotionTTL), entry.expiresAt, 10*time.Second)

	assert.Equal(t, l2PromotionTTL, srv.TTL("terracache:bounded"))
	assert.Equal(t, int64(24*60*60), readSidecar(t, c.files, "bounded").TTLSeconds)

	// Zero means no expiry, which the bounded tiers still cap.
	_, _, _ = c.Get(ctx, "forever")
	_, _, _ = c.Get(ctx, "forever")
	handle, err = c.Set(ctx, "forever", testValue{Name: "v"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	assert.Equal(t, l2PromotionTTL, srv.TTL("terracache:forever"))
	assert.Zero(t, readSidecar(t, c.files, "forever").TTLSeconds)
}

func TestCachePromotionLifecycle(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	c := newTestCache(t, func(config *Config) {
		config.L2.Endpoint = srv.Addr()
	})
	ctx := context.Background()

	want := testValue{Name: "plan", Score: 7}
	handle, err := c.Set(ctx, "cycle", want, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))
	require.Equal(t, 0, c.memory.len())
	require.False(t, srv.Exists("terracache:cycle"))

	// The rapid second access turns the key hot, so the L3 hit is copied
	// into both faster tiers.
	got, found, err := c.Get(ctx, "cycle")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.memory.len())
	assert.True(t, srv.Exists("terracache:cycle"))

	// Dropped from L1, the next lookup lands in L2 and is promoted back.
	require.True(t, c.memory.delete("cycle"))
	got, found, err = c.Get(ctx, "cycle")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.memory.len())
	assert.Equal(t, uint64(1), c.Statistics().Tiers[TierRemote].Hits)

	// With both upper tiers emptied, the durable copy restores them.
	srv.FlushAll()
	require.True(t, c.memory.delete("cycle"))
	got, found, err = c.Get(ctx, "cycle")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.memory.len())
	assert.True(t, srv.Exists("terracache:cycle"))
}

func TestCacheStatisticsAccounting(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	handle, err := c.Set(ctx, "hits", testValue{Name: "h"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	for i := 0; i < 10; i++ {
		_, found, err := c.Get(ctx, "hits")
		require.NoError(t, err)
		require.True(t, found)
	}
	for i := 0; i < 10; i++ {
		_, found, err := c.Get(ctx, fmt.Sprintf("miss-%d", i))
		require.NoError(t, err)
		require.False(t, found)
	}

	stats := c.Statistics()
	assert.Equal(t, uint64(20), stats.TotalRequests)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, uint64(1), stats.Tiers[TierFile].Hits)
	assert.Equal(t, uint64(9), stats.Tiers[TierMemory].Hits)
	assert.Equal(t, uint64(10), stats.Tiers[TierFile].Misses)
	assert.Equal(t, 1, stats.Memory.Entries)
	assert.Equal(t, 1, stats.KeysHot)
	assert.Equal(t, 10, stats.KeysCold)

	require.NoError(t, c.ClearAll(ctx))

	stats = c.Statistics()
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.HitRate)
	assert.Empty(t, stats.Tiers)
	assert.Zero(t, stats.Memory.Entries)
	assert.Zero(t, stats.KeysHot+stats.KeysWarm+stats.KeysCold)

	_, found, err := c.Get(ctx, "hits")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheDegradedRemote(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, func(config *Config) {
		config.L2.Endpoint = "127.0.0.1:1"
		config.L2.OpTimeout = 100 * time.Millisecond
		config.L2.ProbeTimeout = 100 * time.Millisecond
		config.L2.ReopenInterval = time.Hour
	})
	ctx := context.Background()

	// Every operation keeps working; the dead tier only degrades lookups
	// to misses.
	want := testValue{Name: "resilient"}
	handle, err := c.Set(ctx, "deg", want, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	got, found, err := c.Get(ctx, "deg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)

	require.True(t, c.memory.delete("deg"))
	got, found, err = c.Get(ctx, "deg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)

	value, err := c.GetOrCompute(ctx, "computed", func(context.Context) (testValue, error) {
		return testValue{Name: "fresh"}, nil
	}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value.Name)

	deleted, err := c.Delete(ctx, "deg")
	require.NoError(t, err)
	assert.True(t, deleted)

	health := c.Health(ctx)
	require.Len(t, health, 3)
	assert.True(t, health[0].Healthy)
	assert.False(t, health[1].Healthy)
	assert.NotEmpty(t, health[1].Detail)
	assert.True(t, health[2].Healthy)

	require.NoError(t, c.ClearAll(ctx))
}

func TestCacheGetOrCompute(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (testValue, error) {
		calls++
		return testValue{Name: "computed", Score: 1}, nil
	}

	value, err := c.GetOrCompute(ctx, "price", compute, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "computed", value.Name)
	assert.Equal(t, 1, calls)

	// The first call stored the result, so the second serves it without
	// computing.
	value, err = c.GetOrCompute(ctx, "price", compute, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "computed", value.Name)
	assert.Equal(t, 1, calls)

	// Compute failures pass through unchanged and nothing is stored.
	sentinel := fmt.Errorf("upstream down")
	_, err = c.GetOrCompute(ctx, "broken", func(context.Context) (testValue, error) {
		return testValue{}, sentinel
	}, time.Minute)
	assert.ErrorIs(t, err, sentinel)

	_, found, err := c.Get(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	handle, err := c.Set(ctx, "victim", testValue{Name: "v"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	deleted, err := c.Delete(ctx, "victim")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := c.Get(ctx, "victim")
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = c.Delete(ctx, "victim")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCacheSerializationFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// A value the codec cannot encode is rejected before any tier is
	// touched.
	unencodable := func() *Cache[chan int] {
		config := DefaultConfig()
		config.L3.Directory = t.TempDir()
		config.Metrics.Enabled = false
		c, err := New[chan int](config, codec.NewJSON[chan int]())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}()

	handle, err := unencodable.Set(ctx, "nope", make(chan int), 0)
	assert.Nil(t, handle)
	assert.True(t, errors.IsSerialization(err), "Set error = %v", err)
	assert.Zero(t, unencodable.files.entryCount())

	// Stored bytes that fail to decode surface as a serialization error,
	// not as a silent miss.
	numbers := func() *Cache[int] {
		config := DefaultConfig()
		config.L3.Directory = t.TempDir()
		config.Metrics.Enabled = false
		c, err := New[int](config, codec.NewJSON[int]())
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}()

	garbled := numbers.files.set(ctx, "garbled", []byte("not-json"), 0)
	require.NoError(t, garbled.Wait(ctx))

	_, found, err := numbers.Get(ctx, "garbled")
	assert.False(t, found)
	assert.True(t, errors.IsSerialization(err), "Get error = %v", err)
}

func TestCacheHealth(t *testing.T) {
	t.Parallel()
	srv := miniredis.RunT(t)
	c := newTestCache(t, func(config *Config) {
		config.L2.Endpoint = srv.Addr()
	})
	ctx := context.Background()

	handle, err := c.Set(ctx, "probe", testValue{Name: "p"}, 0)
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	health := c.Health(ctx)
	require.Len(t, health, 3)

	assert.Equal(t, TierMemory, health[0].Tier)
	assert.True(t, health[0].Healthy)
	assert.Contains(t, health[0].Detail, "entries")

	assert.Equal(t, TierRemote, health[1].Tier)
	assert.True(t, health[1].Healthy)
	assert.Contains(t, health[1].Detail, "connected")

	assert.Equal(t, TierFile, health[2].Tier)
	assert.True(t, health[2].Healthy)
	assert.Contains(t, health[2].Detail, "1 entries")
}

func TestCacheHealthWithoutRemote(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)

	health := c.Health(context.Background())
	require.Len(t, health, 3)
	assert.True(t, health[0].Healthy)
	assert.False(t, health[1].Healthy)
	assert.Equal(t, "not configured", health[1].Detail)
	assert.True(t, health[2].Healthy)
}

func TestCacheReconfigure(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	// Two rapid writes apiece make three keys hot enough for L1.
	for _, key := range []string{"a", "b", "c"} {
		for i := 0; i < 2; i++ {
			handle, err := c.Set(ctx, key, testValue{Name: key}, 0)
			require.NoError(t, err)
			require.NoError(t, handle.Wait(ctx))
		}
	}
	require.Equal(t, 3, c.memory.len())

	smaller := DefaultConfig()
	smaller.L1.MaxEntries = 2
	require.NoError(t, c.Reconfigure(smaller))
	assert.Equal(t, 2, c.memory.stats().MaxEntries)
	assert.Equal(t, 2, c.memory.len())

	smaller.Tracker.HotThresholdPerHour = 100
	smaller.Tracker.WarmThresholdPerHour = 50
	require.NoError(t, c.Reconfigure(smaller))
	c.tracker.mu.Lock()
	hot, warm := c.tracker.hotThreshold, c.tracker.warmThreshold
	c.tracker.mu.Unlock()
	assert.Equal(t, 100.0, hot)
	assert.Equal(t, 50.0, warm)

	bad := DefaultConfig()
	bad.L1.MaxEntries = -1
	assert.Error(t, c.Reconfigure(bad))

	require.NoError(t, c.Close())
	assert.Error(t, c.Reconfigure(DefaultConfig()))
}

func TestCacheClose(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	handle, err := c.Set(ctx, "pending", testValue{Name: "p"}, 0)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// The queued durable write completed before Close returned.
	require.NoError(t, handle.Wait(ctx))

	// Writes after close still hand back a handle; the handle carries
	// the failure.
	handle, err = c.Set(ctx, "late", testValue{Name: "l"}, 0)
	require.NoError(t, err)
	assert.Error(t, handle.Wait(ctx))

	assert.Error(t, c.WatchConfig(filepath.Join(t.TempDir(), "config.yaml")))
}

func TestCacheWatchConfig(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, c.WatchConfig(path))

	err := c.WatchConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, os.WriteFile(path, []byte("l1:\n  max_entries: 2\n"), 0600))

	deadline := time.Now().Add(3 * time.Second)
	for c.memory.stats().MaxEntries != 2 && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
	}
	assert.Equal(t, 2, c.memory.stats().MaxEntries)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New[testValue](nil, nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.L1.MaxEntries = -1
	bad.Metrics.Enabled = false
	_, err = New[testValue](bad, codec.NewJSON[testValue]())
	assert.Error(t, err)

	c, err := New[testValue](nil, codec.NewJSON[testValue]())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, defaultL1MaxEntries, c.memory.stats().MaxEntries)
	assert.False(t, c.remote.configured())
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				key := fmt.Sprintf("g%d-i%d", g, i)
				if _, err := c.Set(ctx, key, testValue{Score: float64(i)}, 0); err != nil {
					t.Errorf("Set(%q) error: %v", key, err)
				}
				if _, _, err := c.Get(ctx, key); err != nil {
					t.Errorf("Get(%q) error: %v", key, err)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, uint64(160), c.Statistics().TotalRequests)
}
