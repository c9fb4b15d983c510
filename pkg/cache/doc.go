/*
Package cache provides tiered caching for expensive computation results.

Values are spread across three tiers and move between them according to how
frequently each key is accessed. Callers interact with a single generic
Cache[V]; tier selection, promotion, and failure handling happen behind it.

# Tier Architecture

	┌─────────────────────────────────────────────┐
	│              Application                    │
	│        (computed results by key)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Cache[V]                       │  ← This Package
	│   (classification, placement, promotion)    │
	└─────────────────────────────────────────────┘
	          │           │            │
	┌──────────────┐ ┌──────────────┐ ┌──────────────┐
	│  L1 Memory   │ │  L2 Remote   │ │   L3 File    │
	│ native V     │ │ Redis, shared│ │ durable,     │
	│ bounded map  │ │ between      │ │ compressed,  │
	│ 5m promotion │ │ processes    │ │ sidecar      │
	│ TTL          │ │ 1h promotion │ │ metadata     │
	│              │ │ TTL          │ │              │
	└──────────────┘ └──────────────┘ └──────────────┘

L1 (Memory):
- In-process map holding values natively, no serialization
- Bounded entry count; evicts the oldest-accessed entry, breaking ties
  toward the lower access count
- Per-entry TTL with lazy expiry

L2 (Remote):
- Optional Redis tier shared between processes
- Circuit breaker around every operation; an unreachable server degrades
  the tier to a silent miss until a half-open probe succeeds
- Metadata record per key, refreshed on hits without blocking reads

L3 (File):
- Durable directory of value files with JSON sidecar metadata
- zstd compression for payloads above a size threshold, kept only when
  the compressed form is smaller
- Writes flow through a fixed worker pool and report completion via
  WriteHandle futures; reads are synchronous
- Background janitor sweeps expired pairs

# Access Pattern Classification

Every Get and Set records an access. A key's access frequency is derived
from the mean interval between its recent accesses and classifies it as
hot, warm, or cold:

- hot: more than 10 accesses/hour. Placed and promoted into all tiers.
- warm: more than 1 access/hour. Placed into L2 and L3.
- cold and unknown: placed into L3 only.

Hits in slow tiers copy hot values upward with short promotion TTLs (five
minutes in L1, one hour in L2), so a key that cools down falls back out of
the fast tiers on its own.

# Usage

	c, err := cache.New[Result](nil, codec.NewJSON[Result]())
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	// Store a computed result; the handle tracks the durable write.
	handle, err := c.Set(ctx, key, result, time.Hour)
	if err != nil {
		return err
	}
	_ = handle // or handle.Wait(ctx) for durability

	// Read it back.
	value, found, err := c.Get(ctx, key)

	// Or combine lookup and computation.
	value, err = c.GetOrCompute(ctx, key, computeResult, time.Hour)

	stats := c.Statistics()
	fmt.Printf("hit rate: %.2f%%\n", stats.HitRate*100)

# Failure Semantics

Tier unavailability and I/O failure never surface to callers. A failed
tier contributes misses until it recovers, and the only errors an
operation returns are invalid keys and values that fail to encode or
decode. Redis outages are absorbed by the circuit breaker; file tier
corruption removes the damaged entry and reports absence.

# Thread Safety

All Cache methods are safe for concurrent use. Each tier and the access
tracker synchronize independently, and statistics counters sit behind
their own lock, so no single mutex serializes the whole cache.
*/
package cache
