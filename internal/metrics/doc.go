/*
Package metrics exports tiered-cache behavior as Prometheus metrics.

# Overview

The Collector owns a private Prometheus registry so that multiple caches in
one process never collide on metric registration. Every record method is a
no-op when collection is disabled, which lets the cache instrument its hot
path unconditionally.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "terracache",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

With Port left at zero no HTTP listener is started; embedding applications
can expose Registry() through their own handler instead.

# Exported Metrics

Counters:
  - terracache_hits_total{tier}: hits served by each tier
  - terracache_misses_total: requests that missed every tier
  - terracache_sets_total{tier}: writes placed into each tier
  - terracache_promotions_total{source,target}: copies toward faster tiers
  - terracache_evictions_total{tier}: removals by capacity or expiry

Histograms:
  - terracache_operation_duration_seconds{operation}: API latency

Gauges:
  - terracache_entries{tier}: live entries per tier
  - terracache_keys_by_class{class}: tracked keys by hot/warm/cold class

Tier labels are lowercase ("l1", "l2", "l3"). Keys never appear as label
values; per-key labels would make cardinality unbounded.

# Thread Safety

All Collector methods are safe for concurrent use. The underlying
Prometheus types handle their own synchronization.
*/
package metrics
