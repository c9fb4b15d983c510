package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exports cache behavior as Prometheus metrics. All record
// methods are no-ops when collection is disabled, so callers never need to
// guard their instrumentation sites.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	hits       *prometheus.CounterVec
	misses     prometheus.Counter
	sets       *prometheus.CounterVec
	promotions *prometheus.CounterVec
	evictions  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	entries    *prometheus.GaugeVec
	keyClasses *prometheus.GaugeVec

	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the default metrics configuration. Collection is
// enabled but no HTTP listener is started until a port is set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      0,
		Path:      "/metrics",
		Namespace: "terracache",
	}
}

// NewCollector creates a collector. With collection disabled the returned
// collector carries no registry and every method is a no-op.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return c, nil
}

// Start exposes the registry over HTTP when a port is configured.
func (c *Collector) Start() error {
	if !c.config.Enabled || c.config.Port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP listener if one was started.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Registry returns the underlying registry for embedding or scraping in
// tests. Nil when collection is disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordHit counts a hit served by the given tier.
func (c *Collector) RecordHit(tier string) {
	if !c.config.Enabled {
		return
	}
	c.hits.WithLabelValues(tier).Inc()
}

// RecordMiss counts a request that missed every tier.
func (c *Collector) RecordMiss() {
	if !c.config.Enabled {
		return
	}
	c.misses.Inc()
}

// RecordSet counts a write placed into the given tier.
func (c *Collector) RecordSet(tier string) {
	if !c.config.Enabled {
		return
	}
	c.sets.WithLabelValues(tier).Inc()
}

// RecordPromotion counts a value copied from a slower tier to a faster one.
func (c *Collector) RecordPromotion(source, target string) {
	if !c.config.Enabled {
		return
	}
	c.promotions.WithLabelValues(source, target).Inc()
}

// RecordEvictions counts entries removed by capacity or expiry. Sweeps
// remove in batches, so this takes a count.
func (c *Collector) RecordEvictions(tier string, n int) {
	if n <= 0 || !c.config.Enabled {
		return
	}
	c.evictions.WithLabelValues(tier).Add(float64(n))
}

// ObserveOperation records a public API operation's latency.
func (c *Collector) ObserveOperation(operation string, d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetEntries updates the live entry count for a tier.
func (c *Collector) SetEntries(tier string, n int) {
	if !c.config.Enabled {
		return
	}
	c.entries.WithLabelValues(tier).Set(float64(n))
}

// SetKeyClasses updates the hot/warm/cold key gauges.
func (c *Collector) SetKeyClasses(hot, warm, cold int) {
	if !c.config.Enabled {
		return
	}
	c.keyClasses.WithLabelValues("hot").Set(float64(hot))
	c.keyClasses.WithLabelValues("warm").Set(float64(warm))
	c.keyClasses.WithLabelValues("cold").Set(float64(cold))
}

func (c *Collector) initMetrics() error {
	ns := c.config.Namespace

	c.hits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "hits_total",
			Help:      "Cache hits by serving tier",
		},
		[]string{"tier"},
	)

	c.misses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "misses_total",
			Help:      "Requests that missed every tier",
		},
	)

	c.sets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sets_total",
			Help:      "Writes placed into each tier",
		},
		[]string{"tier"},
	)

	c.promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "promotions_total",
			Help:      "Values copied from a slower tier to a faster one",
		},
		[]string{"source", "target"},
	)

	c.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "evictions_total",
			Help:      "Entries removed by capacity pressure or expiry",
		},
		[]string{"tier"},
	)

	c.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Latency of cache API operations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"operation"},
	)

	c.entries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "entries",
			Help:      "Live entries per tier",
		},
		[]string{"tier"},
	)

	c.keyClasses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "keys_by_class",
			Help:      "Tracked keys by access classification",
		},
		[]string{"class"},
	)

	collectors := []prometheus.Collector{
		c.hits,
		c.misses,
		c.sets,
		c.promotions,
		c.evictions,
		c.duration,
		c.entries,
		c.keyClasses,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
