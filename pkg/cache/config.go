package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Defaults applied by DefaultConfig and wherever a zero value is supplied.
const (
	defaultL1MaxEntries     = 100
	defaultKeyPrefix        = "terracache:"
	defaultPoolSize         = 10
	defaultOpTimeout        = 2 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	defaultReopenInterval   = 30 * time.Second
	defaultWorkerPoolSize   = 2
	defaultQueueSize        = 128
	defaultCompressionLevel = 3
	defaultMinCompressBytes = 1024
	defaultCleanupInterval  = 10 * time.Minute
	defaultHotThreshold     = 10.0
	defaultWarmThreshold    = 1.0
	defaultWindowSize       = 100
)

// Config configures a Cache. The zero value of any field falls back to its
// default; a nil *Config passed to New means all defaults.
type Config struct {
	L1      L1Config      `yaml:"l1"`
	L2      L2Config      `yaml:"l2"`
	L3      L3Config      `yaml:"l3"`
	Tracker TrackerConfig `yaml:"tracker"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Logger receives structured diagnostics. Nil disables logging.
	Logger *zap.Logger `yaml:"-"`
}

// L1Config configures the in-process memory tier.
type L1Config struct {
	MaxEntries int `yaml:"max_entries"`
}

// L2Config configures the remote tier. An empty endpoint disables it.
type L2Config struct {
	Endpoint       string        `yaml:"endpoint"`
	KeyPrefix      string        `yaml:"key_prefix"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PoolSize       int           `yaml:"pool_size"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ReopenInterval time.Duration `yaml:"reopen_interval"`
}

// L3Config configures the durable file tier.
type L3Config struct {
	Directory        string        `yaml:"directory"`
	WorkerPoolSize   int           `yaml:"worker_pool_size"`
	QueueSize        int           `yaml:"queue_size"`
	CompressionLevel int           `yaml:"compression_level"`
	MinCompressBytes int           `yaml:"min_compress_bytes"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
}

// TrackerConfig configures access classification thresholds, in accesses
// per hour.
type TrackerConfig struct {
	HotThresholdPerHour  float64 `yaml:"hot_threshold_per_hour"`
	WarmThresholdPerHour float64 `yaml:"warm_threshold_per_hour"`
	WindowSize           int     `yaml:"window_size"`
}

// MetricsConfig configures Prometheus export. With Port zero no HTTP
// listener is started.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
}

// DefaultConfig returns a configuration with all defaults applied. The L2
// tier is disabled (no endpoint) and metrics collection is enabled without
// an HTTP listener.
func DefaultConfig() *Config {
	return &Config{
		L1: L1Config{
			MaxEntries: defaultL1MaxEntries,
		},
		L2: L2Config{
			KeyPrefix:      defaultKeyPrefix,
			PoolSize:       defaultPoolSize,
			OpTimeout:      defaultOpTimeout,
			ProbeTimeout:   defaultProbeTimeout,
			ReopenInterval: defaultReopenInterval,
		},
		L3: L3Config{
			Directory:        filepath.Join(os.TempDir(), "terracache"),
			WorkerPoolSize:   defaultWorkerPoolSize,
			QueueSize:        defaultQueueSize,
			CompressionLevel: defaultCompressionLevel,
			MinCompressBytes: defaultMinCompressBytes,
			CleanupInterval:  defaultCleanupInterval,
		},
		Tracker: TrackerConfig{
			HotThresholdPerHour:  defaultHotThreshold,
			WarmThresholdPerHour: defaultWarmThreshold,
			WindowSize:           defaultWindowSize,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "terracache",
			Path:      "/metrics",
		},
	}
}

// LoadConfig reads a YAML file over the defaults, so absent keys keep
// their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for values no default can repair.
func (c *Config) Validate() error {
	if c.L1.MaxEntries < 0 {
		return fmt.Errorf("l1 max_entries must not be negative")
	}
	if c.L2.DB < 0 {
		return fmt.Errorf("l2 db must not be negative")
	}
	if c.L2.PoolSize < 0 {
		return fmt.Errorf("l2 pool_size must not be negative")
	}
	if c.L2.OpTimeout < 0 || c.L2.ProbeTimeout < 0 || c.L2.ReopenInterval < 0 {
		return fmt.Errorf("l2 timeouts must not be negative")
	}
	if c.L3.WorkerPoolSize < 0 {
		return fmt.Errorf("l3 worker_pool_size must not be negative")
	}
	if c.L3.QueueSize < 0 {
		return fmt.Errorf("l3 queue_size must not be negative")
	}
	if c.L3.CompressionLevel < 0 || c.L3.CompressionLevel > 22 {
		return fmt.Errorf("l3 compression_level must be between 0 and 22")
	}
	if c.L3.MinCompressBytes < 0 {
		return fmt.Errorf("l3 min_compress_bytes must not be negative")
	}
	if c.L3.CleanupInterval < 0 {
		return fmt.Errorf("l3 cleanup_interval must not be negative")
	}
	if c.Tracker.HotThresholdPerHour < 0 || c.Tracker.WarmThresholdPerHour < 0 {
		return fmt.Errorf("tracker thresholds must not be negative")
	}
	hot, warm := c.Tracker.HotThresholdPerHour, c.Tracker.WarmThresholdPerHour
	if hot > 0 && warm > 0 && hot <= warm {
		return fmt.Errorf("tracker hot_threshold_per_hour must exceed warm_threshold_per_hour")
	}
	if c.Tracker.WindowSize < 0 {
		return fmt.Errorf("tracker window_size must not be negative")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics port must be a valid port number")
	}
	return nil
}

// withDefaults returns a copy with every zero value replaced by its
// default. The caller's struct is never mutated.
func (c *Config) withDefaults() *Config {
	out := *c

	if out.L1.MaxEntries == 0 {
		out.L1.MaxEntries = defaultL1MaxEntries
	}
	if out.L2.KeyPrefix == "" {
		out.L2.KeyPrefix = defaultKeyPrefix
	}
	if out.L2.PoolSize == 0 {
		out.L2.PoolSize = defaultPoolSize
	}
	if out.L2.OpTimeout == 0 {
		out.L2.OpTimeout = defaultOpTimeout
	}
	if out.L2.ProbeTimeout == 0 {
		out.L2.ProbeTimeout = defaultProbeTimeout
	}
	if out.L2.ReopenInterval == 0 {
		out.L2.ReopenInterval = defaultReopenInterval
	}
	if out.L3.Directory == "" {
		out.L3.Directory = filepath.Join(os.TempDir(), "terracache")
	}
	if out.L3.WorkerPoolSize == 0 {
		out.L3.WorkerPoolSize = defaultWorkerPoolSize
	}
	if out.L3.QueueSize == 0 {
		out.L3.QueueSize = defaultQueueSize
	}
	if out.L3.CompressionLevel == 0 {
		out.L3.CompressionLevel = defaultCompressionLevel
	}
	if out.L3.MinCompressBytes == 0 {
		out.L3.MinCompressBytes = defaultMinCompressBytes
	}
	if out.L3.CleanupInterval == 0 {
		out.L3.CleanupInterval = defaultCleanupInterval
	}
	if out.Tracker.HotThresholdPerHour == 0 {
		out.Tracker.HotThresholdPerHour = defaultHotThreshold
	}
	if out.Tracker.WarmThresholdPerHour == 0 {
		out.Tracker.WarmThresholdPerHour = defaultWarmThreshold
	}
	if out.Tracker.WindowSize == 0 {
		out.Tracker.WindowSize = defaultWindowSize
	}
	if out.Metrics.Namespace == "" {
		out.Metrics.Namespace = "terracache"
	}
	if out.Metrics.Path == "" {
		out.Metrics.Path = "/metrics"
	}
	return &out
}
