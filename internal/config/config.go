// Package config loads and validates the ingester's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the full application configuration.
type AppConfig struct {
	Service struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
	} `yaml:"service"`

	Stream     StreamConfig     `yaml:"stream"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Batch      BatchConfig      `yaml:"batch"`
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

// StreamConfig configures the event log consumer.
type StreamConfig struct {
	// Mode selects the log backend: "kafka" or "memory" (local runs/tests).
	Mode string `yaml:"mode"`

	Brokers       string `yaml:"brokers"`
	Topic         string `yaml:"topic"`
	ConsumerGroup string `yaml:"consumer_group"`

	// PollMaxRecords caps the records returned by a single poll.
	PollMaxRecords int `yaml:"poll_max_records"`
	// PollTimeout bounds how long a poll waits for data.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// Transient connection errors inside a poll are retried with exponential
	// backoff; MaxRetryElapsed bounds the total wait before the partition fails.
	RetryInitialWait time.Duration `yaml:"retry_initial_wait"`
	MaxRetryElapsed  time.Duration `yaml:"max_retry_elapsed"`
}

// ApplyDefaults sets default values for stream config.
func (c *StreamConfig) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "kafka"
	}
	if c.PollMaxRecords == 0 {
		c.PollMaxRecords = 500
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.RetryInitialWait == 0 {
		c.RetryInitialWait = time.Second
	}
	if c.MaxRetryElapsed == 0 {
		c.MaxRetryElapsed = 5 * time.Minute
	}
}

// DedupConfig configures the identity window.
type DedupConfig struct {
	// Retention is the eviction horizon. It must be sized generously relative
	// to checkpoint-commit latency: redelivery beyond this horizon is assumed
	// not to occur (operator-owned trust boundary).
	Retention time.Duration `yaml:"retention"`

	// MaxEntries caps the window size; 0 means unbounded. When the cap is
	// reached the oldest entries are evicted first.
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval is how often expired entries are reclaimed in the
	// background. Admit also checks expiry lazily, so this only bounds memory.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Shards int `yaml:"shards"`
}

// ApplyDefaults sets default values for dedup config.
func (c *DedupConfig) ApplyDefaults() {
	if c.Retention == 0 {
		c.Retention = 24 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.Shards == 0 {
		c.Shards = 32
	}
}

// BatchConfig bounds batch formation: a batch flushes when it reaches
// MaxRecords or when MaxWait has elapsed since the first record, whichever
// triggers first.
type BatchConfig struct {
	MaxRecords int           `yaml:"max_records"`
	MaxWait    time.Duration `yaml:"max_wait"`

	// Commit retry policy for retryable warehouse failures.
	RetryInitialWait time.Duration `yaml:"retry_initial_wait"`
	MaxRetryElapsed  time.Duration `yaml:"max_retry_elapsed"`
}

// ApplyDefaults sets default values for batch config.
func (c *BatchConfig) ApplyDefaults() {
	if c.MaxRecords == 0 {
		c.MaxRecords = 200
	}
	if c.MaxWait == 0 {
		c.MaxWait = 10 * time.Second
	}
	if c.RetryInitialWait == 0 {
		c.RetryInitialWait = time.Second
	}
	if c.MaxRetryElapsed == 0 {
		c.MaxRetryElapsed = 5 * time.Minute
	}
}

// WarehouseConfig configures the fact-table writer.
type WarehouseConfig struct {
	// Driver selects the warehouse backend: "duckdb" or "postgres".
	Driver string `yaml:"driver"`

	// Path is the DuckDB database file (duckdb driver).
	Path string `yaml:"path"`

	// DSN is the Postgres connection string (postgres driver).
	DSN string `yaml:"dsn"`

	Table string `yaml:"table"`

	// CommitTimeout bounds a single warehouse transaction.
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// ApplyDefaults sets default values for warehouse config.
func (c *WarehouseConfig) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = "duckdb"
	}
	if c.Table == "" {
		c.Table = "fact_orders"
	}
	if c.CommitTimeout == 0 {
		c.CommitTimeout = 30 * time.Second
	}
}

// CheckpointConfig configures the committed-offset store.
type CheckpointConfig struct {
	// Backend selects the store: "file" or "sqlite".
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir"`
	Filename string `yaml:"filename"`
	// Path is the SQLite database file (sqlite backend).
	Path string `yaml:"path"`
}

// ApplyDefaults sets default values for checkpoint config.
func (c *CheckpointConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.Dir == "" {
		c.Dir = "./state"
	}
	if c.Filename == "" {
		c.Filename = "checkpoints.json"
	}
	if c.Path == "" {
		c.Path = "./state/checkpoints.db"
	}
}

// Load loads the application configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults sets default values on every section.
func (c *AppConfig) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "order-ingester"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9105"
	}
	c.Stream.ApplyDefaults()
	c.Dedup.ApplyDefaults()
	c.Batch.ApplyDefaults()
	c.Warehouse.ApplyDefaults()
	c.Checkpoint.ApplyDefaults()
}

// Validate validates the application configuration.
func (c *AppConfig) Validate() error {
	switch c.Stream.Mode {
	case "kafka":
		if c.Stream.Brokers == "" {
			return fmt.Errorf("stream.brokers is required in kafka mode")
		}
		if c.Stream.Topic == "" {
			return fmt.Errorf("stream.topic is required in kafka mode")
		}
		if c.Stream.ConsumerGroup == "" {
			return fmt.Errorf("stream.consumer_group is required in kafka mode")
		}
	case "memory":
		// Nothing to validate; the in-memory log is self-contained.
	default:
		return fmt.Errorf("stream.mode must be kafka or memory, got %q", c.Stream.Mode)
	}

	switch c.Warehouse.Driver {
	case "duckdb":
		if c.Warehouse.Path == "" {
			return fmt.Errorf("warehouse.path is required for the duckdb driver")
		}
	case "postgres":
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("warehouse.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("warehouse.driver must be duckdb or postgres, got %q", c.Warehouse.Driver)
	}

	switch c.Checkpoint.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("checkpoint.backend must be file or sqlite, got %q", c.Checkpoint.Backend)
	}

	if c.Batch.MaxRecords < 1 {
		return fmt.Errorf("batch.max_records must be positive")
	}
	if c.Dedup.Retention <= 0 {
		return fmt.Errorf("dedup.retention must be positive")
	}
	return nil
}
