package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
stream:
  mode: memory
warehouse:
  path: ./warehouse.duckdb
`))
	require.NoError(t, err)

	assert.Equal(t, "order-ingester", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 500, cfg.Stream.PollMaxRecords)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.Retention)
	assert.Equal(t, 200, cfg.Batch.MaxRecords)
	assert.Equal(t, 10*time.Second, cfg.Batch.MaxWait)
	assert.Equal(t, "duckdb", cfg.Warehouse.Driver)
	assert.Equal(t, "fact_orders", cfg.Warehouse.Table)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
service:
  name: order-ingester
  environment: staging
stream:
  mode: kafka
  brokers: broker-1:9092,broker-2:9092
  topic: food_orders
  consumer_group: ingester
  poll_max_records: 250
dedup:
  retention: 48h
  max_entries: 500000
  shards: 64
batch:
  max_records: 100
  max_wait: 5s
warehouse:
  driver: postgres
  dsn: postgres://ingest@warehouse/orders?sslmode=disable
  table: fact_orders
checkpoint:
  backend: sqlite
  path: /var/lib/ingester/checkpoints.db
logging:
  level: debug
  format: console
metrics:
  enabled: true
  addr: ":9200"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "staging", cfg.Service.Environment)
	assert.Equal(t, 250, cfg.Stream.PollMaxRecords)
	assert.Equal(t, 48*time.Hour, cfg.Dedup.Retention)
	assert.Equal(t, 64, cfg.Dedup.Shards)
	assert.Equal(t, 5*time.Second, cfg.Batch.MaxWait)
	assert.Equal(t, "postgres", cfg.Warehouse.Driver)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Backend)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"kafka without brokers", func(c *AppConfig) {
			c.Stream.Mode = "kafka"
			c.Stream.Brokers = ""
		}},
		{"unknown stream mode", func(c *AppConfig) { c.Stream.Mode = "pigeon" }},
		{"duckdb without path", func(c *AppConfig) {
			c.Warehouse.Driver = "duckdb"
			c.Warehouse.Path = ""
		}},
		{"postgres without dsn", func(c *AppConfig) {
			c.Warehouse.Driver = "postgres"
			c.Warehouse.DSN = ""
		}},
		{"unknown warehouse driver", func(c *AppConfig) { c.Warehouse.Driver = "csv" }},
		{"unknown checkpoint backend", func(c *AppConfig) { c.Checkpoint.Backend = "etcd" }},
		{"negative batch size", func(c *AppConfig) { c.Batch.MaxRecords = -1 }},
		{"negative dedup retention", func(c *AppConfig) { c.Dedup.Retention = -time.Hour }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg AppConfig
			cfg.ApplyDefaults()
			cfg.Stream.Mode = "memory"
			cfg.Warehouse.Path = "./warehouse.duckdb"
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
