package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/checkpoint"
	"github.com/tasteflow/order-ingester/internal/dedup"
	"github.com/tasteflow/order-ingester/internal/model"
	"github.com/tasteflow/order-ingester/internal/pipeline"
	"github.com/tasteflow/order-ingester/internal/stream"
	"github.com/tasteflow/order-ingester/internal/validate"
)

type noopWriter struct{}

func (noopWriter) ValidateSchema(context.Context) error            { return nil }
func (noopWriter) Commit(context.Context, *model.CommitBatch) error { return nil }
func (noopWriter) Close() error                                     { return nil }

func testFactory(t *testing.T) PipelineFactory {
	t.Helper()
	return func(_ context.Context, cfg JobConfig) (*pipeline.Pipeline, error) {
		store, err := checkpoint.NewFileStore(t.TempDir(), "checkpoints.json")
		if err != nil {
			return nil, err
		}
		window := dedup.NewWindow(dedup.Config{Retention: cfg.DedupWindowRetention, Shards: 4})
		t.Cleanup(window.Close)
		return pipeline.New(
			pipeline.Config{
				BatchMaxRecords: cfg.BatchMaxRecords,
				BatchMaxWait:    cfg.BatchMaxWait,
			},
			stream.NewMemLog(1),
			validate.New(time.Minute),
			window,
			noopWriter{},
			store,
			zap.NewNop(),
		), nil
	}
}

func validJobConfig() JobConfig {
	return JobConfig{
		StreamName:              "orders",
		ConsumerGroup:           "ingester",
		CheckpointStoreLocation: "/tmp/checkpoints.json",
		BatchMaxRecords:         100,
		BatchMaxWait:            50 * time.Millisecond,
		DedupWindowRetention:    time.Hour,
		WarehouseConnection:     "warehouse.duckdb",
	}
}

func TestRunner_StartBeforeReadinessRefused(t *testing.T) {
	r := NewRunner(&Gate{}, testFactory(t), zap.NewNop())

	_, err := r.Start(context.Background(), validJobConfig())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, r.Running())
}

func TestRunner_StartAndStop(t *testing.T) {
	gate := &Gate{}
	gate.Assert()
	gate.Assert() // idempotent
	r := NewRunner(gate, testFactory(t), zap.NewNop())

	handle, err := r.Start(context.Background(), validJobConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, handle.String())
	assert.Equal(t, 1, r.Running())

	require.NoError(t, r.Stop(context.Background(), handle))
	assert.Equal(t, 0, r.Running())
}

func TestRunner_StopUnknownHandle(t *testing.T) {
	gate := &Gate{}
	gate.Assert()
	r := NewRunner(gate, testFactory(t), zap.NewNop())

	err := r.Stop(context.Background(), NewJobHandle())
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunner_StopIsNotReusable(t *testing.T) {
	gate := &Gate{}
	gate.Assert()
	r := NewRunner(gate, testFactory(t), zap.NewNop())

	handle, err := r.Start(context.Background(), validJobConfig())
	require.NoError(t, err)
	require.NoError(t, r.Stop(context.Background(), handle))

	assert.ErrorIs(t, r.Stop(context.Background(), handle), ErrUnknownJob)
}

func TestJobConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*JobConfig)
		ok     bool
	}{
		{"valid", func(*JobConfig) {}, true},
		{"missing stream", func(c *JobConfig) { c.StreamName = "" }, false},
		{"missing checkpoint location", func(c *JobConfig) { c.CheckpointStoreLocation = "" }, false},
		{"missing warehouse", func(c *JobConfig) { c.WarehouseConnection = "" }, false},
		{"negative batch size", func(c *JobConfig) { c.BatchMaxRecords = -1 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validJobConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunner_StartRejectsInvalidConfig(t *testing.T) {
	gate := &Gate{}
	gate.Assert()
	r := NewRunner(gate, testFactory(t), zap.NewNop())

	cfg := validJobConfig()
	cfg.StreamName = ""
	_, err := r.Start(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, 0, r.Running())
}
