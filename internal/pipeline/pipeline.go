// Package pipeline runs the poll -> validate -> dedup -> batch -> commit ->
// checkpoint loop, one worker per stream partition. Partitions share nothing
// but the dedup window; a slow or failing warehouse only backpressures the
// partition that hit it.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/checkpoint"
	"github.com/tasteflow/order-ingester/internal/dedup"
	"github.com/tasteflow/order-ingester/internal/metrics"
	"github.com/tasteflow/order-ingester/internal/model"
	"github.com/tasteflow/order-ingester/internal/stream"
	"github.com/tasteflow/order-ingester/internal/validate"
	"github.com/tasteflow/order-ingester/internal/warehouse"
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateDraining
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config bounds batching and commit retries.
type Config struct {
	PollMaxRecords int

	// A batch flushes at BatchMaxRecords or after BatchMaxWait since its
	// first record, whichever comes first.
	BatchMaxRecords int
	BatchMaxWait    time.Duration

	// CommitTimeout bounds a single warehouse transaction attempt.
	CommitTimeout time.Duration

	// Retryable commit failures are retried with exponential backoff until
	// CommitMaxRetryElapsed, then escalated to fatal for the partition.
	CommitRetryInitialWait time.Duration
	CommitMaxRetryElapsed  time.Duration
}

// ApplyDefaults sets default values for pipeline config.
func (c *Config) ApplyDefaults() {
	if c.PollMaxRecords == 0 {
		c.PollMaxRecords = 500
	}
	if c.BatchMaxRecords == 0 {
		c.BatchMaxRecords = 200
	}
	if c.BatchMaxWait == 0 {
		c.BatchMaxWait = 10 * time.Second
	}
	if c.CommitTimeout == 0 {
		c.CommitTimeout = 30 * time.Second
	}
	if c.CommitRetryInitialWait == 0 {
		c.CommitRetryInitialWait = time.Second
	}
	if c.CommitMaxRetryElapsed == 0 {
		c.CommitMaxRetryElapsed = 5 * time.Minute
	}
}

// ParkedBatch preserves a fatally failed batch for manual inspection and
// replay once the underlying fault is fixed.
type ParkedBatch struct {
	Partition      int32
	Batch          *model.CommitBatch
	LastCheckpoint int64
	Err            error
	ParkedAt       time.Time
}

// Pipeline wires the stream, validator, dedup window, warehouse writer and
// checkpoint store into per-partition ingest loops.
type Pipeline struct {
	cfg       Config
	log       stream.Log
	validator *validate.Validator
	window    *dedup.Window
	writer    warehouse.Writer
	store     checkpoint.Store
	logger    *zap.Logger

	mu      sync.Mutex
	state   State
	parked  []ParkedBatch
	halted  map[int32]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a pipeline. Start must be called before it does any work.
func New(cfg Config, log stream.Log, v *validate.Validator, w *dedup.Window,
	writer warehouse.Writer, store checkpoint.Store, logger *zap.Logger) *Pipeline {
	cfg.ApplyDefaults()
	return &Pipeline{
		cfg:       cfg,
		log:       log,
		validator: v,
		window:    w,
		writer:    writer,
		store:     store,
		logger:    logger,
		state:     StateStopped,
		halted:    make(map[int32]bool),
	}
}

// Start loads checkpoints, opens one reader per partition and launches the
// partition workers. It returns once all workers are running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already %s", p.state)
	}
	p.state = StateStarting
	p.mu.Unlock()

	if err := p.writer.ValidateSchema(ctx); err != nil {
		p.setState(StateStopped)
		return fmt.Errorf("warehouse schema validation failed: %w", err)
	}

	partitions, err := p.log.Partitions(ctx)
	if err != nil {
		p.setState(StateStopped)
		return fmt.Errorf("failed to discover partitions: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	var readers []openedReader
	for _, partition := range partitions {
		committed, err := p.store.Load(ctx, partition)
		if err != nil {
			cancel()
			closeAll(readers)
			p.setState(StateStopped)
			return fmt.Errorf("failed to load checkpoint for partition %d: %w", partition, err)
		}

		fromOffset := int64(-1) // earliest
		if committed != checkpoint.NoCheckpoint {
			fromOffset = committed + 1
		}

		r, err := p.log.OpenPartition(ctx, partition, fromOffset)
		if err != nil {
			cancel()
			closeAll(readers)
			p.setState(StateStopped)
			return fmt.Errorf("failed to open partition %d: %w", partition, err)
		}
		readers = append(readers, openedReader{partition, r})

		p.logger.Info("partition resuming",
			zap.Int32("partition", partition),
			zap.Int64("committed_offset", committed),
			zap.Int64("resume_offset", fromOffset),
		)
	}

	p.mu.Lock()
	p.cancel = cancel
	p.state = StateRunning
	p.mu.Unlock()

	for _, o := range readers {
		p.wg.Add(1)
		go func(partition int32, reader stream.Reader) {
			defer p.wg.Done()
			p.runPartition(runCtx, partition, reader)
		}(o.partition, o.reader)
	}
	return nil
}

type openedReader struct {
	partition int32
	reader    stream.Reader
}

func closeAll(readers []openedReader) {
	for _, o := range readers {
		o.reader.Close()
	}
}

// Stop drains the pipeline: each worker finishes committing its in-flight
// batch, checkpoints, and exits. No partial batch is committed.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state != StateRunning && p.state != StateHalted {
		p.mu.Unlock()
		return
	}
	p.state = StateDraining
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.setState(StateStopped)
	p.logger.Info("pipeline stopped")
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ParkedBatches returns batches preserved after fatal commit failures.
func (p *Pipeline) ParkedBatches() []ParkedBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ParkedBatch, len(p.parked))
	copy(out, p.parked)
	return out
}

// HaltedPartitions returns the ids of partitions halted on a fatal failure.
func (p *Pipeline) HaltedPartitions() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int32, 0, len(p.halted))
	for partition := range p.halted {
		out = append(out, partition)
	}
	return out
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// haltPartition freezes the partition's checkpoint and, when a batch failed
// along with it, parks that batch for manual inspection and replay. Batches
// with no records are never parked. Sibling partitions are unaffected; the
// pipeline reports Halted until an operator intervenes.
func (p *Pipeline) haltPartition(partition int32, batch *model.CommitBatch, lastCheckpoint int64, cause error) {
	p.mu.Lock()
	p.halted[partition] = true
	if !batch.Empty() {
		p.parked = append(p.parked, ParkedBatch{
			Partition:      partition,
			Batch:          batch,
			LastCheckpoint: lastCheckpoint,
			Err:            cause,
			ParkedAt:       time.Now().UTC(),
		})
	}
	if p.state == StateRunning {
		p.state = StateHalted
	}
	p.mu.Unlock()

	metrics.PartitionsHalted.Inc()
	fields := []zap.Field{
		zap.Int32("partition", partition),
		zap.Int64("last_checkpoint", lastCheckpoint),
		zap.Error(cause),
	}
	if batch.Empty() {
		p.logger.Error("partition halted", fields...)
		return
	}
	metrics.BatchesFailedTotal.Inc()
	fields = append(fields,
		zap.Int64("batch_start_offset", batch.StartOffset),
		zap.Int64("batch_end_offset", batch.EndOffset),
		zap.Int("batch_records", len(batch.Records)),
	)
	p.logger.Error("partition halted, batch parked for inspection", fields...)
}
