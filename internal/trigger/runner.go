package trigger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/pipeline"
)

// PipelineFactory builds a ready-to-start pipeline for one job. The runner
// owns lifecycle only; wiring the stream, warehouse and checkpoint backends
// stays with the caller.
type PipelineFactory func(ctx context.Context, cfg JobConfig) (*pipeline.Pipeline, error)

// Runner implements Trigger over the ingest pipeline. It tracks running jobs
// by handle and refuses work until its readiness gate is asserted.
type Runner struct {
	gate    *Gate
	factory PipelineFactory
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[JobHandle]*pipeline.Pipeline
}

// NewRunner creates a runner around the given factory and gate.
func NewRunner(gate *Gate, factory PipelineFactory, logger *zap.Logger) *Runner {
	return &Runner{
		gate:    gate,
		factory: factory,
		logger:  logger,
		jobs:    make(map[JobHandle]*pipeline.Pipeline),
	}
}

// Start implements Trigger.
func (r *Runner) Start(ctx context.Context, cfg JobConfig) (JobHandle, error) {
	if !r.gate.Ready() {
		return JobHandle{}, ErrNotReady
	}
	if err := cfg.Validate(); err != nil {
		return JobHandle{}, err
	}

	p, err := r.factory(ctx, cfg)
	if err != nil {
		return JobHandle{}, fmt.Errorf("failed to build pipeline for stream %s: %w", cfg.StreamName, err)
	}
	if err := p.Start(ctx); err != nil {
		return JobHandle{}, fmt.Errorf("failed to start pipeline for stream %s: %w", cfg.StreamName, err)
	}

	handle := NewJobHandle()
	r.mu.Lock()
	r.jobs[handle] = p
	r.mu.Unlock()

	r.logger.Info("ingest job started",
		zap.String("job", handle.String()),
		zap.String("stream", cfg.StreamName),
		zap.String("consumer_group", cfg.ConsumerGroup),
	)
	return handle, nil
}

// Stop implements Trigger. It drains the job and forgets the handle.
func (r *Runner) Stop(_ context.Context, handle JobHandle) error {
	r.mu.Lock()
	p, ok := r.jobs[handle]
	if ok {
		delete(r.jobs, handle)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, handle)
	}

	p.Stop()
	r.logger.Info("ingest job stopped", zap.String("job", handle.String()))
	return nil
}

// Running returns the number of jobs currently tracked.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
