// Package trigger is the orchestration surface of the ingester: an external
// scheduler starts and stops ingest jobs through it without knowing anything
// about the pipeline internals.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotReady is returned by Start before the readiness gate has been
	// asserted.
	ErrNotReady = errors.New("ingester not ready")

	// ErrUnknownJob is returned by Stop for a handle that names no running job.
	ErrUnknownJob = errors.New("unknown job handle")
)

// JobConfig is everything an external scheduler supplies to start one ingest
// job.
type JobConfig struct {
	StreamName              string
	ConsumerGroup           string
	CheckpointStoreLocation string
	BatchMaxRecords         int
	BatchMaxWait            time.Duration
	DedupWindowRetention    time.Duration
	WarehouseConnection     string
}

// Validate checks the fields a job cannot run without.
func (c *JobConfig) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("job config: stream_name is required")
	}
	if c.CheckpointStoreLocation == "" {
		return fmt.Errorf("job config: checkpoint_store_location is required")
	}
	if c.WarehouseConnection == "" {
		return fmt.Errorf("job config: warehouse_connection is required")
	}
	if c.BatchMaxRecords < 0 {
		return fmt.Errorf("job config: batch_max_records must not be negative")
	}
	return nil
}

// JobHandle identifies a running ingest job.
type JobHandle struct {
	id uuid.UUID
}

// NewJobHandle returns a fresh, unique handle.
func NewJobHandle() JobHandle {
	return JobHandle{id: uuid.New()}
}

func (h JobHandle) String() string {
	return h.id.String()
}

// Trigger starts and stops ingest jobs. Stop initiates a graceful drain and
// returns once the job's in-flight batches are committed.
type Trigger interface {
	Start(ctx context.Context, cfg JobConfig) (JobHandle, error)
	Stop(ctx context.Context, handle JobHandle) error
}

// Gate is a one-shot readiness latch. Jobs are refused until an operator or
// an upstream loader (dimension tables, warehouse DDL) asserts it.
type Gate struct {
	ready atomic.Bool
}

// Assert marks the gate ready. Asserting more than once is harmless.
func (g *Gate) Assert() {
	g.ready.Store(true)
}

// Ready reports whether the gate has been asserted.
func (g *Gate) Ready() bool {
	return g.ready.Load()
}
