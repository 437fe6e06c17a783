package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/checkpoint"
	"github.com/tasteflow/order-ingester/internal/metrics"
	"github.com/tasteflow/order-ingester/internal/model"
	"github.com/tasteflow/order-ingester/internal/stream"
	"github.com/tasteflow/order-ingester/internal/warehouse"
)

// errDraining signals that shutdown interrupted a commit retry loop. The
// batch stays open; drainPartition gives it a final attempt.
var errDraining = errors.New("pipeline draining")

// partitionState is the accumulation state of one partition worker. It is
// owned by a single goroutine; no locking needed.
type partitionState struct {
	partition int32

	batch       []model.OrderRecord
	batchStart  int64 // first offset contributing to the open batch
	batchOpened time.Time

	// highestOffset is the highest offset fully handled so far: committed,
	// rejected (terminal) or dropped as duplicate. The checkpoint advances to
	// this point when a batch commits, so reject-only and duplicate-only
	// stretches are not re-read forever.
	highestOffset int64

	// committed is the last durably checkpointed offset.
	committed int64
}

// openBatch returns the accumulated records as a commit batch, or nil when
// nothing is pending.
func (st *partitionState) openBatch() *model.CommitBatch {
	if len(st.batch) == 0 {
		return nil
	}
	return &model.CommitBatch{
		Partition:   st.partition,
		StartOffset: st.batchStart,
		EndOffset:   st.highestOffset,
		Records:     st.batch,
		FormedAt:    st.batchOpened,
	}
}

// runPartition is the ingest loop for a single partition. It exits on
// context cancellation (drain) or when the partition halts.
func (p *Pipeline) runPartition(ctx context.Context, partition int32, reader stream.Reader) {
	defer reader.Close()

	logger := p.logger.With(zap.Int32("partition", partition))

	st := &partitionState{
		partition:     partition,
		batchStart:    -1,
		highestOffset: checkpoint.NoCheckpoint,
		committed:     checkpoint.NoCheckpoint,
	}
	if off, err := p.store.Load(ctx, partition); err == nil {
		st.highestOffset = off
		st.committed = off
	}

	for {
		select {
		case <-ctx.Done():
			p.drainPartition(st, logger)
			return
		default:
		}

		events, err := reader.Poll(ctx, p.cfg.PollMaxRecords)
		if err != nil {
			// Cancellation surfacing through a blocked poll is a drain, not a
			// stream failure.
			if ctx.Err() != nil {
				p.drainPartition(st, logger)
				return
			}
			// Unrecoverable stream unavailability: commit what we have, then
			// halt this partition.
			if flushErr := p.flush(ctx, st, logger); flushErr != nil && !errors.Is(flushErr, errDraining) {
				// flush already halted the partition and parked the batch.
				logger.Error("flush during stream failure also failed", zap.Error(flushErr))
				return
			}
			p.haltPartition(partition, st.openBatch(), st.committed, err)
			return
		}

		for _, ev := range events {
			metrics.EventsReadTotal.Inc()
			p.handleEvent(st, ev, logger)

			if len(st.batch) >= p.cfg.BatchMaxRecords {
				if halted, draining := p.tryFlush(ctx, st, logger); halted {
					return
				} else if draining {
					break // top of loop drains the remainder
				}
			}
		}

		if len(st.batch) > 0 && time.Since(st.batchOpened) >= p.cfg.BatchMaxWait {
			if halted, _ := p.tryFlush(ctx, st, logger); halted {
				return
			}
		}
	}
}

// tryFlush wraps flush for the run loop: halted means the worker must exit,
// draining means shutdown interrupted the commit and the batch is still open.
func (p *Pipeline) tryFlush(ctx context.Context, st *partitionState, logger *zap.Logger) (halted, draining bool) {
	err := p.flush(ctx, st, logger)
	if err == nil {
		return false, false
	}
	if errors.Is(err, errDraining) {
		return false, true
	}
	return true, false
}

// handleEvent validates and deduplicates one raw event, appending survivors
// to the open batch.
func (p *Pipeline) handleEvent(st *partitionState, ev model.RawEvent, logger *zap.Logger) {
	if ev.Offset > st.highestOffset {
		st.highestOffset = ev.Offset
	}

	rec, rej := p.validator.Validate(ev)
	if rej != nil {
		metrics.EventsRejectedTotal.WithLabelValues(string(rej.Reason)).Inc()
		logger.Warn("record rejected",
			zap.Int64("offset", rej.Offset),
			zap.String("reason", string(rej.Reason)),
		)
		return
	}
	metrics.EventsValidTotal.Inc()

	// Duplicates are not errors; first arrival wins, same-batch repeats
	// included.
	if !p.window.Admit(rec.DedupKey(), ev.Offset) {
		metrics.DuplicatesDroppedTotal.Inc()
		logger.Debug("duplicate dropped",
			zap.String("order_id", rec.OrderID),
			zap.Int64("offset", ev.Offset),
		)
		return
	}

	if len(st.batch) == 0 {
		st.batchOpened = time.Now()
		st.batchStart = ev.Offset
	}
	st.batch = append(st.batch, *rec)
}

// flush commits the open batch and advances the checkpoint. A non-nil return
// means the partition has halted; the worker must exit.
func (p *Pipeline) flush(ctx context.Context, st *partitionState, logger *zap.Logger) error {
	batch := st.openBatch()
	if batch == nil {
		return nil
	}

	if err := p.commitWithRetry(ctx, batch, logger); err != nil {
		if errors.Is(err, errDraining) {
			// Shutdown interrupted the retry loop; the batch stays open so
			// the drain pass can finish it against a fresh context.
			return err
		}
		p.haltPartition(st.partition, batch, st.committed, err)
		return err
	}

	metrics.BatchesCommittedTotal.Inc()
	metrics.RecordsCommittedTotal.Add(float64(len(batch.Records)))

	// The checkpoint moves only after the warehouse transaction succeeded.
	if err := p.store.Advance(ctx, st.partition, batch.EndOffset); err != nil {
		// The data is committed; losing the checkpoint means redelivery on
		// the next restart, which the dedup window absorbs. Halting here
		// would turn a recoverable fault into an outage.
		logger.Error("checkpoint advance failed, redelivery expected after restart",
			zap.Int64("offset", batch.EndOffset),
			zap.Error(err),
		)
	} else {
		st.committed = batch.EndOffset
		metrics.CheckpointAdvancesTotal.Inc()
	}

	logger.Info("batch committed",
		zap.Int64("start_offset", batch.StartOffset),
		zap.Int64("end_offset", batch.EndOffset),
		zap.Int("records", len(batch.Records)),
	)

	st.batch = nil
	st.batchStart = -1
	return nil
}

// commitWithRetry retries retryable warehouse failures with exponential
// backoff. The batch is immutable across attempts: validation and dedup are
// never re-run. Fatal failures and exhausted budgets return an error.
func (p *Pipeline) commitWithRetry(ctx context.Context, batch *model.CommitBatch, logger *zap.Logger) error {
	wait := p.cfg.CommitRetryInitialWait
	started := time.Now()

	for {
		attemptCtx, cancel := context.WithTimeout(context.Background(), p.cfg.CommitTimeout)
		start := time.Now()
		err := p.writer.Commit(attemptCtx, batch)
		cancel()
		metrics.CommitDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			return nil
		}
		if warehouse.Classify(err) == warehouse.KindFatal {
			return err
		}
		if time.Since(started) > p.cfg.CommitMaxRetryElapsed {
			return &warehouse.CommitError{
				Kind: warehouse.KindFatal,
				Err:  err,
			}
		}

		metrics.BatchCommitRetriesTotal.Inc()
		logger.Warn("retryable commit failure, backing off",
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errDraining
		case <-timer.C:
		}
		if wait < 30*time.Second {
			wait *= 2
		}
	}
}

// drainPartition finishes the in-flight batch before exiting. Partial
// batches are never committed; this one is complete, just not yet flushed.
func (p *Pipeline) drainPartition(st *partitionState, logger *zap.Logger) {
	if len(st.batch) == 0 {
		logger.Info("partition drained", zap.Int64("committed_offset", st.committed))
		return
	}

	logger.Info("draining in-flight batch",
		zap.Int("records", len(st.batch)),
		zap.Int64("start_offset", st.batchStart),
	)

	// Bounded drain: one retry budget against a fresh context, since the
	// run context is already cancelled.
	drainCtx, cancel := context.WithTimeout(context.Background(), p.cfg.CommitTimeout)
	defer cancel()
	if err := p.flush(drainCtx, st, logger); err != nil {
		logger.Error("failed to drain in-flight batch, records will be redelivered",
			zap.Error(err),
		)
		return
	}
	logger.Info("partition drained", zap.Int64("committed_offset", st.committed))
}
