// Package stream abstracts the partitioned, append-only event log behind a
// Log/Reader pair. Implementations include a Kafka consumer and an in-memory
// log for local runs and tests.
package stream

import (
	"context"
	"errors"

	"github.com/tasteflow/order-ingester/internal/model"
)

// ErrUnavailable marks unrecoverable stream unavailability. It is fatal to
// the partition that observes it; empty polls are never an error.
var ErrUnavailable = errors.New("stream: unavailable")

// Reader consumes a single partition in arrival order. Readers track their
// position in memory only; durable positions live in the checkpoint store so
// redelivery after a restart is possible and expected.
type Reader interface {
	// Poll returns up to maxRecords raw events. It returns an empty slice
	// when no data arrives within the reader's poll timeout, and an error
	// only for unrecoverable unavailability.
	Poll(ctx context.Context, maxRecords int) ([]model.RawEvent, error)

	Close() error
}

// Log is a handle to the partitioned event log.
type Log interface {
	// Partitions lists the partition ids of the log.
	Partitions(ctx context.Context) ([]int32, error)

	// OpenPartition opens a reader positioned at fromOffset. A negative
	// fromOffset means "earliest available".
	OpenPartition(ctx context.Context, partition int32, fromOffset int64) (Reader, error)

	Close() error
}
