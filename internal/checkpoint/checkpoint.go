// Package checkpoint persists the last durably-committed offset per stream
// partition so the pipeline can resume after a restart. Raw re-reads from the
// log after resume are expected; the dedup window absorbs them.
package checkpoint

import (
	"context"
	"errors"
)

// NoCheckpoint is returned by Load for a partition with no stored offset.
// It keeps offset 0 addressable as a real committed position.
const NoCheckpoint int64 = -1

// ErrRegression is returned when Advance is called with an offset lower than
// the stored one. Checkpoints only move forward.
var ErrRegression = errors.New("checkpoint: offset regression")

// Store persists committed offsets. Implementations must be durable and
// read-after-write consistent per partition.
type Store interface {
	// Load returns the committed offset for a partition, or NoCheckpoint when
	// none has been stored yet.
	Load(ctx context.Context, partition int32) (int64, error)

	// Advance records offset as committed for a partition. It must only be
	// called after the batch spanning that offset range has been durably
	// committed. Advancing to the currently stored offset is a no-op;
	// a lower offset returns ErrRegression.
	Advance(ctx context.Context, partition int32, offset int64) error

	Close() error
}
