// Package warehouse commits validated order batches into the analytical fact
// table. All writers upsert keyed on order_id, so replaying a batch is
// harmless and a later status event overwrites the earlier row.
package warehouse

import (
	"context"
	"errors"

	"github.com/tasteflow/order-ingester/internal/model"
)

// Kind classifies a commit failure for the retry policy.
type Kind int

const (
	// KindRetryable covers transient faults: connection loss, lock
	// contention, throttling. The same immutable batch is retried.
	KindRetryable Kind = iota

	// KindFatal covers faults that retries cannot fix: schema mismatch,
	// constraint or type violations. The batch is parked and the partition
	// halts.
	KindFatal
)

// CommitError wraps a warehouse failure with its classification.
type CommitError struct {
	Kind Kind
	Err  error
}

func (e *CommitError) Error() string { return e.Err.Error() }
func (e *CommitError) Unwrap() error { return e.Err }

// Classify returns the failure kind for err. Unclassified errors default to
// retryable; the pipeline's bounded retry budget escalates persistent ones.
func Classify(err error) Kind {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRetryable
}

func retryable(err error) error {
	return &CommitError{Kind: KindRetryable, Err: err}
}

func fatal(err error) error {
	return &CommitError{Kind: KindFatal, Err: err}
}

// Writer commits batches into the warehouse.
type Writer interface {
	// Commit upserts every record of the batch in a single transaction.
	// On error the transaction is rolled back; no partial batch is visible.
	Commit(ctx context.Context, batch *model.CommitBatch) error

	// ValidateSchema verifies the fact table exists with the expected
	// columns. A mismatch is fatal: provisioning is not this service's job.
	ValidateSchema(ctx context.Context) error

	Close() error
}

// factColumns is the fact-table column list shared by all writers: the wire
// schema plus ingestion metadata for audit.
var factColumns = []string{
	"order_id",
	"customer_id",
	"restaurant_id",
	"rider_id",
	"cuisine_type",
	"order_value",
	"order_status",
	"placed_at",
	"delivered_at",
	"commit_time",
	"source_partition",
	"source_offset",
}
