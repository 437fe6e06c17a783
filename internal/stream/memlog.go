package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tasteflow/order-ingester/internal/model"
)

// MemLog is an in-memory partitioned append-only log. It backs local runs and
// tests, and supports redelivery by reopening a partition at an older offset.
type MemLog struct {
	mu         sync.Mutex
	partitions map[int32][]memRecord
	notify     chan struct{} // closed and replaced on every append
	closed     bool

	// PollTimeout bounds how long an empty Poll waits for new data.
	PollTimeout time.Duration
}

type memRecord struct {
	payload  []byte
	appended time.Time
}

// NewMemLog creates an in-memory log with n partitions.
func NewMemLog(n int) *MemLog {
	l := &MemLog{
		partitions:  make(map[int32][]memRecord, n),
		notify:      make(chan struct{}),
		PollTimeout: 50 * time.Millisecond,
	}
	for i := 0; i < n; i++ {
		l.partitions[int32(i)] = nil
	}
	return l
}

// Append adds a payload to a partition and returns its offset.
func (l *MemLog) Append(partition int32, payload []byte) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := l.partitions[partition]
	l.partitions[partition] = append(recs, memRecord{
		payload:  append([]byte(nil), payload...),
		appended: time.Now(),
	})

	// Wake all waiting readers.
	close(l.notify)
	l.notify = make(chan struct{})

	return int64(len(recs))
}

// Partitions implements Log.
func (l *MemLog) Partitions(_ context.Context) ([]int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]int32, 0, len(l.partitions))
	for p := range l.partitions {
		ids = append(ids, p)
	}
	return ids, nil
}

// OpenPartition implements Log.
func (l *MemLog) OpenPartition(_ context.Context, partition int32, fromOffset int64) (Reader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.partitions[partition]; !ok {
		return nil, fmt.Errorf("%w: unknown partition %d", ErrUnavailable, partition)
	}
	if fromOffset < 0 {
		fromOffset = 0
	}
	return &memReader{log: l, partition: partition, next: fromOffset}, nil
}

// Close implements Log.
func (l *MemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type memReader struct {
	log       *MemLog
	partition int32
	next      int64
}

// Poll implements Reader.
func (r *memReader) Poll(ctx context.Context, maxRecords int) ([]model.RawEvent, error) {
	deadline := time.NewTimer(r.log.PollTimeout)
	defer deadline.Stop()

	for {
		r.log.mu.Lock()
		if r.log.closed {
			r.log.mu.Unlock()
			return nil, fmt.Errorf("%w: log closed", ErrUnavailable)
		}
		recs := r.log.partitions[r.partition]
		notify := r.log.notify

		if int64(len(recs)) > r.next {
			end := r.next + int64(maxRecords)
			if end > int64(len(recs)) {
				end = int64(len(recs))
			}
			events := make([]model.RawEvent, 0, end-r.next)
			for off := r.next; off < end; off++ {
				events = append(events, model.RawEvent{
					Partition:   r.partition,
					Offset:      off,
					Payload:     recs[off].payload,
					ArrivalTime: recs[off].appended,
				})
			}
			r.next = end
			r.log.mu.Unlock()
			return events, nil
		}
		r.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil // empty poll, not an error
		case <-notify:
			// New data appended somewhere; re-check our partition.
		}
	}
}

// Close implements Reader.
func (r *memReader) Close() error {
	return nil
}
