package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasteflow/order-ingester/internal/metrics"
)

func newTestWindow(t *testing.T, cfg Config) *Window {
	t.Helper()
	w := NewWindow(cfg)
	t.Cleanup(w.Close)
	return w
}

func TestWindow_AdmitThenDuplicate(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 4})

	require.True(t, w.Admit("order-1", 10), "first arrival should be admitted")
	assert.False(t, w.Admit("order-1", 11), "immediate re-admit should be dropped")
	assert.True(t, w.Contains("order-1"))
}

func TestWindow_IndependentKeys(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 4})

	require.True(t, w.Admit("order-1", 0))
	require.True(t, w.Admit("order-2", 1))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_RetentionExpiry(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 2})

	now := time.Now()
	w.now = func() time.Time { return now }

	require.True(t, w.Admit("order-1", 5))
	require.False(t, w.Admit("order-1", 6))

	// Beyond the horizon the id is treated as new again. This is the
	// documented trust boundary, not silent dedup forever.
	now = now.Add(time.Hour + time.Second)
	assert.False(t, w.Contains("order-1"))
	assert.True(t, w.Admit("order-1", 7))
}

func TestWindow_Sweep(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 2})

	now := time.Now()
	w.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, w.Admit(fmt.Sprintf("order-%d", i), int64(i)))
	}
	require.Equal(t, 10, w.Len())

	now = now.Add(2 * time.Hour)
	w.sweep()
	assert.Equal(t, 0, w.Len())
}

func TestWindow_MaxEntriesEvictsOldest(t *testing.T) {
	// Single shard so the cap applies to a deterministic set.
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 1, MaxEntries: 3})

	require.True(t, w.Admit("a", 0))
	require.True(t, w.Admit("b", 1))
	require.True(t, w.Admit("c", 2))
	require.True(t, w.Admit("d", 3))

	assert.False(t, w.Contains("a"), "oldest entry should have been evicted")
	assert.True(t, w.Contains("d"))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_GaugeTracksAdmissionsAndSweep(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 4})

	now := time.Now()
	w.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, w.Admit(fmt.Sprintf("order-%d", i), int64(i)))
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.DedupWindowSize))

	// A lazy re-admit of an expired key replaces its entry, not adds one.
	now = now.Add(2 * time.Hour)
	require.True(t, w.Admit("order-0", 99))
	assert.Equal(t, 3, w.Len())

	// The sweeper keeps the gauge honest without any new admissions.
	now = now.Add(2 * time.Hour)
	w.sweep()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.DedupWindowSize))
}

func TestWindow_ConcurrentAdmitSingleWinner(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 16})

	const goroutines = 32
	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(offset int64) {
			defer wg.Done()
			<-start
			if w.Admit("contended-order", offset) {
				admitted.Add(1)
			}
		}(int64(i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), admitted.Load(), "exactly one admit must win per key")
}

func TestWindow_ConcurrentDistinctKeys(t *testing.T) {
	w := newTestWindow(t, Config{Retention: time.Hour, Shards: 16})

	const perWorker = 200
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				w.Admit(fmt.Sprintf("p%d-order-%d", p, i), int64(i))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 4*perWorker, w.Len())
}
