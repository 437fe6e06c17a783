// Package dedup implements the bounded-retention identity window that
// suppresses redelivered order events. The window is sharded so concurrent
// partition workers only contend on the shard owning a given key.
package dedup

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tasteflow/order-ingester/internal/metrics"
)

// entry records an admitted identity key until its retention horizon passes.
type entry struct {
	key             string
	firstSeenOffset int64
	commitTime      time.Time
}

type shard struct {
	mu      sync.Mutex
	byID    map[string]*list.Element
	// age holds *entry values in insertion order; commit times are
	// monotonically non-decreasing per shard, so the front is always the
	// oldest entry.
	age *list.List
}

// Config controls window retention.
type Config struct {
	// Retention is the eviction horizon. Entries older than this are treated
	// as absent: redelivery beyond the horizon is assumed not to occur.
	Retention time.Duration

	// MaxEntries caps the total number of entries across all shards;
	// 0 means unbounded. The oldest entries are evicted first when full.
	MaxEntries int

	// SweepInterval is how often the background sweeper reclaims expired
	// entries. Zero disables the sweeper; expiry is still applied lazily.
	SweepInterval time.Duration

	// Shards is the number of independent lock domains. Rounded up to 1.
	Shards int
}

// Window is a concurrent, time-evicted identity set.
type Window struct {
	shards    []*shard
	retention time.Duration
	perShard  int // max entries per shard, 0 = unbounded

	// size tracks the entry count across all shards so Len and the window
	// gauge never have to walk and lock every shard.
	size atomic.Int64

	now func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWindow creates a window and starts its background sweeper when
// cfg.SweepInterval is positive. Close releases the sweeper.
func NewWindow(cfg Config) *Window {
	n := cfg.Shards
	if n < 1 {
		n = 1
	}

	w := &Window{
		shards:    make([]*shard, n),
		retention: cfg.Retention,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	if cfg.MaxEntries > 0 {
		w.perShard = (cfg.MaxEntries + n - 1) / n
	}
	for i := range w.shards {
		w.shards[i] = &shard{
			byID: make(map[string]*list.Element),
			age:  list.New(),
		}
	}

	if cfg.SweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop(cfg.SweepInterval)
	}
	return w
}

// Admit reports whether key is new within the retention horizon and, if so,
// records it. The check-and-insert is atomic per key: no two callers can both
// admit the same key. The first arrival wins.
func (w *Window) Admit(key string, offset int64) bool {
	s := w.shardFor(key)
	now := w.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.byID[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.commitTime) < w.retention {
			return false
		}
		// Past the horizon: the entry no longer guards against redelivery,
		// so the id is treated as new.
		s.age.Remove(el)
		delete(s.byID, key)
		w.size.Add(-1)
	}

	if w.perShard > 0 {
		for s.age.Len() >= w.perShard {
			oldest := s.age.Front()
			s.age.Remove(oldest)
			delete(s.byID, oldest.Value.(*entry).key)
			w.size.Add(-1)
		}
	}

	s.byID[key] = s.age.PushBack(&entry{
		key:             key,
		firstSeenOffset: offset,
		commitTime:      now,
	})
	metrics.DedupWindowSize.Set(float64(w.size.Add(1)))
	return true
}

// Contains reports whether key is currently held (and unexpired).
func (w *Window) Contains(key string) bool {
	s := w.shardFor(key)
	now := w.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.byID[key]
	if !ok {
		return false
	}
	return now.Sub(el.Value.(*entry).commitTime) < w.retention
}

// Len returns the number of entries currently held, expired ones included
// until the next sweep.
func (w *Window) Len() int {
	return int(w.size.Load())
}

// Close stops the background sweeper.
func (w *Window) Close() {
	close(w.done)
	w.wg.Wait()
}

func (w *Window) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return w.shards[int(h.Sum32())%len(w.shards)]
}

func (w *Window) sweepLoop(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep removes expired entries from the front of each shard's age list and
// refreshes the window gauge, so the gauge tracks evictions even when no new
// admissions arrive.
func (w *Window) sweep() {
	now := w.now()
	for _, s := range w.shards {
		s.mu.Lock()
		for {
			front := s.age.Front()
			if front == nil {
				break
			}
			e := front.Value.(*entry)
			if now.Sub(e.commitTime) < w.retention {
				break
			}
			s.age.Remove(front)
			delete(s.byID, e.key)
			w.size.Add(-1)
		}
		s.mu.Unlock()
	}
	metrics.DedupWindowSize.Set(float64(w.size.Load()))
}
