package cache

import (
	"container/list"
	"os"
	"sync"
	"time"

	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/pkg/types"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// Config configures the frame cache.
type Config struct {
	MaxEntries int  `yaml:"max_entries"`
	Prefetch   bool `yaml:"prefetch"`
}

// DefaultConfig returns the default cache configuration: 200 entries with
// prefetching enabled.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries: 200,
		Prefetch:   true,
	}
}

// Manager is a thread-safe bounded LRU cache of frame bundles with a
// single-slot background prefetcher. Construct it once at startup and pass
// it by reference; all operations are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	capacity  int
	items     map[frame.Key]*list.Element
	evictList *list.List // front = most recently used

	// Counters, guarded by mu. Clear does not reset them.
	hits              uint64
	misses            uint64
	evictions         uint64
	prefetchSuccess   uint64
	prefetchFailure   uint64
	prefetchCancelled uint64
	totalLoadTime     time.Duration

	// Prefetch pipeline state, guarded by mu.
	prefetchEnabled bool
	pending         *prefetchJob // one-deep slot, superseded on conflict
	running         *prefetchJob // job the worker is executing, if any
	cond            *sync.Cond   // signals the worker when pending fills
	closed          bool
	workerDone      chan struct{}

	log *utils.Logger
}

// entry is the value stored in each recency-list element.
type entry struct {
	key    frame.Key
	bundle *frame.Bundle
}

// New creates a frame cache and starts its prefetch worker. A nil config
// uses DefaultConfig; a nil logger logs to stdout at INFO.
func New(config *Config, log *utils.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	capacity := config.MaxEntries
	if capacity <= 0 {
		capacity = DefaultConfig().MaxEntries
	}
	if log == nil {
		log = utils.NewLogger(utils.INFO, os.Stdout)
	}

	m := &Manager{
		capacity:        capacity,
		items:           make(map[frame.Key]*list.Element),
		evictList:       list.New(),
		prefetchEnabled: config.Prefetch,
		workerDone:      make(chan struct{}),
		log:             log.WithComponent("cache"),
	}
	m.cond = sync.NewCond(&m.mu)

	go m.prefetchWorker()

	m.log.Info("frame cache initialized: max_entries=%d prefetch=%v", capacity, config.Prefetch)
	return m
}

// Get returns the bundle stored for key. A hit moves the entry to the
// most-recent position and returns a shared view the caller must not mutate.
func (m *Manager) Get(key frame.Key) (*frame.Bundle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.evictList.MoveToFront(el)
		m.hits++
		return el.Value.(*entry).bundle, true
	}
	m.misses++
	return nil, false
}

// Put stores a bundle for key. Replacing an existing key updates the value
// and moves it to the most-recent position without evicting. Inserting a new
// key at capacity evicts exactly the least-recently-used entry first, so the
// capacity is never exceeded. Put is a pure in-memory update and never
// blocks on I/O.
func (m *Manager) Put(key frame.Key, bundle *frame.Bundle) {
	if bundle == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		el.Value.(*entry).bundle = bundle
		m.evictList.MoveToFront(el)
		return
	}

	if m.evictList.Len() >= m.capacity {
		m.evictOldest()
	}
	el := m.evictList.PushFront(&entry{key: key, bundle: bundle})
	m.items[key] = el
}

// evictOldest removes the least-recently-used entry. Caller holds mu.
func (m *Manager) evictOldest() {
	el := m.evictList.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*entry)
	m.evictList.Remove(el)
	delete(m.items, ent.key)
	m.evictions++
	m.log.Debug("evicted frame %s t=[%d,%d]", ent.key.Var, ent.key.Time.Start, ent.key.Time.End)
}

// Clear drops all entries and recency state. Metrics survive a Clear, and an
// in-flight prefetch is not cancelled: one completing afterwards repopulates
// the cache with a single entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[frame.Key]*list.Element)
	m.evictList.Init()
	m.log.Debug("cache cleared")
}

// Len returns the number of cached bundles.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// RecordLoadTime adds the duration of a synchronous miss fill to the
// cumulative load time, keeping the average coherent with the miss counter.
func (m *Manager) RecordLoadTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalLoadTime += d
}

// Stats returns a snapshot of the cache counters and derived rates.
func (m *Manager) Stats() types.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := types.CacheStats{
		Hits:              m.hits,
		Misses:            m.misses,
		Evictions:         m.evictions,
		PrefetchSuccess:   m.prefetchSuccess,
		PrefetchFailure:   m.prefetchFailure,
		PrefetchCancelled: m.prefetchCancelled,
		Entries:           m.evictList.Len(),
		Capacity:          m.capacity,
	}
	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}
	if loads := m.misses + m.prefetchSuccess; loads > 0 {
		stats.AverageLoadTime = m.totalLoadTime.Seconds() / float64(loads)
	}
	return stats
}

// Close stops the prefetch worker, letting a job already taken or waiting in
// the slot run to completion, then drops all entries. Close is safe to call
// more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	<-m.workerDone
	m.Clear()
	m.log.Info("frame cache closed")
}
