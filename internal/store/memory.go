package store

import (
	"sort"
	"sync"
	"time"
)

const subscriberBuffer = 100

// DefaultMaxFinished is the number of finished records a [MemoryStore] keeps
// when no [Retention] is given.
const DefaultMaxFinished = 1000

// hub fans record updates out to subscriber channels.
type hub struct {
	mu          sync.RWMutex
	subscribers map[chan TaskRecord]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[chan TaskRecord]struct{})}
}

func (h *hub) subscribe() <-chan TaskRecord {
	ch := make(chan TaskRecord, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *hub) unsubscribe(ch <-chan TaskRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range h.subscribers {
		if subCh == ch {
			delete(h.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// publish is non-blocking: if a subscriber's buffer is full, the record is
// dropped for that subscriber rather than blocking the update path.
func (h *hub) publish(record TaskRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- record:
		default:
			// subscriber is slow, drop the message
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// Retention bounds the finished records a [MemoryStore] keeps. Running
// records are never dropped.
type Retention struct {
	// MaxFinished caps the number of finished records; the oldest finished
	// are dropped first. Zero selects [DefaultMaxFinished].
	MaxFinished int

	// TTL drops finished records this long after they finished. Zero keeps
	// them until MaxFinished evicts them.
	TTL time.Duration
}

// MemoryStore is an in-memory implementation of [Store].
//
// Records are keyed by poll ID, with new updates replacing previous values.
// Finished records are evicted according to the store's [Retention].
// Subscribers receive updates via buffered channels (buffer size 100). Updates
// are sent non-blocking; if a subscriber's buffer is full, the update is
// dropped for that subscriber to prevent blocking the entire system.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]TaskRecord
	finished  []finishedRecord // oldest first
	retention Retention
	now       func() time.Time
	hub       *hub
}

type finishedRecord struct {
	id string
	at time.Time
}

// NewMemoryStore creates a new in-memory [Store] implementation keeping at
// most [DefaultMaxFinished] finished records.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithRetention(Retention{})
}

// NewMemoryStoreWithRetention creates an in-memory [Store] that evicts
// finished records according to r.
func NewMemoryStoreWithRetention(r Retention) *MemoryStore {
	if r.MaxFinished <= 0 {
		r.MaxFinished = DefaultMaxFinished
	}
	return &MemoryStore{
		records:   make(map[string]TaskRecord),
		retention: r,
		now:       time.Now,
		hub:       newHub(),
	}
}

// Update stores a [TaskRecord], evicts expired finished records and notifies
// all subscribers.
func (m *MemoryStore) Update(record TaskRecord) {
	m.mu.Lock()
	prev, had := m.records[record.ID]
	m.records[record.ID] = record
	now := m.now()
	if record.Terminal() && !(had && prev.Terminal()) {
		m.finished = append(m.finished, finishedRecord{id: record.ID, at: now})
	}
	m.prune(now)
	m.mu.Unlock()

	m.hub.publish(record)
}

// prune drops finished records beyond the retention limits. Callers hold mu.
func (m *MemoryStore) prune(now time.Time) {
	n := 0
	for n < len(m.finished) {
		f := m.finished[n]
		overCap := len(m.finished)-n > m.retention.MaxFinished
		expired := m.retention.TTL > 0 && now.Sub(f.at) >= m.retention.TTL
		if !overCap && !expired {
			break
		}
		// a record rewritten as running since it finished stays
		if r, ok := m.records[f.id]; ok && r.Terminal() {
			delete(m.records, f.id)
		}
		n++
	}
	if n > 0 {
		m.finished = append(m.finished[:0:0], m.finished[n:]...)
	}
}

// Get returns the record stored under id.
func (m *MemoryStore) Get(id string) (TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now())
	r, ok := m.records[id]
	return r, ok
}

// GetAll returns a snapshot of all stored records ordered by start time.
func (m *MemoryStore) GetAll() []TaskRecord {
	m.mu.Lock()
	m.prune(m.now())
	results := make([]TaskRecord, 0, len(m.records))
	for _, r := range m.records {
		results = append(results, r)
	}
	m.mu.Unlock()

	sortRecords(results)
	return results
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan TaskRecord {
	return m.hub.subscribe()
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan TaskRecord) {
	m.hub.unsubscribe(ch)
}

// Close closes every subscriber channel.
func (m *MemoryStore) Close() error {
	m.hub.closeAll()
	return nil
}

func sortRecords(records []TaskRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}
