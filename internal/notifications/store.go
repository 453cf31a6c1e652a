package notifications

import (
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
)

const (
	DefaultCapacity = 200
	seenFactor      = 4
)

// StoreOptions bounds the store. Zero values fall back to the defaults.
type StoreOptions struct {
	Capacity int
	SeenIDs  int
	Metrics  *metrics.PipelineMetrics
}

// InsertResult describes what an Insert did to the store.
type InsertResult struct {
	Inserted        bool
	CountersChanged bool
	Evicted         int
	Counters        Counters
}

// Store holds the session's notifications most-recent-first together with
// the badge counters. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	items    []Notification
	counters Counters
	capacity int
	seen     *seenRing
	metrics  *metrics.PipelineMetrics
}

func NewStore(opts StoreOptions) *Store {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	seenIDs := opts.SeenIDs
	if seenIDs <= 0 {
		seenIDs = capacity * seenFactor
	}
	if seenIDs < capacity {
		seenIDs = capacity
	}
	return &Store{
		capacity: capacity,
		seen:     newSeenRing(seenIDs),
		metrics:  opts.Metrics,
	}
}

// Insert prepends n unless its id was already stored or recently seen.
func (s *Store) Insert(n Notification) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen.contains(n.ID) {
		s.metrics.IncNotification(string(n.Type), "duplicate")
		return InsertResult{Counters: s.counters}
	}
	s.seen.add(n.ID)

	items := make([]Notification, 0, len(s.items)+1)
	items = append(items, n)
	s.items = append(items, s.items...)

	evicted := 0
	if len(s.items) > s.capacity {
		evicted = len(s.items) - s.capacity
		clear(s.items[s.capacity:])
		s.items = s.items[:s.capacity]
	}

	changed := true
	switch n.Kind {
	case enums.EventKindOrderCreated:
		s.counters.NewOrders++
	case enums.EventKindReservationCreated:
		s.counters.NewReservations++
	default:
		changed = false
	}

	s.metrics.IncNotification(string(n.Type), "inserted")
	s.metrics.AddEvicted(evicted)
	return InsertResult{
		Inserted:        true,
		CountersChanged: changed,
		Evicted:         evicted,
		Counters:        s.counters,
	}
}

// MarkAsRead flags the notification with id as read. It reports whether the
// notification exists.
func (s *Store) MarkAsRead(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			return true
		}
	}
	return false
}

// ClearAll empties the list and zeroes the counters together. Cleared ids
// stay in the seen ring.
func (s *Store) ClearAll() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.counters = Counters{}
	return s.counters
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// ByType returns the notifications of the given type, most recent first.
func (s *Store) ByType(t enums.NotificationType) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0)
	for _, n := range s.items {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// Snapshot returns a copy of every stored notification, most recent first.
func (s *Store) Snapshot() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// seenRing remembers the last size ids inserted. It is guarded by Store.mu.
type seenRing struct {
	ids   []uuid.UUID
	index map[uuid.UUID]struct{}
	next  int
	full  bool
}

func newSeenRing(size int) *seenRing {
	return &seenRing{
		ids:   make([]uuid.UUID, size),
		index: make(map[uuid.UUID]struct{}, size),
	}
}

func (r *seenRing) contains(id uuid.UUID) bool {
	_, ok := r.index[id]
	return ok
}

func (r *seenRing) add(id uuid.UUID) {
	if r.full {
		delete(r.index, r.ids[r.next])
	}
	r.ids[r.next] = id
	r.index[id] = struct{}{}
	r.next++
	if r.next == len(r.ids) {
		r.next = 0
		r.full = true
	}
}
