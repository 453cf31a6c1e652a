package notifications

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/restaurant-liveops/internal/events"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics/metricstest"
)

func notification(kind enums.EventKind, entityID string) Notification {
	event := events.DomainEvent{Kind: kind, EntityID: entityID, OccurredAt: at}
	typ := enums.NotificationTypeOrder
	switch kind {
	case enums.EventKindReservationCreated:
		typ = enums.NotificationTypeReservation
	case enums.EventKindCustomerRegistered:
		typ = enums.NotificationTypeCustomer
	}
	return Notification{ID: NotificationID(event), Type: typ, Kind: kind, EntityID: entityID, Timestamp: at}
}

func TestStoreInsertPrependsAndCounts(t *testing.T) {
	s := NewStore(StoreOptions{})

	res := s.Insert(notification(enums.EventKindOrderCreated, "o-1"))
	if !res.Inserted || !res.CountersChanged || res.Counters.NewOrders != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	res = s.Insert(notification(enums.EventKindReservationCreated, "r-1"))
	if res.Counters != (Counters{NewOrders: 1, NewReservations: 1}) {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
	res = s.Insert(notification(enums.EventKindCustomerRegistered, "u-1"))
	if !res.Inserted || res.CountersChanged {
		t.Fatalf("customer notifications should not move counters: %+v", res)
	}

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(snap))
	}
	if snap[0].EntityID != "u-1" || snap[2].EntityID != "o-1" {
		t.Fatalf("expected most recent first, got %s..%s", snap[0].EntityID, snap[2].EntityID)
	}
	if s.UnreadCount() != 3 {
		t.Fatalf("expected 3 unread, got %d", s.UnreadCount())
	}
}

func TestStoreInsertDuplicateIsNoop(t *testing.T) {
	s := NewStore(StoreOptions{})
	n := notification(enums.EventKindOrderCreated, "o-1")
	s.Insert(n)
	res := s.Insert(n)
	if res.Inserted || res.CountersChanged {
		t.Fatalf("duplicate should be a no-op: %+v", res)
	}
	if s.Len() != 1 || s.Counters().NewOrders != 1 {
		t.Fatalf("duplicate changed state: len=%d counters=%+v", s.Len(), s.Counters())
	}
}

func TestStoreMarkAsRead(t *testing.T) {
	s := NewStore(StoreOptions{})
	n := notification(enums.EventKindOrderCreated, "o-1")
	s.Insert(n)
	s.Insert(notification(enums.EventKindOrderCreated, "o-2"))

	if !s.MarkAsRead(n.ID) {
		t.Fatalf("expected notification to be found")
	}
	if !s.MarkAsRead(n.ID) {
		t.Fatalf("marking twice should still find it")
	}
	if s.UnreadCount() != 1 {
		t.Fatalf("expected 1 unread, got %d", s.UnreadCount())
	}
	if s.MarkAsRead(uuid.New()) {
		t.Fatalf("unknown id should not be found")
	}
	if s.Counters().NewOrders != 2 {
		t.Fatalf("reading should not change counters")
	}
}

func TestStoreClearAllKeepsSeenIDs(t *testing.T) {
	s := NewStore(StoreOptions{})
	n := notification(enums.EventKindOrderCreated, "o-1")
	s.Insert(n)

	if got := s.ClearAll(); got != (Counters{}) {
		t.Fatalf("expected zeroed counters, got %+v", got)
	}
	if s.Len() != 0 || s.UnreadCount() != 0 {
		t.Fatalf("store not cleared")
	}
	if res := s.Insert(n); res.Inserted {
		t.Fatalf("replayed notification resurrected after clear")
	}
	if s.Counters().NewOrders != 0 {
		t.Fatalf("replay double counted")
	}
}

func TestStoreEvictsOldestWithoutTouchingCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStore(StoreOptions{Capacity: 3, Metrics: metrics.NewPipelineMetrics(reg)})
	for i := 0; i < 5; i++ {
		s.Insert(notification(enums.EventKindOrderCreated, fmt.Sprintf("o-%d", i)))
	}
	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(snap))
	}
	if snap[0].EntityID != "o-4" || snap[2].EntityID != "o-2" {
		t.Fatalf("expected oldest evicted, got %s..%s", snap[0].EntityID, snap[2].EntityID)
	}
	if s.Counters().NewOrders != 5 {
		t.Fatalf("eviction should not change counters, got %d", s.Counters().NewOrders)
	}
	if res := s.Insert(notification(enums.EventKindOrderCreated, "o-0")); res.Inserted {
		t.Fatalf("evicted notification should not come back")
	}

	evicted, err := metricstest.CounterValue(reg, "liveops_notifications_evicted_total", nil)
	if err != nil {
		t.Fatalf("read metric: %v", err)
	}
	if evicted != 2 {
		t.Fatalf("expected 2 evictions, got %v", evicted)
	}
	dupes, err := metricstest.CounterValue(reg, "liveops_notifications_total", map[string]string{"type": "order", "result": "duplicate"})
	if err != nil {
		t.Fatalf("read metric: %v", err)
	}
	if dupes != 1 {
		t.Fatalf("expected 1 duplicate, got %v", dupes)
	}
}

func TestStoreSeenRingForgetsOldest(t *testing.T) {
	s := NewStore(StoreOptions{Capacity: 2, SeenIDs: 2})
	first := notification(enums.EventKindCustomerRegistered, "u-0")
	s.Insert(first)
	s.Insert(notification(enums.EventKindCustomerRegistered, "u-1"))
	s.Insert(notification(enums.EventKindCustomerRegistered, "u-2"))

	if res := s.Insert(first); !res.Inserted {
		t.Fatalf("id beyond the seen window should be accepted again")
	}
}

func TestStoreByTypeAndCopies(t *testing.T) {
	s := NewStore(StoreOptions{})
	s.Insert(notification(enums.EventKindOrderCreated, "o-1"))
	s.Insert(notification(enums.EventKindReservationCreated, "r-1"))

	reservations := s.ByType(enums.NotificationTypeReservation)
	if len(reservations) != 1 || reservations[0].EntityID != "r-1" {
		t.Fatalf("unexpected reservations %+v", reservations)
	}
	if got := s.ByType(enums.NotificationTypeCustomer); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", got)
	}

	snap := s.Snapshot()
	snap[0].Read = true
	if s.UnreadCount() != 2 {
		t.Fatalf("snapshot should be a copy")
	}
}

func TestStoreConcurrentInserts(t *testing.T) {
	s := NewStore(StoreOptions{Capacity: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := notification(enums.EventKindOrderCreated, fmt.Sprintf("o-%d", i%25))
			s.Insert(n)
			s.MarkAsRead(n.ID)
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()
	if s.Len() != 25 || s.Counters().NewOrders != 25 {
		t.Fatalf("expected 25 unique notifications, got len=%d counters=%+v", s.Len(), s.Counters())
	}
}

func TestStoreClearAllDuringInsertsStaysConsistent(t *testing.T) {
	s := NewStore(StoreOptions{Capacity: 10000, SeenIDs: 10000})
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Insert(notification(enums.EventKindOrderCreated, fmt.Sprintf("o-%d", i)))
		}(i)
		if i%40 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.ClearAll()
			}()
		}
	}
	wg.Wait()

	if got := s.Counters().NewOrders; got != s.Len() {
		t.Fatalf("counters and list diverged: counters=%d len=%d", got, s.Len())
	}
}
