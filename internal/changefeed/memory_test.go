package changefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

type recorder struct {
	mu      sync.Mutex
	changes []RawChange
	seen    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, change RawChange) error {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
	r.seen <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change %d", i+1)
		}
	}
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.EventID)
	}
	return out
}

func waitSubscribed(t *testing.T, src *MemorySource, stream enums.Stream) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !src.Subscribed(stream) {
		if time.Now().After(deadline) {
			t.Fatalf("stream %s never subscribed", stream)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMemorySourceReplaysBacklogThenStreams(t *testing.T) {
	src := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Emit(ctx, RawChange{EventID: "a", Stream: enums.StreamOrders}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	rec := newRecorder()
	done := make(chan error, 1)
	go func() { done <- src.Subscribe(ctx, enums.StreamOrders, rec.handle) }()

	rec.wait(t, 1)
	waitSubscribed(t, src, enums.StreamOrders)
	if err := src.Emit(ctx, RawChange{EventID: "b", Stream: enums.StreamOrders}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	rec.wait(t, 1)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
	got := rec.ids()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func TestMemorySourceDisconnectReturnsError(t *testing.T) {
	src := NewMemorySource()
	ctx := context.Background()
	rec := newRecorder()

	done := make(chan error, 1)
	go func() { done <- src.Subscribe(ctx, enums.StreamUsers, rec.handle) }()
	waitSubscribed(t, src, enums.StreamUsers)

	boom := errors.New("connection reset")
	if !src.Disconnect(enums.StreamUsers, boom) {
		t.Fatalf("expected active subscription to be disconnected")
	}
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected disconnect error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscribe did not return after disconnect")
	}
	if src.Disconnect(enums.StreamUsers, boom) {
		t.Fatalf("second disconnect should find no subscriber")
	}
}

func TestMemorySourceRejectsDoubleSubscribe(t *testing.T) {
	src := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = src.Subscribe(ctx, enums.StreamOrders, newRecorder().handle) }()
	waitSubscribed(t, src, enums.StreamOrders)

	if err := src.Subscribe(ctx, enums.StreamOrders, newRecorder().handle); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestMemorySourceRequeuesRejectedChanges(t *testing.T) {
	src := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())

	_ = src.Emit(ctx, RawChange{EventID: "x", Stream: enums.StreamReservations})
	attempts := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- src.Subscribe(ctx, enums.StreamReservations, func(context.Context, RawChange) error {
			attempts <- struct{}{}
			return errors.New("busy")
		})
	}()
	<-attempts
	cancel()
	<-done

	rec := newRecorder()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go func() { _ = src.Subscribe(ctx2, enums.StreamReservations, rec.handle) }()
	rec.wait(t, 1)
	if got := rec.ids(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected rejected change to be redelivered, got %v", got)
	}
}

func TestMemorySourcePing(t *testing.T) {
	src := NewMemorySource()
	if err := src.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error %v", err)
	}
	src.SetPingError(errors.New("down"))
	if err := src.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}
