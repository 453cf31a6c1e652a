package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

// ErrAlreadySubscribed is returned when a stream already has an active
// subscriber on a MemorySource.
var ErrAlreadySubscribed = errors.New("stream already has an active subscriber")

// MemorySource is an in-process Source. Changes emitted while a stream has no
// subscriber, or rejected by the handler, are queued and redelivered on the
// next Subscribe.
type MemorySource struct {
	mu      sync.Mutex
	subs    map[enums.Stream]*memorySubscription
	backlog map[enums.Stream][]RawChange
	pingErr error
}

type memorySubscription struct {
	changes chan RawChange
	lost    chan error
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		subs:    make(map[enums.Stream]*memorySubscription),
		backlog: make(map[enums.Stream][]RawChange),
	}
}

// Emit hands a change to the active subscriber of its stream or queues it.
func (m *MemorySource) Emit(ctx context.Context, change RawChange) error {
	m.mu.Lock()
	sub, ok := m.subs[change.Stream]
	if !ok {
		m.backlog[change.Stream] = append(m.backlog[change.Stream], change)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	select {
	case sub.changes <- change:
		return nil
	case <-sub.done:
		m.requeue(change.Stream, change)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect ends the active subscription of stream with err.
func (m *MemorySource) Disconnect(stream enums.Stream, err error) bool {
	if err == nil {
		err = errors.New("subscription lost")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[stream]
	if !ok {
		return false
	}
	delete(m.subs, stream)
	sub.stop()
	sub.lost <- err
	return true
}

// Subscribed reports whether stream currently has an active subscriber.
func (m *MemorySource) Subscribed(stream enums.Stream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[stream]
	return ok
}

// SetPingError makes Ping fail until it is reset with nil.
func (m *MemorySource) SetPingError(err error) {
	m.mu.Lock()
	m.pingErr = err
	m.mu.Unlock()
}

func (m *MemorySource) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *MemorySource) Subscribe(ctx context.Context, stream enums.Stream, handle Handler) error {
	if handle == nil {
		return errors.New("handler required")
	}
	m.mu.Lock()
	if _, ok := m.subs[stream]; ok {
		m.mu.Unlock()
		return ErrAlreadySubscribed
	}
	sub := &memorySubscription{
		changes: make(chan RawChange),
		lost:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	m.subs[stream] = sub
	pending := m.backlog[stream]
	delete(m.backlog, stream)
	m.mu.Unlock()

	for i, change := range pending {
		if ctx.Err() != nil {
			m.requeue(stream, pending[i:]...)
			m.release(stream, sub)
			return nil
		}
		if err := handle(ctx, change); err != nil {
			m.requeue(stream, change)
		}
	}

	for {
		select {
		case <-ctx.Done():
			m.release(stream, sub)
			return nil
		case err := <-sub.lost:
			m.drain(stream, sub)
			return err
		case change := <-sub.changes:
			if err := handle(ctx, change); err != nil {
				m.requeue(stream, change)
			}
		}
	}
}

func (m *MemorySource) requeue(stream enums.Stream, changes ...RawChange) {
	m.mu.Lock()
	m.backlog[stream] = append(m.backlog[stream], changes...)
	m.mu.Unlock()
}

func (m *MemorySource) release(stream enums.Stream, sub *memorySubscription) {
	m.mu.Lock()
	if current, ok := m.subs[stream]; ok && current == sub {
		delete(m.subs, stream)
	}
	m.mu.Unlock()
	sub.stop()
	m.drain(stream, sub)
}

// drain requeues changes an emitter managed to hand over while the
// subscription was shutting down.
func (m *MemorySource) drain(stream enums.Stream, sub *memorySubscription) {
	for {
		select {
		case change := <-sub.changes:
			m.requeue(stream, change)
		default:
			return
		}
	}
}
