// Package fanout delivers notification, counter and connectivity updates to
// every registered subscriber without letting a slow one stall the others.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
)

const (
	DefaultQueueSize       = 64
	DefaultDeliveryTimeout = 250 * time.Millisecond
)

// Connectivity reports whether a change stream is currently delivering.
type Connectivity struct {
	Stream  enums.Stream `json:"stream"`
	Healthy bool         `json:"healthy"`
	Reason  string       `json:"reason,omitempty"`
	At      time.Time    `json:"at"`
}

// Consumer receives updates on its subscription goroutine, one at a time.
type Consumer interface {
	OnNotification(ctx context.Context, n notifications.Notification)
	OnCountersChanged(ctx context.Context, counters notifications.Counters)
	OnConnectivityChanged(ctx context.Context, c Connectivity)
}

type updateKind string

const (
	updateNotification updateKind = "notification"
	updateCounters     updateKind = "counters"
	updateConnectivity updateKind = "connectivity"
)

type update struct {
	kind         updateKind
	notification notifications.Notification
	counters     notifications.Counters
	connectivity Connectivity
}

type Options struct {
	QueueSize       int
	DeliveryTimeout time.Duration
	Logger          *logger.Logger
	Metrics         *metrics.PipelineMetrics
}

// Hub keeps the subscriber registry. The lock guards the registry only;
// delivery happens outside it.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	queue   int
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
}

func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return &Hub{
		subs:    make(map[uint64]*Subscription),
		queue:   opts.QueueSize,
		timeout: opts.DeliveryTimeout,
		logg:    opts.Logger,
		metrics: opts.Metrics,
	}
}

// Subscribe registers consumer until the returned subscription is closed or
// ctx is done. Only updates published after Subscribe returns are delivered.
func (h *Hub) Subscribe(ctx context.Context, consumer Consumer) (*Subscription, error) {
	if consumer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consumer required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fanout hub closed")
	}
	h.nextID++
	sub := &Subscription{
		id:       h.nextID,
		hub:      h,
		ctx:      ctx,
		consumer: consumer,
		queue:    make(chan update, h.queue),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	go sub.run()
	return sub, nil
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) PublishNotification(ctx context.Context, n notifications.Notification) {
	h.publish(ctx, update{kind: updateNotification, notification: n})
}

func (h *Hub) PublishCounters(ctx context.Context, counters notifications.Counters) {
	h.publish(ctx, update{kind: updateCounters, counters: counters})
}

func (h *Hub) PublishConnectivity(ctx context.Context, c Connectivity) {
	h.publish(ctx, update{kind: updateConnectivity, connectivity: c})
}

func (h *Hub) publish(ctx context.Context, u update) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.enqueue(ctx, u, h.timeout) {
			h.metrics.IncDropped(string(u.kind))
			if h.logg != nil {
				h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
					"subscriber_id": sub.id,
					"update":        string(u.kind),
				}), "subscriber queue full, update dropped")
			}
		}
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(count)
}

// Subscription is one consumer's registration on the hub.
type Subscription struct {
	id        uint64
	hub       *Hub
	ctx       context.Context
	consumer  Consumer
	queue     chan update
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// Close unregisters the subscription. It is safe to call more than once and
// from inside a consumer callback. Updates still queued are discarded.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s.id)
		close(s.done)
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.finished
}

// enqueue reports false when the update was dropped for this subscriber.
func (s *Subscription) enqueue(ctx context.Context, u update, timeout time.Duration) bool {
	select {
	case s.queue <- u:
		return true
	case <-s.done:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.queue <- u:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Subscription) run() {
	defer close(s.finished)
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Close()
			return
		case u := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.dispatch(u)
		}
	}
}

func (s *Subscription) dispatch(u update) {
	defer func() {
		if r := recover(); r != nil && s.hub.logg != nil {
			s.hub.logg.Error(s.hub.logg.WithField(s.ctx, "subscriber_id", s.id), "subscriber callback panicked", fmt.Errorf("panic: %v", r))
		}
	}()
	switch u.kind {
	case updateNotification:
		s.consumer.OnNotification(s.ctx, u.notification)
	case updateCounters:
		s.consumer.OnCountersChanged(s.ctx, u.counters)
	case updateConnectivity:
		s.consumer.OnConnectivityChanged(s.ctx, u.connectivity)
	}
}
