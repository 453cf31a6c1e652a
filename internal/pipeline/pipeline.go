// Package pipeline wires the change feed to the notification store and the
// subscriber hub, and exposes the operations a dashboard session performs.
package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/restaurant-liveops/internal/changefeed"
	"github.com/angelmondragon/restaurant-liveops/internal/events"
	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
)

const (
	defaultBufferSize        = 256
	defaultReconnectMinDelay = 500 * time.Millisecond
	defaultReconnectMaxDelay = 30 * time.Second
	defaultStableAfter       = 5 * time.Second
)

// SoundPreferences stores the per-session sound toggle.
type SoundPreferences interface {
	SetPlaySound(ctx context.Context, sessionID string, enabled bool) error
	PlaySound(ctx context.Context, sessionID string) bool
}

type Params struct {
	Source            changefeed.Source
	Normalizer        *events.Normalizer
	Builder           *notifications.Builder
	Store             *notifications.Store
	Hub               *fanout.Hub
	Preferences       SoundPreferences
	Logger            *logger.Logger
	Metrics           *metrics.PipelineMetrics
	Streams           []enums.Stream
	BufferSize        int
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	// StableAfter is how long a resubscribed stream must stay up, unless it
	// delivers a change first, before it is reported healthy again.
	StableAfter time.Duration
}

// Pipeline owns the single writer that mutates the store from the change feed.
type Pipeline struct {
	source     changefeed.Source
	normalizer *events.Normalizer
	builder    *notifications.Builder
	store      *notifications.Store
	hub        *fanout.Hub
	prefs      SoundPreferences
	logg       *logger.Logger
	metrics    *metrics.PipelineMetrics
	streams    []enums.Stream
	buffer     int
	minDelay   time.Duration
	maxDelay   time.Duration
	stable     time.Duration
	now        func() time.Time

	// publishMu pairs each store mutation with its hub publish, so subscribers
	// see counter frames in the order the store applied them.
	publishMu sync.Mutex

	mu           sync.RWMutex
	connectivity map[enums.Stream]fanout.Connectivity
}

func New(params Params) (*Pipeline, error) {
	if params.Source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "change source required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification store required")
	}
	if params.Hub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fanout hub required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.Normalizer == nil {
		params.Normalizer = events.NewNormalizer()
	}
	if params.Builder == nil {
		params.Builder = notifications.NewBuilder(params.Logger)
	}
	if len(params.Streams) == 0 {
		params.Streams = enums.Streams()
	}
	if params.BufferSize <= 0 {
		params.BufferSize = defaultBufferSize
	}
	if params.ReconnectMinDelay <= 0 {
		params.ReconnectMinDelay = defaultReconnectMinDelay
	}
	if params.ReconnectMaxDelay < params.ReconnectMinDelay {
		params.ReconnectMaxDelay = max(defaultReconnectMaxDelay, params.ReconnectMinDelay)
	}
	if params.StableAfter <= 0 {
		params.StableAfter = defaultStableAfter
	}

	p := &Pipeline{
		source:       params.Source,
		normalizer:   params.Normalizer,
		builder:      params.Builder,
		store:        params.Store,
		hub:          params.Hub,
		prefs:        params.Preferences,
		logg:         params.Logger,
		metrics:      params.Metrics,
		streams:      params.Streams,
		buffer:       params.BufferSize,
		minDelay:     params.ReconnectMinDelay,
		maxDelay:     params.ReconnectMaxDelay,
		stable:       params.StableAfter,
		now:          time.Now,
		connectivity: make(map[enums.Stream]fanout.Connectivity, len(params.Streams)),
	}
	for _, stream := range p.streams {
		p.connectivity[stream] = fanout.Connectivity{Stream: stream, Healthy: true}
	}
	return p, nil
}

// Run subscribes to every stream and processes changes until ctx is done.
// Changes already queued when ctx ends are still applied to the store.
func (p *Pipeline) Run(ctx context.Context) error {
	changes := make(chan changefeed.RawChange, p.buffer)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for change := range changes {
			p.process(ctx, change)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range p.streams {
		g.Go(func() error {
			return p.subscribeLoop(gctx, stream, changes)
		})
	}
	err := g.Wait()
	close(changes)
	<-writerDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Pipeline) enqueue(changes chan<- changefeed.RawChange) changefeed.Handler {
	return func(ctx context.Context, change changefeed.RawChange) error {
		select {
		case changes <- change:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// subscribeLoop keeps one stream subscribed. A lost stream is reported
// degraded once; it is reported healthy again only after a resubscription has
// delivered a change or stayed up for the stable period, so a subscription
// that keeps failing right away does not flap.
func (p *Pipeline) subscribeLoop(ctx context.Context, stream enums.Stream, changes chan<- changefeed.RawChange) error {
	ctx = p.logg.WithStream(ctx, string(stream))
	enqueue := p.enqueue(changes)
	p.metrics.SetStreamConnected(string(stream), true)

	attempt := 0
	degraded := false
	for {
		handle := enqueue
		var rec *recovery
		var stableTimer *time.Timer
		if degraded {
			rec = &recovery{}
			markUp := func() { rec.confirm(func() { p.markHealthy(ctx, stream) }) }
			stableTimer = time.AfterFunc(p.stable, markUp)
			handle = func(hctx context.Context, change changefeed.RawChange) error {
				markUp()
				return enqueue(hctx, change)
			}
		}

		err := p.source.Subscribe(ctx, stream, handle)
		recovered := true
		if rec != nil {
			stableTimer.Stop()
			recovered = rec.finish()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("subscription ended")
		}
		if recovered {
			attempt = 0
			p.markDegraded(ctx, stream, err)
		} else {
			p.logg.Warn(p.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			}), "change stream resubscribe failed")
		}
		degraded = true

		for {
			attempt++
			if !sleep(ctx, withJitter(backoff(attempt, p.minDelay, p.maxDelay))) {
				return nil
			}
			if pingErr := p.source.Ping(ctx); pingErr != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logg.Warn(p.logg.WithFields(ctx, map[string]any{
					"attempt": attempt,
					"error":   pingErr.Error(),
				}), "change source still unreachable")
				continue
			}
			break
		}
	}
}

// recovery tracks one resubscription of a degraded stream. confirm runs the
// healthy transition at most once and never after finish.
type recovery struct {
	mu       sync.Mutex
	done     bool
	finished bool
}

func (r *recovery) confirm(markHealthy func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.finished {
		return
	}
	r.done = true
	markHealthy()
}

// finish reports whether the stream was confirmed healthy.
func (r *recovery) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	return r.done
}

func (p *Pipeline) markDegraded(ctx context.Context, stream enums.Stream, cause error) {
	lost := pkgerrors.Wrap(pkgerrors.CodeSubscriptionLost, cause, "change stream subscription lost")
	p.logg.Error(p.logg.WithField(ctx, "code", string(pkgerrors.CodeSubscriptionLost)), "change stream degraded", lost)
	p.metrics.SetStreamConnected(string(stream), false)
	p.setConnectivity(ctx, fanout.Connectivity{
		Stream:  stream,
		Healthy: false,
		Reason:  lost.Error(),
		At:      p.now().UTC(),
	})
}

func (p *Pipeline) markHealthy(ctx context.Context, stream enums.Stream) {
	p.logg.Info(ctx, "change stream reconnected")
	p.metrics.SetStreamConnected(string(stream), true)
	p.setConnectivity(ctx, fanout.Connectivity{
		Stream:  stream,
		Healthy: true,
		At:      p.now().UTC(),
	})
}

func (p *Pipeline) setConnectivity(ctx context.Context, c fanout.Connectivity) {
	p.mu.Lock()
	p.connectivity[c.Stream] = c
	p.mu.Unlock()
	p.hub.PublishConnectivity(ctx, c)
}

func (p *Pipeline) process(ctx context.Context, change changefeed.RawChange) {
	start := p.now()
	stream := string(change.Stream)
	ctx = p.logg.WithFields(p.logg.WithStream(ctx, stream), map[string]any{
		"event_id":  change.EventID,
		"operation": string(change.Operation),
	})

	event, ok, err := p.normalizer.Normalize(change)
	if err != nil {
		p.metrics.IncChange(stream, "malformed")
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "dropping malformed change")
		return
	}
	if !ok {
		p.metrics.IncChange(stream, "ignored")
		p.logg.Debug(ctx, "change produces no domain event")
		return
	}

	n, ok := p.builder.Build(ctx, event)
	if !ok {
		p.metrics.IncChange(stream, "ignored")
		return
	}
	ctx = p.logg.WithField(ctx, "notification_id", n.ID.String())

	if !p.insertAndPublish(ctx, n) {
		p.metrics.IncChange(stream, "duplicate")
		p.logg.Debug(ctx, "notification already delivered")
		return
	}
	p.metrics.IncChange(stream, "delivered")
	p.metrics.ObserveProcessing(stream, p.now().Sub(start))
}

func (p *Pipeline) insertAndPublish(ctx context.Context, n notifications.Notification) bool {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	result := p.store.Insert(n)
	if !result.Inserted {
		return false
	}
	p.hub.PublishNotification(ctx, n)
	if result.CountersChanged {
		p.hub.PublishCounters(ctx, result.Counters)
	}
	return true
}

// Connectivity returns the last known state of every stream, ordered by stream.
func (p *Pipeline) Connectivity() []fanout.Connectivity {
	p.mu.RLock()
	out := make([]fanout.Connectivity, 0, len(p.connectivity))
	for _, c := range p.connectivity {
		out = append(out, c)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Healthy reports whether every stream is currently subscribed.
func (p *Pipeline) Healthy() bool {
	for _, c := range p.Connectivity() {
		if !c.Healthy {
			return false
		}
	}
	return true
}

func backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// withJitter adds up to half of d on top of d.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
