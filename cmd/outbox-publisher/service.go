package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/config"
	"github.com/angelmondragon/restaurant-liveops/pkg/db/models"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
	"github.com/angelmondragon/restaurant-liveops/pkg/outbox"
)

const jitterWindow = 250 * time.Millisecond

var defaults = config.OutboxConfig{
	BatchSize:      50,
	PollInterval:   500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	PublishTimeout: 15 * time.Second,
	MaxAttempts:    10,
}

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	StreamPublisher(stream enums.Stream) *gcppubsub.Publisher
}

type changeRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.ChangeEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
	CountPending(ctx context.Context, maxAttempts int) (int64, error)
}

// sendFunc publishes one message and blocks until the server acknowledges
// it, returning the server-assigned id.
type sendFunc func(ctx context.Context, msg *gcppubsub.Message) (string, error)

// senderFor returns nil when stream has no topic.
type senderFor func(stream enums.Stream) sendFunc

// permanentError marks a change that would fail the same way on every attempt.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...any) error {
	return permanentError{err: fmt.Errorf(format, args...)}
}

// outcome is how a single row was settled. Its string form is the result
// label on liveops_outbox_published_total.
type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeTerminal
)

func (o outcome) String() string {
	switch o {
	case outcomePublished:
		return "published"
	case outcomeRetry:
		return "failed"
	}
	return "terminal"
}

type ServiceParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository changeRepository
	Metrics    *metrics.PipelineMetrics
	Senders    senderFor
}

// Service relays captured change_events rows to the per-stream topics the
// change feed subscribes to.
type Service struct {
	cfg     config.OutboxConfig
	logg    *logger.Logger
	db      dbClient
	repo    changeRepository
	pubsub  pubSubClient
	metrics *metrics.PipelineMetrics
	senders senderFor
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("change repository is required")
	}

	senders := params.Senders
	if senders == nil {
		senders = topicSenders(params.PubSub)
	}
	return &Service{
		cfg:     withDefaults(params.Outbox),
		logg:    params.Logger,
		db:      params.DB,
		repo:    params.Repository,
		pubsub:  params.PubSub,
		metrics: params.Metrics,
		senders: senders,
	}, nil
}

func withDefaults(cfg config.OutboxConfig) config.OutboxConfig {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxBackoff < cfg.PollInterval {
		cfg.MaxBackoff = max(defaults.MaxBackoff, cfg.PollInterval)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	return cfg
}

func topicSenders(client pubSubClient) senderFor {
	return func(stream enums.Stream) sendFunc {
		topic := client.StreamPublisher(stream)
		if topic == nil {
			return nil
		}
		return func(ctx context.Context, msg *gcppubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		}
	}
}

// Run relays batches until ctx is cancelled. A full batch is followed
// immediately by the next one; an empty batch waits one poll interval and a
// failed batch backs off exponentially.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	var (
		backoff     time.Duration
		lastSampled time.Time
	)
	for ctx.Err() == nil {
		if time.Since(lastSampled) >= s.cfg.PollInterval {
			s.reportPending(ctx)
			lastSampled = time.Now()
		}
		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			backoff = nextBackoff(backoff, s.cfg.PollInterval, s.cfg.MaxBackoff)
			wait = withJitter(backoff)
		case processed:
			backoff = 0
			continue
		default:
			backoff = 0
			wait = withJitter(s.cfg.PollInterval)
		}
		if err := sleep(ctx, wait); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox relay stopped")
	return ctx.Err()
}

// reportPending samples the relay backlog into liveops_outbox_pending.
func (s *Service) reportPending(ctx context.Context) {
	pending, err := s.repo.CountPending(ctx, s.cfg.MaxAttempts)
	if err != nil {
		if ctx.Err() == nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "count pending change events failed")
		}
		return
	}
	s.metrics.SetOutboxPending(pending)
}

// processBatch relays one locked batch. A publish failure only settles its own
// row, so the rest of the batch still goes out.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.cfg.BatchSize, s.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		processed = len(rows) > 0
		for _, row := range rows {
			if err := s.relay(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// relay publishes row and records the result. Only bookkeeping failures are
// returned; those abort the batch transaction.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, row models.ChangeEvent) error {
	publishErr := s.publish(ctx, row)
	result := s.classify(row, publishErr)
	s.metrics.IncPublished(string(row.Stream), result.String())

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"change_id": row.ID.String(),
		"stream":    row.Stream,
		"operation": row.Operation,
		"entity_id": row.EntityID.String(),
		"attempt":   row.AttemptCount + 1,
		"outcome":   result.String(),
	})

	var markErr error
	switch result {
	case outcomePublished:
		s.logg.Debug(logCtx, "change event published")
		markErr = s.repo.MarkPublishedTx(tx, row.ID)
	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", publishErr.Error()), "change event publish failed")
		markErr = s.repo.MarkFailedTx(tx, row.ID, publishErr)
	case outcomeTerminal:
		s.logg.Warn(s.logg.WithField(logCtx, "error", publishErr.Error()), "change event will not be retried")
		markErr = s.repo.MarkTerminalTx(tx, row.ID, publishErr, s.cfg.MaxAttempts)
	}
	if markErr != nil {
		return fmt.Errorf("record %s outcome for %s: %w", result, row.ID, markErr)
	}
	return nil
}

func (s *Service) classify(row models.ChangeEvent, err error) outcome {
	var perm permanentError
	switch {
	case err == nil:
		return outcomePublished
	case errors.As(err, &perm):
		return outcomeTerminal
	case row.AttemptCount+1 >= s.cfg.MaxAttempts:
		return outcomeTerminal
	}
	return outcomeRetry
}

func (s *Service) publish(ctx context.Context, row models.ChangeEvent) error {
	if !row.Stream.IsValid() {
		return permanent("unknown stream %q", row.Stream)
	}
	send := s.senders(row.Stream)
	if send == nil {
		return permanent("no topic configured for stream %s", row.Stream)
	}

	envelope := outbox.EnvelopeFromEvent(row)
	data, err := json.Marshal(envelope)
	if err != nil {
		return permanent("encode envelope: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	if _, err := send(sendCtx, &gcppubsub.Message{Data: data, Attributes: envelope.Attributes()}); err != nil {
		return fmt.Errorf("publish to %s: %w", row.Stream, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextBackoff doubles current, starting from base and never exceeding limit.
func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current < base {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
