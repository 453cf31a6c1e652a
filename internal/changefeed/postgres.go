package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/db/models"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/outbox"
)

const (
	defaultPollInterval  = time.Second
	defaultPollBatchSize = 100
	defaultPollLookback  = 30 * time.Second
)

type dbClient interface {
	DB() *gorm.DB
	Ping(context.Context) error
}

// PostgresSource polls the change_events table directly. occurred_at is
// stamped inside the writing transaction, so a row can become visible after
// later-stamped rows were already read. Every poll therefore re-reads a
// trailing lookback window behind the newest delivered change and skips ids it
// already delivered. Cursors survive resubscription, so a reconnect resumes
// where delivery stopped. Streams start at the time of their first
// subscription.
type PostgresSource struct {
	db        dbClient
	logg      *logger.Logger
	interval  time.Duration
	batchSize int
	lookback  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	cursors map[enums.Stream]*cursor
}

// cursor tracks delivery for one stream. Guarded by PostgresSource.mu.
type cursor struct {
	floor     time.Time
	highWater time.Time
	seen      map[uuid.UUID]time.Time
}

// position is a keyset page boundary within one poll.
type position struct {
	occurredAt time.Time
	id         uuid.UUID
}

type PostgresSourceParams struct {
	DB           dbClient
	Logger       *logger.Logger
	PollInterval time.Duration
	BatchSize    int
	// Lookback bounds how late a change may become visible and still be
	// delivered.
	Lookback time.Duration
}

func NewPostgresSource(params PostgresSourceParams) (*PostgresSource, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPollBatchSize
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultPollLookback
	}
	return &PostgresSource{
		db:        params.DB,
		logg:      params.Logger,
		interval:  interval,
		batchSize: batch,
		lookback:  lookback,
		now:       time.Now,
		cursors:   make(map[enums.Stream]*cursor),
	}, nil
}

func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresSource) Subscribe(ctx context.Context, stream enums.Stream, handle Handler) error {
	if handle == nil {
		return errors.New("handler required")
	}
	if !stream.IsValid() {
		return fmt.Errorf("unknown stream %q", stream)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx, stream, handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll delivers every change in the stream window that was not delivered
// before. A rejected change stops the poll without moving the window, so it
// and everything after it are read again next time.
func (s *PostgresSource) poll(ctx context.Context, stream enums.Stream, handle Handler) error {
	cur := s.cursorFor(stream)
	page := position{occurredAt: s.windowStart(cur)}
	for {
		rows, err := s.fetch(ctx, stream, page)
		if err != nil {
			return fmt.Errorf("poll %s changes: %w", stream, err)
		}
		for _, row := range rows {
			page = position{occurredAt: row.OccurredAt, id: row.ID}
			if s.delivered(cur, row.ID) {
				continue
			}
			change, err := FromEnvelope(outbox.EnvelopeFromEvent(row))
			if err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "change_id", row.ID.String()), "skipping change row with unknown stream")
				s.markDelivered(cur, row)
				continue
			}
			if err := handle(ctx, change); err != nil {
				return nil
			}
			s.markDelivered(cur, row)
		}
		if len(rows) < s.batchSize {
			break
		}
	}
	s.settle(cur)
	return nil
}

// fetch reads the page after pos. The first page of a poll uses a nil id, so
// rows stamped exactly at the window start are included.
func (s *PostgresSource) fetch(ctx context.Context, stream enums.Stream, pos position) ([]models.ChangeEvent, error) {
	var rows []models.ChangeEvent
	err := s.db.DB().WithContext(ctx).
		Where("stream = ?", stream).
		Where("occurred_at > ? OR (occurred_at = ? AND id > ?)", pos.occurredAt, pos.occurredAt, pos.id).
		Order("occurred_at ASC").
		Order("id ASC").
		Limit(s.batchSize).
		Find(&rows).Error
	return rows, err
}

func (s *PostgresSource) cursorFor(stream enums.Stream) *cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[stream]
	if !ok {
		start := s.now().UTC()
		cur = &cursor{floor: start, highWater: start, seen: make(map[uuid.UUID]time.Time)}
		s.cursors[stream] = cur
	}
	return cur
}

func (s *PostgresSource) windowStart(cur *cursor) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowStartLocked(cur)
}

func (s *PostgresSource) windowStartLocked(cur *cursor) time.Time {
	from := cur.highWater.Add(-s.lookback)
	if from.Before(cur.floor) {
		from = cur.floor
	}
	return from
}

func (s *PostgresSource) delivered(cur *cursor, id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := cur.seen[id]
	return ok
}

func (s *PostgresSource) markDelivered(cur *cursor, row models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur.seen[row.ID] = row.OccurredAt
	if row.OccurredAt.After(cur.highWater) {
		cur.highWater = row.OccurredAt
	}
}

// settle runs after a poll that delivered its whole window. Delivered ids that
// fall before the next window can no longer be read, so they are forgotten.
func (s *PostgresSource) settle(cur *cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.windowStartLocked(cur)
	for id, at := range cur.seen {
		if at.Before(from) {
			delete(cur.seen, id)
		}
	}
}
