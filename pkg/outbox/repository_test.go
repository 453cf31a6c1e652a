package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/db/models"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

func setupChangeEventsDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	changeEvents := `
CREATE TABLE IF NOT EXISTS change_events (
  id TEXT PRIMARY KEY,
  stream TEXT NOT NULL,
  operation TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  old_row TEXT,
  new_row TEXT NOT NULL,
  occurred_at DATETIME NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(changeEvents).Error)
	return db
}

func insertChange(t *testing.T, repo *Repository, db *gorm.DB, stream enums.Stream, occurred time.Time) *models.ChangeEvent {
	t.Helper()
	event := &models.ChangeEvent{
		ID:         uuid.New(),
		Stream:     stream,
		Operation:  enums.ChangeOperationInsert,
		EntityID:   uuid.New(),
		NewRow:     json.RawMessage(`{"id":"x"}`),
		OccurredAt: occurred,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

func TestFetchUnpublishedOrdersOldestFirst(t *testing.T) {
	db := setupChangeEventsDB(t)
	repo := NewRepository(db)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	later := insertChange(t, repo, db, enums.StreamOrders, base.Add(time.Minute))
	earlier := insertChange(t, repo, db, enums.StreamUsers, base)

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, earlier.ID, rows[0].ID)
	assert.Equal(t, later.ID, rows[1].ID)
}

func TestMarkPublishedAndFailed(t *testing.T) {
	db := setupChangeEventsDB(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	published := insertChange(t, repo, db, enums.StreamOrders, now)
	failing := insertChange(t, repo, db, enums.StreamReservations, now.Add(time.Second))

	require.NoError(t, repo.MarkPublishedTx(db, published.ID))
	require.NoError(t, repo.MarkFailedTx(db, failing.ID, errors.New("topic missing")))
	require.NoError(t, repo.MarkFailedTx(db, failing.ID, errors.New("topic missing")))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, failing.ID, rows[0].ID)
	assert.Equal(t, 2, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "topic missing", *rows[0].LastError)

	rows, err = repo.FetchUnpublishedForPublish(db, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, rows, "rows out of attempts should not be fetched")

	pending, err := repo.CountPending(context.Background(), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	pending, err = repo.CountPending(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, pending, "rows out of attempts are no longer pending")
}

func TestMarkTerminalStopsRetries(t *testing.T) {
	db := setupChangeEventsDB(t)
	repo := NewRepository(db)

	event := insertChange(t, repo, db, enums.StreamOrders, time.Now().UTC())
	require.NoError(t, repo.MarkTerminalTx(db, event.ID, errors.New("unknown stream"), 5))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)

	var stored models.ChangeEvent
	require.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 5, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "unknown stream", *stored.LastError)
}

func TestDeleteSettledBeforeKeepsPendingRows(t *testing.T) {
	db := setupChangeEventsDB(t)
	repo := NewRepository(db)
	old := time.Now().UTC().Add(-10 * 24 * time.Hour)

	published := insertChange(t, repo, db, enums.StreamOrders, old)
	exhausted := insertChange(t, repo, db, enums.StreamOrders, old.Add(time.Second))
	pending := insertChange(t, repo, db, enums.StreamUsers, old.Add(2*time.Second))
	recent := insertChange(t, repo, db, enums.StreamOrders, time.Now().UTC())

	require.NoError(t, repo.MarkPublishedTx(db, published.ID))
	require.NoError(t, repo.MarkTerminalTx(db, exhausted.ID, errors.New("gone"), 3))
	require.NoError(t, repo.MarkPublishedTx(db, recent.ID))

	deleted, err := repo.DeleteSettledBefore(context.Background(), db, time.Now().UTC().Add(-24*time.Hour), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var remaining []models.ChangeEvent
	require.NoError(t, db.Order("occurred_at ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, pending.ID, remaining[0].ID)
	assert.Equal(t, recent.ID, remaining[1].ID)
}

func TestRepositoryRequiresTransaction(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.FetchUnpublishedForPublish(nil, 1, 1)
	assert.Error(t, err)
	assert.Error(t, repo.MarkPublishedTx(nil, uuid.New()))
	assert.Error(t, repo.MarkTerminalTx(nil, uuid.New(), nil, 1))
	_, err = repo.CountPending(context.Background(), 1)
	assert.Error(t, err)
}

func TestEnvelopeFromEvent(t *testing.T) {
	occurred := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	event := models.ChangeEvent{
		ID:         uuid.New(),
		Stream:     enums.StreamOrders,
		Operation:  enums.ChangeOperationUpdate,
		EntityID:   uuid.New(),
		OldRow:     json.RawMessage(`{"status":"pending"}`),
		NewRow:     json.RawMessage(`{"status":"confirmed"}`),
		OccurredAt: occurred,
	}

	env := EnvelopeFromEvent(event)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Equal(t, "orders", env.Stream)
	assert.Equal(t, "update", env.Operation)
	assert.True(t, env.OccurredAt.Equal(occurred))
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.JSONEq(t, `{"status":"pending"}`, string(env.Old))

	attrs := env.Attributes()
	assert.Equal(t, event.ID.String(), attrs[AttrEventID])
	assert.Equal(t, "1", attrs[AttrVersion])

	event.OldRow = json.RawMessage("null")
	assert.Nil(t, EnvelopeFromEvent(event).Old)
}
