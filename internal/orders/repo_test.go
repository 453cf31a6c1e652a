package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/db/models"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  customer_id TEXT,
  customer_name TEXT NOT NULL,
  total_amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(orders).Error)
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := db.Exec(
		`INSERT INTO orders (id, order_number, customer_name, total_amount, status, created_at, updated_at)
		 VALUES (?, ?, 'Ada', '49.50', ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id.String(), "ORD-"+id.String()[:8], string(status),
	).Error
	require.NoError(t, err)
	return id
}

func TestRepositoryFindOrderStatus(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	id := seedOrder(t, db, enums.OrderStatusPreparing)

	var order models.Order
	require.NoError(t, db.Where("id = ?", id).Take(&order).Error)
	assert.Equal(t, id, order.ID)
	assert.Equal(t, "Ada", order.CustomerName)
	assert.Equal(t, "49.50", order.TotalAmount.StringFixed(2))
	assert.Equal(t, enums.OrderStatusPreparing, order.Status)

	status, err := repo.FindOrderStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPreparing, status)
}

func TestRepositoryFindOrderStatusMissing(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	_, err := repo.FindOrderStatus(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepositoryMutateOrderStatusApplied(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	id := seedOrder(t, db, enums.OrderStatusPending)

	result, err := repo.MutateOrderStatus(context.Background(), id, enums.OrderStatusPending, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, MutationApplied, result)

	status, err := repo.FindOrderStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, status)
}

func TestRepositoryMutateOrderStatusConflict(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	id := seedOrder(t, db, enums.OrderStatusReady)

	result, err := repo.MutateOrderStatus(context.Background(), id, enums.OrderStatusPreparing, enums.OrderStatusReady)
	require.NoError(t, err)
	assert.Equal(t, MutationConflict, result)

	status, err := repo.FindOrderStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReady, status, "stale expectation must not overwrite")
}

func TestRepositoryMutateOrderStatusNotFound(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	result, err := repo.MutateOrderStatus(context.Background(), uuid.New(), enums.OrderStatusPending, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, MutationNotFound, result)
}
