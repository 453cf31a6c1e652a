package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/db/models"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
)

// MutationResult reports how a compare-and-set status update resolved.
type MutationResult int

const (
	MutationApplied MutationResult = iota
	MutationConflict
	MutationNotFound
)

func (r MutationResult) String() string {
	switch r {
	case MutationApplied:
		return "applied"
	case MutationConflict:
		return "conflict"
	case MutationNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Repository defines persistence operations for the orders table.
type Repository interface {
	FindOrderStatus(ctx context.Context, id uuid.UUID) (enums.OrderStatus, error)
	MutateOrderStatus(ctx context.Context, id uuid.UUID, expected, next enums.OrderStatus) (MutationResult, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

// FindOrderStatus returns gorm.ErrRecordNotFound when the order does not exist.
func (r *repository) FindOrderStatus(ctx context.Context, id uuid.UUID) (enums.OrderStatus, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status").
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// MutateOrderStatus moves the order to next only while it still holds expected.
// Losing a row lock to a concurrent writer counts as a conflict.
func (r *repository) MutateOrderStatus(ctx context.Context, id uuid.UUID, expected, next enums.OrderStatus) (MutationResult, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{
			"status":     next,
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		if pkgerrors.IsContention(res.Error) {
			return MutationConflict, nil
		}
		return MutationConflict, res.Error
	}
	if res.RowsAffected > 0 {
		return MutationApplied, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return MutationConflict, err
	}
	if count == 0 {
		return MutationNotFound, nil
	}
	return MutationConflict, nil
}
