package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

// Order is a customer order tracked by the kitchen and delivery staff.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber  string            `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	CustomerID   *uuid.UUID        `gorm:"column:customer_id;type:uuid" json:"customer_id,omitempty"`
	CustomerName string            `gorm:"column:customer_name;not null" json:"customer_name"`
	TotalAmount  decimal.Decimal   `gorm:"column:total_amount;type:numeric(10,2);not null" json:"total_amount"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:pending" json:"status"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
