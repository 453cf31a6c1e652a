package events

import (
	"github.com/shopspring/decimal"
)

// Column snapshots as written by the row-change triggers (to_jsonb(row)).

type orderRow struct {
	ID           string           `json:"id" validate:"required"`
	OrderNumber  string           `json:"order_number" validate:"required"`
	CustomerName string           `json:"customer_name"`
	TotalAmount  *decimal.Decimal `json:"total_amount" validate:"required"`
	Status       string           `json:"status" validate:"required"`
}

type reservationRow struct {
	ID              string `json:"id" validate:"required"`
	CustomerName    string `json:"customer_name" validate:"required"`
	PartySize       int    `json:"party_size" validate:"required,gt=0"`
	ReservationDate string `json:"reservation_date" validate:"required"`
	ReservationTime string `json:"reservation_time" validate:"required"`
}

type userRow struct {
	ID       string `json:"id" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}
