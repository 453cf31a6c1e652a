package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

// DomainEvent is a normalized change the rest of the pipeline understands.
type DomainEvent struct {
	Kind       enums.EventKind
	EntityID   string
	Payload    Payload
	OccurredAt time.Time
}

// Payload is the snapshot of fields a notification may render. Only the
// fields relevant to the event kind are set.
type Payload struct {
	OrderNumber     string            `json:"order_number,omitempty"`
	Amount          *decimal.Decimal  `json:"amount,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	Email           string            `json:"email,omitempty"`
	PartySize       int               `json:"party_size,omitempty"`
	ReservationDate string            `json:"reservation_date,omitempty"`
	ReservationTime string            `json:"reservation_time,omitempty"`
	OldStatus       enums.OrderStatus `json:"old_status,omitempty"`
	NewStatus       enums.OrderStatus `json:"new_status,omitempty"`
}
