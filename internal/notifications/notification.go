// Package notifications builds typed notifications from domain events and
// keeps the session's ordered, deduplicated notification list.
package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/internal/events"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

// Notification is a user-facing record derived from one domain event.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Kind      enums.EventKind        `json:"kind"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Read      bool                   `json:"read"`
	EntityID  string                 `json:"entity_id"`
	Data      events.Payload         `json:"data"`
}

// Counters are the running totals shown on the dashboard badges.
type Counters struct {
	NewOrders       int `json:"new_orders"`
	NewReservations int `json:"new_reservations"`
}
