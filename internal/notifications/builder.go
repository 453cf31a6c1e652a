package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/internal/events"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:liveops:notifications"))

// Builder renders domain events into notifications using fixed templates.
type Builder struct {
	logg *logger.Logger
}

func NewBuilder(logg *logger.Logger) *Builder {
	return &Builder{logg: logg}
}

// Build returns the notification for event, or false when the kind has no
// template.
func (b *Builder) Build(ctx context.Context, event events.DomainEvent) (Notification, bool) {
	notificationType, title, message, ok := render(event)
	if !ok {
		if b.logg != nil {
			b.logg.Debug(b.logg.WithField(ctx, "event_kind", string(event.Kind)), "no notification template for event kind")
		}
		return Notification{}, false
	}
	return Notification{
		ID:        NotificationID(event),
		Type:      notificationType,
		Kind:      event.Kind,
		Title:     title,
		Message:   message,
		Timestamp: event.OccurredAt,
		EntityID:  event.EntityID,
		Data:      event.Payload,
	}, true
}

// NotificationID derives a stable id so that a replayed change maps onto the
// notification it already produced. Created events are keyed by entity alone;
// status changes also include the time of the change.
func NotificationID(event events.DomainEvent) uuid.UUID {
	parts := []string{string(event.Kind), event.EntityID}
	if event.Kind == enums.EventKindOrderStatusChanged {
		parts = append(parts, event.OccurredAt.UTC().Format(time.RFC3339Nano))
	}
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|")))
}

func render(event events.DomainEvent) (enums.NotificationType, string, string, bool) {
	p := event.Payload
	switch event.Kind {
	case enums.EventKindOrderCreated:
		message := fmt.Sprintf("Order %s from %s", p.OrderNumber, p.CustomerName)
		if p.Amount != nil {
			message = fmt.Sprintf("%s - $%s", message, p.Amount.StringFixed(2))
		}
		return enums.NotificationTypeOrder, "New Order Received", message, true
	case enums.EventKindOrderStatusChanged:
		message := fmt.Sprintf("Order %s moved from %s to %s", p.OrderNumber, p.OldStatus.Label(), p.NewStatus.Label())
		return enums.NotificationTypeOrder, "Order Status Updated", message, true
	case enums.EventKindReservationCreated:
		message := fmt.Sprintf("%s booked a table for %d on %s at %s", p.CustomerName, p.PartySize, p.ReservationDate, clockTime(p.ReservationTime))
		return enums.NotificationTypeReservation, "New Reservation", message, true
	case enums.EventKindCustomerRegistered:
		return enums.NotificationTypeCustomer, "New Customer", fmt.Sprintf("%s just created an account", p.CustomerName), true
	default:
		return "", "", "", false
	}
}

// clockTime trims seconds from a "15:04:05" time of day.
func clockTime(value string) string {
	if t, err := time.Parse("15:04:05", value); err == nil {
		return t.Format("15:04")
	}
	return value
}
