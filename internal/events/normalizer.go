// Package events turns raw change records into typed domain events.
package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/restaurant-liveops/internal/changefeed"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
)

const guestCustomerName = "Guest"

// Normalizer maps change records to domain events. It is stateless and safe
// for concurrent use.
type Normalizer struct {
	validate *validator.Validate
}

func NewNormalizer() *Normalizer {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return &Normalizer{validate: v}
}

// Normalize returns the domain event for change. ok is false when the change
// carries no business meaning (e.g. an update that leaves status untouched).
// Malformed records yield a MALFORMED_EVENT error and no event.
func (n *Normalizer) Normalize(change changefeed.RawChange) (event DomainEvent, ok bool, err error) {
	if change.OccurredAt.IsZero() {
		return DomainEvent{}, false, malformed(change, "missing occurred_at", nil)
	}
	if len(change.New) == 0 || string(change.New) == "null" {
		return DomainEvent{}, false, malformed(change, "missing new row", nil)
	}
	if !change.Operation.IsValid() {
		return DomainEvent{}, false, nil
	}

	switch change.Stream {
	case enums.StreamOrders:
		return n.normalizeOrder(change)
	case enums.StreamReservations:
		if change.Operation != enums.ChangeOperationInsert {
			return DomainEvent{}, false, nil
		}
		return n.normalizeReservation(change)
	case enums.StreamUsers:
		if change.Operation != enums.ChangeOperationInsert {
			return DomainEvent{}, false, nil
		}
		return n.normalizeUser(change)
	default:
		return DomainEvent{}, false, nil
	}
}

func (n *Normalizer) normalizeOrder(change changefeed.RawChange) (DomainEvent, bool, error) {
	var row orderRow
	if err := n.decode(change, change.New, &row); err != nil {
		return DomainEvent{}, false, err
	}
	status, err := enums.ParseOrderStatus(row.Status)
	if err != nil {
		return DomainEvent{}, false, malformed(change, "unknown order status", err)
	}
	payload := Payload{
		OrderNumber:  row.OrderNumber,
		Amount:       row.TotalAmount,
		CustomerName: customerName(row.CustomerName),
		NewStatus:    status,
	}

	if change.Operation == enums.ChangeOperationInsert {
		return DomainEvent{
			Kind:       enums.EventKindOrderCreated,
			EntityID:   row.ID,
			Payload:    payload,
			OccurredAt: change.OccurredAt,
		}, true, nil
	}

	if len(change.Old) == 0 || string(change.Old) == "null" {
		return DomainEvent{}, false, malformed(change, "update without old row", nil)
	}
	var old struct {
		Status string `json:"status" validate:"required"`
	}
	if err := n.decode(change, change.Old, &old); err != nil {
		return DomainEvent{}, false, err
	}
	oldStatus, err := enums.ParseOrderStatus(old.Status)
	if err != nil {
		return DomainEvent{}, false, malformed(change, "unknown previous order status", err)
	}
	if oldStatus == status {
		return DomainEvent{}, false, nil
	}
	payload.OldStatus = oldStatus
	return DomainEvent{
		Kind:       enums.EventKindOrderStatusChanged,
		EntityID:   row.ID,
		Payload:    payload,
		OccurredAt: change.OccurredAt,
	}, true, nil
}

func (n *Normalizer) normalizeReservation(change changefeed.RawChange) (DomainEvent, bool, error) {
	var row reservationRow
	if err := n.decode(change, change.New, &row); err != nil {
		return DomainEvent{}, false, err
	}
	return DomainEvent{
		Kind:     enums.EventKindReservationCreated,
		EntityID: row.ID,
		Payload: Payload{
			CustomerName:    row.CustomerName,
			PartySize:       row.PartySize,
			ReservationDate: row.ReservationDate,
			ReservationTime: row.ReservationTime,
		},
		OccurredAt: change.OccurredAt,
	}, true, nil
}

func (n *Normalizer) normalizeUser(change changefeed.RawChange) (DomainEvent, bool, error) {
	var row userRow
	if err := n.decode(change, change.New, &row); err != nil {
		return DomainEvent{}, false, err
	}
	return DomainEvent{
		Kind:     enums.EventKindCustomerRegistered,
		EntityID: row.ID,
		Payload: Payload{
			CustomerName: row.FullName,
			Email:        row.Email,
		},
		OccurredAt: change.OccurredAt,
	}, true, nil
}

func (n *Normalizer) decode(change changefeed.RawChange, raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return malformed(change, "undecodable row", err)
	}
	if err := n.validate.Struct(dest); err != nil {
		details := map[string]string{}
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range errs {
				details[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		return malformed(change, "row failed validation", err).WithDetails(details)
	}
	return nil
}

func malformed(change changefeed.RawChange, reason string, cause error) *pkgerrors.Error {
	msg := fmt.Sprintf("%s %s change %s: %s", change.Stream, change.Operation, change.EventID, reason)
	return pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, cause, msg)
}

func customerName(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return guestCustomerName
}
