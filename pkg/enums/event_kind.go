package enums

import "fmt"

// EventKind identifies a normalized domain event.
type EventKind string

const (
	EventKindOrderCreated       EventKind = "order_created"
	EventKindOrderStatusChanged EventKind = "order_status_changed"
	EventKindReservationCreated EventKind = "reservation_created"
	EventKindCustomerRegistered EventKind = "customer_registered"
)

var validEventKinds = []EventKind{
	EventKindOrderCreated,
	EventKindOrderStatusChanged,
	EventKindReservationCreated,
	EventKindCustomerRegistered,
}

func (k EventKind) String() string {
	return string(k)
}

func (k EventKind) IsValid() bool {
	for _, candidate := range validEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseEventKind(value string) (EventKind, error) {
	for _, candidate := range validEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event kind %q", value)
}
