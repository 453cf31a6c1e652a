package enums

import "fmt"

// NotificationType groups notifications by the entity that produced them.
type NotificationType string

const (
	NotificationTypeOrder       NotificationType = "order"
	NotificationTypeReservation NotificationType = "reservation"
	NotificationTypeCustomer    NotificationType = "customer"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrder,
	NotificationTypeReservation,
	NotificationTypeCustomer,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
