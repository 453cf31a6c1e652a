package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/restaurant-liveops/api/responses"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

type notificationList struct {
	Notifications []notifications.Notification `json:"notifications"`
	Counters      notifications.Counters       `json:"counters"`
	UnreadCount   int                          `json:"unread_count"`
}

type countersResponse struct {
	notifications.Counters
	UnreadCount int `json:"unread_count"`
}

// ListNotifications returns the session snapshot, optionally filtered by type.
func ListNotifications(svc LiveOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := svc.Snapshot()
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			notificationType, err := enums.ParseNotificationType(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification type").
					WithDetails(map[string]any{"field": "type"}))
				return
			}
			items = svc.SnapshotByType(notificationType)
		}
		responses.WriteSuccess(w, notificationList{
			Notifications: items,
			Counters:      svc.Counters(),
			UnreadCount:   svc.UnreadCount(),
		})
	}
}

func NotificationCounters(svc LiveOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, countersResponse{
			Counters:    svc.Counters(),
			UnreadCount: svc.UnreadCount(),
		})
	}
}

func MarkNotificationRead(svc LiveOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "notificationId", "notification id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		found := svc.MarkNotificationAsRead(r.Context(), id)
		responses.WriteSuccess(w, map[string]any{
			"read":         found,
			"unread_count": svc.UnreadCount(),
		})
	}
}

func ClearNotifications(svc LiveOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counters := svc.ClearAllNotifications(r.Context())
		responses.WriteSuccess(w, countersResponse{Counters: counters})
	}
}
