package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
)

// LiveOps is the session-facing surface of the notification pipeline.
type LiveOps interface {
	Snapshot() []notifications.Notification
	SnapshotByType(t enums.NotificationType) []notifications.Notification
	Counters() notifications.Counters
	UnreadCount() int
	Connectivity() []fanout.Connectivity
	MarkNotificationAsRead(ctx context.Context, id uuid.UUID) bool
	ClearAllNotifications(ctx context.Context) notifications.Counters
	SetPlaySound(ctx context.Context, sessionID string, enabled bool) error
	PlaySound(ctx context.Context, sessionID string) bool
	Subscribe(ctx context.Context, consumer fanout.Consumer) (*fanout.Subscription, error)
}

func uuidParam(r *http.Request, name, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}
