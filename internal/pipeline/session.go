package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
)

// MarkNotificationAsRead flags a notification as read. Unknown ids are ignored.
func (p *Pipeline) MarkNotificationAsRead(ctx context.Context, id uuid.UUID) bool {
	found := p.store.MarkAsRead(id)
	if !found {
		p.logg.Debug(p.logg.WithField(ctx, "notification_id", id.String()), "mark as read for unknown notification")
	}
	return found
}

// ClearAllNotifications empties the store and tells every subscriber the
// counters are back to zero.
func (p *Pipeline) ClearAllNotifications(ctx context.Context) notifications.Counters {
	p.publishMu.Lock()
	counters := p.store.ClearAll()
	p.hub.PublishCounters(ctx, counters)
	p.publishMu.Unlock()
	p.logg.Info(ctx, "notifications cleared")
	return counters
}

func (p *Pipeline) SetPlaySound(ctx context.Context, sessionID string, enabled bool) error {
	if p.prefs == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "sound preferences unavailable")
	}
	return p.prefs.SetPlaySound(ctx, sessionID, enabled)
}

func (p *Pipeline) PlaySound(ctx context.Context, sessionID string) bool {
	if p.prefs == nil {
		return false
	}
	return p.prefs.PlaySound(ctx, sessionID)
}

func (p *Pipeline) Snapshot() []notifications.Notification {
	return p.store.Snapshot()
}

func (p *Pipeline) SnapshotByType(t enums.NotificationType) []notifications.Notification {
	return p.store.ByType(t)
}

func (p *Pipeline) Counters() notifications.Counters {
	return p.store.Counters()
}

func (p *Pipeline) UnreadCount() int {
	return p.store.UnreadCount()
}

// Subscribe registers consumer for updates published from now on.
func (p *Pipeline) Subscribe(ctx context.Context, consumer fanout.Consumer) (*fanout.Subscription, error) {
	return p.hub.Subscribe(ctx, consumer)
}
