// Package alerts turns delivered notifications into toasts for one session
// and decides whether each toast plays a sound.
package alerts

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

// Alert is what a session is shown for one notification.
type Alert struct {
	Notification notifications.Notification `json:"notification"`
	PlaySound    bool                       `json:"play_sound"`
}

// Presenter renders updates for a session, e.g. as server-sent event frames.
type Presenter interface {
	PresentAlert(ctx context.Context, alert Alert) error
	PresentCounters(ctx context.Context, counters notifications.Counters) error
	PresentConnectivity(ctx context.Context, c fanout.Connectivity) error
}

// SoundPreference answers whether a session wants sound.
type SoundPreference interface {
	PlaySound(ctx context.Context, sessionID string) bool
}

type SinkParams struct {
	SessionID        string
	Presenter        Presenter
	Preferences      SoundPreference
	Logger           *logger.Logger
	SoundMinInterval time.Duration
}

// Sink is a fanout.Consumer for a single session.
type Sink struct {
	sessionID string
	presenter Presenter
	prefs     SoundPreference
	logg      *logger.Logger
	sound     *rate.Limiter
}

var _ fanout.Consumer = (*Sink)(nil)

func NewSink(params SinkParams) *Sink {
	limit := rate.Inf
	if params.SoundMinInterval > 0 {
		limit = rate.Every(params.SoundMinInterval)
	}
	return &Sink{
		sessionID: params.SessionID,
		presenter: params.Presenter,
		prefs:     params.Preferences,
		logg:      params.Logger,
		sound:     rate.NewLimiter(limit, 1),
	}
}

func (s *Sink) OnNotification(ctx context.Context, n notifications.Notification) {
	alert := Alert{Notification: n, PlaySound: s.playSound(ctx)}
	s.report(ctx, "alert", s.presenter.PresentAlert(ctx, alert))
}

func (s *Sink) OnCountersChanged(ctx context.Context, counters notifications.Counters) {
	s.report(ctx, "counters", s.presenter.PresentCounters(ctx, counters))
}

func (s *Sink) OnConnectivityChanged(ctx context.Context, c fanout.Connectivity) {
	s.report(ctx, "connectivity", s.presenter.PresentConnectivity(ctx, c))
}

// playSound only spends a limiter token when the session wants sound.
func (s *Sink) playSound(ctx context.Context) bool {
	if s.prefs != nil && !s.prefs.PlaySound(ctx, s.sessionID) {
		return false
	}
	return s.sound.Allow()
}

func (s *Sink) report(ctx context.Context, frame string, err error) {
	if err == nil || s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(s.logg.WithSessionID(ctx, s.sessionID), map[string]any{
		"frame": frame,
		"error": err.Error(),
	})
	s.logg.Warn(ctx, "failed to present update")
}
