package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/angelmondragon/restaurant-liveops/api/middleware"
	"github.com/angelmondragon/restaurant-liveops/api/responses"
	"github.com/angelmondragon/restaurant-liveops/internal/alerts"
	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

const (
	frameSnapshot     = "snapshot"
	frameNotification = "notification"
	frameCounters     = "counters"
	frameConnectivity = "connectivity"
)

type StreamOptions struct {
	Heartbeat        time.Duration
	SoundMinInterval time.Duration
}

type snapshotFrame struct {
	Notifications []notifications.Notification `json:"notifications"`
	Counters      notifications.Counters       `json:"counters"`
	UnreadCount   int                          `json:"unread_count"`
	Connectivity  []fanout.Connectivity        `json:"connectivity"`
	PlaySound     bool                         `json:"play_sound"`
}

// StreamNotifications holds the request open as a server-sent event stream.
// The first frame is the current snapshot; later frames carry live updates.
func StreamNotifications(svc LiveOps, opts StreamOptions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		ctx := r.Context()
		sessionID := middleware.SessionIDFromContext(ctx)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		stream := &eventStream{w: w, flusher: flusher}
		sink := alerts.NewSink(alerts.SinkParams{
			SessionID:        sessionID,
			Presenter:        stream,
			Preferences:      svc,
			Logger:           logg,
			SoundMinInterval: opts.SoundMinInterval,
		})

		// Subscribe and write the snapshot under the stream lock so live frames
		// queue behind it.
		stream.mu.Lock()
		sub, err := svc.Subscribe(ctx, sink)
		if err != nil {
			stream.mu.Unlock()
			if logg != nil {
				logg.Error(ctx, "notification stream subscribe failed", err)
			}
			return
		}
		defer func() {
			sub.Close()
			<-sub.Done()
		}()
		err = stream.writeLocked(frameSnapshot, snapshotFrame{
			Notifications: svc.Snapshot(),
			Counters:      svc.Counters(),
			UnreadCount:   svc.UnreadCount(),
			Connectivity:  svc.Connectivity(),
			PlaySound:     svc.PlaySound(ctx, sessionID),
		})
		stream.mu.Unlock()
		if err != nil {
			return
		}
		if logg != nil {
			logg.Info(ctx, "notification stream opened")
		}

		heartbeat := opts.Heartbeat
		if heartbeat <= 0 {
			heartbeat = 15 * time.Second
		}
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if logg != nil {
					logg.Info(ctx, "notification stream closed")
				}
				return
			case <-sub.Done():
				return
			case <-ticker.C:
				if err := stream.comment("ping"); err != nil {
					return
				}
			}
		}
	}
}

// eventStream writes server-sent event frames. It implements alerts.Presenter.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

var _ alerts.Presenter = (*eventStream)(nil)

func (s *eventStream) PresentAlert(ctx context.Context, alert alerts.Alert) error {
	return s.write(frameNotification, alert)
}

func (s *eventStream) PresentCounters(ctx context.Context, counters notifications.Counters) error {
	return s.write(frameCounters, counters)
}

func (s *eventStream) PresentConnectivity(ctx context.Context, c fanout.Connectivity) error {
	return s.write(frameConnectivity, c)
}

func (s *eventStream) write(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(event, payload)
}

func (s *eventStream) writeLocked(event string, payload any) error {
	if s.closed {
		return errStreamClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *eventStream) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

var errStreamClosed = pkgerrors.New(pkgerrors.CodeInternal, "event stream closed")
