package alerts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/redis"
)

type PreferencesParams struct {
	Store        redis.KeyValueStore
	Logger       *logger.Logger
	DefaultSound bool
	TTL          time.Duration
}

// Preferences keeps per-session alert settings in Redis.
type Preferences struct {
	store        redis.KeyValueStore
	logg         *logger.Logger
	defaultSound bool
	ttl          time.Duration
}

func NewPreferences(params PreferencesParams) (*Preferences, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "preferences store required")
	}
	return &Preferences{
		store:        params.Store,
		logg:         params.Logger,
		defaultSound: params.DefaultSound,
		ttl:          params.TTL,
	}, nil
}

func (p *Preferences) SetPlaySound(ctx context.Context, sessionID string, enabled bool) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if err := p.store.Set(ctx, p.store.SoundPreferenceKey(sessionID), strconv.FormatBool(enabled), p.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store sound preference")
	}
	return nil
}

// PlaySound returns the session's preference, falling back to the default when
// none is stored or the store is unreachable.
func (p *Preferences) PlaySound(ctx context.Context, sessionID string) bool {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return p.defaultSound
	}
	raw, err := p.store.Get(ctx, p.store.SoundPreferenceKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.ErrNil) && p.logg != nil {
			logCtx := p.logg.WithField(p.logg.WithSessionID(ctx, sessionID), "error", err.Error())
			p.logg.Warn(logCtx, "sound preference lookup failed, using default")
		}
		return p.defaultSound
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return p.defaultSound
	}
	return enabled
}
