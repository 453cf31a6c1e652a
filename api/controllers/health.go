package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/restaurant-liveops/api/responses"
	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/pkg/config"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger exposes the health-check surface of a dependency.
type Pinger interface {
	Ping(context.Context) error
}

// ReadinessCheck names a dependency checked by the readiness probe.
type ReadinessCheck struct {
	Name   string
	Pinger Pinger
}

// StreamHealth reports the change stream subscriptions.
type StreamHealth interface {
	Connectivity() []fanout.Connectivity
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Liveops-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, streams StreamHealth, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Liveops-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		failures := map[string]string{}
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				failures[check.Name] = err.Error()
			}
		}
		if streams != nil {
			for _, c := range streams.Connectivity() {
				if !c.Healthy {
					failures["stream:"+string(c.Stream)] = c.Reason
				}
			}
		}

		if len(failures) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "service not ready").WithDetails(failures))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
