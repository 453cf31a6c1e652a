package controllers

import (
	"net/http"

	"github.com/angelmondragon/restaurant-liveops/api/middleware"
	"github.com/angelmondragon/restaurant-liveops/api/responses"
	"github.com/angelmondragon/restaurant-liveops/api/validators"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

type soundPreferenceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type soundPreferenceResponse struct {
	Enabled bool `json:"enabled"`
}

func GetSoundPreference(svc LiveOps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := middleware.SessionIDFromContext(r.Context())
		responses.WriteSuccess(w, soundPreferenceResponse{Enabled: svc.PlaySound(r.Context(), sessionID)})
	}
}

func UpdateSoundPreference(svc LiveOps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req soundPreferenceRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sessionID := middleware.SessionIDFromContext(r.Context())
		if err := svc.SetPlaySound(r.Context(), sessionID, *req.Enabled); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, soundPreferenceResponse{Enabled: *req.Enabled})
	}
}
