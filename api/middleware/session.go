package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/restaurant-liveops/api/responses"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

const maxSessionIDLength = 128

// Session scopes the request to the dashboard session named in header. The
// identity behind the session is verified upstream.
func Session(header string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(r.Header.Get(header))
			if sessionID == "" {
				sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
			}
			if sessionID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session id required"))
				return
			}
			if len(sessionID) > maxSessionIDLength {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session id too long"))
				return
			}

			ctx := WithSessionID(r.Context(), sessionID)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
