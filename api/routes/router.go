package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/restaurant-liveops/api/controllers"
	"github.com/angelmondragon/restaurant-liveops/api/middleware"
	"github.com/angelmondragon/restaurant-liveops/internal/orders"
	"github.com/angelmondragon/restaurant-liveops/pkg/config"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	LiveOps  controllers.LiveOps
	Orders   orders.Service
	Streams  controllers.StreamHealth
	Checks   []controllers.ReadinessCheck
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.AllowedOrigins, cfg.HTTP.SessionHeader),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Streams, params.Checks...))
	})

	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session(cfg.HTTP.SessionHeader, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(params.LiveOps, logg))
			r.Get("/counters", controllers.NotificationCounters(params.LiveOps))
			r.Get("/stream", controllers.StreamNotifications(params.LiveOps, controllers.StreamOptions{
				Heartbeat:        cfg.HTTP.StreamHeartbeat,
				SoundMinInterval: cfg.Notifications.SoundMinInterval,
			}, logg))
			r.Post("/clear", controllers.ClearNotifications(params.LiveOps, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(params.LiveOps, logg))
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/sound", controllers.GetSoundPreference(params.LiveOps))
			r.Put("/sound", controllers.UpdateSoundPreference(params.LiveOps, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/{orderId}/advance", controllers.AdvanceOrder(params.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(params.Orders, logg))
		})
	})

	return r
}
