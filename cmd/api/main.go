package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/restaurant-liveops/api/controllers"
	"github.com/angelmondragon/restaurant-liveops/api/routes"
	"github.com/angelmondragon/restaurant-liveops/internal/alerts"
	"github.com/angelmondragon/restaurant-liveops/internal/changefeed"
	"github.com/angelmondragon/restaurant-liveops/internal/fanout"
	"github.com/angelmondragon/restaurant-liveops/internal/notifications"
	"github.com/angelmondragon/restaurant-liveops/internal/orders"
	"github.com/angelmondragon/restaurant-liveops/internal/pipeline"
	"github.com/angelmondragon/restaurant-liveops/pkg/config"
	"github.com/angelmondragon/restaurant-liveops/pkg/db"
	"github.com/angelmondragon/restaurant-liveops/pkg/instance"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
	"github.com/angelmondragon/restaurant-liveops/pkg/migrate"
	"github.com/angelmondragon/restaurant-liveops/pkg/pubsub"
	"github.com/angelmondragon/restaurant-liveops/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	source, closeSource, err := newChangeSource(ctx, cfg, logg, dbClient, pipelineMetrics)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeSource())
	}()

	store := notifications.NewStore(notifications.StoreOptions{
		Capacity: cfg.Notifications.Capacity,
		SeenIDs:  cfg.Notifications.SeenIDs,
		Metrics:  pipelineMetrics,
	})
	hub := fanout.NewHub(fanout.Options{
		QueueSize:       cfg.Fanout.QueueSize,
		DeliveryTimeout: cfg.Fanout.DeliveryTimeout,
		Logger:          logg,
		Metrics:         pipelineMetrics,
	})
	defer hub.Close()

	prefs, err := alerts.NewPreferences(alerts.PreferencesParams{
		Store:        redisClient,
		Logger:       logg,
		DefaultSound: cfg.Notifications.SoundDefault,
		TTL:          cfg.Notifications.SoundPreferenceTTL,
	})
	if err != nil {
		return err
	}

	live, err := pipeline.New(pipeline.Params{
		Source:            source,
		Store:             store,
		Hub:               hub,
		Preferences:       prefs,
		Logger:            logg,
		Metrics:           pipelineMetrics,
		BufferSize:        cfg.ChangeFeed.BufferSize,
		ReconnectMinDelay: cfg.ChangeFeed.ReconnectMinDelay,
		ReconnectMaxDelay: cfg.ChangeFeed.ReconnectMaxDelay,
		StableAfter:       cfg.ChangeFeed.StableAfter,
	})
	if err != nil {
		return err
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(dbClient.DB()),
		Logger:     logg,
		Metrics:    pipelineMetrics,
	})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"driver":   cfg.ChangeFeed.Driver,
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:  cfg,
			Logger:  logg,
			LiveOps: live,
			Orders:  orderService,
			Streams: live,
			Checks: []controllers.ReadinessCheck{
				{Name: "database", Pinger: dbClient},
				{Name: "redis", Pinger: redisClient},
				{Name: "changefeed", Pinger: source},
			},
			Gatherer: registry,
		}),
	}

	pipelineCtx, stopPipeline := context.WithCancel(ctx)
	defer stopPipeline()
	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- live.Run(pipelineCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
	case serveErr := <-serverErr:
		err = multierr.Append(err, serveErr)
	case runErr := <-pipelineDone:
		pipelineDone <- runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err = multierr.Append(err, server.Shutdown(shutdownCtx))
	stopPipeline()
	err = multierr.Append(err, <-pipelineDone)
	logg.Info(shutdownCtx, "api server stopped")
	return err
}

// newChangeSource picks the change feed driver and returns a closer for any
// client it opened.
func newChangeSource(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, m *metrics.PipelineMetrics) (changefeed.Source, func() error, error) {
	noop := func() error { return nil }
	if !cfg.ChangeFeed.UsesPubSub() {
		source, err := changefeed.NewPostgresSource(changefeed.PostgresSourceParams{
			DB:           dbClient,
			Logger:       logg,
			PollInterval: cfg.ChangeFeed.PollInterval,
			BatchSize:    cfg.ChangeFeed.PollBatchSize,
			Lookback:     cfg.ChangeFeed.PollLookback,
		})
		return source, noop, err
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleConsumer, logg)
	if err != nil {
		return nil, noop, err
	}
	source, err := changefeed.NewPubSubSource(client, logg, m)
	if err != nil {
		return nil, noop, multierr.Append(err, client.Close())
	}
	return source, client.Close, nil
}
