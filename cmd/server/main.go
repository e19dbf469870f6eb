package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/application"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/configuration"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/httpapi"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/logging"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/metrics"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/middleware"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	var pool *pgxpool.Pool
	if conf.Approval.ImportQueue == "postgres" {
		connectCtx, cancel := context.WithTimeout(ctx, time.Second*5)
		p, err := pgxpool.New(connectCtx, conf.Database.Opts)
		cancel()
		if err != nil {
			panic(err)
		}
		pool = p
		defer pool.Close()
	}

	var redisClient *redis.Client
	if conf.Approval.Store == "redis" || conf.DHIS2.RateLimitStorage == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: conf.RedisURL})
		defer func() { _ = redisClient.Close() }()
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	app.RegisterMiddleware(
		middleware.CORS(conf.CORSAllowedOrigins),
		middleware.WithLogger(logger, middleware.LoggerOptions{
			RequestIDHeader: conf.RequestIDHeader,
		}),
	)

	module := approval.NewModule(&approval.ModuleOptions{Config: conf, Redis: redisClient})
	if err := module.Register(app); err != nil {
		log.Fatalf("failed to load approval module: %v", err)
	}
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	components := module.Components()
	if err := components.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to prepare import job table: %v", err)
	}
	components.RunWorkers(ctx, conf.Outbox.RelayEnabled, logger)

	srv := server.NewHTTPServer(app, httpapi.NotFoundHandler(), nil)
	log.Printf("Listening on: %s\n", conf.SocketAddress)
	if err := srv.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
