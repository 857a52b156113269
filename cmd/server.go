package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/config"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/handler"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/metrics"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/middleware"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/session"
)

const defaultJanitorInterval = time.Minute

type routerDeps struct {
	logger    *slog.Logger
	store     session.Store
	metrics   *metrics.Metrics
	health    *handler.HealthHandler
	auth      *handler.AuthHandler
	incidents *handler.IncidentHandler
}

func newRouter(cfg *config.BFFConfig, d routerDeps) *gin.Engine {
	if cfg.App.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware(d.metrics))
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(middleware.CorrelationMiddleware(d.logger))
	if cfg.Observability.Trace.Enabled {
		router.Use(otelgin.Middleware(cfg.App.Name))
		router.Use(middleware.OTelTraceIDMiddleware())
	}

	// Health / Metrics endpoints.
	router.GET("/healthz", d.health.Healthz)
	router.GET("/readyz", d.health.Readyz)
	if cfg.Observability.Metrics.Enabled {
		router.GET(cfg.Observability.Metrics.Path, gin.WrapH(d.metrics.Handler()))
	}

	sessions := middleware.SessionMiddleware(d.store, d.logger)

	auth := router.Group("/auth", sessions)
	auth.GET("/login", d.auth.Login)
	auth.GET("/callback", d.auth.Callback)
	auth.GET("/status", d.auth.Status)
	auth.GET("/logout", d.auth.Logout)
	auth.POST("/logout", d.auth.Logout)

	api := router.Group("/api", sessions)
	if cfg.CSRF.Enabled {
		api.Use(middleware.CSRFMiddleware(cfg.CSRF.HeaderName))
	}
	api.GET("/incidents", d.incidents.List)
	api.POST("/incidents", d.incidents.Create)
	api.PUT("/incidents/:sys_id", d.incidents.Update)
	api.DELETE("/incidents/:sys_id", d.incidents.Delete)

	return router
}

// newSessionStore builds the configured store. The returned func releases it.
func newSessionStore(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (session.Store, func(), error) {
	switch cfg.Backend {
	case "redis":
		var client redis.UniversalClient
		if cfg.Redis.MasterName != "" {
			client = redis.NewFailoverClient(&redis.FailoverOptions{
				MasterName:    cfg.Redis.MasterName,
				SentinelAddrs: []string{cfg.Redis.Addr},
				Password:      cfg.Redis.Password,
				DB:            cfg.Redis.DB,
			})
		} else {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable at startup", slog.String("error", err.Error()))
		}
		return session.NewRedisStore(client, cfg.Prefix), func() { _ = client.Close() }, nil

	case "memory", "":
		store := session.NewMemoryStore()
		janitorCtx, cancel := context.WithCancel(ctx)
		go store.RunJanitor(janitorCtx, config.ParseDuration(cfg.JanitorInterval, defaultJanitorInterval), logger)
		return store, cancel, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func initTracerProvider(ctx context.Context, app config.AppConfig, traceCfg config.TraceConfig) (*sdktrace.TracerProvider, error) {
	endpoint := traceCfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(app.Name),
			semconv.ServiceVersionKey.String(app.Version),
			semconv.DeploymentEnvironmentKey.String(app.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(traceCfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newLogger(logCfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch logCfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if logCfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
