package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/k1s0-platform/system-server-go-incident-bff/internal/config"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/handler"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/metrics"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/oauth"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/proxy"
	"github.com/k1s0-platform/system-server-go-incident-bff/internal/servicenow"
)

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envConfigPath string

	cmd := &cobra.Command{
		Use:          "incident-bff",
		Short:        "Backend-for-frontend for ServiceNow incidents",
		Long:         "incident-bff signs browsers in to a ServiceNow instance with OAuth2 PKCE,\nkeeps their tokens server-side and proxies the incident table API.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, envConfigPath)
		},
	}
	cmd.SetVersionTemplate(`{{printf "incident-bff version %s\n" .Version}}`)

	cmd.Flags().StringVar(&configPath, "config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the base config file")
	cmd.Flags().StringVar(&envConfigPath, "env-config", os.Getenv("ENV_CONFIG_PATH"), "path to an environment overlay merged over the base config")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, configPath, envConfigPath string) error {
	cfg, err := config.Load(configPath, envConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.MergeEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Observability.Log)

	store, closeStore, err := newSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authClient := oauth.NewClient(oauth.Config{
		InstanceURL:   cfg.Auth.InstanceURL,
		AuthorizePath: cfg.Auth.AuthorizePath,
		TokenPath:     cfg.Auth.TokenPath,
		DiscoveryURL:  cfg.Auth.DiscoveryURL,
		ClientID:      cfg.Auth.ClientID,
		ClientSecret:  cfg.Auth.ClientSecret,
		RedirectURI:   cfg.Auth.RedirectURI,
		Scopes:        cfg.Auth.Scopes,
		HTTPTimeout:   config.ParseDuration(cfg.Auth.HTTPTimeout, oauth.DefaultHTTPTimeout),
	})
	if cfg.Auth.DiscoveryURL != "" {
		// Retried lazily on the first login when the issuer is not up yet.
		if err := authClient.Discover(ctx); err != nil {
			logger.Warn("OIDC discovery failed at startup", slog.String("error", err.Error()))
		}
	}

	if cfg.Observability.Trace.Enabled {
		tp, err := initTracerProvider(ctx, cfg.App, cfg.Observability.Trace)
		if err != nil {
			logger.Warn("Failed to initialize OTel tracer provider", slog.String("error", err.Error()))
		} else {
			defer func() {
				_ = tp.Shutdown(context.Background())
			}()
		}
	}

	m := metrics.New(cfg.App.Name)

	sn := servicenow.NewClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.Table,
		config.ParseDuration(cfg.Upstream.Timeout, servicenow.DefaultTimeout),
		servicenow.WithObserver(m),
	)
	refresher := proxy.NewRefresher(store, authClient, logger,
		proxy.WithDropOnFailure(cfg.Session.DropOnRefreshFailure),
		proxy.WithRefreshObserver(m),
	)
	gateway := proxy.NewGateway(store, sn, refresher, logger)

	router := newRouter(cfg, routerDeps{
		logger:    logger,
		store:     store,
		metrics:   m,
		health:    handler.NewHealthHandler(store),
		auth:      handler.NewAuthHandler(authClient, store, authOptions(cfg), logger),
		incidents: handler.NewIncidentHandler(gateway, logger),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout: config.ParseDuration(cfg.Server.WriteTimeout, 60*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("incident BFF starting",
			slog.String("addr", addr),
			slog.String("environment", cfg.App.Environment),
			slog.String("session_backend", cfg.Session.Backend),
			slog.String("client_id", authClient.ClientID()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownTimeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("incident BFF stopped")
	return nil
}

func authOptions(cfg *config.BFFConfig) handler.AuthOptions {
	return handler.AuthOptions{
		SessionTTL:   config.ParseDuration(cfg.Session.TTL, 8*time.Hour),
		FrontendURL:  cfg.Frontend.URL,
		SecureCookie: cfg.App.Environment != "dev",
		CSRF:         cfg.CSRF.Enabled,
	}
}
