package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/keyfold/keyfold/pkg/access"
	"github.com/keyfold/keyfold/pkg/api"
	"github.com/keyfold/keyfold/pkg/billing"
	"github.com/keyfold/keyfold/pkg/config"
	"github.com/keyfold/keyfold/pkg/directory"
	"github.com/keyfold/keyfold/pkg/httputil"
	"github.com/keyfold/keyfold/pkg/licensing"
	"github.com/keyfold/keyfold/pkg/middleware"
	"github.com/keyfold/keyfold/pkg/notify"
	"github.com/keyfold/keyfold/pkg/observability"
	"github.com/keyfold/keyfold/pkg/orgs"
	"github.com/keyfold/keyfold/pkg/quotas"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keyfold: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting keyfold")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := directory.Migrate(ctx, db); err != nil {
		return fmt.Errorf("directory migrations: %w", err)
	}
	if cfg.App.Hosted() {
		if err := billing.Migrate(ctx, db); err != nil {
			return fmt.Errorf("billing migrations: %w", err)
		}
	}

	redisClient, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store := directory.NewPostgres(db)
	checker := access.NewChecker(db, redisClient, cfg.Redis.CacheTTL)
	quota := quotas.NewService(db)

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	notifier := notify.NewService(mailer, store, notify.Config{
		BaseURL:     cfg.App.BaseURL,
		SendTimeout: cfg.App.SideEffectTimeout,
	})
	defer notifier.Shutdown(cfg.Server.ShutdownTimeout)

	var billingSync orgs.BillingSync
	if cfg.App.Hosted() {
		provider := billing.NewHTTPProvider(cfg.App.BillingAPIURL, cfg.App.BillingAPIKey)
		billingSync = billing.NewService(db, provider)
	}

	svc := orgs.NewService(store, checker, quota, notifier,
		billingSync, licensing.NewClient(cfg.App.LicenseServerURL),
		orgs.Config{
			Hosted:            cfg.App.Hosted(),
			LicenseKey:        cfg.App.LicenseKey,
			SideEffectTimeout: cfg.App.SideEffectTimeout,
		})

	apiHandler := buildAPIHandler(cfg, svc, store, redisClient, logger, metrics)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      healthRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	cleanup := startInviteCleanup(cfg.App.InviteCleanupSchedule, store, metrics, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if cleanup != nil {
			<-cleanup.Stop().Done()
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown")
		}
		if tp != nil {
			if err := observability.ShutdownTracing(shutdownCtx, tp, logger); err != nil {
				logger.WithError(err).Warn("tracer shutdown")
			}
		}
		return nil
	})

	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// openRedis returns nil when no Redis URL is configured; permission
// decisions are then uncached and rate limiting is disabled.
func openRedis(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) (*redis.Client, error) {
	if cfg.URL == "" {
		logger.Info("redis not configured, caching and rate limiting disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable at startup, continuing without it")
	}
	return client, nil
}

func buildAPIHandler(cfg *config.Config, svc *orgs.Service, store *directory.Postgres, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) http.Handler {
	router := mux.NewRouter()
	api.RegisterRoutes(router, api.NewHandlers(svc, metrics))

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(1 << 20),
		middleware.NewAuth(store).Handler,
	}
	// The limiter runs after authentication so it keys on the caller, not
	// the client address.
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.App.RateLimitPerMinute,
			WindowDuration:    time.Minute,
		}, "ratelimit")
		chain = append(chain, limiter.Handler)
	}

	handler := httputil.Chain(chain...)(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "keyfold.api")
	}
	return handler
}

func startInviteCleanup(schedule string, store *directory.Postgres, metrics *observability.Metrics, logger *observability.Logger) *cron.Cron {
	if schedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		removed, err := store.DeleteExpiredInvites(ctx)
		if err != nil {
			logger.WithError(err).Warn("expired invite cleanup failed")
			return
		}
		if removed > 0 {
			metrics.InvitesExpiredTotal.Add(float64(removed))
			logger.WithField("removed", removed).Info("expired invites removed")
		}
	})
	if err != nil {
		logger.WithError(err).Warnf("invalid invite cleanup schedule %q, cleanup disabled", schedule)
		return nil
	}
	c.Start()
	return c
}
