package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/loan-decision/internal/account"
	"github.com/ZanzyTHEbar/loan-decision/internal/cache"
	"github.com/ZanzyTHEbar/loan-decision/internal/chat"
	"github.com/ZanzyTHEbar/loan-decision/internal/config"
	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	"github.com/ZanzyTHEbar/loan-decision/internal/decision"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/middleware"
	"github.com/ZanzyTHEbar/loan-decision/internal/monitoring"
	"github.com/ZanzyTHEbar/loan-decision/internal/prediction"
	"github.com/ZanzyTHEbar/loan-decision/internal/ratelimit"
	"github.com/ZanzyTHEbar/loan-decision/internal/resilience"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
)

const (
	serviceRedis        = "redis"
	historyWriteTimeout = 2 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := monitoring.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger.Logger)
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *database.DB
	err = resilience.RetryWithConfig(ctx, resilience.StartupRetryConfig(), func(ctx context.Context) error {
		var openErr error
		db, openErr = database.Open(ctx, database.Options{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		return openErr
	})
	if err != nil {
		return fmt.Errorf("database.Open: %w", err)
	}
	defer apperrors.SafeClose(db, "database")

	redisClient, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}
	defer apperrors.SafeClose(redisClient, "redis")

	metrics := monitoring.NewMetrics()

	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.Config{
		PerMinute: cfg.RateLimit.PerMinute,
		Burst:     cfg.RateLimit.Burst,
	}, metrics, logger.Logger)
	defer limiter.Close()

	health := resilience.NewDegradationManager(resilience.DefaultDegradationConfig(), logger.Logger)
	health.RegisterService(prediction.ServiceDatabase, db.PingContext)
	if redisClient.IsEnabled() {
		health.RegisterService(serviceRedis, redisClient.HealthCheck)
	}

	engine := decision.NewEngine(decision.NewArtifactStore(decision.Paths{
		Transformer: cfg.Artifacts.TransformerPath,
		Model:       cfg.Artifacts.ModelPath,
		Calibrator:  cfg.Artifacts.CalibratorPath,
		Explainer:   cfg.Artifacts.ExplainerPath,
	}, logger.Logger), logger.Logger)

	breaker := resilience.NewCircuitBreaker("prediction_history", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			metrics.RecordCircuitTransition(name, to.String())
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	repo := database.NewRepository(db)

	svc := prediction.NewService(prediction.Options{
		Engine:       engine,
		Store:        repo,
		Cache:        cache.NewPredictionCache(cfg.Cache.PredictionTTL, metrics),
		Breaker:      breaker,
		Metrics:      metrics,
		Health:       health,
		Logger:       logger.Logger,
		Events:       logger,
		WriteTimeout: historyWriteTimeout,
	})

	bundle := svc.Bundle()
	svc.PublishBundle(bundle)
	logArtifacts(logger, bundle)

	if cfg.Auth.UsesDevSecret() {
		logger.Warn("JWT_SECRET_KEY is not set, using the development default", "gin_mode", cfg.Server.GinMode)
	}

	secCfg := security.DefaultSecurityConfig()
	secCfg.AllowedOrigins = security.ParseOrigins(cfg.Server.FrontendURL)
	secCfg.RequestTimeout = cfg.Server.RequestTimeout

	tokens := security.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).WithRefreshTTL(cfg.Auth.RefreshTTL)

	accounts := account.NewService(account.Options{
		Store:  repo,
		Tokens: tokens,
		Logger: logger.Logger,
	})
	chatSvc := chat.NewService(chat.Options{
		Store:        repo,
		Logger:       logger.Logger,
		WriteTimeout: historyWriteTimeout,
	})

	srv := &server{
		service:     svc,
		accounts:    accounts,
		chat:        chatSvc,
		tokens:      tokens,
		security:    security.NewSecurityMiddleware(secCfg),
		limiter:     limiter,
		metrics:     metrics,
		logger:      logger,
		health:      health,
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		db:          db,
		serveMetric: cfg.Server.MetricsAddr == "",
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           setupRouter(srv),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "port", cfg.Server.Port, "mode", bundle.Mode())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		health.StartHealthChecks(gctx)
		return nil
	})

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return monitoring.NewMetricsServer(cfg.Server.MetricsAddr, metrics, logger).Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}

func logArtifacts(logger *monitoring.Logger, bundle *decision.ModelBundle) {
	for _, slot := range bundle.Slots {
		logger.ArtifactLogger(string(slot.Slot), slot.Path, slot.Kind, slot.Loaded, slot.Error)
	}
}
