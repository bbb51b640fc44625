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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	shttp "github.com/sentinelguard/sentinel/internal/adapter/http"
	"github.com/sentinelguard/sentinel/internal/adapter/judgehttp"
	snats "github.com/sentinelguard/sentinel/internal/adapter/nats"
	"github.com/sentinelguard/sentinel/internal/adapter/postgres"
	"github.com/sentinelguard/sentinel/internal/adapter/ristretto"
	"github.com/sentinelguard/sentinel/internal/adapter/ws"
	"github.com/sentinelguard/sentinel/internal/config"
	"github.com/sentinelguard/sentinel/internal/logger"
	"github.com/sentinelguard/sentinel/internal/middleware"
	"github.com/sentinelguard/sentinel/internal/port/judge"
	"github.com/sentinelguard/sentinel/internal/resilience"
	"github.com/sentinelguard/sentinel/internal/service"
	"github.com/sentinelguard/sentinel/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"judges", len(cfg.Judges.Endpoints),
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Logging.Service, version, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bus, err := snats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = bus.Close() }()

	policyCache, err := ristretto.New(cfg.Cache.PolicyMaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer policyCache.Close()

	// --- Judges ---

	judges := make([]judge.Judge, 0, len(cfg.Judges.Endpoints))
	for _, ep := range cfg.Judges.Endpoints {
		client := judgehttp.NewClient(ep, cfg.Judges.MaxTokens)
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		judges = append(judges, client)
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool, cfg.Guardian.IncidentCap)
	consensus := service.NewConsensus(judges, cfg.Judges.Timeout, metrics, log)
	guardian := service.NewGuardian(store, policyCache, bus, consensus, hub, metrics,
		cfg.Guardian, cfg.Cache.PolicyTTL, log)

	// --- HTTP ---

	handlers := &shttp.Handlers{Guardian: guardian}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(shttp.CORS(cfg.Server.CORSOrigin))
	r.Use(shttp.SecurityHeaders)
	r.Use(shttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(limiter.Handler)

	shttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "sentinel-api"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
