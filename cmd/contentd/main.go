package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cchttp "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/http"
	ccnats "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/nats"
	ccotel "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/otel"
	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/postgres"
	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/ristretto"
	"github.com/msingatullin/ccontentcloud-sub000/internal/adapter/ws"
	"github.com/msingatullin/ccontentcloud-sub000/internal/config"
	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/account"
	"github.com/msingatullin/ccontentcloud-sub000/internal/logger"
	"github.com/msingatullin/ccontentcloud-sub000/internal/resilience"
	"github.com/msingatullin/ccontentcloud-sub000/internal/service"

	// Capability handlers and platform publishers register themselves.
	_ "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/creator"
	_ "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/imagegen"
	_ "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/instagram"
	_ "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/publish"
	_ "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/telegram"
	_ "github.com/msingatullin/ccontentcloud-sub000/internal/adapter/twitter"
)

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

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"post_interval", cfg.Scheduler.PostInterval.String(),
		"rule_interval", cfg.Scheduler.RuleInterval.String(),
	)

	ctx := context.Background()

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

	queue, err := ccnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	subsCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer subsCache.Close()

	shutdownMetrics, err := ccotel.InitMeter(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	metrics, err := ccotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	agentConfig := map[string]string{
		"llm_url":        cfg.LLMProxy.URL,
		"llm_master_key": cfg.LLMProxy.MasterKey,
		"text_model":     cfg.LLMProxy.TextModel,
	}
	pubConfig := cfg.Platforms.Map()

	orchestrators := service.NewOrchestratorRegistry(
		store, subsCache, queue, hub, metrics,
		&cfg.Orchestrator, cfg.Cache.SubscriptionTTL, agentConfig)
	orchestrators.StartSweep(ctx)
	defer orchestrators.StopSweep()

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	tokenKey := account.DeriveKey(cfg.Secrets.TokenKey)

	postSched := service.NewPostScheduler(store, queue, hub, metrics, breaker, &cfg.Scheduler, pubConfig, tokenKey)
	postSched.Start(ctx)
	defer postSched.Stop()

	ruleSched := service.NewRuleScheduler(store, orchestrators, queue, hub, metrics, &cfg.Scheduler)
	ruleSched.Start(ctx)
	defer ruleSched.Stop()

	// --- HTTP ---

	handlers := cchttp.NewHandlers(store, orchestrators, hub)

	r := chi.NewRouter()
	r.Use(cchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cchttp.SecurityHeaders)
	r.Use(cchttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	cchttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

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
