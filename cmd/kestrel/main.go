// Kestrel - Claim decisions in minutes, not weeks.
// Copyright (c) 2026 opensource.insurance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-insurance/kestrel/internal/api"
	"github.com/opensource-insurance/kestrel/internal/bus"
	"github.com/opensource-insurance/kestrel/internal/cache"
	"github.com/opensource-insurance/kestrel/internal/domain"
	"github.com/opensource-insurance/kestrel/internal/engine"
	"github.com/opensource-insurance/kestrel/internal/history"
	"github.com/opensource-insurance/kestrel/internal/repository"
	"github.com/opensource-insurance/kestrel/internal/rules"
	"github.com/opensource-insurance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Invalid engine settings are fatal. The engine never starts with
	// thresholds or weights it cannot honor.
	if err := cfg.Engine.Validate(); err != nil {
		slog.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"workers", cfg.Workers,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl)
	slog.Info("history service initialized")

	// Initialize Check Engine with prior-claims getter
	checks, err := rules.NewEngine(historySvc.GetHistoryGetter(), 100)
	if err != nil {
		slog.Error("failed to initialize check engine", "error", err)
		os.Exit(1)
	}
	defer checks.Close()

	// Load custom checks from database; built-ins are always present
	if err := loadChecksFromDatabase(ctx, repo, checks); err != nil {
		slog.Error("failed to load checks", "error", err)
		os.Exit(1)
	}
	slog.Info("check engine initialized", "checks_count", checks.ChecksCount())

	tenantIDs := []string{}
	if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
		tenantIDs = strings.Split(envTenants, ",")
	}

	// Initialize async Worker. Off by default: REST callers get their
	// decision in the response either way, and a second consumer would
	// double-decide every submitted claim.
	var asyncWorker *worker.Worker
	if os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, engine.NewPipeline(checks), cfg.Engine)

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Log claims routed to manual review so operators see the queue grow
	// without polling GET /review.
	reviewSubs := watchReviewQueue(ctx, busImpl, tenantIDs)

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.Engine, repo, cacheImpl, busImpl, checks, historySvc, cfg.Workers, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	for _, sub := range reviewSubs {
		_ = sub.Unsubscribe()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig layers the runtime configuration: baked-in defaults, then
// the YAML file named by KESTREL_CONFIG, then KESTREL_* environment
// overrides.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_MODE") == "distributed" {
		cfg = domain.DistributedConfig()
	}

	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv applies environment overrides on top of file configuration.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_CACHE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_BUS"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
}

// initLogger installs the process-wide structured logger.
func initLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadChecksFromDatabase warms the engine with stored custom checks. An
// unreachable table is not fatal; custom checks can be reloaded later via
// POST /checks/reload.
func loadChecksFromDatabase(ctx context.Context, repo domain.Repository, checks *rules.Engine) error {
	configs, err := repo.ListCheckConfigs(ctx, domain.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list checks from database", "error", err)
		return nil
	}

	if len(configs) > 0 {
		slog.Info("loading checks from database", "count", len(configs))
		return checks.LoadChecks(configs)
	}

	slog.Info("no custom checks in database - configure via POST /checks API")
	return nil
}

// watchReviewQueue subscribes to claim.review for each configured tenant
// and logs every routing. With no tenants configured it subscribes under
// the same catch-all ID the async worker uses.
func watchReviewQueue(ctx context.Context, b domain.EventBus, tenantIDs []string) []domain.Subscription {
	if len(tenantIDs) == 0 {
		tenantIDs = []string{"_global"}
	}

	subs := make([]domain.Subscription, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		sub, err := b.Subscribe(ctx, tenantID, domain.TopicClaimReview, logReviewEvent)
		if err != nil {
			slog.Warn("failed to subscribe to review events", "tenant_id", tenantID, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs
}

// logReviewEvent records one manual-review routing.
func logReviewEvent(_ context.Context, msg *domain.Message) error {
	var event struct {
		ClaimID     string  `json:"claimId"`
		ClaimNumber string  `json:"claimNumber"`
		Score       float64 `json:"score"`
	}
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil
	}
	slog.Info("claim queued for manual review",
		"tenant_id", msg.TenantID,
		"claim_id", event.ClaimID,
		"claim_number", event.ClaimNumber,
		"score", event.Score,
	)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║         Claim Decision Engine             ║")
	fmt.Println("  ║      Every claim, a clear answer.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate               - Evaluate a claim inline")
	fmt.Println("    POST /evaluate/batch         - Evaluate a batch of claims")
	fmt.Println("    POST /claims                 - Submit a claim")
	fmt.Println("    POST /claims/{id}/evaluate   - Evaluate a stored claim")
	fmt.Println("    GET  /claims/{id}/decision   - Latest decision")
	fmt.Println("    GET  /claims/{id}/letter     - Decision letter")
	fmt.Println("    GET  /review                 - Manual review queue")
	fmt.Println("    POST /claims/{id}/review     - Resolve a manual review")
	fmt.Println("    GET  /checks                 - List custom checks")
	fmt.Println("    POST /checks                 - Create a custom check")
	fmt.Println("    POST /checks/reload          - Hot-reload checks")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
