// Kestrel - Geographic intervention planning engine.
// Copyright (c) 2025 opensource.health
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-health/kestrel/internal/api"
	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/districts"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/metric"
	"github.com/opensource-health/kestrel/internal/repository"
	"github.com/opensource-health/kestrel/internal/rules"
	"github.com/opensource-health/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("KESTREL_METRIC_SOURCE"); v != "" {
		cfg.Sources.MetricBaseURL = v
	}
	if v := os.Getenv("KESTREL_CATALOG_URL"); v != "" {
		cfg.Sources.CatalogURL = v
	}
	if v := os.Getenv("KESTREL_DEFAULT_POLICY"); v != "" {
		policy := domain.Policy(v)
		if !policy.Valid() {
			slog.Error("unknown default policy", "policy", v)
			os.Exit(1)
		}
		cfg.DefaultPolicy = policy
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"default_policy", cfg.DefaultPolicy,
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

	// Initialize Expression Engine
	exprs, err := rules.NewExpressions()
	if err != nil {
		slog.Error("failed to initialize expression engine", "error", err)
		os.Exit(1)
	}
	defer exprs.Close()
	slog.Info("expression engine initialized")

	// Initialize Resolver and district table
	resolver := rules.NewResolver(exprs)
	store := districts.NewStore()

	// Initialize data loaders
	fetchTimeout := time.Duration(cfg.Sources.FetchTimeout) * time.Second
	metrics := metric.NewLoader(cfg.Sources.MetricBaseURL, fetchTimeout, cacheImpl, repo)
	catalogs := catalog.NewLoader(cfg.Sources.CatalogURL, fetchTimeout, cacheImpl)
	slog.Info("data loaders initialized",
		"metric_source", cfg.Sources.MetricBaseURL,
		"catalog_url", cfg.Sources.CatalogURL,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, resolver, exprs, store, metrics, catalogs)

		workspaceIDs := []string{}
		if envWorkspaces := os.Getenv("KESTREL_WORKSPACES"); envWorkspaces != "" {
			for _, id := range strings.Split(envWorkspaces, ",") {
				if id = strings.TrimSpace(id); id != "" {
					workspaceIDs = append(workspaceIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			WorkspaceIDs:  workspaceIDs,
			DefaultPolicy: cfg.DefaultPolicy,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "workspace_count", len(workspaceIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, resolver, exprs, store, metrics, catalogs, Version, cfg.DefaultPolicy)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║   Intervention Planning Engine            ║")
	fmt.Println("  ║   Every district, the right mix.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    PUT  /districts                 - Load the district table")
	fmt.Println("    GET  /districts                 - List districts with assignments")
	fmt.Println("    GET  /districts/{id}/rule-color - Probe the last matching rule color")
	fmt.Println("    GET  /rules                     - List the plan")
	fmt.Println("    POST /rules                     - Create a rule")
	fmt.Println("    PUT  /rules/{id}                - Edit a rule in place")
	fmt.Println("    POST /rules/reorder             - Reorder the plan")
	fmt.Println("    POST /rules/reload              - Hot-reload expression rules")
	fmt.Println("    POST /rules/{id}/exceptions     - Exclude districts from a rule")
	fmt.Println("    POST /exceptions                - Batch exception changes")
	fmt.Println("    POST /resolve                   - Run a resolution pass")
	fmt.Println("    GET  /resolutions/latest        - Latest resolution snapshot")
	fmt.Println("    GET  /export/csv                - Export the district table")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
