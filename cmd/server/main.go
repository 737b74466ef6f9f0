// @title           orgstore API
// @version         0.1.0
// @description     Multi-tenant organization registry. Each organization owns an isolated data partition in a shared document store.
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Admin token from POST /admin/login: 'Bearer {token}'"
//
// @tag.name         Organizations
// @tag.description  Create, look up, rename and delete organizations.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated side-channel ports, not by the Gin router. Configure them with ORGSTORE_TELEMETRY_METRICS_PROMETHEUS_PORT and ORGSTORE_TELEMETRY_PROFILING_PORT.

// Package main is the entry point for the orgstore server binary.
// It dispatches four subcommands (serve, init-db, reconcile and version) via
// a switch on os.Args so the binary's full CLI surface is readable in one place.
// serve creates the registry indexes on startup, so a fresh deployment never
// needs a separate init step.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is only served on the dedicated profiling port, never by the Gin router.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orgstore/orgstore/internal/api"
	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/jobs"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/storage"
	"github.com/orgstore/orgstore/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/orgstore/orgstore/internal/storage/azure"
	_ "github.com/orgstore/orgstore/internal/storage/gcs"
	_ "github.com/orgstore/orgstore/internal/storage/local"
	_ "github.com/orgstore/orgstore/internal/storage/s3"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "0.1.0"

const usage = `usage: orgstore-server [command]

Commands:
  serve               run the HTTP API (default)
  init-db             create the registry indexes and exit
  reconcile [--force] run one reconciler pass and print the report
  version             print the version`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	if command == "version" {
		fmt.Printf("orgstore v%s\n", version)
		return nil
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Println(usage)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "init-db":
		return initDB(cfg)
	case "reconcile":
		return reconcile(cfg, args)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	api.Version = version

	secret, err := auth.ResolveSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	tokens := auth.NewTokenService(secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStart()

	backend, err := openBackend(startCtx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.EnsureIndexes(startCtx); err != nil {
		return err
	}
	slog.Info("registry indexes ensured", "backend", cfg.Database.Backend)

	auditor, err := audit.New(&cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	defer auditor.Close()

	deps := api.Dependencies{
		Stores:  backend.Stores,
		Tokens:  tokens,
		Ping:    backend.Ping,
		Auditor: auditor,
	}

	if cfg.Archive.Enabled {
		archive, err := storage.NewStorage(&cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		deps.Archive = archive
	}

	if cfg.Security.RateLimiting.Enabled && cfg.Security.RateLimiting.RedisURL != "" {
		client, err := middleware.NewRedisClient(startCtx, cfg.Security.RateLimiting.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to rate limit store: %w", err)
		}
		defer client.Close()
		deps.Redis = client
		slog.Info("using shared rate limits")
	}

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}
	if cfg.Telemetry.Profiling.Enabled {
		startProfilingServer(cfg.Telemetry.Profiling.Port)
	}

	router, bgServices := api.NewRouter(cfg, deps)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"database_backend", cfg.Database.Backend,
			"archive_enabled", cfg.Archive.Enabled,
			"reconcile_enabled", cfg.Reconcile.Enabled,
		)

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert_file", cfg.Security.TLS.CertFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop the reconciler and rate limiter goroutines
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves Prometheus metrics on a dedicated port so the
// scrape path is not reachable through the public API ingress.
func startMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func startProfilingServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		slog.Info("starting pprof server", "addr", addr)
		// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
		srv := &http.Server{ //nolint:gosec // #nosec G112 -- internal-only pprof port
			Addr:         addr,
			Handler:      http.DefaultServeMux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("pprof server error", "error", err)
		}
	}()
}

func initDB(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := backend.EnsureIndexes(ctx); err != nil {
		return err
	}
	slog.Info("registry indexes ensured", "backend", cfg.Database.Backend, "database", cfg.Database.Name)
	return nil
}

func reconcile(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	force := fs.Bool("force", false, "remove orphans without waiting for the grace period")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	auditor, err := audit.New(&cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit shippers: %w", err)
	}
	defer auditor.Close()

	partitions := services.NewPartitionManager(backend.Stores.Partitions, cfg.Database.CopyBatchSize)
	var archiver services.PartitionArchiver
	if cfg.Archive.Enabled {
		archive, err := storage.NewStorage(&cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		archiver = services.NewArchiver(partitions, archive, cfg.Archive.Backend, cfg.Archive.Prefix, auditor)
	}

	rec := jobs.NewReconciler(backend.Stores, partitions, archiver, auditor, &cfg.Reconcile)
	report, err := rec.RunOnce(ctx, *force)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	if !*force && report.PendingOrphans > 0 {
		slog.Info("orphans inside the grace period were left alone; a one-shot run never removes them without --force",
			"pending", report.PendingOrphans)
	}
	return nil
}
