// Package api wires together all HTTP routes for the orgstore service.
//
// Route grouping:
//   - /org/create, /org/get and /admin/login are public. Login sits behind a
//     stricter per-IP rate limit than the rest of the API.
//   - /org/update and /org/delete require a bearer token whose admin manages
//     the organization named in the query string.
//   - /health, /ready and /version are unauthenticated probes.
//
// Prometheus metrics are not served here; cmd/server runs them on a separate port.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orgstore/orgstore/internal/api/admin"
	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/jobs"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/storage"
	"github.com/orgstore/orgstore/internal/telemetry"
)

// Version is reported by /version. cmd/server overrides it at link time.
var Version = "0.1.0"

// registryStatsInterval is how often the registry size gauge is sampled.
const registryStatsInterval = 30 * time.Second

// Dependencies are the resources NewRouter wires into handlers. Stores and
// Tokens are required; the rest are optional.
type Dependencies struct {
	Stores services.Stores
	Tokens *auth.TokenService
	// Ping checks store connectivity for /health and /ready.
	Ping func(ctx context.Context) error
	// Archive is the partition archive backend, nil when archiving is disabled.
	Archive storage.Storage
	Auditor audit.Shipper
	// Redis switches the rate limiters to the shared GCRA limiter.
	Redis *redis.Client
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	reconciler   *jobs.Reconciler
	rateLimiters []middleware.Limiter
	stopStats    context.CancelFunc
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.reconciler != nil {
		bg.reconciler.Stop()
	}
	if bg.stopStats != nil {
		bg.stopStats()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	auditor := deps.Auditor
	if auditor == nil {
		auditor = audit.Discard
	}

	partitions := services.NewPartitionManager(deps.Stores.Partitions, cfg.Database.CopyBatchSize)
	var archiver services.PartitionArchiver
	if deps.Archive != nil {
		archiver = services.NewArchiver(partitions, deps.Archive, cfg.Archive.Backend, cfg.Archive.Prefix, auditor)
		slog.Info("partition archiving enabled", "backend", cfg.Archive.Backend, "prefix", cfg.Archive.Prefix)
	}
	lifecycle := services.NewLifecycleService(deps.Stores, partitions, archiver)
	authService := services.NewAuthService(deps.Stores, deps.Tokens)

	bg := &BackgroundServices{}

	if cfg.Reconcile.Enabled {
		bg.reconciler = jobs.NewReconciler(deps.Stores, partitions, archiver, auditor, &cfg.Reconcile)
		bg.reconciler.Start(context.Background())
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Metrics.Enabled {
		statsCtx, cancel := context.WithCancel(context.Background())
		telemetry.StartRegistryStatsCollector(statsCtx, deps.Stores.Organizations, registryStatsInterval)
		bg.stopStats = cancel
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/", rootHandler(cfg))
	router.GET("/health", healthCheckHandler(deps.Ping))
	router.GET("/ready", readinessHandler(deps.Ping, deps.Archive))
	router.GET("/version", versionHandler())

	orgHandlers := admin.NewOrganizationHandlers(lifecycle)
	authHandlers := admin.NewAuthHandlers(authService)

	generalLimit, loginLimit := rateLimitConfigs(cfg)
	var generalLimiter, loginLimiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		generalLimiter = newLimiter(deps.Redis, "orgstore:rl:api", generalLimit)
		loginLimiter = newLimiter(deps.Redis, "orgstore:rl:login", loginLimit)
		bg.rateLimiters = []middleware.Limiter{generalLimiter, loginLimiter}
	}

	auditMW := middleware.AuditMiddleware(auditor, &cfg.Audit)

	orgGroup := router.Group("/org")
	if generalLimiter != nil {
		orgGroup.Use(middleware.RateLimitMiddleware(generalLimiter))
	}
	{
		orgGroup.POST("/create", auditMW, orgHandlers.CreateOrganizationHandler())
		orgGroup.GET("/get", orgHandlers.GetOrganizationHandler())

		authenticated := orgGroup.Group("")
		authenticated.Use(middleware.AuthMiddleware(authService))
		{
			authenticated.PUT("/update",
				middleware.RequireOrganization("current_name", "new_name"),
				auditMW,
				orgHandlers.UpdateOrganizationHandler(),
			)
			authenticated.DELETE("/delete",
				middleware.RequireOrganization("org_name"),
				auditMW,
				orgHandlers.DeleteOrganizationHandler(),
			)
		}
	}

	adminGroup := router.Group("/admin")
	if loginLimiter != nil {
		adminGroup.Use(middleware.RateLimitMiddleware(loginLimiter))
	}
	adminGroup.POST("/login", auditMW, authHandlers.LoginHandler())

	return router, bg
}

// rateLimitConfigs applies the configured limits over the built-in defaults.
func rateLimitConfigs(cfg *config.Config) (general, login middleware.RateLimitConfig) {
	rl := cfg.Security.RateLimiting
	general = middleware.DefaultRateLimitConfig()
	if rl.RequestsPerMinute > 0 {
		general.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.Burst > 0 {
		general.BurstSize = rl.Burst
	}
	login = middleware.LoginRateLimitConfig()
	if rl.LoginRequestsPerMinute > 0 {
		login.RequestsPerMinute = rl.LoginRequestsPerMinute
	}
	if rl.LoginBurst > 0 {
		login.BurstSize = rl.LoginBurst
	}
	return general, login
}

func newLimiter(client *redis.Client, prefix string, cfg middleware.RateLimitConfig) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisRateLimiter(client, prefix, cfg)
	}
	return middleware.NewRateLimiter(cfg)
}

// rootHandler answers the bare service URL so load balancers have something to hit.
func rootHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": cfg.Server.ServiceName,
		})
	}
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			if err := ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  "database connection failed",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service.
// Unlike the liveness probe (/health), this also checks the archive backend
// when one is configured, so that a readiness gate fails when deletes would.
func readinessHandler(ping func(context.Context) error, archive storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if ping != nil {
			if err := ping(c.Request.Context()); err != nil {
				checks["database"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "database not ready",
				})
				return
			}
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Exists on a sentinel path exercises credentials and connectivity
			// without creating any state.
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

// logRequest emits one slog record per request. The output format follows the
// global handler configured by telemetry.SetupLogger.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.LogAttrs(
		c.Request.Context(),
		level,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", middleware.GetRequestID(c)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
