// Package config loads and validates the orgstore configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ORGSTORE_ prefix (e.g.
// ORGSTORE_DATABASE_URI overrides database.uri in the YAML).
//
// The un-prefixed MONGO_URI, MASTER_DB, SECRET_KEY and TOKEN_EXPIRE_HOURS
// variables are honoured as fallbacks so existing deployment manifests keep working.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ServiceName  string        `mapstructure:"service_name"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the listen address in host:port form.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MaxCopyBatchSize caps database.copy_batch_size. A rename holds one batch in
// memory, and the driver's cursor batch size is an int32.
const MaxCopyBatchSize = 100000

// DatabaseConfig holds document store connection configuration
type DatabaseConfig struct {
	// Backend selects the registry/partition store: "mongo" or "memory".
	// The memory backend is intended for local development and tests only.
	Backend string `mapstructure:"backend"`
	URI     string `mapstructure:"uri"`
	// Name is the master database holding the registry and tenant partitions.
	Name string `mapstructure:"name"`

	ConnectRetries         int           `mapstructure:"connect_retries"`
	RetryBackoff           time.Duration `mapstructure:"retry_backoff"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`
	MaxPoolSize            uint64        `mapstructure:"max_pool_size"`

	// CopyBatchSize bounds how many documents are held in memory during a rename copy.
	CopyBatchSize int `mapstructure:"copy_batch_size"`
}

// AuthConfig holds token and credential configuration
type AuthConfig struct {
	// JWTSecret is the HS256 signing key. When empty, ORGSTORE_JWT_SECRET is consulted
	// and a random key is generated in dev mode.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// LoginRequestsPerMinute applies to POST /admin/login only.
	LoginRequestsPerMinute int `mapstructure:"login_requests_per_minute"`
	LoginBurst             int `mapstructure:"login_burst"`
	// RedisURL switches the limiters to a shared Redis-backed GCRA limiter so that
	// limits hold across replicas. Empty keeps the in-process token buckets.
	RedisURL string `mapstructure:"redis_url"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests determines if failed mutations (4xx/5xx) should be logged
	LogFailedRequests bool                 `mapstructure:"log_failed_requests"`
	Shippers          []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ArchiveConfig controls exporting a tenant partition to object storage before it is dropped.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	// Prefix is prepended to every object key, e.g. "archives/".
	Prefix string             `mapstructure:"prefix"`
	Azure  AzureStorageConfig `mapstructure:"azure"`
	S3     S3StorageConfig    `mapstructure:"s3"`
	GCS    GCSStorageConfig   `mapstructure:"gcs"`
	Local  LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is optional, for MinIO and other S3-compatible services
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "oidc", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// AuthMethod is one of "default", "service_account", "workload_identity"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// ReconcileConfig controls the background registry/partition reconciler.
type ReconcileConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// GracePeriod is how long an orphan must stay orphaned before it is removed.
	// It keeps the sweep from racing an in-flight create or rename.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.service_name",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.backend",
		"database.uri",
		"database.name",
		"database.connect_retries",
		"database.retry_backoff",
		"database.server_selection_timeout",
		"database.max_pool_size",
		"database.copy_batch_size",

		// Auth
		"auth.jwt_secret",
		"auth.token_ttl",
		"auth.issuer",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.login_requests_per_minute",
		"security.rate_limiting.login_burst",
		"security.rate_limiting.redis_url",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Audit
		"audit.enabled",
		"audit.log_failed_requests",

		// Archive
		"archive.enabled",
		"archive.backend",
		"archive.prefix",
		"archive.azure.account_name",
		"archive.azure.account_key",
		"archive.azure.container_name",
		"archive.s3.endpoint",
		"archive.s3.region",
		"archive.s3.bucket",
		"archive.s3.auth_method",
		"archive.s3.access_key_id",
		"archive.s3.secret_access_key",
		"archive.s3.role_arn",
		"archive.s3.role_session_name",
		"archive.s3.external_id",
		"archive.s3.web_identity_token_file",
		"archive.gcs.bucket",
		"archive.gcs.project_id",
		"archive.gcs.auth_method",
		"archive.gcs.credentials_file",
		"archive.gcs.credentials_json",
		"archive.gcs.endpoint",
		"archive.local.base_path",

		// Reconcile
		"reconcile.enabled",
		"reconcile.interval",
		"reconcile.grace_period",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/orgstore")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ORGSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyLegacyEnv(v, &cfg)

	// Expand environment variables in sensitive fields
	cfg.Database.URI = expandEnv(cfg.Database.URI)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Archive.Azure.AccountKey = expandEnv(cfg.Archive.Azure.AccountKey)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Security.RateLimiting.RedisURL = expandEnv(cfg.Security.RateLimiting.RedisURL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyLegacyEnv fills values from the un-prefixed variables when the prefixed
// key was not set explicitly by file or environment.
func applyLegacyEnv(v *viper.Viper, cfg *Config) {
	if s := os.Getenv("MONGO_URI"); s != "" && !v.InConfig("database.uri") && os.Getenv("ORGSTORE_DATABASE_URI") == "" {
		cfg.Database.URI = s
	}
	if s := os.Getenv("MASTER_DB"); s != "" && !v.InConfig("database.name") && os.Getenv("ORGSTORE_DATABASE_NAME") == "" {
		cfg.Database.Name = s
	}
	if s := os.Getenv("SECRET_KEY"); s != "" && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = s
	}
	if s := os.Getenv("TOKEN_EXPIRE_HOURS"); s != "" && !v.InConfig("auth.token_ttl") && os.Getenv("ORGSTORE_AUTH_TOKEN_TTL") == "" {
		if hours, err := strconv.Atoi(s); err == nil && hours > 0 {
			cfg.Auth.TokenTTL = time.Duration(hours) * time.Hour
		}
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.service_name", "orgstore")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	// Database defaults
	v.SetDefault("database.backend", "mongo")
	v.SetDefault("database.uri", "mongodb://mongo:27017")
	v.SetDefault("database.name", "master_db")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.retry_backoff", "1s")
	v.SetDefault("database.server_selection_timeout", "5s")
	v.SetDefault("database.max_pool_size", 50)
	v.SetDefault("database.copy_batch_size", 500)

	// Auth defaults
	v.SetDefault("auth.token_ttl", "6h")
	v.SetDefault("auth.issuer", "orgstore")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)
	v.SetDefault("security.rate_limiting.login_requests_per_minute", 10)
	v.SetDefault("security.rate_limiting.login_burst", 5)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.log_failed_requests", true)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.prefix", "archives")
	v.SetDefault("archive.local.base_path", "./archives")

	// Reconcile defaults
	v.SetDefault("reconcile.enabled", false)
	v.SetDefault("reconcile.interval", "15m")
	v.SetDefault("reconcile.grace_period", "1h")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Backend {
	case "mongo":
		if c.Database.URI == "" {
			return fmt.Errorf("database.uri is required when using the mongo backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database backend: %s (must be mongo or memory)", c.Database.Backend)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.ConnectRetries < 1 {
		return fmt.Errorf("database.connect_retries must be at least 1")
	}
	if c.Database.CopyBatchSize < 1 || c.Database.CopyBatchSize > MaxCopyBatchSize {
		return fmt.Errorf("database.copy_batch_size must be between 1 and %d", MaxCopyBatchSize)
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Archive.Enabled {
		if err := c.Archive.validate(); err != nil {
			return err
		}
	}

	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive when the reconciler is enabled")
	}
	if c.Reconcile.GracePeriod < 0 {
		return fmt.Errorf("reconcile.grace_period must not be negative")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" || c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.cert_file and security.tls.key_file are required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func (a *ArchiveConfig) validate() error {
	switch a.Backend {
	case "azure":
		if a.Azure.AccountName == "" {
			return fmt.Errorf("archive.azure.account_name is required when using Azure backend")
		}
		if a.Azure.AccountKey == "" {
			return fmt.Errorf("archive.azure.account_key is required when using Azure backend")
		}
		if a.Azure.ContainerName == "" {
			return fmt.Errorf("archive.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if a.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when using S3 backend")
		}
		if a.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when using S3 backend")
		}
	case "gcs":
		if a.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if a.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid archive backend: %s (must be azure, s3, gcs, or local)", a.Backend)
	}
	return nil
}
