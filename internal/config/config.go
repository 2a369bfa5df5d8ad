// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret     string
	TokenLifetime time.Duration

	// OIDC (optional)
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	// Build pipeline
	BuildTimeout      time.Duration
	SandboxTimeout    time.Duration
	TransformWorkers  int
	TransformCacheLen int

	// External packages (sandbox loader)
	ExternalFetch   bool
	ExternalCDN     string
	ExternalTimeout time.Duration

	// Snapshot export storage ("local" or "s3")
	ExportBackend   string
	LocalExportPath string

	// S3 export backend
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Quotas
	BuildsPerMinute int
}

// Load reads configuration from the environment with defaults. A .env file
// in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		DatabaseURL: envOr("DATABASE_URL", ""),

		JWTSecret:     envOr("JWT_SECRET", ""),
		TokenLifetime: envDuration("TOKEN_LIFETIME", 7*24*time.Hour),

		OIDCIssuerURL:    envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:     envOr("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: envOr("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  envOr("OIDC_REDIRECT_URL", ""),

		BuildTimeout:      envDuration("BUILD_TIMEOUT", 10*time.Second),
		SandboxTimeout:    envDuration("SANDBOX_TIMEOUT", 3*time.Second),
		TransformWorkers:  envInt("TRANSFORM_WORKERS", 4),
		TransformCacheLen: envInt("TRANSFORM_CACHE_LEN", 512),

		ExternalFetch:   envBool("EXTERNAL_FETCH", false),
		ExternalCDN:     envOr("EXTERNAL_CDN", "https://unpkg.com"),
		ExternalTimeout: envDuration("EXTERNAL_TIMEOUT", 5*time.Second),

		ExportBackend:   envOr("EXPORT_BACKEND", "local"),
		LocalExportPath: envOr("LOCAL_EXPORT_PATH", "/data/exports"),

		S3Endpoint:  envOr("S3_ENDPOINT", ""),
		S3Bucket:    envOr("S3_BUCKET", "uigen"),
		S3AccessKey: envOr("S3_ACCESS_KEY", ""),
		S3SecretKey: envOr("S3_SECRET_KEY", ""),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		S3UseSSL:    envBool("S3_USE_SSL", true),

		BuildsPerMinute: envInt("BUILDS_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ExportBackend != "local" && cfg.ExportBackend != "s3" {
		return nil, fmt.Errorf("EXPORT_BACKEND must be \"local\" or \"s3\", got %q", cfg.ExportBackend)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
