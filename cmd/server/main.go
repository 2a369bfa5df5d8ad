// uigen server
//
// Features:
// - Per-project in-memory workspaces with JSX build pipeline
// - Sandboxed preview rendering (goja)
// - SSE build and file-change events
// - JWT auth with optional OIDC single sign-on
// - Prometheus metrics & structured logging (zap)
// - Snapshot persistence (PostgreSQL) and export (local/S3)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/api"
	"github.com/gili-labs/uigen/internal/auth"
	"github.com/gili-labs/uigen/internal/config"
	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/project"
	"github.com/gili-labs/uigen/internal/quota"
	"github.com/gili-labs/uigen/internal/sandbox"
	"github.com/gili-labs/uigen/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("uigen server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	store, err := project.NewStore(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := store.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Initialize auth
	authHandler := auth.New(store.DB(), cfg.JWTSecret, cfg.TokenLifetime)

	// Initialize OIDC provider (optional)
	if cfg.OIDCIssuerURL != "" {
		oidcProvider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			logging.Fatal("OIDC provider init failed", zap.Error(err))
		}
		authHandler.SetOIDCProvider(oidcProvider)
		logging.Info("OIDC provider initialized", zap.String("issuer", cfg.OIDCIssuerURL))
	}

	// Initialize export storage backend
	export, err := storage.NewBackendFromConfig(ctx, cfg)
	if err != nil {
		logging.Fatal("export storage init failed", zap.Error(err))
	}
	defer export.Close()
	logging.Info("export storage initialized", zap.String("backend", export.Type()))

	// Initialize the workspace manager with the sandbox external registry
	registry := sandbox.NewExternalRegistry(cfg.ExternalFetch, cfg.ExternalCDN, cfg.ExternalTimeout)
	workspaces := project.NewManager(store, project.ManagerConfig{
		BuildTimeout:      cfg.BuildTimeout,
		SandboxTimeout:    cfg.SandboxTimeout,
		TransformWorkers:  cfg.TransformWorkers,
		TransformCacheLen: cfg.TransformCacheLen,
		Registry:          registry,
	})
	defer workspaces.CloseAll()

	rateLimiter := quota.NewRateLimiter()

	// Create API server
	srv := api.NewServer(store, workspaces, authHandler, rateLimiter, export, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	// Start periodic rate limiter cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rateLimiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
