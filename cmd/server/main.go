// S3 Filestorage Server
//
// Exposes a virtual file hierarchy backed by an S3-compatible object
// store:
// - per-tenant buckets, provisioned with CORS on first use
// - folder placeholders, recursive move/copy, rename via server-side copy
// - token-gated downloads, inline views and cached thumbnails
// - SSE change feed, Prometheus metrics, structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/api"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/config"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/download"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/events"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/filetree"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/keys"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/logging"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/metrics"
	s3storage "github.com/afterlogic/aurora-module-s3-filestorage/internal/storage/s3"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/tenant"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/thumbs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("filestorage server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.Bool("disabled", cfg.Disabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tenant directory: PostgreSQL when configured, otherwise tenant IDs
	// double as names.
	var tenants tenant.Directory
	if cfg.DatabaseURL != "" {
		logging.Info("connecting to tenant database...")
		store, err := tenant.Open(cfg.DatabaseURL, cfg.DefaultQuotaBytes)
		if err != nil {
			logging.Fatal("tenant database connection failed", zap.Error(err))
		}
		defer store.Close()
		tenants = store
	} else {
		tenants = tenant.Static{Quota: cfg.DefaultQuotaBytes}
	}

	pool := s3storage.NewPool(s3storage.Config{
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint(),
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.UsePathStyleEndpoint,
	})

	// Each request's tenant maps to its own bucket, provisioned with a
	// CORS policy for the requesting origin on first use.
	resolver := filetree.StoreResolverFunc(func(ctx context.Context, scope files.Scope) (filetree.Store, error) {
		name, err := tenants.TenantName(ctx, scope.TenantID)
		if err != nil {
			return nil, err
		}
		return pool.Prepare(ctx, keys.ResolveBucket(cfg.BucketPrefix, name), scope.Origin)
	})

	tokens := download.NewTokens(cfg.TokenSecret,
		time.Duration(cfg.PresignedLinkLifetimeMinutes)*time.Minute)

	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	engine := filetree.New(resolver, tenants, tokens,
		filetree.WithNotifier(broadcaster),
		filetree.WithLegacyFolderCopy(cfg.LegacyFolderCopy))

	thumbCache := thumbs.NewCache(cfg.ThumbnailCacheMaxBytes)

	srv := api.NewServer(engine, tokens, thumbCache, broadcaster, api.Config{
		Disabled:                   cfg.Disabled,
		RedirectToOriginalFileURLs: cfg.RedirectToOriginalFileURLs,
		DownloadLinkLifetime:       time.Duration(cfg.DownloadLinkLifetimeMinutes) * time.Minute,
	})

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

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}

	<-ctx.Done()
	logging.Info("server stopped")
}
