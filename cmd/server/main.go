package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragsupport-gateway/internal/analytics"
	"github.com/connexus-ai/ragsupport-gateway/internal/auth"
	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/config"
	"github.com/connexus-ai/ragsupport-gateway/internal/embed"
	"github.com/connexus-ai/ragsupport-gateway/internal/generate"
	"github.com/connexus-ai/ragsupport-gateway/internal/handler"
	"github.com/connexus-ai/ragsupport-gateway/internal/mailer"
	"github.com/connexus-ai/ragsupport-gateway/internal/middleware"
	"github.com/connexus-ai/ragsupport-gateway/internal/promptcompose"
	"github.com/connexus-ai/ragsupport-gateway/internal/rbac"
	"github.com/connexus-ai/ragsupport-gateway/internal/rerank"
	"github.com/connexus-ai/ragsupport-gateway/internal/repository"
	"github.com/connexus-ai/ragsupport-gateway/internal/retrieval"
	"github.com/connexus-ai/ragsupport-gateway/internal/router"
	"github.com/connexus-ai/ragsupport-gateway/internal/storage"
	"github.com/connexus-ai/ragsupport-gateway/internal/store"
	"github.com/connexus-ai/ragsupport-gateway/internal/webcache"
	"github.com/connexus-ai/ragsupport-gateway/internal/websearch"
)

// Version is the build version reported by the health endpoints.
const Version = "0.1.0"

const (
	chatComposerContextBudget = 6000
	rbacCacheTTL              = 5 * time.Minute
	generalRateLimit          = 120
	generalRateLimitWindow    = time.Minute
	chatRateLimit             = 20
	chatRateLimitWindow       = time.Minute
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.Info("ragsupport-gateway starting", "version", Version, "port", cfg.APIPort)

	dbPool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbPool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	backendPool := backendpool.New(cfg)
	backendPool.Start(ctx)

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	// Repositories.
	documentRepo := repository.NewDocumentRepo(dbPool)
	userRepo := repository.NewUserRepo(dbPool)
	roleRepo := repository.NewRoleRepo(dbPool)
	auditRepo := repository.NewAuditRepo(dbPool)
	securityEventRepo := repository.NewSecurityEventRepo(dbPool)
	correctionRepo := repository.NewCorrectionRepo(dbPool)
	terminologyRepo := repository.NewTerminologyRepo(dbPool)
	searchEventRepo := repository.NewSearchEventRepo(dbPool)
	documentStore := store.New(dbPool)

	// Retrieval pipeline.
	embedCache := embed.NewRedisCache(redisClient, time.Duration(cfg.EmbeddingTimeoutSeconds)*time.Second)
	embedder := embed.New(backendPool, embedCache, time.Duration(cfg.EmbeddingTimeoutSeconds)*time.Second)
	reranker := rerank.New(backendPool)
	webCache := webcache.New(dbPool, time.Duration(cfg.WebCacheTTL)*time.Second, cfg.WebCacheMaxRows, cfg.WebCacheEnabled)
	webSearcher := websearch.New(10)
	retriever := retrieval.New(documentStore, embedder, reranker, webCache, webSearcher, cfg.RetrievalCandidates, cfg.EnableMetadataWeighting)
	composer := promptcompose.New(terminologyRepo, chatComposerContextBudget)
	orchestrator := generate.New(backendPool)

	// Analytics.
	analyticsRecorder := analytics.New(searchEventRepo, 1000, metrics)

	// Auth / RBAC.
	tokenIssuer := auth.NewTokenIssuer(cfg.JWTSecret)
	permissionResolver := rbac.New(userRepo, rbacCacheTTL)

	// Blob storage for document downloads.
	blobClient, err := storage.New(ctx)
	if err != nil {
		slog.Warn("gcs client unavailable, document downloads will fail", "error", err)
	}

	mailSender := mailer.LogSender{}

	auditRecorder := &handler.AuditRecorder{Store: auditRepo}
	securityRecorder := &handler.SecurityEventRecorder{Store: securityEventRepo}

	chatDeps := handler.ChatDeps{
		Corrections: correctionRepo,
		Retriever:   retriever,
		Composer:    composer,
		Generator:   orchestrator,
		Analytics:   analyticsRecorder,
		Metrics:     metrics,
		TopK:        cfg.RetrievalCandidates,
	}

	authDeps := handler.AuthDeps{
		Users:       userRepo,
		Roles:       roleRepo,
		Tokens:      tokenIssuer,
		Permissions: userRepo,
		Mail:        mailSender,
		Audit:       auditRecorder,
		Security:    securityRecorder,
	}

	var blobs handler.BlobDownloader
	if blobClient != nil {
		blobs = blobClient
	}
	documentsDeps := handler.DocumentsDeps{
		Documents:   documentRepo,
		Blobs:       blobs,
		Permissions: permissionResolver,
		Audit:       auditRecorder,
	}

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests:     generalRateLimit,
		Window:          generalRateLimitWindow,
		CleanupInterval: 5 * time.Minute,
	})
	defer generalLimiter.Stop()
	chatLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests:     chatRateLimit,
		Window:          chatRateLimitWindow,
		CleanupInterval: 5 * time.Minute,
	})
	defer chatLimiter.Stop()

	mux := router.New(&router.Dependencies{
		DB:          dbPool,
		FrontendURL: os.Getenv("FRONTEND_URL"),
		Version:     Version,
		Metrics:     metrics,
		MetricsReg:  metricsReg,
		BackendPool: backendPool,

		Verifier:       tokenIssuer,
		Permissions:    permissionResolver,
		PasswordChange: userRepo,

		Auth:      authDeps,
		Chat:      chatDeps,
		Documents: documentsDeps,
		Analytics: searchEventRepo,

		GeneralRateLimiter: generalLimiter,
		ChatRateLimiter:    chatLimiter,
		Security:           securityRecorder,
	})

	srv := &http.Server{
		Addr:         cfg.APIHost + ":" + cfg.APIPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams run longer than a fixed write deadline; per-route Timeout middleware covers everything else.
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if blobClient != nil {
		_ = blobClient.Close()
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
