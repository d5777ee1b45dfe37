package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerflow/ledgercore/internal/authgate"
	"github.com/ledgerflow/ledgercore/internal/config"
	"github.com/ledgerflow/ledgercore/internal/httpapi"
	"github.com/ledgerflow/ledgercore/internal/ledger"
	"github.com/ledgerflow/ledgercore/internal/ratelimit"
	"github.com/ledgerflow/ledgercore/internal/repository"
	"github.com/ledgerflow/ledgercore/internal/repository/postgres"
	"github.com/ledgerflow/ledgercore/internal/repository/sqlite"
	"github.com/ledgerflow/ledgercore/internal/security"
	"github.com/ledgerflow/ledgercore/internal/webhookreg"
	"github.com/ledgerflow/ledgercore/internal/webhookworker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Error("repository init failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ledgerSvc := ledger.New(repo, cfg.LedgerOpTimeout)
	credentials := security.New(repo)
	webhooks := webhookreg.New(repo)
	limiter := ratelimit.New(cfg.RateLimitCapacity, cfg.RateLimitWindow)

	handlers := httpapi.New(ledgerSvc, credentials, webhooks)
	gate := authgate.New(credentials, limiter, httpapi.WriteJSON)
	router := httpapi.NewRouter(handlers, gate)

	worker := webhookworker.New(repo, webhookworker.Config{
		PoolSize:       cfg.WebhookWorkerPoolSize,
		ClaimBatch:     cfg.WebhookClaimBatch,
		PollInterval:   cfg.WebhookPollInterval,
		BaseDelay:      cfg.WebhookBaseDelay,
		CapDelay:       cfg.WebhookCapDelay,
		MaxAttempts:    cfg.WebhookMaxAttempts,
		RequestTimeout: cfg.HTTPOutboundTimeout,
	}, logger.With("component", "webhookworker"))

	go worker.Run(ctx)
	go sweepRateLimiter(ctx, limiter, cfg.RateLimitWindow)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "error", err)
		}
	}()

	logger.Info("ledger api starting", "port", cfg.Port, "engine", cfg.Engine, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server stopped unexpectedly", "error", err)
		os.Exit(1)
	}
	logger.Info("ledger api stopped")
}

// sweepRateLimiter evicts rate limiter buckets whose window started more
// than two windows ago, so memory for principals that stop sending requests is
// eventually released, rather than growing for the life of the process.
func sweepRateLimiter(ctx context.Context, limiter *ratelimit.Limiter, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Sweep(now.Add(-2 * window))
		}
	}
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.Engine {
	case config.EngineSQLite:
		return sqlite.New(ctx, cfg.DatabaseURL)
	default:
		return postgres.New(ctx, cfg.DatabaseURL)
	}
}
