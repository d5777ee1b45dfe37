// Package webhookworker delivers queued webhook events with HMAC signing
// and exponential-backoff retry. Grounded on
// original_source/payments-repo/src/webhooks.rs's WebhookWorker (poll loop
// shape, header set, HMAC signing via internal/security.SignWebhook) with
// a retry/backoff state machine added — the original has no retry at
// all; one non-2xx response marks the row FAILED permanently.
package webhookworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/metrics"
	"github.com/ledgerflow/ledgercore/internal/repository"
	"github.com/ledgerflow/ledgercore/internal/security"
)

// Config tunes the worker's polling, batching and retry behavior.
// Defaults are tuned for moderate throughput without hammering a flaky endpoint.
type Config struct {
	PoolSize       int
	ClaimBatch     int
	PollInterval   time.Duration
	BaseDelay      time.Duration
	CapDelay       time.Duration
	MaxAttempts    int
	RequestTimeout time.Duration
}

// DefaultConfig returns the worker's default tuning.
func DefaultConfig() Config {
	return Config{
		PoolSize:       1,
		ClaimBatch:     10,
		PollInterval:   time.Second,
		BaseDelay:      30 * time.Second,
		CapDelay:       time.Hour,
		MaxAttempts:    5,
		RequestTimeout: 10 * time.Second,
	}
}

// Worker polls repo for PENDING webhook_events, signs and delivers them,
// and applies the retry state machine.
type Worker struct {
	repo   repository.Repository
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New returns a Worker. logger defaults to slog.Default() if nil.
func New(repo repository.Repository, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return &Worker{
		repo:   repo,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Run starts cfg.PoolSize independent pollers and the startup recovery
// pass. It blocks until ctx is cancelled, then waits for every poller to
// return. An outbound request in flight shares ctx, so cancellation aborts
// it rather than letting it complete.
func (w *Worker) Run(ctx context.Context) {
	w.recoverStuckProcessing(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.PoolSize; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.pollLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) recoverStuckProcessing(ctx context.Context) {
	threshold := time.Now().UTC().Add(-2 * w.cfg.RequestTimeout)
	n, err := w.repo.RecoverStuckProcessing(ctx, threshold)
	if err != nil {
		w.logger.Error("webhook worker: recovery pass failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("webhook worker: recovered stuck PROCESSING rows", "count", n)
	}
}

// sampleQueueDepth reports the current PENDING backlog so
// ledger_webhook_queue_depth reflects reality instead of sitting dead at
// zero. Errors are logged, not propagated — a failed sample must never
// stall polling.
func (w *Worker) sampleQueueDepth(ctx context.Context) {
	n, err := w.repo.CountPendingWebhookEvents(ctx)
	if err != nil {
		w.logger.Warn("webhook worker: queue depth sample failed", "error", err)
		return
	}
	metrics.WebhookQueueDepth.Set(float64(n))
}

func (w *Worker) pollLoop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		w.sampleQueueDepth(ctx)

		events, err := w.repo.ClaimBatch(ctx, w.cfg.ClaimBatch, time.Now().UTC())
		if err != nil {
			w.logger.Error("webhook worker: claim batch failed", "worker", workerID, "error", err)
			if !sleepWithContext(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		if len(events) == 0 {
			if !sleepWithContext(ctx, jittered(w.cfg.PollInterval, 0.2)) {
				return
			}
			continue
		}

		for _, ev := range events {
			if ctx.Err() != nil {
				return
			}
			w.deliver(ctx, ev)
		}
	}
}

// deliver signs and POSTs one event, then applies the retry state
// machine. Failures here never propagate to a ledger caller — the
// triggering transaction is already committed, so a delivery failure
// never rolls back or blocks the caller that triggered it.
func (w *Worker) deliver(ctx context.Context, ev domain.WebhookEvent) {
	endpoint, err := w.repo.GetWebhookEndpoint(ctx, ev.EndpointID)
	if err != nil {
		w.failTerminal(ctx, ev, fmt.Sprintf("endpoint lookup failed: %v", err))
		return
	}

	signature := security.SignWebhook(ev.Payload, endpoint.Secret)

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.URL, bytes.NewReader(ev.Payload))
	if err != nil {
		w.recordFailure(ctx, ev, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event-Id", ev.ID.String())
	req.Header.Set("X-Webhook-Event-Type", ev.EventType)

	timer := prometheusTimer()
	resp, err := w.client.Do(req)
	timer()

	if err != nil {
		w.recordFailure(ctx, ev, err.Error())
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.markDelivered(ctx, ev)
		return
	}
	w.recordFailure(ctx, ev, fmt.Sprintf("HTTP %d", resp.StatusCode))
}

func (w *Worker) markDelivered(ctx context.Context, ev domain.WebhookEvent) {
	if err := w.repo.MarkDelivered(ctx, ev.ID, time.Now().UTC()); err != nil {
		w.logger.Error("webhook worker: mark delivered failed", "event_id", ev.ID, "error", err)
		return
	}
	metrics.WebhookDeliveryAttemptsTotal.WithLabelValues("delivered").Inc()
}

// recordFailure applies the retry policy: exponential backoff with
// jitter, terminal FAILED once MAX_ATTEMPTS is reached.
func (w *Worker) recordFailure(ctx context.Context, ev domain.WebhookEvent, reason string) {
	attempts := ev.Attempts + 1
	if attempts < w.cfg.MaxAttempts {
		delay := backoffDelay(attempts, w.cfg.BaseDelay, w.cfg.CapDelay)
		next := time.Now().UTC().Add(delay)
		if err := w.repo.MarkFailed(ctx, ev.ID, reason, attempts, &next, false); err != nil {
			w.logger.Error("webhook worker: mark failed (retry) failed", "event_id", ev.ID, "error", err)
			return
		}
		metrics.WebhookDeliveryAttemptsTotal.WithLabelValues("retry").Inc()
		return
	}
	w.failTerminal(ctx, ev, reason)
}

func (w *Worker) failTerminal(ctx context.Context, ev domain.WebhookEvent, reason string) {
	attempts := ev.Attempts + 1
	if err := w.repo.MarkFailed(ctx, ev.ID, reason, attempts, nil, true); err != nil {
		w.logger.Error("webhook worker: mark failed (terminal) failed", "event_id", ev.ID, "error", err)
		return
	}
	metrics.WebhookDeliveryAttemptsTotal.WithLabelValues("failed").Inc()
}

// backoffDelay computes min(cap, base*2^(attempts-1)) * (1 + jitter),
// jitter in [0, 0.2).
func backoffDelay(attempts int, base, capDelay time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 62 {
		shift = 62
	}
	raw := base * (1 << shift)
	if raw > capDelay || raw <= 0 {
		raw = capDelay
	}
	return jittered(raw, 0.2)
}

func jittered(d time.Duration, maxFraction float64) time.Duration {
	if maxFraction <= 0 {
		return d
	}
	jitter := rand.Float64() * maxFraction
	return time.Duration(float64(d) * (1 + jitter))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	}
}
