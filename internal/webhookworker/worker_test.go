package webhookworker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/metrics"
	"github.com/ledgerflow/ledgercore/internal/repository/memory"
	"github.com/ledgerflow/ledgercore/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base := 30 * time.Second
	cap := time.Hour

	d1 := backoffDelay(1, base, cap)
	d2 := backoffDelay(2, base, cap)
	d5 := backoffDelay(5, base, cap)

	assert.GreaterOrEqual(t, d1, base)
	assert.Less(t, d1, time.Duration(float64(base)*1.2)+time.Millisecond)
	assert.Greater(t, d2, d1*3/4) // roughly double, allowing for jitter spread
	assert.LessOrEqual(t, d5, time.Duration(float64(cap)*1.2)+time.Millisecond)
}

func TestDeliverySucceedsOnFirstAttempt(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		assert.NotEmpty(t, r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := memory.New()
	ctx := context.Background()
	ep, err := repo.RegisterWebhookEndpoint(ctx, srv.URL, "secret", []string{"deposit.success"})
	require.NoError(t, err)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	ev := domain.NewWebhookEvent(ep.ID, "deposit.success", []byte(`{"event":"deposit.success"}`))
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	worker := New(repo, DefaultConfig(), testLogger())
	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	worker.deliver(ctx, claimed[0])

	assert.Equal(t, int32(1), atomic.LoadInt32(&received))

	remaining, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeliveryRetriesOnFailureThenSucceeds(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempt, 1)
		if n < 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := memory.New()
	ctx := context.Background()
	ep, err := repo.RegisterWebhookEndpoint(ctx, srv.URL, "secret", []string{"deposit.success"})
	require.NoError(t, err)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	ev := domain.NewWebhookEvent(ep.ID, "deposit.success", []byte(`{}`))
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	cfg := DefaultConfig()
	worker := New(repo, cfg, testLogger())

	for i := 0; i < 4; i++ {
		claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC().Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", i+1)
		worker.deliver(ctx, claimed[0])
	}

	assert.Equal(t, int32(4), atomic.LoadInt32(&attempt))
}

func TestDeliveryFailsTerminallyAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := memory.New()
	ctx := context.Background()
	ep, err := repo.RegisterWebhookEndpoint(ctx, srv.URL, "secret", []string{"deposit.success"})
	require.NoError(t, err)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	ev := domain.NewWebhookEvent(ep.ID, "deposit.success", []byte(`{}`))
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	worker := New(repo, cfg, testLogger())

	var lastID = ev.ID
	for i := 0; i < 2; i++ {
		claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC().Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		lastID = claimed[0].ID
		worker.deliver(ctx, claimed[0])
	}

	remaining, err := repo.ClaimBatch(ctx, 10, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, remaining, "a terminally failed event must never be claimable again")
	assert.Equal(t, ev.ID, lastID)
}

func TestRecoverStuckProcessingLeavesFreshClaimsAlone(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	ep, err := repo.RegisterWebhookEndpoint(ctx, "http://example.invalid/hook", "secret", []string{"deposit.success"})
	require.NoError(t, err)

	ev := domain.NewWebhookEvent(ep.ID, "deposit.success", []byte(`{}`))
	ev.CreatedAt = time.Now().UTC().Add(-24 * time.Hour) // old row, just retried a lot

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	worker := New(repo, DefaultConfig(), testLogger())

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1, "an old-but-due row is still claimable")

	// a recovery pass right after claiming must not reset a live claim just
	// because the event itself was created long ago
	worker.recoverStuckProcessing(ctx)

	stillClaimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, stillClaimed, "recovery must not reclaim a row a worker is actively processing")
}

func TestRecoverStuckProcessingResetsGenuinelyStaleClaims(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	ep, err := repo.RegisterWebhookEndpoint(ctx, "http://example.invalid/hook", "secret", []string{"deposit.success"})
	require.NoError(t, err)

	ev := domain.NewWebhookEvent(ep.ID, "deposit.success", []byte(`{}`))

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	cfg := DefaultConfig()
	worker := New(repo, cfg, testLogger())

	// simulate a claim that happened long enough ago to be past the
	// recovery threshold (2x RequestTimeout)
	claimTime := time.Now().UTC().Add(-2 * cfg.RequestTimeout).Add(-time.Second)
	claimed, err := repo.ClaimBatch(ctx, 10, claimTime)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	worker.recoverStuckProcessing(ctx)

	recovered, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, recovered, 1, "a claim left PROCESSING past the threshold must be recovered to PENDING")
}

func TestSampleQueueDepthReportsPendingCount(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	ep, err := repo.RegisterWebhookEndpoint(ctx, "http://example.invalid/hook", "secret", []string{"deposit.success"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.EnqueueWebhookEvent(ctx, domain.NewWebhookEvent(ep.ID, "deposit.success", []byte(`{}`))))
		require.NoError(t, tx.Commit(ctx))
	}

	worker := New(repo, DefaultConfig(), testLogger())
	worker.sampleQueueDepth(ctx)

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.WebhookQueueDepth))
}

func TestWebhookSignatureMatchesSecurityPackage(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := memory.New()
	ctx := context.Background()
	secret := "shared-secret"
	ep, err := repo.RegisterWebhookEndpoint(ctx, srv.URL, secret, []string{"deposit.success"})
	require.NoError(t, err)

	payload := []byte(`{"event":"deposit.success"}`)
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	ev := domain.NewWebhookEvent(ep.ID, "deposit.success", payload)
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	worker := New(repo, DefaultConfig(), testLogger())
	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	worker.deliver(ctx, claimed[0])

	assert.Equal(t, security.SignWebhook(payload, secret), gotSig)
}
