package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

// newTestRepo opens a fresh in-memory database per test. Each call gets its
// own *sql.DB (distinct DSN-less ":memory:" connections are not shared
// across *sql.DB values), so tests never see each other's rows, matching
// the isolation the postgres test gets from per-test containers.
func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestSQLiteCreateAndGetAccount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc, err := repo.CreateAccount(ctx, "Alice", domain.Currency("USD"))
	require.NoError(t, err)

	fetched, err := repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, acc.ID, fetched.ID)
	require.Equal(t, int64(0), fetched.Balance)
}

func TestSQLiteGetAccountNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetAccount(context.Background(), uuid.New())
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteTransactionCommitPersistsBalanceAndOutboxEvent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc, err := repo.CreateAccount(ctx, "Bob", domain.Currency("USD"))
	require.NoError(t, err)

	endpoint, err := repo.RegisterWebhookEndpoint(ctx, "http://example.invalid/hook", "secret", []string{"deposit.success"})
	require.NoError(t, err)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)

	locked, err := tx.SelectAccountForUpdate(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), locked.Balance)

	require.NoError(t, tx.UpdateBalance(ctx, acc.ID, 5000))

	key := "integration-key-1"
	txn := domain.NewDeposit(acc.ID, 5000, domain.Currency("USD"), &key, nil)
	require.NoError(t, tx.InsertTransaction(ctx, txn))

	endpoints, err := tx.ListActiveEndpointsForEvent(ctx, "deposit.success")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	require.Equal(t, endpoint.ID, endpoints[0].ID)

	event := domain.NewWebhookEvent(endpoint.ID, "deposit.success", []byte(`{"ok":true}`))
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, event))

	require.NoError(t, tx.Commit(ctx))

	fetched, err := repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5000), fetched.Balance)

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, event.ID, claimed[0].ID)
}

func TestSQLiteRollbackDiscardsBalanceChange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc, err := repo.CreateAccount(ctx, "Dave", domain.Currency("USD"))
	require.NoError(t, err)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.SelectAccountForUpdate(ctx, acc.ID)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateBalance(ctx, acc.ID, 9999))
	require.NoError(t, tx.Rollback(ctx))

	fetched, err := repo.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), fetched.Balance)
}

func TestSQLiteDuplicateIdempotencyKeyRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc, err := repo.CreateAccount(ctx, "Carol", domain.Currency("USD"))
	require.NoError(t, err)

	key := "dup-key"

	tx1, err := repo.Begin(ctx)
	require.NoError(t, err)
	txn1 := domain.NewDeposit(acc.ID, 100, domain.Currency("USD"), &key, nil)
	require.NoError(t, tx1.InsertTransaction(ctx, txn1))
	require.NoError(t, tx1.Commit(ctx))

	tx2, err := repo.Begin(ctx)
	require.NoError(t, err)
	txn2 := domain.NewDeposit(acc.ID, 200, domain.Currency("USD"), &key, nil)
	err = tx2.InsertTransaction(ctx, txn2)
	require.ErrorIs(t, err, repository.ErrDuplicateIdempotencyKey)
	require.NoError(t, tx2.Rollback(ctx))

	found, err := repo.ListTransactionsForAccount(ctx, acc.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestSQLiteFindTransactionByIdempotencyKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc, err := repo.CreateAccount(ctx, "Erin", domain.Currency("USD"))
	require.NoError(t, err)

	key := "replay-key"
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	txn := domain.NewDeposit(acc.ID, 300, domain.Currency("USD"), &key, nil)
	require.NoError(t, tx.InsertTransaction(ctx, txn))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := repo.Begin(ctx)
	require.NoError(t, err)
	found, err := tx2.FindTransactionByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	require.Equal(t, txn.ID, found.ID)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestSQLiteBootstrapRaceSafety(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	key1 := domain.ApiKey{ID: uuid.New(), Name: "first", KeyHash: "hash1", IsActive: true, CreatedAt: time.Now().UTC()}
	inserted, err := repo.InsertAPIKeyIfNoneActive(ctx, key1)
	require.NoError(t, err)
	require.True(t, inserted)

	key2 := domain.ApiKey{ID: uuid.New(), Name: "second", KeyHash: "hash2", IsActive: true, CreatedAt: time.Now().UTC()}
	inserted, err = repo.InsertAPIKeyIfNoneActive(ctx, key2)
	require.NoError(t, err)
	require.False(t, inserted)

	count, err := repo.CountActiveAPIKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestSQLiteWebhookEndpointDeactivation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	endpoint, err := repo.RegisterWebhookEndpoint(ctx, "http://example.invalid/hook", "secret", []string{"withdraw.success"})
	require.NoError(t, err)

	require.NoError(t, repo.DeactivateWebhookEndpoint(ctx, endpoint.ID))

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	endpoints, err := tx.ListActiveEndpointsForEvent(ctx, "withdraw.success")
	require.NoError(t, err)
	require.Empty(t, endpoints)
	require.NoError(t, tx.Rollback(ctx))
}

func TestSQLiteRecoverStuckProcessingUsesClaimTimeNotCreateTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	endpoint, err := repo.RegisterWebhookEndpoint(ctx, "http://example.invalid/hook", "secret", []string{"deposit.success"})
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	ev := domain.NewWebhookEvent(endpoint.ID, "deposit.success", []byte(`{}`))
	ev.CreatedAt = old

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueWebhookEvent(ctx, ev))
	require.NoError(t, tx.Commit(ctx))

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// a threshold that would catch the stale CreatedAt must not recover a
	// row claimed moments ago
	n, err := repo.RecoverStuckProcessing(ctx, old.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	reclaimed, err := repo.ClaimBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Empty(t, reclaimed)

	// a threshold past the actual claim time recovers it back to PENDING
	n, err = repo.RecoverStuckProcessing(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reclaimed, err = repo.ClaimBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
}
