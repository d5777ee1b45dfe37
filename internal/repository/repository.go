// Package repository defines the transactional persistence port the ledger
// service, webhook registry and webhook worker depend on, and the sentinel
// errors adapters must return. Grounded on ledgerops's store.Store method
// set (internal/store/postgres.go) and generalized to an interface,
// mirroring original_source/payments-types/src/ports.rs's
// TransactionRepository trait (async trait -> Go interface threaded with
// context.Context).
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/ledgercore/internal/domain"
)

// Tx is a unit of work. All balance mutations must happen inside exactly
// one Tx: lock, mutate, insert the transaction row, enqueue any
// webhook events, commit. Every method aside from Commit/Rollback takes the
// ctx passed to Repository.Begin's caller so DB round-trips stay
// cancel-safe.
type Tx interface {
	// SelectAccountForUpdate row-locks (or, on serialized-write engines,
	// otherwise exclusively reserves) the account for the duration of the
	// transaction. Returns ErrNotFound if no such account exists.
	SelectAccountForUpdate(ctx context.Context, id uuid.UUID) (domain.Account, error)

	// UpdateBalance writes a new balance for an already-locked account.
	UpdateBalance(ctx context.Context, id uuid.UUID, newBalance int64) error

	// InsertTransaction persists an immutable transaction row. Returns
	// ErrDuplicateIdempotencyKey if idempotency_key collides with an
	// existing row (a concurrent replay won the race).
	InsertTransaction(ctx context.Context, txn domain.Transaction) error

	// FindTransactionByIdempotencyKey returns the stored transaction for
	// key, or ErrNotFound if none exists yet.
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error)

	// ListActiveEndpointsForEvent reads, within this Tx, every active
	// endpoint subscribed to eventType — read inside the same unit of work
	// as the balance mutation so the outbox enqueue below is consistent
	// with whatever endpoint set existed at commit time.
	ListActiveEndpointsForEvent(ctx context.Context, eventType string) ([]domain.WebhookEndpoint, error)

	// EnqueueWebhookEvent inserts one PENDING webhook_events row. Must only
	// ever be called from within a Tx that also performs the triggering
	// balance mutation (transactional outbox).
	EnqueueWebhookEvent(ctx context.Context, event domain.WebhookEvent) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is the top-level port. Begin starts a Tx; the rest are
// non-transactional reads and writes that do not need multi-step
// consistency with a balance mutation.
type Repository interface {
	Begin(ctx context.Context) (Tx, error)

	CreateAccount(ctx context.Context, name string, currency domain.Currency) (domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListTransactionsForAccount(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Transaction, error)

	// Webhook endpoint CRUD.
	RegisterWebhookEndpoint(ctx context.Context, url, secret string, events []string) (domain.WebhookEndpoint, error)
	ListWebhookEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error)
	GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (domain.WebhookEndpoint, error)
	DeactivateWebhookEndpoint(ctx context.Context, id uuid.UUID) error

	// Webhook queue operations.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.WebhookEvent, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, attempts int, nextAttemptAt *time.Time, terminal bool) error
	RecoverStuckProcessing(ctx context.Context, olderThan time.Time) (int, error)
	// CountPendingWebhookEvents reports how many rows are currently
	// PENDING, for queue-depth monitoring.
	CountPendingWebhookEvents(ctx context.Context) (int64, error)

	// API key operations.
	InsertAPIKey(ctx context.Context, key domain.ApiKey) error
	FindAPIKeyByHash(ctx context.Context, keyHash string) (domain.ApiKey, error)
	CountActiveAPIKeys(ctx context.Context) (int64, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID, when time.Time) error
	// InsertAPIKeyIfNoneActive atomically checks CountActiveAPIKeys == 0
	// and inserts key in one transaction, for credentials.Bootstrap's
	// race-safety requirement. Returns false, nil if an active
	// key already existed (no insert performed).
	InsertAPIKeyIfNoneActive(ctx context.Context, key domain.ApiKey) (bool, error)

	Close()
}
