// Package postgres is the production repository.Repository adapter: real
// row-level locking via SELECT ... FOR UPDATE over a jackc/pgx/v5 pgxpool.
// Grounded on internal/store/postgres.go (pgxpool bootstrap)
// and original_source/payments-repo/src/postgres.rs (migration running,
// deterministic lock ordering, FOR UPDATE usage).
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

//go:embed migrations.sql
var migrationsSQL string

const (
	uniqueViolationCode      = "23505"
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
)

// Repo is the PostgreSQL repository.Repository implementation.
type Repo struct {
	pool *pgxpool.Pool
}

// New connects, runs migrations, and returns a ready Repo. Grounded on the
// ledgerops's cmd/api/main.go (pgxpool.New(ctx, cfg.DBSource)).
func New(ctx context.Context, databaseURL string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range strings.Split(migrationsSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration failed: %w", err)
		}
	}
	return nil
}

func (r *Repo) Close() {
	r.pool.Close()
}

// Begin starts a pgx.Tx and wraps it to satisfy repository.Tx. Grounded on
// original_source/payments-repo/src/postgres.rs's transaction-scoped
// deposit/withdraw/transfer methods, generalized into an explicit unit of
// work so internal/ledger controls commit/rollback.
func (r *Repo) Begin(ctx context.Context) (repository.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SelectAccountForUpdate(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	var acc domain.Account
	var currency string
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, balance, currency, created_at FROM accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&acc.ID, &acc.Name, &acc.Balance, &currency, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, repository.ErrNotFound
	}
	if isSerializationFailure(err) {
		return domain.Account{}, repository.ErrSerializationFailure
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: select for update: %w", err)
	}
	acc.Currency = domain.Currency(currency)
	return acc, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id uuid.UUID, newBalance int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, newBalance, id)
	if isSerializationFailure(err) {
		return repository.ErrSerializationFailure
	}
	if err != nil {
		return fmt.Errorf("postgres: update balance: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, string(txn.Direction), txn.Amount, string(txn.Currency), txn.SourceAccountID, txn.DestinationAccountID,
		txn.IdempotencyKey, txn.Reference, txn.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateIdempotencyKey
	}
	if isSerializationFailure(err) {
		return repository.ErrSerializationFailure
	}
	if err != nil {
		return fmt.Errorf("postgres: insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) FindTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at
		 FROM transactions WHERE idempotency_key = $1`, key)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, repository.ErrNotFound
		}
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (t *pgTx) ListActiveEndpointsForEvent(ctx context.Context, eventType string) ([]domain.WebhookEndpoint, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, url, secret, events, is_active, created_at FROM webhook_endpoints
		 WHERE is_active = TRUE AND events @> $1::jsonb`, fmt.Sprintf(`["%s"]`, eventType))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		var ep domain.WebhookEndpoint
		var eventsJSON []byte
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &eventsJSON, &ep.IsActive, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan active endpoint: %w", err)
		}
		if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal events: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (t *pgTx) EnqueueWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO webhook_events (id, endpoint_id, event_type, payload, status, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.EndpointID, event.EventType, []byte(event.Payload), string(domain.WebhookPending), 0, event.CreatedAt)
	if isSerializationFailure(err) {
		return repository.ErrSerializationFailure
	}
	if err != nil {
		return fmt.Errorf("postgres: enqueue webhook event: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return repository.ErrSerializationFailure
		}
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────
// Non-transactional reads/writes
// ─────────────────────────────────────────────────────────────────────────

func (r *Repo) CreateAccount(ctx context.Context, name string, currency domain.Currency) (domain.Account, error) {
	acc, err := domain.NewAccount(name, currency)
	if err != nil {
		return domain.Account{}, err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, balance, currency, created_at) VALUES ($1, $2, $3, $4, $5)`,
		acc.ID, acc.Name, acc.Balance, string(acc.Currency), acc.CreatedAt)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: create account: %w", err)
	}
	return acc, nil
}

func (r *Repo) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	var acc domain.Account
	var currency string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, balance, currency, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&acc.ID, &acc.Name, &acc.Balance, &currency, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account: %w", err)
	}
	acc.Currency = domain.Currency(currency)
	return acc, nil
}

func (r *Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, balance, currency, created_at FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var acc domain.Account
		var currency string
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Balance, &currency, &acc.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		acc.Currency = domain.Currency(currency)
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (r *Repo) ListTransactionsForAccount(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at
		 FROM transactions WHERE source_account_id = $1 OR destination_account_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var txn domain.Transaction
	var direction, currency string
	if err := row.Scan(&txn.ID, &direction, &txn.Amount, &currency,
		&txn.SourceAccountID, &txn.DestinationAccountID, &txn.IdempotencyKey, &txn.Reference, &txn.CreatedAt); err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: scan transaction: %w", err)
	}
	txn.Direction = domain.Direction(direction)
	txn.Currency = domain.Currency(currency)
	return txn, nil
}

// ─────────────────────────────────────────────────────────────────────────
// Webhook endpoints
// ─────────────────────────────────────────────────────────────────────────

func (r *Repo) RegisterWebhookEndpoint(ctx context.Context, url, secret string, events []string) (domain.WebhookEndpoint, error) {
	ep := domain.WebhookEndpoint{
		ID:        uuid.New(),
		URL:       url,
		Secret:    secret,
		Events:    events,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("postgres: marshal events: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO webhook_endpoints (id, url, secret, events, is_active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ep.ID, ep.URL, ep.Secret, eventsJSON, ep.IsActive, ep.CreatedAt)
	if err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("postgres: register endpoint: %w", err)
	}
	return ep, nil
}

func (r *Repo) ListWebhookEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, url, secret, events, is_active, created_at FROM webhook_endpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		var ep domain.WebhookEndpoint
		var eventsJSON []byte
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &eventsJSON, &ep.IsActive, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan endpoint: %w", err)
		}
		if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal events: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (r *Repo) GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (domain.WebhookEndpoint, error) {
	var ep domain.WebhookEndpoint
	var eventsJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, url, secret, events, is_active, created_at FROM webhook_endpoints WHERE id = $1`, id,
	).Scan(&ep.ID, &ep.URL, &ep.Secret, &eventsJSON, &ep.IsActive, &ep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WebhookEndpoint{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("postgres: get endpoint: %w", err)
	}
	if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("postgres: unmarshal events: %w", err)
	}
	return ep, nil
}

func (r *Repo) DeactivateWebhookEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webhook_endpoints SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────
// Webhook queue
// ─────────────────────────────────────────────────────────────────────────

// ClaimBatch uses FOR UPDATE SKIP LOCKED so multiple worker processes can
// poll the same queue without contending.
func (r *Repo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.WebhookEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, endpoint_id, event_type, payload, status, attempts, last_error, created_at, processed_at
		 FROM webhook_events
		 WHERE status = 'PENDING' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim query: %w", err)
	}

	var ids []uuid.UUID
	var out []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		var status string
		if err := rows.Scan(&ev.ID, &ev.EndpointID, &ev.EventType, &ev.Payload, &status, &ev.Attempts, &ev.LastError, &ev.CreatedAt, &ev.ProcessedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: claim scan: %w", err)
		}
		ev.Status = domain.WebhookStatus(status)
		out = append(out, ev)
		ids = append(ids, ev.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE webhook_events SET status = 'PROCESSING', claimed_at = $1 WHERE id = $2`, now, id); err != nil {
			return nil, fmt.Errorf("postgres: claim mark processing: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: claim commit: %w", err)
	}
	for i := range out {
		out[i].Status = domain.WebhookProcessing
		out[i].ClaimedAt = &now
	}
	return out, nil
}

func (r *Repo) MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_events SET status = 'DELIVERED', processed_at = $1, last_error = NULL WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("postgres: mark delivered: %w", err)
	}
	return nil
}

func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, attempts int, nextAttemptAt *time.Time, terminal bool) error {
	status := "PENDING"
	if terminal {
		status = "FAILED"
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_events SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, processed_at = CASE WHEN $1 = 'FAILED' THEN now() ELSE processed_at END
		 WHERE id = $5`, status, attempts, lastErr, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("postgres: mark failed: %w", err)
	}
	return nil
}

// RecoverStuckProcessing resets rows left PROCESSING past olderThan back to
// PENDING — the startup recovery pass for workers that crashed mid-delivery.
// Filters on claimed_at (set fresh by every ClaimBatch call), not
// created_at, since created_at never changes across retries and would
// misclassify an old-but-recently-reclaimed row as stuck.
func (r *Repo) RecoverStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_events SET status = 'PENDING' WHERE status = 'PROCESSING' AND claimed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: recover stuck: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repo) CountPendingWebhookEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_events WHERE status = 'PENDING'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count pending webhook events: %w", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────
// API keys
// ─────────────────────────────────────────────────────────────────────────

func (r *Repo) InsertAPIKey(ctx context.Context, key domain.ApiKey) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, account_id, is_active, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.AccountID, key.IsActive, key.CreatedAt, key.LastUsedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("postgres: insert api key: %w", err)
	}
	return nil
}

func (r *Repo) FindAPIKeyByHash(ctx context.Context, keyHash string) (domain.ApiKey, error) {
	var k domain.ApiKey
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, account_id, is_active, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.AccountID, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ApiKey{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.ApiKey{}, fmt.Errorf("postgres: find api key: %w", err)
	}
	return k, nil
}

func (r *Repo) CountActiveAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE is_active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count api keys: %w", err)
	}
	return n, nil
}

func (r *Repo) TouchLastUsed(ctx context.Context, id uuid.UUID, when time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, when, id)
	if err != nil {
		return fmt.Errorf("postgres: touch last used: %w", err)
	}
	return nil
}

// InsertAPIKeyIfNoneActive implements credentials.Bootstrap's race-safety
// requirement: count + insert inside one serializable transaction.
func (r *Repo) InsertAPIKeyIfNoneActive(ctx context.Context, key domain.ApiKey) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, fmt.Errorf("postgres: bootstrap begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var n int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE is_active = TRUE`).Scan(&n); err != nil {
		return false, fmt.Errorf("postgres: bootstrap count: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, account_id, is_active, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.AccountID, key.IsActive, key.CreatedAt, key.LastUsedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: bootstrap insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: bootstrap commit: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// isSerializationFailure reports whether err is a Postgres conflict a
// retry can resolve: 40001 (serialization_failure, raised under
// RepeatableRead/Serializable when a concurrent writer committed first)
// or 40P01 (deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailureCode || pgErr.Code == deadlockDetectedCode
}
