// Package sqlite is the embedded single-file repository.Repository
// adapter. Grounded on NikeGunn-tutu/internal/infra/sqlite for the
// modernc.org/sqlite driver choice (pure Go, no cgo) and on
// original_source/payments-repo/src/sqlite.rs for the single-writer
// strategy: there is no row-level locking in SQLite, so exclusivity comes
// from serializing every write transaction through one connection opened
// with BEGIN IMMEDIATE, matching database/sql.DB.SetMaxOpenConns(1).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

// SQLite result codes for a writer that lost a lock race. Stable across
// every sqlite binding (https://www.sqlite.org/rescode.html), not specific
// to modernc.org/sqlite.
const (
	sqliteBusyCode   = 5
	sqliteLockedCode = 6
)

// isSerializationFailure reports whether err is the single-writer
// conflict a retry can resolve: another connection (a second process
// sharing the same database file, since this pool is pinned to one
// in-process connection) held the write lock when BEGIN IMMEDIATE or a
// later statement ran.
func isSerializationFailure(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqliteBusyCode, sqliteLockedCode:
		return true
	}
	return false
}

//go:embed migrations.sql
var migrationsSQL string

const timeLayout = time.RFC3339Nano

// Repo is the SQLite repository.Repository implementation.
type Repo struct {
	db *sql.DB
}

// New opens path (a file path, or ":memory:" for tests), runs migrations,
// and pins the pool to a single connection so every write is serialized.
func New(ctx context.Context, path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(migrationsSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migration failed: %w", err)
		}
	}
	return nil
}

func (r *Repo) Close() {
	r.db.Close()
}

// Begin grabs the pool's single connection and opens a write transaction
// with BEGIN IMMEDIATE, so the reservation (not a row lock) is taken up
// front rather than at first write.
func (r *Repo) Begin(ctx context.Context) (repository.Tx, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: acquire conn: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		conn.Close()
		if isSerializationFailure(err) {
			return nil, repository.ErrSerializationFailure
		}
		return nil, fmt.Errorf("sqlite: begin immediate: %w", err)
	}
	return &sqliteTx{conn: conn}, nil
}

type sqliteTx struct {
	conn   *sql.Conn
	closed bool
}

func (t *sqliteTx) SelectAccountForUpdate(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	var acc domain.Account
	var currency, createdAt string
	err := t.conn.QueryRowContext(ctx,
		`SELECT id, name, balance, currency, created_at FROM accounts WHERE id = ?`, id.String(),
	).Scan(&acc.ID, &acc.Name, &acc.Balance, &currency, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: select for update: %w", err)
	}
	acc.Currency = domain.Currency(currency)
	acc.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	return acc, nil
}

func (t *sqliteTx) UpdateBalance(ctx context.Context, id uuid.UUID, newBalance int64) error {
	_, err := t.conn.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, newBalance, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: update balance: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.conn.ExecContext(ctx,
		`INSERT INTO transactions (id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID.String(), string(txn.Direction), txn.Amount, string(txn.Currency),
		uuidPtrToSQL(txn.SourceAccountID), uuidPtrToSQL(txn.DestinationAccountID),
		strPtrToSQL(txn.IdempotencyKey), strPtrToSQL(txn.Reference), txn.CreatedAt.Format(timeLayout))
	if isUniqueViolation(err) {
		return repository.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert transaction: %w", err)
	}
	return nil
}

func (t *sqliteTx) FindTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error) {
	row := t.conn.QueryRowContext(ctx,
		`SELECT id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at
		 FROM transactions WHERE idempotency_key = ?`, key)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, repository.ErrNotFound
		}
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (t *sqliteTx) ListActiveEndpointsForEvent(ctx context.Context, eventType string) ([]domain.WebhookEndpoint, error) {
	rows, err := t.conn.QueryContext(ctx, `SELECT id, url, secret, events, is_active, created_at FROM webhook_endpoints WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		if ep.SubscribedTo(eventType) {
			out = append(out, ep)
		}
	}
	return out, rows.Err()
}

func (t *sqliteTx) EnqueueWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	_, err := t.conn.ExecContext(ctx,
		`INSERT INTO webhook_events (id, endpoint_id, event_type, payload, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(), event.EndpointID.String(), event.EventType, string(event.Payload),
		string(domain.WebhookPending), 0, event.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlite: enqueue webhook event: %w", err)
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.conn.Close()
	if _, err := t.conn.ExecContext(ctx, `COMMIT`); err != nil {
		if isSerializationFailure(err) {
			return repository.ErrSerializationFailure
		}
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.conn.Close()
	if _, err := t.conn.ExecContext(ctx, `ROLLBACK`); err != nil {
		return fmt.Errorf("sqlite: rollback: %w", err)
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
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, balance, currency, created_at) VALUES (?, ?, ?, ?, ?)`,
		acc.ID.String(), acc.Name, acc.Balance, string(acc.Currency), acc.CreatedAt.Format(timeLayout))
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: create account: %w", err)
	}
	return acc, nil
}

func (r *Repo) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	var acc domain.Account
	var currency, createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, balance, currency, created_at FROM accounts WHERE id = ?`, id.String(),
	).Scan(&acc.ID, &acc.Name, &acc.Balance, &currency, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, repository.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: get account: %w", err)
	}
	acc.Currency = domain.Currency(currency)
	acc.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	return acc, nil
}

func (r *Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, balance, currency, created_at FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var acc domain.Account
		var currency, createdAt string
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Balance, &currency, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan account: %w", err)
		}
		acc.Currency = domain.Currency(currency)
		acc.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse created_at: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (r *Repo) ListTransactionsForAccount(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at
		 FROM transactions WHERE source_account_id = ?1 OR destination_account_id = ?1
		 ORDER BY created_at DESC LIMIT ?2 OFFSET ?3`, id.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list transactions: %w", err)
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
		return domain.WebhookEndpoint{}, fmt.Errorf("sqlite: marshal events: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO webhook_endpoints (id, url, secret, events, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ep.ID.String(), ep.URL, ep.Secret, string(eventsJSON), 1, ep.CreatedAt.Format(timeLayout))
	if err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("sqlite: register endpoint: %w", err)
	}
	return ep, nil
}

func (r *Repo) ListWebhookEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, url, secret, events, is_active, created_at FROM webhook_endpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (r *Repo) GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (domain.WebhookEndpoint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, url, secret, events, is_active, created_at FROM webhook_endpoints WHERE id = ?`, id.String())
	ep, err := scanEndpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEndpoint{}, repository.ErrNotFound
		}
		return domain.WebhookEndpoint{}, err
	}
	return ep, nil
}

func (r *Repo) DeactivateWebhookEndpoint(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE webhook_endpoints SET is_active = 0 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: deactivate endpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.WebhookEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: claim begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, endpoint_id, event_type, payload, status, attempts, last_error, created_at, processed_at
		 FROM webhook_events
		 WHERE status = 'PENDING' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`, now.Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: claim query: %w", err)
	}

	var ids []string
	var out []domain.WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, ev)
		ids = append(ids, ev.ID.String())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimedAt := now.Format(timeLayout)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE webhook_events SET status = 'PROCESSING', claimed_at = ? WHERE id = ?`, claimedAt, id); err != nil {
			return nil, fmt.Errorf("sqlite: claim mark processing: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: claim commit: %w", err)
	}
	for i := range out {
		out[i].Status = domain.WebhookProcessing
		out[i].ClaimedAt = &now
	}
	return out, nil
}

func (r *Repo) MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = 'DELIVERED', processed_at = ?, last_error = NULL WHERE id = ?`,
		now.Format(timeLayout), id.String())
	if err != nil {
		return fmt.Errorf("sqlite: mark delivered: %w", err)
	}
	return nil
}

func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, attempts int, nextAttemptAt *time.Time, terminal bool) error {
	status := "PENDING"
	var processedAt sql.NullString
	if terminal {
		status = "FAILED"
		processedAt = sql.NullString{String: time.Now().UTC().Format(timeLayout), Valid: true}
	}
	var nextAttempt sql.NullString
	if nextAttemptAt != nil {
		nextAttempt = sql.NullString{String: nextAttemptAt.Format(timeLayout), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?,
		 processed_at = CASE WHEN ? = 1 THEN ? ELSE processed_at END WHERE id = ?`,
		status, attempts, lastErr, nullableString(nextAttempt), boolToInt(terminal), nullableString(processedAt), id.String())
	if err != nil {
		return fmt.Errorf("sqlite: mark failed: %w", err)
	}
	return nil
}

// RecoverStuckProcessing resets rows left PROCESSING past olderThan back to
// PENDING — the startup recovery pass for workers that crashed mid-delivery.
// Filters on claimed_at (set fresh by every ClaimBatch call), not
// created_at, since created_at never changes across retries and would
// misclassify an old-but-recently-reclaimed row as stuck.
func (r *Repo) RecoverStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = 'PENDING' WHERE status = 'PROCESSING' AND claimed_at < ?`, olderThan.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite: recover stuck: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}

func (r *Repo) CountPendingWebhookEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_events WHERE status = 'PENDING'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count pending webhook events: %w", err)
	}
	return n, nil
}

func (r *Repo) InsertAPIKey(ctx context.Context, key domain.ApiKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, account_id, is_active, created_at, last_used_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID.String(), key.Name, key.KeyHash, uuidPtrToSQL(key.AccountID), boolToInt(key.IsActive),
		key.CreatedAt.Format(timeLayout), timePtrToSQL(key.LastUsedAt))
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert api key: %w", err)
	}
	return nil
}

func (r *Repo) FindAPIKeyByHash(ctx context.Context, keyHash string) (domain.ApiKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, key_hash, account_id, is_active, created_at, last_used_at FROM api_keys WHERE key_hash = ?`, keyHash)
	k, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ApiKey{}, repository.ErrNotFound
		}
		return domain.ApiKey{}, err
	}
	return k, nil
}

func (r *Repo) CountActiveAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count api keys: %w", err)
	}
	return n, nil
}

func (r *Repo) TouchLastUsed(ctx context.Context, id uuid.UUID, when time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, when.Format(timeLayout), id.String())
	if err != nil {
		return fmt.Errorf("sqlite: touch last used: %w", err)
	}
	return nil
}

// InsertAPIKeyIfNoneActive relies on BEGIN IMMEDIATE taking the database's
// single write reservation up front, so the count-then-insert below cannot
// race with a concurrent bootstrap call the way it could on a
// multi-connection engine.
func (r *Repo) InsertAPIKeyIfNoneActive(ctx context.Context, key domain.ApiKey) (bool, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlite: bootstrap acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return false, fmt.Errorf("sqlite: bootstrap begin: %w", err)
	}
	defer conn.ExecContext(ctx, `ROLLBACK`)

	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys WHERE is_active = 1`).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: bootstrap count: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	_, err = conn.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, account_id, is_active, created_at, last_used_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID.String(), key.Name, key.KeyHash, uuidPtrToSQL(key.AccountID), boolToInt(key.IsActive),
		key.CreatedAt.Format(timeLayout), timePtrToSQL(key.LastUsedAt))
	if err != nil {
		return false, fmt.Errorf("sqlite: bootstrap insert: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return false, fmt.Errorf("sqlite: bootstrap commit: %w", err)
	}
	return true, nil
}

// ─────────────────────────────────────────────────────────────────────────
// scan / conversion helpers
// ─────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var txn domain.Transaction
	var direction, currency, createdAt string
	var sourceID, destID, idempotencyKey, reference sql.NullString
	if err := row.Scan(&txn.ID, &direction, &txn.Amount, &currency, &sourceID, &destID, &idempotencyKey, &reference, &createdAt); err != nil {
		return domain.Transaction{}, fmt.Errorf("sqlite: scan transaction: %w", err)
	}
	txn.Direction = domain.Direction(direction)
	txn.Currency = domain.Currency(currency)
	var err error
	txn.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	txn.SourceAccountID = sqlToUUIDPtr(sourceID)
	txn.DestinationAccountID = sqlToUUIDPtr(destID)
	if idempotencyKey.Valid {
		txn.IdempotencyKey = &idempotencyKey.String
	}
	if reference.Valid {
		txn.Reference = &reference.String
	}
	return txn, nil
}

func scanEndpoint(row rowScanner) (domain.WebhookEndpoint, error) {
	var ep domain.WebhookEndpoint
	var eventsJSON string
	var isActive int
	var createdAt string
	if err := row.Scan(&ep.ID, &ep.URL, &ep.Secret, &eventsJSON, &isActive, &createdAt); err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("sqlite: scan endpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(eventsJSON), &ep.Events); err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("sqlite: unmarshal events: %w", err)
	}
	ep.IsActive = isActive != 0
	var err error
	ep.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.WebhookEndpoint{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	return ep, nil
}

func scanWebhookEvent(row rowScanner) (domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	var status, payload, createdAt string
	var lastError, processedAt sql.NullString
	if err := row.Scan(&ev.ID, &ev.EndpointID, &ev.EventType, &payload, &status, &ev.Attempts, &lastError, &createdAt, &processedAt); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("sqlite: scan webhook event: %w", err)
	}
	ev.Status = domain.WebhookStatus(status)
	ev.Payload = json.RawMessage(payload)
	if lastError.Valid {
		ev.LastError = &lastError.String
	}
	var err error
	ev.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if processedAt.Valid {
		t, err := time.Parse(timeLayout, processedAt.String)
		if err != nil {
			return domain.WebhookEvent{}, fmt.Errorf("sqlite: parse processed_at: %w", err)
		}
		ev.ProcessedAt = &t
	}
	return ev, nil
}

func scanAPIKey(row rowScanner) (domain.ApiKey, error) {
	var k domain.ApiKey
	var accountID, lastUsedAt sql.NullString
	var isActive int
	var createdAt string
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &accountID, &isActive, &createdAt, &lastUsedAt); err != nil {
		return domain.ApiKey{}, fmt.Errorf("sqlite: scan api key: %w", err)
	}
	k.IsActive = isActive != 0
	k.AccountID = sqlToUUIDPtr(accountID)
	var err error
	k.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.ApiKey{}, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := time.Parse(timeLayout, lastUsedAt.String)
		if err != nil {
			return domain.ApiKey{}, fmt.Errorf("sqlite: parse last_used_at: %w", err)
		}
		k.LastUsedAt = &t
	}
	return k, nil
}

func uuidPtrToSQL(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func sqlToUUIDPtr(s sql.NullString) *uuid.UUID {
	if !s.Valid {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}

func strPtrToSQL(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timePtrToSQL(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeLayout)
}

func nullableString(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
