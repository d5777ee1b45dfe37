// Package memory is an in-process fake repository.Repository used by unit
// tests for internal/ledger, internal/webhookworker and internal/httpapi so
// they can exercise real transactional semantics (locking, idempotency,
// outbox enqueue) without a database. Grounded on tests
// relying on a live Postgres; this repository exists because the corpus has
// no equivalent in-memory fake, so its shape follows repository.Repository
// directly rather than any one example file.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

// Repo is a goroutine-safe, all-in-memory repository.Repository. A single
// mutex stands in for the row lock a real database would take; Begin holds
// it until Commit or Rollback, so concurrent transactions serialize exactly
// the way a single-writer SQLite engine would. Writes made through a Tx
// apply immediately; Rollback releases the lock but does not undo them.
type Repo struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	idempotency  map[string]uuid.UUID
	endpoints    map[uuid.UUID]domain.WebhookEndpoint
	events       map[uuid.UUID]domain.WebhookEvent
	apiKeys      map[uuid.UUID]domain.ApiKey
}

// New returns an empty in-memory repository.
func New() *Repo {
	return &Repo{
		accounts:     make(map[uuid.UUID]domain.Account),
		transactions: make(map[uuid.UUID]domain.Transaction),
		idempotency:  make(map[string]uuid.UUID),
		endpoints:    make(map[uuid.UUID]domain.WebhookEndpoint),
		events:       make(map[uuid.UUID]domain.WebhookEvent),
		apiKeys:      make(map[uuid.UUID]domain.ApiKey),
	}
}

func (r *Repo) Close() {}

func (r *Repo) Begin(ctx context.Context) (repository.Tx, error) {
	r.mu.Lock()
	return &memTx{repo: r}, nil
}

type memTx struct {
	repo *Repo
	done bool
}

func (t *memTx) SelectAccountForUpdate(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	acc, ok := t.repo.accounts[id]
	if !ok {
		return domain.Account{}, repository.ErrNotFound
	}
	return acc, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, id uuid.UUID, newBalance int64) error {
	acc, ok := t.repo.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	acc.Balance = newBalance
	t.repo.accounts[id] = acc
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	if txn.IdempotencyKey != nil {
		if _, exists := t.repo.idempotency[*txn.IdempotencyKey]; exists {
			return repository.ErrDuplicateIdempotencyKey
		}
	}
	t.repo.transactions[txn.ID] = txn
	if txn.IdempotencyKey != nil {
		t.repo.idempotency[*txn.IdempotencyKey] = txn.ID
	}
	return nil
}

func (t *memTx) FindTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error) {
	id, ok := t.repo.idempotency[key]
	if !ok {
		return domain.Transaction{}, repository.ErrNotFound
	}
	return t.repo.transactions[id], nil
}

func (t *memTx) ListActiveEndpointsForEvent(ctx context.Context, eventType string) ([]domain.WebhookEndpoint, error) {
	var out []domain.WebhookEndpoint
	for _, ep := range t.repo.endpoints {
		if ep.SubscribedTo(eventType) {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) EnqueueWebhookEvent(ctx context.Context, event domain.WebhookEvent) error {
	event.Status = domain.WebhookPending
	t.repo.events[event.ID] = event
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.mu.Unlock()
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
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.ID] = acc
	return acc, nil
}

func (r *Repo) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, repository.ErrNotFound
	}
	return acc, nil
}

func (r *Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Repo) ListTransactionsForAccount(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, txn := range r.transactions {
		if txn.InvolvesAccount(id) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
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
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = ep
	return ep, nil
}

func (r *Repo) ListWebhookEndpoints(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WebhookEndpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Repo) GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (domain.WebhookEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return domain.WebhookEndpoint{}, repository.ErrNotFound
	}
	return ep, nil
}

func (r *Repo) DeactivateWebhookEndpoint(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return repository.ErrNotFound
	}
	ep.IsActive = false
	r.endpoints[id] = ep
	return nil
}

func (r *Repo) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []domain.WebhookEvent
	for _, ev := range r.events {
		if ev.Status != domain.WebhookPending {
			continue
		}
		if ev.NextAttemptAt != nil && ev.NextAttemptAt.After(now) {
			continue
		}
		candidates = append(candidates, ev)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	for i := range candidates {
		candidates[i].Status = domain.WebhookProcessing
		candidates[i].ClaimedAt = &now
		r.events[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (r *Repo) MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	ev.Status = domain.WebhookDelivered
	ev.ProcessedAt = &now
	ev.LastError = nil
	r.events[id] = ev
	return nil
}

func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, attempts int, nextAttemptAt *time.Time, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	ev.Attempts = attempts
	ev.LastError = &lastErr
	ev.NextAttemptAt = nextAttemptAt
	if terminal {
		ev.Status = domain.WebhookFailed
		now := time.Now().UTC()
		ev.ProcessedAt = &now
	} else {
		ev.Status = domain.WebhookPending
	}
	r.events[id] = ev
	return nil
}

// RecoverStuckProcessing resets rows left PROCESSING past olderThan back to
// PENDING — the startup recovery pass for workers that crashed mid-delivery.
// Filters on ClaimedAt (set fresh by every ClaimBatch call), not CreatedAt,
// since CreatedAt never changes across retries and would misclassify an
// old-but-recently-reclaimed row as stuck.
func (r *Repo) RecoverStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, ev := range r.events {
		if ev.Status == domain.WebhookProcessing && ev.ClaimedAt != nil && ev.ClaimedAt.Before(olderThan) {
			ev.Status = domain.WebhookPending
			r.events[id] = ev
			n++
		}
	}
	return n, nil
}

func (r *Repo) CountPendingWebhookEvents(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ev := range r.events {
		if ev.Status == domain.WebhookPending {
			n++
		}
	}
	return n, nil
}

func (r *Repo) InsertAPIKey(ctx context.Context, key domain.ApiKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.apiKeys {
		if existing.KeyHash == key.KeyHash {
			return repository.ErrConflict
		}
	}
	r.apiKeys[key.ID] = key
	return nil
}

func (r *Repo) FindAPIKeyByHash(ctx context.Context, keyHash string) (domain.ApiKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.apiKeys {
		if k.KeyHash == keyHash {
			return k, nil
		}
	}
	return domain.ApiKey{}, repository.ErrNotFound
}

func (r *Repo) CountActiveAPIKeys(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, k := range r.apiKeys {
		if k.IsActive {
			n++
		}
	}
	return n, nil
}

func (r *Repo) TouchLastUsed(ctx context.Context, id uuid.UUID, when time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.apiKeys[id]
	if !ok {
		return repository.ErrNotFound
	}
	k.LastUsedAt = &when
	r.apiKeys[id] = k
	return nil
}

func (r *Repo) InsertAPIKeyIfNoneActive(ctx context.Context, key domain.ApiKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.apiKeys {
		if k.IsActive {
			return false, nil
		}
	}
	r.apiKeys[key.ID] = key
	return true, nil
}
