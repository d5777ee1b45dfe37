package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ledgerflow/ledgercore/internal/apperr"
	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/ledger"
	"github.com/ledgerflow/ledgercore/internal/security"
	"github.com/ledgerflow/ledgercore/internal/webhookreg"
)

// Handlers holds the application services the HTTP layer dispatches into.
// Grounded on api.Handler (store + service fields), extended
// with the credential store and webhook registry this spec adds.
type Handlers struct {
	ledger      *ledger.Service
	credentials *security.Store
	webhooks    *webhookreg.Registry
}

// New returns a Handlers bound to the given application services.
func New(ledgerSvc *ledger.Service, credentials *security.Store, webhooks *webhookreg.Registry) *Handlers {
	return &Handlers{ledger: ledgerSvc, credentials: credentials, webhooks: webhooks}
}

// Health implements GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Bootstrap implements POST /api/bootstrap: issues the first API key for a
// fresh deployment, or 403 Forbidden once any key already exists (spec
// §4.2, §6).
func (h *Handlers) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed JSON body"))
		return
	}
	if req.Name == "" {
		req.Name = "bootstrap"
	}

	result, err := h.credentials.Bootstrap(r.Context(), req.Name)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if result == nil {
		writeError(w, apperr.Forbidden("an API key has already been bootstrapped"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"api_key": result.RawKey,
		"message": "store this key now — it will not be shown again",
	})
}

// CreateAccount implements POST /api/accounts.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Currency string `json:"currency"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed JSON body"))
		return
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, apperr.Validation("%s", err.Error()))
		return
	}
	acc, err := h.ledger.CreateAccount(r.Context(), req.Name, currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// ListAccounts implements GET /api/accounts.
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetAccount implements GET /api/accounts/{id}.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	acc, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListAccountTransactions implements GET /api/accounts/{id}/transactions.
func (h *Handlers) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, offset := paginationParams(r)
	txns, err := h.ledger.ListTransactionsForAccount(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

type transactionRequest struct {
	AccountID      string  `json:"account_id"`
	FromAccountID  string  `json:"from_account_id"`
	ToAccountID    string  `json:"to_account_id"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
	Reference      *string `json:"reference,omitempty"`
}

// Deposit implements POST /api/transactions/deposit.
func (h *Handlers) Deposit(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed JSON body"))
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, apperr.Validation("invalid account_id"))
		return
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, apperr.Validation("%s", err.Error()))
		return
	}
	txn, err := h.ledger.Deposit(r.Context(), accountID, req.Amount, currency, req.IdempotencyKey, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Withdraw implements POST /api/transactions/withdraw.
func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed JSON body"))
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, apperr.Validation("invalid account_id"))
		return
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, apperr.Validation("%s", err.Error()))
		return
	}
	txn, err := h.ledger.Withdraw(r.Context(), accountID, req.Amount, currency, req.IdempotencyKey, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// Transfer implements POST /api/transactions/transfer.
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed JSON body"))
		return
	}
	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		writeError(w, apperr.Validation("invalid from_account_id"))
		return
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		writeError(w, apperr.Validation("invalid to_account_id"))
		return
	}
	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, apperr.Validation("%s", err.Error()))
		return
	}
	txn, err := h.ledger.Transfer(r.Context(), fromID, toID, req.Amount, currency, req.IdempotencyKey, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// RegisterWebhook implements POST /api/webhooks.
func (h *Handlers) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed JSON body"))
		return
	}
	result, err := h.webhooks.Register(r.Context(), req.URL, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     result.Endpoint.ID,
		"url":    result.Endpoint.URL,
		"secret": result.Secret,
		"events": result.Endpoint.Events,
	})
}

// ListWebhooks implements GET /api/webhooks. Secrets are never echoed back
// (domain.WebhookEndpoint.Secret carries a json:"-" tag).
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.webhooks.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, apperr.Validation("invalid %s: %q is not a valid uuid", name, raw)
	}
	return id, nil
}

func paginationParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = queryInt(q.Get("limit"), 0)
	offset = queryInt(q.Get("offset"), 0)
	return limit, offset
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
