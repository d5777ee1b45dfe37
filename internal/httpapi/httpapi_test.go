package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/internal/authgate"
	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/ledger"
	"github.com/ledgerflow/ledgercore/internal/ratelimit"
	"github.com/ledgerflow/ledgercore/internal/repository/memory"
	"github.com/ledgerflow/ledgercore/internal/security"
	"github.com/ledgerflow/ledgercore/internal/webhookreg"
)

func newTestRouter(t *testing.T) (http.Handler, string) {
	repo := memory.New()
	credentials := security.New(repo)
	ledgerSvc := ledger.New(repo, 5*time.Second)
	webhooks := webhookreg.New(repo)

	bootstrapped, err := credentials.Bootstrap(context.Background(), "test")
	require.NoError(t, err)

	handlers := New(ledgerSvc, credentials, webhooks)
	limiter := ratelimit.New(100, time.Minute)
	gate := authgate.New(credentials, limiter, writeJSON)

	return NewRouter(handlers, gate), bootstrapped.RawKey
}

func doJSON(t *testing.T, router http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsUnauthenticated(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrapOnlyOnce(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/bootstrap", "", map[string]string{"name": "again"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAccountRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/accounts", "", map[string]string{"name": "A", "currency": "USD"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccountLifecycleAndDeposit(t *testing.T) {
	router, key := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/accounts", key, map[string]string{"name": "Alice", "currency": "USD"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var acc domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, int64(0), acc.Balance)

	depositReq := map[string]any{
		"account_id": acc.ID.String(),
		"amount":     10000,
		"currency":   "USD",
	}
	rec = doJSON(t, router, http.MethodPost, "/api/transactions/deposit", key, depositReq)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/accounts/"+acc.ID.String(), key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, int64(10000), acc.Balance)
}

func TestTransferConservesMoney(t *testing.T) {
	router, key := newTestRouter(t)

	recA := doJSON(t, router, http.MethodPost, "/api/accounts", key, map[string]string{"name": "A", "currency": "USD"})
	var accA domain.Account
	require.NoError(t, json.Unmarshal(recA.Body.Bytes(), &accA))
	recB := doJSON(t, router, http.MethodPost, "/api/accounts", key, map[string]string{"name": "B", "currency": "USD"})
	var accB domain.Account
	require.NoError(t, json.Unmarshal(recB.Body.Bytes(), &accB))

	doJSON(t, router, http.MethodPost, "/api/transactions/deposit", key, map[string]any{
		"account_id": accA.ID.String(), "amount": 10000, "currency": "USD",
	})

	rec := doJSON(t, router, http.MethodPost, "/api/transactions/transfer", key, map[string]any{
		"from_account_id": accA.ID.String(), "to_account_id": accB.ID.String(), "amount": 2000, "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/accounts/"+accA.ID.String(), key, nil)
	json.Unmarshal(rec.Body.Bytes(), &accA)
	rec = doJSON(t, router, http.MethodGet, "/api/accounts/"+accB.ID.String(), key, nil)
	json.Unmarshal(rec.Body.Bytes(), &accB)

	assert.Equal(t, int64(8000), accA.Balance)
	assert.Equal(t, int64(2000), accB.Balance)
}

func TestWithdrawInsufficientFundsReturnsBadRequest(t *testing.T) {
	router, key := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/accounts", key, map[string]string{"name": "A", "currency": "USD"})
	var acc domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))

	rec = doJSON(t, router, http.MethodPost, "/api/transactions/withdraw", key, map[string]any{
		"account_id": acc.ID.String(), "amount": 99999, "currency": "USD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndListWebhooks(t *testing.T) {
	router, key := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/webhooks", key, map[string]any{
		"url": "http://127.0.0.1:9999/hook", "events": []string{"deposit.success"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created["secret"])

	rec = doJSON(t, router, http.MethodGet, "/api/webhooks", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created["secret"])
}
