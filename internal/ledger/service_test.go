package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/internal/apperr"
	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
	"github.com/ledgerflow/ledgercore/internal/repository/memory"
)

// flakyBeginRepo fails the first failCount calls to Begin with
// ErrSerializationFailure before delegating, simulating a transaction
// that keeps losing a write-write conflict.
type flakyBeginRepo struct {
	repository.Repository
	failCount int
	calls     int
}

func (r *flakyBeginRepo) Begin(ctx context.Context) (repository.Tx, error) {
	r.calls++
	if r.calls <= r.failCount {
		return nil, repository.ErrSerializationFailure
	}
	return r.Repository.Begin(ctx)
}

func newTestService() *Service {
	return New(memory.New(), 5*time.Second)
}

func TestDepositIncreasesBalance(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "alice", "USD")
	require.NoError(t, err)

	txn, err := svc.Deposit(ctx, acc.ID, 10000, "USD", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Deposit, txn.Direction)

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.Balance)
}

func TestTransferConservesMoney(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)
	b, err := svc.CreateAccount(ctx, "b", "USD")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, a.ID, 10000, "USD", nil, nil)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, a.ID, b.ID, 2000, "USD", nil, nil)
	require.NoError(t, err)

	gotA, err := svc.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := svc.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), gotA.Balance)
	assert.Equal(t, int64(2000), gotB.Balance)
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, acc.ID, 10000, "USD", nil, nil)
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, acc.ID, 99999, "USD", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.Balance, "balance must be unchanged after a rejected withdrawal")
}

func TestIdempotentDepositReplaysFirstResult(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, acc.ID, 6500, "USD", nil, nil)
	require.NoError(t, err)

	key := "k1"
	first, err := svc.Deposit(ctx, acc.ID, 500, "USD", &key, nil)
	require.NoError(t, err)

	second, err := svc.Deposit(ctx, acc.ID, 500, "USD", &key, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.Balance, "replay must not apply the deposit twice")
}

func TestCrossCurrencyTransferRejected(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	eur, err := svc.CreateAccount(ctx, "eur-acct", "EUR")
	require.NoError(t, err)
	usd, err := svc.CreateAccount(ctx, "usd-acct", "USD")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, eur.ID, 10000, "EUR", nil, nil)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, eur.ID, usd.ID, 1000, "EUR", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidationFailed, apperr.KindOf(err))

	gotEUR, err := svc.GetAccount(ctx, eur.ID)
	require.NoError(t, err)
	gotUSD, err := svc.GetAccount(ctx, usd.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), gotEUR.Balance)
	assert.Equal(t, int64(0), gotUSD.Balance)
}

func TestSelfTransferRejected(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, acc.ID, acc.ID, 100, "USD", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidationFailed, apperr.KindOf(err))
}

func TestTransferLockOrderIsSymmetric(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)
	b, err := svc.CreateAccount(ctx, "b", "USD")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, a.ID, 5000, "USD", nil, nil)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, b.ID, 5000, "USD", nil, nil)
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, a.ID, b.ID, 1000, "USD", nil, nil)
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, b.ID, a.ID, 1000, "USD", nil, nil)
	require.NoError(t, err)

	gotA, err := svc.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := svc.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), gotA.Balance)
	assert.Equal(t, int64(5000), gotB.Balance)
}

func TestDepositEnqueuesWebhookForSubscribedEndpoint(t *testing.T) {
	repo := memory.New()
	svc := New(repo, 5*time.Second)
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)
	_, err = repo.RegisterWebhookEndpoint(ctx, "https://example.com/hook", "secret", []string{"deposit.success"})
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, acc.ID, 1000, "USD", nil, nil)
	require.NoError(t, err)

	claimed, err := repo.ClaimBatch(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "deposit.success", claimed[0].EventType)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, acc.ID, 0, "USD", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidationFailed, apperr.KindOf(err))

	_, err = svc.Deposit(ctx, acc.ID, -5, "USD", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidationFailed, apperr.KindOf(err))
}

func TestDepositRetriesOnSerializationFailureThenSucceeds(t *testing.T) {
	base := memory.New()
	svc := New(base, 5*time.Second)
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)

	flaky := &flakyBeginRepo{Repository: base, failCount: maxSerializationRetries - 1}
	retrySvc := New(flaky, 5*time.Second)

	txn, err := retrySvc.Deposit(ctx, acc.ID, 1000, "USD", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Deposit, txn.Direction)
	assert.Equal(t, maxSerializationRetries, flaky.calls)

	got, err := svc.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)
}

func TestDepositGivesUpAfterExhaustingSerializationRetries(t *testing.T) {
	base := memory.New()
	svc := New(base, 5*time.Second)
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "a", "USD")
	require.NoError(t, err)

	flaky := &flakyBeginRepo{Repository: base, failCount: maxSerializationRetries + 5}
	retrySvc := New(flaky, 5*time.Second)

	_, err = retrySvc.Deposit(ctx, acc.ID, 1000, "USD", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, maxSerializationRetries, flaky.calls)
}
