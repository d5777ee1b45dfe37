// Package ledger implements the atomic deposit/withdraw/transfer
// operations at the heart of the system. Grounded on
// internal/service/transfer.go (ProcessTransfer: tx begin, idempotency
// check/reservation, deterministic lock ordering, balance mutation,
// commit) and on original_source/payments-hex/src/service.rs's
// PaymentService (validate → repo call → enqueue webhook, all generalized
// to deposit/withdraw in addition to transfer).
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/ledgercore/internal/apperr"
	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/metrics"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

// Service is the ledger application service.
type Service struct {
	repo      repository.Repository
	opTimeout time.Duration
}

// New returns a Service backed by repo. opTimeout bounds every operation's
// database work; callers that don't care can pass 0 and get a 5s default.
func New(repo repository.Repository, opTimeout time.Duration) *Service {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Service{repo: repo, opTimeout: opTimeout}
}

// CreateAccount validates and persists a new zero-balance account.
func (s *Service) CreateAccount(ctx context.Context, name string, currency domain.Currency) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	acc, err := s.repo.CreateAccount(ctx, name, currency)
	if err != nil {
		return domain.Account{}, translateDomainErr(err)
	}
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	acc, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, translateRepoErr(err, "account %s", id)
	}
	return acc, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return accounts, nil
}

func (s *Service) ListTransactionsForAccount(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	txns, err := s.repo.ListTransactionsForAccount(ctx, id, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return txns, nil
}

// Deposit credits accountID by amount and records a DEPOSIT transaction.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, currency domain.Currency, idempotencyKey, reference *string) (domain.Transaction, error) {
	if !domain.AmountPositive(amount) {
		return domain.Transaction{}, apperr.Validation("amount must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	txn, err := s.withTx(ctx, idempotencyKey, func(tx repository.Tx) (domain.Transaction, error) {
		acc, err := tx.SelectAccountForUpdate(ctx, accountID)
		if err != nil {
			return domain.Transaction{}, translateRepoErr(err, "account %s", accountID)
		}
		if acc.Currency != currency {
			return domain.Transaction{}, apperr.Validation("currency mismatch: account is %s, request is %s", acc.Currency, currency)
		}
		newBalance, ok := domain.AddChecked(acc.Balance, amount)
		if !ok {
			return domain.Transaction{}, apperr.Validation("deposit would overflow account balance")
		}

		newTxn := domain.NewDeposit(accountID, amount, currency, idempotencyKey, reference)
		if err := s.persistAndMutate(ctx, tx, newTxn, []balanceUpdate{{accountID, newBalance}}, "deposit.success"); err != nil {
			return domain.Transaction{}, err
		}
		return newTxn, nil
	})
	recordOutcome("deposit", err)
	return txn, err
}

// Withdraw debits accountID by amount and records a WITHDRAWAL transaction.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, currency domain.Currency, idempotencyKey, reference *string) (domain.Transaction, error) {
	if !domain.AmountPositive(amount) {
		return domain.Transaction{}, apperr.Validation("amount must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	txn, err := s.withTx(ctx, idempotencyKey, func(tx repository.Tx) (domain.Transaction, error) {
		acc, err := tx.SelectAccountForUpdate(ctx, accountID)
		if err != nil {
			return domain.Transaction{}, translateRepoErr(err, "account %s", accountID)
		}
		if acc.Currency != currency {
			return domain.Transaction{}, apperr.Validation("currency mismatch: account is %s, request is %s", acc.Currency, currency)
		}
		if acc.Balance < amount {
			return domain.Transaction{}, apperr.InsufficientFunds(acc.Balance, amount)
		}
		newBalance, ok := domain.AddChecked(acc.Balance, -amount)
		if !ok {
			return domain.Transaction{}, apperr.Validation("withdrawal would underflow account balance")
		}

		newTxn := domain.NewWithdrawal(accountID, amount, currency, idempotencyKey, reference)
		if err := s.persistAndMutate(ctx, tx, newTxn, []balanceUpdate{{accountID, newBalance}}, "withdraw.success"); err != nil {
			return domain.Transaction{}, err
		}
		return newTxn, nil
	})
	recordOutcome("withdraw", err)
	return txn, err
}

// Transfer moves amount from fromID to toID and records a single TRANSFER
// transaction, using deterministic lock ordering by account id to avoid
// the classic A↔B deadlock.
func (s *Service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, currency domain.Currency, idempotencyKey, reference *string) (domain.Transaction, error) {
	if fromID == toID {
		return domain.Transaction{}, apperr.Validation("cannot transfer to the same account")
	}
	if !domain.AmountPositive(amount) {
		return domain.Transaction{}, apperr.Validation("amount must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	first, second := fromID, toID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}

	txn, err := s.withTx(ctx, idempotencyKey, func(tx repository.Tx) (domain.Transaction, error) {
		accFirst, err := tx.SelectAccountForUpdate(ctx, first)
		if err != nil {
			return domain.Transaction{}, translateRepoErr(err, "account %s", first)
		}
		accSecond, err := tx.SelectAccountForUpdate(ctx, second)
		if err != nil {
			return domain.Transaction{}, translateRepoErr(err, "account %s", second)
		}

		from, to := accFirst, accSecond
		if first != fromID {
			from, to = accSecond, accFirst
		}

		if from.Currency != currency || to.Currency != currency {
			return domain.Transaction{}, apperr.Validation("currency mismatch: transfer requires both accounts in %s", currency)
		}
		if from.Balance < amount {
			return domain.Transaction{}, apperr.InsufficientFunds(from.Balance, amount)
		}
		newFromBalance, ok := domain.AddChecked(from.Balance, -amount)
		if !ok {
			return domain.Transaction{}, apperr.Validation("transfer would underflow source account balance")
		}
		newToBalance, ok := domain.AddChecked(to.Balance, amount)
		if !ok {
			return domain.Transaction{}, apperr.Validation("transfer would overflow destination account balance")
		}

		newTxn := domain.NewTransfer(fromID, toID, amount, currency, idempotencyKey, reference)
		updates := []balanceUpdate{{from.ID, newFromBalance}, {to.ID, newToBalance}}
		if err := s.persistAndMutate(ctx, tx, newTxn, updates, "transfer.success"); err != nil {
			return domain.Transaction{}, err
		}
		return newTxn, nil
	})
	recordOutcome("transfer", err)
	return txn, err
}

type balanceUpdate struct {
	accountID uuid.UUID
	balance   int64
}

// persistAndMutate inserts txn, applies every balance update, and enqueues
// one webhook_event per active endpoint subscribed to eventType — all
// inside the caller's Tx, so the outbox write can never observably diverge
// from the balance mutation that triggered it.
func (s *Service) persistAndMutate(ctx context.Context, tx repository.Tx, txn domain.Transaction, updates []balanceUpdate, eventType string) error {
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return err
	}
	for _, u := range updates {
		if err := tx.UpdateBalance(ctx, u.accountID, u.balance); err != nil {
			return apperr.Internal(err)
		}
	}
	return s.enqueueWebhooks(ctx, tx, txn, eventType)
}

func (s *Service) enqueueWebhooks(ctx context.Context, tx repository.Tx, txn domain.Transaction, eventType string) error {
	endpoints, err := tx.ListActiveEndpointsForEvent(ctx, eventType)
	if err != nil {
		return apperr.Internal(err)
	}
	for _, ep := range endpoints {
		payload, err := json.Marshal(eventPayload{
			Event:       eventType,
			Transaction: txn,
			OccurredAt:  time.Now().UTC(),
		})
		if err != nil {
			return apperr.Internal(err)
		}
		event := domain.NewWebhookEvent(ep.ID, eventType, payload)
		if err := tx.EnqueueWebhookEvent(ctx, event); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

type eventPayload struct {
	Event       string            `json:"event"`
	Transaction domain.Transaction `json:"transaction"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// maxSerializationRetries bounds how many attempts in all withTx makes at
// a transaction that keeps losing a write-write conflict against a
// concurrent transfer touching an overlapping pair of accounts (the first
// attempt included). Deterministic lock ordering keeps these conflicts
// rare rather than impossible, so a small bounded retry clears them
// without a caller ever seeing one.
const maxSerializationRetries = 3

// withTx runs op inside a fresh Tx, handling idempotency replay and the
// commit/rollback bookkeeping shared by deposit/withdraw/transfer. A
// transaction that fails with repository.ErrSerializationFailure is
// retried from scratch, for at most maxSerializationRetries attempts in all.
func (s *Service) withTx(ctx context.Context, idempotencyKey *string, op func(tx repository.Tx) (domain.Transaction, error)) (domain.Transaction, error) {
	var txn domain.Transaction
	var err error
	for attempt := 1; attempt <= maxSerializationRetries; attempt++ {
		txn, err = s.attemptTx(ctx, idempotencyKey, op)
		if err == nil || !errors.Is(err, repository.ErrSerializationFailure) {
			return txn, err
		}
	}
	return domain.Transaction{}, apperr.Internal(fmt.Errorf("ledger: lost a write conflict %d times in a row: %w", maxSerializationRetries, err))
}

// attemptTx is withTx's single-shot body: exactly one Begin/op/Commit
// attempt, with repository.ErrSerializationFailure returned unwrapped so
// withTx's retry loop can recognize it.
func (s *Service) attemptTx(ctx context.Context, idempotencyKey *string, op func(tx repository.Tx) (domain.Transaction, error)) (domain.Transaction, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrSerializationFailure) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, apperr.Internal(err)
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != nil {
		existing, err := tx.FindTransactionByIdempotencyKey(ctx, *idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !isNotFound(err) {
			return domain.Transaction{}, apperr.Internal(err)
		}
	}

	txn, err := op(tx)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) && idempotencyKey != nil {
			return s.findReplay(ctx, *idempotencyKey)
		}
		if errors.Is(err, repository.ErrSerializationFailure) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, repository.ErrSerializationFailure) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, apperr.Internal(err)
	}
	return txn, nil
}

// findReplay opens a fresh, read-only Tx to fetch the row a concurrent
// request already committed under idempotencyKey, for when this request
// lost a race against that concurrent replay.
func (s *Service) findReplay(ctx context.Context, idempotencyKey string) (domain.Transaction, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return domain.Transaction{}, apperr.Internal(err)
	}
	defer tx.Rollback(ctx)

	existing, err := tx.FindTransactionByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return domain.Transaction{}, apperr.Internal(err)
	}
	return existing, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

func translateRepoErr(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Internal(err)
}

func translateDomainErr(err error) error {
	if _, ok := err.(*apperr.Error); ok {
		return err
	}
	return apperr.Validation("%s", err.Error())
}

func recordOutcome(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.LedgerOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
