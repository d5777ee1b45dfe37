package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction identifies which shape of money movement a Transaction records.
type Direction string

const (
	Deposit    Direction = "DEPOSIT"
	Withdrawal Direction = "WITHDRAWAL"
	Transfer   Direction = "TRANSFER"
)

// Transaction is an immutable record of one money movement. Invariants:
// DEPOSIT has a destination and no source; WITHDRAWAL has a source and no
// destination; TRANSFER has both, distinct, sharing currency.
type Transaction struct {
	ID                    uuid.UUID  `json:"id"`
	Direction             Direction  `json:"direction"`
	Amount                int64      `json:"amount"`
	Currency              Currency   `json:"currency"`
	SourceAccountID       *uuid.UUID `json:"source_account_id,omitempty"`
	DestinationAccountID  *uuid.UUID `json:"destination_account_id,omitempty"`
	IdempotencyKey        *string    `json:"idempotency_key,omitempty"`
	Reference             *string    `json:"reference,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// NewDeposit builds a DEPOSIT transaction. It does not validate amount or
// currency format — callers (internal/ledger) are expected to have already
// checked those against the locked account.
func NewDeposit(destination uuid.UUID, amount int64, currency Currency, idempotencyKey, reference *string) Transaction {
	return Transaction{
		ID:                   uuid.New(),
		Direction:            Deposit,
		Amount:               amount,
		Currency:             currency,
		DestinationAccountID: &destination,
		IdempotencyKey:       idempotencyKey,
		Reference:            reference,
		CreatedAt:            time.Now().UTC(),
	}
}

// NewWithdrawal builds a WITHDRAWAL transaction.
func NewWithdrawal(source uuid.UUID, amount int64, currency Currency, idempotencyKey, reference *string) Transaction {
	return Transaction{
		ID:              uuid.New(),
		Direction:       Withdrawal,
		Amount:          amount,
		Currency:        currency,
		SourceAccountID: &source,
		IdempotencyKey:  idempotencyKey,
		Reference:       reference,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewTransfer builds a TRANSFER transaction. from must differ from to;
// callers validate that upstream (ledger.Transfer rejects self-transfers
// before any locks are taken).
func NewTransfer(from, to uuid.UUID, amount int64, currency Currency, idempotencyKey, reference *string) Transaction {
	return Transaction{
		ID:                   uuid.New(),
		Direction:            Transfer,
		Amount:               amount,
		Currency:             currency,
		SourceAccountID:      &from,
		DestinationAccountID: &to,
		IdempotencyKey:       idempotencyKey,
		Reference:            reference,
		CreatedAt:            time.Now().UTC(),
	}
}

// InvolvesAccount reports whether id appears as source or destination.
func (t Transaction) InvolvesAccount(id uuid.UUID) bool {
	if t.SourceAccountID != nil && *t.SourceAccountID == id {
		return true
	}
	if t.DestinationAccountID != nil && *t.DestinationAccountID == id {
		return true
	}
	return false
}
