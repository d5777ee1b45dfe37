package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account is a named balance in a single currency. Balance is mutated only
// by the ledger service, and only ever moves through deposit/withdraw/
// transfer transactions; accounts are never deleted.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Balance   int64     `json:"balance"`
	Currency  Currency  `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAccount constructs a zero-balance account, validating name and currency.
func NewAccount(name string, currency Currency) (Account, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Account{}, ErrEmptyAccountName
	}
	if !currency.Valid() {
		return Account{}, ErrInvalidCurrency
	}
	return Account{
		ID:        uuid.New(),
		Name:      trimmed,
		Balance:   0,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}, nil
}
