package domain

import "errors"

// Domain-level validation errors. These are translated to apperr.Kind at
// the service boundary; domain code itself stays free of HTTP concerns,
// matching original_source/payments-types's layering (DomainError is
// distinct from AppError).
var (
	ErrEmptyAccountName  = errors.New("account name cannot be empty")
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to the same account")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrAmountOverflow    = errors.New("amount overflows the account balance")
	ErrInvalidDirection  = errors.New("invalid transaction direction for given accounts")
)
