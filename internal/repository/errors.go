package repository

import "errors"

// Sentinel errors every adapter (postgres, sqlite, memory) must return for
// the corresponding condition, so internal/ledger and internal/security
// can branch on them with errors.Is regardless of which engine is active.
// Grounded on store.ErrConflict/store.ErrAccountNotFound
// plus original_source/payments-types/src/error.rs's RepoError variants.
var (
	ErrNotFound                = errors.New("repository: not found")
	ErrDuplicateIdempotencyKey = errors.New("repository: duplicate idempotency key")
	ErrConflict                = errors.New("repository: conflict")

	// ErrSerializationFailure means the transaction lost a conflict with a
	// concurrent writer (Postgres 40001/40P01, SQLite "database is
	// locked") and must be retried from scratch, not surfaced to the
	// caller. internal/ledger.withTx retries a bounded number of times.
	ErrSerializationFailure = errors.New("repository: serialization failure")
)
