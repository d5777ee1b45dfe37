package domain

import (
	"time"

	"github.com/google/uuid"
)

// ApiKey is a bearer credential. The raw secret is never persisted — only
// its SHA-256 hash (KeyHash) is stored, and the raw string is returned to
// the caller exactly once, at issuance.
type ApiKey struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	AccountID  *uuid.UUID `json:"account_id,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Principal is the authenticated identity attached to a request's context
// by internal/authgate after a successful credential verification.
type Principal struct {
	APIKeyID  uuid.UUID
	AccountID *uuid.UUID
}
