// Package security implements API key hashing/verification and webhook
// HMAC signing. Grounded directly on
// original_source/payments-repo/src/security.rs's hash_api_key/
// verify_api_key/sign_webhook/verify_webhook_signature, translated from
// sha2/hmac/subtle crates to the Go standard library equivalents
// (crypto/sha256, crypto/hmac, crypto/subtle) — no third-party crypto
// library appears anywhere in the example corpus, and Go's standard library
// already covers every primitive the Rust original reached for crates to
// get.
package security

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

const keyByteLength = 32

// HashAPIKey returns the hex-encoded SHA-256 digest of raw. Grounded on
// security.rs's hash_api_key (Sha256::digest + hex::encode).
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether raw hashes to storedHash, comparing in
// constant time per security.rs's verify_api_key (ct_eq).
func VerifyAPIKey(raw, storedHash string) bool {
	candidate := HashAPIKey(raw)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

// SignWebhook returns the hex-encoded HMAC-SHA256 of payload keyed by
// secret, matching security.rs's sign_webhook exactly (same algorithm, same
// encoding) so a client verifying against either implementation gets the
// same signature.
func SignWebhook(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature is the correct
// SignWebhook output for payload and secret, comparing in constant time.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	expected := SignWebhook(payload, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// generateRawKey returns a cryptographically random, hex-encoded bearer
// token. Raw key material is returned to the caller exactly once, at
// issuance — only its hash is ever persisted.
func generateRawKey() (string, error) {
	buf := make([]byte, keyByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: generate key: %w", err)
	}
	return "sk_live_" + hex.EncodeToString(buf), nil
}

// Store issues, verifies and bootstraps API keys against a
// repository.Repository. Grounded on security.rs's free functions, wrapped
// in a small service the way internal/ledger wraps the repository port.
type Store struct {
	repo repository.Repository
}

// New returns a Store backed by repo.
func New(repo repository.Repository) *Store {
	return &Store{repo: repo}
}

// IssueResult carries the one-time raw key alongside the persisted record.
type IssueResult struct {
	Key    domain.ApiKey
	RawKey string
}

// Issue mints a new API key, optionally scoped to accountID, and persists
// only its hash.
func (s *Store) Issue(ctx context.Context, name string, accountID *uuid.UUID) (IssueResult, error) {
	raw, err := generateRawKey()
	if err != nil {
		return IssueResult{}, err
	}
	key := domain.ApiKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   HashAPIKey(raw),
		AccountID: accountID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertAPIKey(ctx, key); err != nil {
		return IssueResult{}, err
	}
	return IssueResult{Key: key, RawKey: raw}, nil
}

// Verify looks up raw's hash and returns the matching active ApiKey, or
// repository.ErrNotFound if no active key matches. It also touches
// last_used_at, matching security.rs's verification path being the same
// call site that would record activity in a real deployment. The touch is
// best-effort: a transient write failure must never turn a valid credential
// into a rejected one, so it is fired off in its own goroutine rather than
// blocking the verify decision on it.
func (s *Store) Verify(ctx context.Context, raw string) (domain.ApiKey, error) {
	hash := HashAPIKey(raw)
	key, err := s.repo.FindAPIKeyByHash(ctx, hash)
	if err != nil {
		return domain.ApiKey{}, err
	}
	if !key.IsActive {
		return domain.ApiKey{}, repository.ErrNotFound
	}
	if !VerifyAPIKey(raw, key.KeyHash) {
		return domain.ApiKey{}, repository.ErrNotFound
	}
	now := time.Now().UTC()
	go s.touchLastUsed(key.ID, now)
	key.LastUsedAt = &now
	return key, nil
}

// touchLastUsed records activity for keyID without the caller waiting on
// it. Runs detached from the request context, which may already be
// cancelled by the time this executes.
func (s *Store) touchLastUsed(keyID uuid.UUID, now time.Time) {
	if err := s.repo.TouchLastUsed(context.Background(), keyID, now); err != nil {
		slog.Default().Warn("security: touch last_used_at failed", "key_id", keyID, "error", err)
	}
}

// Bootstrap issues the first API key for a fresh deployment, but only if no
// active key exists yet, delegating the count-check-and-insert atomicity
// to the repository adapter's InsertAPIKeyIfNoneActive.
func (s *Store) Bootstrap(ctx context.Context, name string) (*IssueResult, error) {
	raw, err := generateRawKey()
	if err != nil {
		return nil, err
	}
	key := domain.ApiKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   HashAPIKey(raw),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := s.repo.InsertAPIKeyIfNoneActive(ctx, key)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return &IssueResult{Key: key, RawKey: raw}, nil
}
