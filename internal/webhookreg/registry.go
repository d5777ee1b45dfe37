// Package webhookreg implements webhook endpoint CRUD. Grounded on
// original_source/payments-repo/src/postgres.rs's
// register_webhook_endpoint/list_webhook_endpoints, wrapped the way
// internal/security wraps credential operations around the repository
// port.
package webhookreg

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/ledgerflow/ledgercore/internal/apperr"
	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/repository"
)

const secretByteLength = 32

// Registry issues and manages webhook endpoints.
type Registry struct {
	repo repository.Repository
}

// New returns a Registry backed by repo.
func New(repo repository.Repository) *Registry {
	return &Registry{repo: repo}
}

// RegisterResult carries the endpoint and its secret, which — like an API
// key's raw value — is only ever returned at creation time.
type RegisterResult struct {
	Endpoint domain.WebhookEndpoint
	Secret   string
}

// Register validates rawURL is absolute http(s) and events is non-empty,
// mints a secret, and persists the endpoint.
func (r *Registry) Register(ctx context.Context, rawURL string, events []string) (RegisterResult, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return RegisterResult{}, apperr.Validation("%s", err.Error())
	}
	if len(events) == 0 {
		return RegisterResult{}, apperr.Validation("at least one event type is required")
	}

	secret, err := generateSecret()
	if err != nil {
		return RegisterResult{}, apperr.Internal(err)
	}

	ep, err := r.repo.RegisterWebhookEndpoint(ctx, rawURL, secret, events)
	if err != nil {
		return RegisterResult{}, apperr.Internal(err)
	}
	return RegisterResult{Endpoint: ep, Secret: secret}, nil
}

// List returns every registered endpoint. Secrets are write-once and never
// echoed back (domain.WebhookEndpoint.Secret carries a json:"-" tag).
func (r *Registry) List(ctx context.Context) ([]domain.WebhookEndpoint, error) {
	endpoints, err := r.repo.ListWebhookEndpoints(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return endpoints, nil
}

// Deactivate soft-deletes an endpoint; no hard delete is offered.
func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.DeactivateWebhookEndpoint(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("webhook endpoint %s", id)
		}
		return apperr.Internal(err)
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url must be an absolute http or https url")
	}
	return nil
}

// generateSecret mints >=32 bytes of crypto/rand entropy, hex-encoded, for
// use as the endpoint's HMAC signing secret.
func generateSecret() (string, error) {
	buf := make([]byte, secretByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("webhookreg: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
