// Package authgate extracts a bearer credential from incoming requests,
// verifies it against internal/security, and attaches the resulting
// domain.Principal to the request context. Grounded on
// gorilla/mux router (cmd/api/main.go, internal/api/handlers.go) — the
// corpus has no bearer-auth example, so the middleware chaining itself
// follows gorilla/mux's standard router.Use(func(http.Handler) http.Handler)
// shape rather than any one example file.
package authgate

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerflow/ledgercore/internal/apperr"
	"github.com/ledgerflow/ledgercore/internal/domain"
	"github.com/ledgerflow/ledgercore/internal/metrics"
	"github.com/ledgerflow/ledgercore/internal/ratelimit"
	"github.com/ledgerflow/ledgercore/internal/repository"
	"github.com/ledgerflow/ledgercore/internal/security"
)

type principalKey struct{}

// Gate authenticates requests and enforces the per-principal rate limit.
// Both health and bootstrap routes are registered outside its chain, since
// neither can assume a caller already holds an API key.
type Gate struct {
	credentials *security.Store
	limiter     *ratelimit.Limiter
	writeJSON   func(w http.ResponseWriter, status int, body any)
}

// New returns a Gate. writeJSON lets the HTTP layer control response
// encoding without this package importing it back.
func New(credentials *security.Store, limiter *ratelimit.Limiter, writeJSON func(http.ResponseWriter, int, any)) *Gate {
	return &Gate{credentials: credentials, limiter: limiter, writeJSON: writeJSON}
}

// Middleware wraps next, rejecting requests with no or invalid bearer
// credential (401), then consulting the rate limiter keyed by the
// resolved principal's api_key_id (429 on throttle).
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			g.reject(w, apperr.Unauthenticated("missing or malformed Authorization header"))
			return
		}

		key, err := g.credentials.Verify(r.Context(), raw)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				g.reject(w, apperr.Unauthenticated("invalid or inactive API key"))
				return
			}
			g.reject(w, apperr.Internal(err))
			return
		}

		result := g.limiter.Allow(key.ID, time.Now().UTC())
		if !result.Allowed {
			metrics.RateLimitThrottledTotal.WithLabelValues(r.URL.Path).Inc()
			g.rejectRateLimited(w, result.RetryAfterSeconds)
			return
		}

		principal := domain.Principal{APIKeyID: key.ID, AccountID: key.AccountID}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the Principal attached by Middleware, if any.
func FromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

func (g *Gate) reject(w http.ResponseWriter, err *apperr.Error) {
	g.writeJSON(w, statusFor(err.Kind), map[string]string{"error": err.Message})
}

func (g *Gate) rejectRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	g.writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "rate limit exceeded",
		"retry_after_seconds": retryAfter,
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
