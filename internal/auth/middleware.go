package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HanTheDev/embedding-service/internal/models"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Middleware authenticates requests with a Bearer token and stores the
// resolved identity in the request context.
type Middleware struct {
	validator *Validator
}

func NewMiddleware(validator *Validator) *Middleware {
	return &Middleware{validator: validator}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, http.StatusUnauthorized, "invalid_api_key", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeAuthError(w, http.StatusUnauthorized, "invalid_api_key", "Authorization header must be 'Bearer <token>'")
			return
		}

		identity, err := m.validator.Validate(r.Context(), parts[1])
		if err != nil {
			status, kind := ClassifyError(err)
			writeAuthError(w, status, kind, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext returns the identity stored by Authenticate.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*models.Identity)
	return identity, ok
}

// ContextWithIdentity injects an identity directly; used by handler tests.
func ContextWithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// ClassifyError maps an authentication error to an HTTP status and a
// stable machine-readable kind.
func ClassifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformed):
		return http.StatusUnauthorized, "malformed_token"
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, ErrExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, ErrRevoked):
		return http.StatusUnauthorized, "key_revoked"
	case errors.Is(err, ErrNotFound):
		return http.StatusUnauthorized, "key_not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusUnauthorized, "invalid_api_key"
	}
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": message,
	})
}
