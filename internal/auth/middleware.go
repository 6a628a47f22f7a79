package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/apollo-xwb/paysecure/internal/models"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// PrincipalContextKey is the key for storing the authenticated principal in context
	PrincipalContextKey contextKey = "principal"
)

// SessionValidator validates an access token against its live session
type SessionValidator interface {
	Validate(ctx context.Context, accessToken, audience, ip, device string) (*models.Principal, error)
}

// RequireSession validates the bearer token of every request for the given portal audience
// and injects the principal into the request context. Any failure is a 401.
func RequireSession(validator SessionValidator, audience string, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing or invalid authorization header")
				return
			}

			ip := pkghttp.ExtractClientIP(r, ipConfig)
			principal, err := validator.Validate(r.Context(), token, audience, ip, pkghttp.DeviceFingerprint(r))
			if err != nil {
				if IsAuthFailure(err) {
					pkghttp.WriteUnauthorized(w, "Session invalid, please sign in again")
					return
				}
				slog.ErrorContext(r.Context(), "session validation failed", "error", err)
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetPrincipalFromContext extracts the principal set by RequireSession
func GetPrincipalFromContext(r *http.Request) *models.Principal {
	principal, ok := r.Context().Value(PrincipalContextKey).(*models.Principal)
	if !ok {
		return nil
	}
	return principal
}

// RequireRole rejects principals whose current role differs from role. It must run after
// RequireSession, whose principal carries the role loaded from the account record.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r)
			if principal == nil || principal.Account == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}
			if principal.Account.Role != role {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsAuthFailure reports whether err is a credential, token or session problem (401)
// rather than an infrastructure failure.
func IsAuthFailure(err error) bool {
	return errors.Is(err, models.ErrInvalidCredentials) ||
		errors.Is(err, models.ErrAccountInactive) ||
		errors.Is(err, models.ErrTokenExpired) ||
		errors.Is(err, models.ErrTokenMalformed) ||
		errors.Is(err, models.ErrTokenWrongAudience) ||
		errors.Is(err, models.ErrSessionNotFound) ||
		errors.Is(err, models.ErrSessionExpired)
}
