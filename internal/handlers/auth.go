package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/apollo-xwb/paysecure/internal/services"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
)

const maxBodyBytes = 16 << 10

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken, audience, ip, device string) (*services.AuthResult, error)
	LogoutTokens(ctx context.Context, accessToken, refreshToken, audience string) error
	LogoutAll(ctx context.Context, accountID, exceptSessionID string) (int64, error)
	ActiveSessions(ctx context.Context, accountID, currentSessionID string) ([]models.SessionView, error)
}

// AuthHandler serves the authentication endpoints of one portal
type AuthHandler struct {
	service  AuthServiceInterface
	audience string
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthHandler creates an AuthHandler for the portal identified by audience
func NewAuthHandler(service AuthServiceInterface, audience string, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		audience: audience,
		ipConfig: ipConfig,
		cookies:  cookies,
		logger:   logger,
		now:      time.Now,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	LoginKey string `json:"login_key" validate:"required,max=254"`
	Secret   string `json:"secret" validate:"required,max=128"`
}

// RefreshTokenRequest represents the request body for refresh and logout.
// The token may instead arrive in the refresh cookie.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=4096"`
}

// LogoutAllResponse reports how many sessions a logout-all revoked
type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

// SessionsResponse lists the caller's active sessions
type SessionsResponse struct {
	Sessions []models.SessionView `json:"sessions"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// a token already held by the client marks a session to regenerate
	prior, _ := auth.BearerToken(r)

	result, err := h.service.Login(r.Context(), services.LoginInput{
		LoginKey:         strings.TrimSpace(req.LoginKey),
		Secret:           req.Secret,
		IPAddress:        pkghttp.ExtractClientIP(r, h.ipConfig),
		Device:           pkghttp.DeviceFingerprint(r),
		Audience:         h.audience,
		PriorAccessToken: prior,
	})
	if err != nil {
		h.writeAuthError(w, r, err, "Invalid login key or secret")
		return
	}

	auth.SetRefreshTokenCookie(w, result.RefreshToken, result.RefreshExpiresAt, h.now(), h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Refresh token required")
		return
	}

	result, err := h.service.Refresh(r.Context(), token, h.audience, pkghttp.ExtractClientIP(r, h.ipConfig), pkghttp.DeviceFingerprint(r))
	if err != nil {
		if auth.IsAuthFailure(err) {
			auth.ClearRefreshTokenCookie(w, h.cookies)
		}
		h.writeAuthError(w, r, err, "Session invalid, please sign in again")
		return
	}

	auth.SetRefreshTokenCookie(w, result.RefreshToken, result.RefreshExpiresAt, h.now(), h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Logout handles POST /auth/logout. It succeeds whether or not a live session was found.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refresh, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	access, _ := auth.BearerToken(r)

	if err := h.service.LogoutTokens(r.Context(), access, refresh, h.audience); err != nil {
		h.logger.ErrorContext(r.Context(), "logout failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// LogoutAll handles POST /auth/logout-all. The calling session survives.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipalFromContext(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	n, err := h.service.LogoutAll(r.Context(), principal.Account.ID, principal.SessionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "logout-all failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LogoutAllResponse{Revoked: n})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipalFromContext(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, principal.Account)
}

// Sessions handles GET /sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipalFromContext(r)
	if principal == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.ActiveSessions(r.Context(), principal.Account.ID, principal.SessionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list sessions", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// refreshToken reads the refresh token from the body, falling back to the cookie.
// It writes a 400 and returns false on a malformed body.
func (h *AuthHandler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req RefreshTokenRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return "", false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return "", false
	}

	if token := strings.TrimSpace(req.RefreshToken); token != "" {
		return token, true
	}
	token, _ := auth.GetRefreshTokenCookie(r)
	return token, true
}

// writeAuthError maps service errors to responses. Every credential, token and session
// failure is the same generic 401 so callers learn nothing about which check failed.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var locked *models.AccountLockedError
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, "Account temporarily locked", locked.RetryAfter)
	case auth.IsAuthFailure(err):
		pkghttp.WriteUnauthorized(w, message)
	default:
		h.logger.ErrorContext(r.Context(), "authentication request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
