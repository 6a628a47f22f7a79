package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/handlers"
	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/apollo-xwb/paysecure/internal/services"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(svc handlers.AuthServiceInterface) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, auth.AudienceCustomer, pkghttp.NewIPConfig(nil), auth.CookieConfig{Path: "/customer/auth"}, nil)
}

func sampleResult() *services.AuthResult {
	now := time.Now()
	return &services.AuthResult{
		AccessToken:      "access_token_123",
		RefreshToken:     "refresh_token_123",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
		Account:          &models.AccountView{ID: "acc-id", LoginKey: "acc-1", Class: models.AccountClassCustomer},
		SessionID:        "sess-1",
	}
}

func refreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			return c
		}
	}
	return nil
}

func TestLogin_Success(t *testing.T) {
	var got services.LoginInput
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
			got = in
			return sampleResult(), nil
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/customer/auth/login", handlers.LoginRequest{
		LoginKey: "  acc-1 ",
		Secret:   "s3cret",
	})
	req.Header.Set("User-Agent", "portal-test")
	w := httptest.NewRecorder()
	newHandler(mockAuth).Login(w, req)

	var resp map[string]any
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp["access_token"])
	assert.NotContains(t, resp, "SessionID")

	assert.Equal(t, "acc-1", got.LoginKey)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, "203.0.113.7", got.IPAddress)
	assert.Equal(t, auth.AudienceCustomer, got.Audience)
	assert.NotEmpty(t, got.Device)
	assert.Empty(t, got.PriorAccessToken)

	cookie := refreshCookie(w)
	require.NotNil(t, cookie)
	assert.Equal(t, "refresh_token_123", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
}

func TestLogin_PassesPriorAccessToken(t *testing.T) {
	var got services.LoginInput
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
			got = in
			return sampleResult(), nil
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/customer/auth/login", handlers.LoginRequest{LoginKey: "acc-1", Secret: "s3cret"})
	req.Header.Set("Authorization", "Bearer old-access")
	newHandler(mockAuth).Login(httptest.NewRecorder(), req)

	assert.Equal(t, "old-access", got.PriorAccessToken)
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"invalid credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{"inactive account", models.ErrAccountInactive, http.StatusUnauthorized, "unauthorized"},
		{"locked", models.NewAccountLockedError(time.Now().Add(90*time.Second), time.Now()), http.StatusLocked, "account_locked"},
		{"store failure", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
					return nil, tt.err
				},
			}
			req := handlers.NewTestRequest(t, http.MethodPost, "/customer/auth/login", handlers.LoginRequest{LoginKey: "acc-1", Secret: "wrong"})
			w := httptest.NewRecorder()
			newHandler(mockAuth).Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
			assert.Nil(t, refreshCookie(w))
		})
	}
}

func TestLogin_LockedSetsRetryAfter(t *testing.T) {
	now := time.Now()
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
			return nil, models.NewAccountLockedError(now.Add(90*time.Second), now)
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/customer/auth/login", handlers.LoginRequest{LoginKey: "acc-1", Secret: "x"})
	w := httptest.NewRecorder()
	newHandler(mockAuth).Login(w, req)

	assert.Equal(t, "90", w.Header().Get("Retry-After"))
}

func TestLogin_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing secret", `{"login_key":"acc-1"}`},
		{"unknown field", `{"login_key":"acc-1","secret":"x","admin":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
					called = true
					return sampleResult(), nil
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/customer/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			newHandler(mockAuth).Login(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
			assert.False(t, called)
		})
	}
}

func TestRefresh_FromBody(t *testing.T) {
	var gotToken string
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken, audience, ip, device string) (*services.AuthResult, error) {
			gotToken = refreshToken
			assert.Equal(t, auth.AudienceCustomer, audience)
			assert.Equal(t, "203.0.113.7", ip)
			return sampleResult(), nil
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/customer/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "from-body"})
	w := httptest.NewRecorder()
	newHandler(mockAuth).Refresh(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, "from-body", gotToken)
	require.NotNil(t, refreshCookie(w))
}

func TestRefresh_FromCookie(t *testing.T) {
	var gotToken string
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken, audience, ip, device string) (*services.AuthResult, error) {
			gotToken = refreshToken
			return sampleResult(), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/customer/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "from-cookie"})
	w := httptest.NewRecorder()
	newHandler(mockAuth).Refresh(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-cookie", gotToken)
}

func TestRefresh_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/customer/auth/refresh", nil)
	w := httptest.NewRecorder()
	newHandler(&handlers.MockAuthService{}).Refresh(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestRefresh_RejectedClearsCookie(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken, audience, ip, device string) (*services.AuthResult, error) {
			return nil, models.ErrSessionNotFound
		},
	}

	req := handlers.NewTestRequest(t, http.MethodPost, "/customer/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "spent"})
	w := httptest.NewRecorder()
	newHandler(mockAuth).Refresh(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
	cookie := refreshCookie(w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestLogout(t *testing.T) {
	var gotAccess, gotRefresh string
	mockAuth := &handlers.MockAuthService{
		LogoutTokensFunc: func(ctx context.Context, accessToken, refreshToken, audience string) error {
			gotAccess, gotRefresh = accessToken, refreshToken
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/customer/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer access-1")
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "refresh-1"})
	w := httptest.NewRecorder()
	newHandler(mockAuth).Logout(w, req)

	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, "access-1", gotAccess)
	assert.Equal(t, "refresh-1", gotRefresh)
	require.NotNil(t, refreshCookie(w))
	assert.Empty(t, refreshCookie(w).Value)
}

func TestLogout_NoTokensStillSucceeds(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/customer/auth/logout", nil)
	w := httptest.NewRecorder()
	newHandler(&handlers.MockAuthService{}).Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogout_StoreFailure(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LogoutTokensFunc: func(ctx context.Context, accessToken, refreshToken, audience string) error {
			return models.ErrInternalServer
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/customer/auth/logout", nil)
	w := httptest.NewRecorder()
	newHandler(mockAuth).Logout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

func TestLogoutAll_KeepsCallingSession(t *testing.T) {
	var gotAccount, gotExcept string
	mockAuth := &handlers.MockAuthService{
		LogoutAllFunc: func(ctx context.Context, accountID, exceptSessionID string) (int64, error) {
			gotAccount, gotExcept = accountID, exceptSessionID
			return 2, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/customer/auth/logout-all", nil)
	req = handlers.WithPrincipal(req, "acc-id", "sess-1", auth.AudienceCustomer)
	w := httptest.NewRecorder()
	newHandler(mockAuth).LogoutAll(w, req)

	var resp handlers.LogoutAllResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(2), resp.Revoked)
	assert.Equal(t, "acc-id", gotAccount)
	assert.Equal(t, "sess-1", gotExcept)
}

func TestProtectedEndpoints_RequirePrincipal(t *testing.T) {
	h := newHandler(&handlers.MockAuthService{})

	for name, fn := range map[string]http.HandlerFunc{
		"logout-all": h.LogoutAll,
		"me":         h.Me,
		"sessions":   h.Sessions,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestSessions(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ActiveSessionsFunc: func(ctx context.Context, accountID, currentSessionID string) ([]models.SessionView, error) {
			return []models.SessionView{
				{ID: "sess-0"},
				{ID: currentSessionID, Current: true},
			}, nil
		},
	}

	req := handlers.WithPrincipal(httptest.NewRequest(http.MethodGet, "/customer/sessions", nil), "acc-id", "sess-1", auth.AudienceCustomer)
	w := httptest.NewRecorder()
	newHandler(mockAuth).Sessions(w, req)

	var resp handlers.SessionsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Sessions, 2)
	assert.True(t, resp.Sessions[1].Current)
}
