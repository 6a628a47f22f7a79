package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/apollo-xwb/paysecure/internal/services"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:40000"
	return req
}

// WithPrincipal attaches an authenticated principal the way RequireSession does
func WithPrincipal(req *http.Request, accountID, sessionID, audience string) *http.Request {
	principal := &models.Principal{
		Account:   &models.AccountView{ID: accountID},
		SessionID: sessionID,
		Audience:  audience,
	}
	ctx := context.WithValue(req.Context(), auth.PrincipalContextKey, principal)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	RefreshFunc        func(ctx context.Context, refreshToken, audience, ip, device string) (*services.AuthResult, error)
	LogoutTokensFunc   func(ctx context.Context, accessToken, refreshToken, audience string) error
	LogoutAllFunc      func(ctx context.Context, accountID, exceptSessionID string) (int64, error)
	ActiveSessionsFunc func(ctx context.Context, accountID, currentSessionID string) ([]models.SessionView, error)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken, audience, ip, device string) (*services.AuthResult, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrSessionNotFound
	}
	return m.RefreshFunc(ctx, refreshToken, audience, ip, device)
}

func (m *MockAuthService) LogoutTokens(ctx context.Context, accessToken, refreshToken, audience string) error {
	if m.LogoutTokensFunc == nil {
		return nil
	}
	return m.LogoutTokensFunc(ctx, accessToken, refreshToken, audience)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, accountID, exceptSessionID string) (int64, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, accountID, exceptSessionID)
}

func (m *MockAuthService) ActiveSessions(ctx context.Context, accountID, currentSessionID string) ([]models.SessionView, error) {
	if m.ActiveSessionsFunc == nil {
		return []models.SessionView{}, nil
	}
	return m.ActiveSessionsFunc(ctx, accountID, currentSessionID)
}

// MockAnomalyFeed implements AnomalyFeed for testing
type MockAnomalyFeed struct {
	RecentFunc func(ctx context.Context, limit int64) ([]auth.DeviceAnomaly, error)
}

func (m *MockAnomalyFeed) Recent(ctx context.Context, limit int64) ([]auth.DeviceAnomaly, error) {
	if m.RecentFunc == nil {
		return []auth.DeviceAnomaly{}, nil
	}
	return m.RecentFunc(ctx, limit)
}
