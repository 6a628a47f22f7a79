package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audiences for the two portals. A token minted for one never validates for the other.
const (
	AudienceCustomer = "customer-portal"
	AudienceEmployee = "employee-portal"
)

// AudienceForClass maps an account class to the audience of its portal
func AudienceForClass(class models.AccountClass) string {
	if class == models.AccountClassEmployee {
		return AudienceEmployee
	}
	return AudienceCustomer
}

// TokenManager issues and verifies HS256 access and refresh tokens
type TokenManager struct {
	secret             []byte
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager. The signing key is injected; nothing is read from the environment.
func NewTokenManager(secret, issuer string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		issuer:             issuer,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.now = now
	return tm
}

// Issue creates a new access/refresh pair bound to sessionID
func (tm *TokenManager) Issue(account models.AccountClaims, sessionID string) (*models.TokenPair, error) {
	if account.AccountID == "" || sessionID == "" {
		return nil, fmt.Errorf("account id and session id are required")
	}

	now := tm.now()
	audience := AudienceForClass(account.Class)
	accessExpiresAt := now.Add(tm.accessTokenExpiry)
	refreshExpiresAt := now.Add(tm.refreshTokenExpiry)

	accessToken, err := tm.sign(&models.TokenClaims{
		Type:             models.TokenTypeAccess,
		AccountID:        account.AccountID,
		SessionID:        sessionID,
		Role:             account.Role,
		Class:            account.Class,
		DisplayName:      account.DisplayName,
		RegisteredClaims: tm.registered(account.AccountID, audience, now, accessExpiresAt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := tm.sign(&models.TokenClaims{
		Type:             models.TokenTypeRefresh,
		AccountID:        account.AccountID,
		SessionID:        sessionID,
		RegisteredClaims: tm.registered(account.AccountID, audience, now, refreshExpiresAt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Verify checks signature, expiry, issuer, audience and token type.
// Errors are one of ErrTokenExpired, ErrTokenWrongAudience or ErrTokenMalformed.
func (tm *TokenManager) Verify(tokenString, expectedAudience, expectedType string) (*models.TokenClaims, error) {
	if tokenString == "" {
		return nil, models.ErrTokenMalformed
	}

	claims := &models.TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(expectedAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	if claims.Type != expectedType || claims.AccountID == "" || claims.SessionID == "" {
		return nil, models.ErrTokenMalformed
	}

	return claims, nil
}

// Rotate issues a brand-new pair for the session named in a verified refresh token.
// The caller updates the session record in place with the new fingerprints.
func (tm *TokenManager) Rotate(refreshClaims *models.TokenClaims, account models.AccountClaims) (*models.TokenPair, error) {
	if refreshClaims == nil || refreshClaims.Type != models.TokenTypeRefresh {
		return nil, models.ErrTokenMalformed
	}
	if refreshClaims.AccountID != account.AccountID {
		return nil, models.ErrTokenMalformed
	}
	return tm.Issue(account, refreshClaims.SessionID)
}

func (tm *TokenManager) registered(subject, audience string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Issuer:    tm.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
}

func (tm *TokenManager) sign(claims *models.TokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// classifyParseError maps jwt errors onto the token error taxonomy.
// Audience is checked first so a cross-portal token is reported as such even when expired.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return models.ErrTokenWrongAudience
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.ErrTokenExpired
	default:
		return models.ErrTokenMalformed
	}
}
