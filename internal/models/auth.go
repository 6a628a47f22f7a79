package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the JWT claim set for both token types. Refresh tokens omit role and display fields.
type TokenClaims struct {
	Type        string       `json:"type"`
	AccountID   string       `json:"account_id"`
	SessionID   string       `json:"sid"`
	Role        string       `json:"role,omitempty"`
	Class       AccountClass `json:"class,omitempty"`
	DisplayName string       `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// AccountClaims are the account attributes embedded into an access token.
type AccountClaims struct {
	AccountID   string
	Role        string
	Class       AccountClass
	DisplayName string
}

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Principal is the authenticated identity attached to a validated request.
type Principal struct {
	Account   *AccountView
	SessionID string
	Audience  string
}
