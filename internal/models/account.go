package models

import "time"

// AccountClass separates the two portals. Each class has its own token audience and lockout duration.
type AccountClass string

const (
	AccountClassCustomer AccountClass = "customer"
	AccountClassEmployee AccountClass = "employee"
)

// RoleAdmin is the employee role allowed to read security monitoring data.
const RoleAdmin = "admin"

// Valid reports whether c is a known account class.
func (c AccountClass) Valid() bool {
	return c == AccountClassCustomer || c == AccountClassEmployee
}

// Account holds identity and credential state.
type Account struct {
	ID                 string
	LoginKey           string
	CredentialHash     string // bcrypt hash; never serialized
	Class              AccountClass
	Role               string
	DisplayName        string
	FailedAttemptCount int
	LockedUntil        *time.Time // nil when unlocked; a past value means implicitly unlocked
	Active             bool
	LastLoginAt        *time.Time
	LastLoginIP        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AccountView is the outward representation of an account. It never carries credential or lockout state.
type AccountView struct {
	ID          string       `json:"id"`
	LoginKey    string       `json:"login_key"`
	DisplayName string       `json:"display_name"`
	Role        string       `json:"role"`
	Class       AccountClass `json:"class"`
	LastLoginAt *time.Time   `json:"last_login_at,omitempty"`
}

// View returns the minimal account view.
func (a *Account) View() *AccountView {
	return &AccountView{
		ID:          a.ID,
		LoginKey:    a.LoginKey,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		Class:       a.Class,
		LastLoginAt: a.LastLoginAt,
	}
}

// Claims returns the attributes embedded into access tokens.
func (a *Account) Claims() AccountClaims {
	return AccountClaims{
		AccountID:   a.ID,
		Role:        a.Role,
		Class:       a.Class,
		DisplayName: a.DisplayName,
	}
}
