package models

import "time"

// Reasons recorded when a session is deactivated
const (
	RevokeReasonLogout      = "logout"
	RevokeReasonLogoutAll   = "logout_all"
	RevokeReasonEvicted     = "evicted"
	RevokeReasonIPMismatch  = "ip_mismatch"
	RevokeReasonExpired     = "expired"
	RevokeReasonRegenerated = "regenerated"
	RevokeReasonInactive    = "account_inactive"
)

// Session is one authenticated session and its current token-pair generation.
// Sessions are never deleted; deactivation keeps the row for the audit trail.
type Session struct {
	ID                      string
	AccountID               string
	AccessTokenFingerprint  string
	RefreshTokenFingerprint string
	IPAddress               string
	DeviceFingerprint       string
	IssuedAt                time.Time
	AccessExpiresAt         time.Time
	RefreshExpiresAt        time.Time
	Active                  bool
	LastActivityAt          time.Time
	RevokedAt               *time.Time
	RevokedReason           string
}

// IsExpired reports whether the refresh window of the session has closed.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.RefreshExpiresAt)
}

// SessionView is the client-facing summary of an active session.
type SessionView struct {
	ID               string    `json:"id"`
	IPAddress        string    `json:"ip_address"`
	IssuedAt         time.Time `json:"issued_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	RefreshExpiresAt time.Time `json:"expires_at"`
	Current          bool      `json:"current"`
	DeviceChanges    int64     `json:"device_changes"`
}

// View summarizes the session. current marks the session making the request.
func (s *Session) View(currentID string) SessionView {
	return SessionView{
		ID:               s.ID,
		IPAddress:        s.IPAddress,
		IssuedAt:         s.IssuedAt,
		LastActivityAt:   s.LastActivityAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		Current:          s.ID == currentID,
	}
}
