package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apollo-xwb/paysecure/internal/metrics"
	"github.com/apollo-xwb/paysecure/internal/models"
	pkgauth "github.com/apollo-xwb/paysecure/pkg/auth"
	pkglogger "github.com/apollo-xwb/paysecure/pkg/logger"
)

// DefaultMaxActiveSessions is the per-account concurrent session limit
const DefaultMaxActiveSessions = 3

// SessionRepository defines the persistence operations on sessions.
// Deactivate, UpdateTokens and Touch must be conditional single-row updates.
type SessionRepository interface {
	Insert(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Session, error)
	Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error)
	DeactivateAllForAccount(ctx context.Context, accountID, exceptID, reason string, at time.Time) (int64, error)
	UpdateTokens(ctx context.Context, s *models.Session, oldRefresh string) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionManager owns session records and the concurrent session limit
type SessionManager struct {
	repo    SessionRepository
	limit   int
	audit   *pkglogger.AuditLogger
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewSessionManager(repo SessionRepository, limit int, logger *slog.Logger, audit *pkglogger.AuditLogger, m *metrics.Metrics) *SessionManager {
	if limit < 1 {
		limit = DefaultMaxActiveSessions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		repo:    repo,
		limit:   limit,
		audit:   audit,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Create stores a bound session for a freshly issued pair. Sessions over the limit are
// evicted oldest activity first, and the limit is checked again after the insert
// in case a concurrent login raced this one.
func (m *SessionManager) Create(ctx context.Context, session *models.Session, pair *models.TokenPair) (*models.Session, error) {
	if session.ID == "" || session.AccountID == "" {
		return nil, fmt.Errorf("session id and account id are required")
	}
	if pair.AccessExpiresAt.After(pair.RefreshExpiresAt) {
		return nil, fmt.Errorf("access token outlives refresh token")
	}

	now := m.now()
	session.AccessTokenFingerprint = pkgauth.TokenFingerprint(pair.AccessToken)
	session.RefreshTokenFingerprint = pkgauth.TokenFingerprint(pair.RefreshToken)
	session.IssuedAt = now
	session.AccessExpiresAt = pair.AccessExpiresAt
	session.RefreshExpiresAt = pair.RefreshExpiresAt
	session.Active = true
	session.LastActivityAt = now

	active, err := m.repo.ListActiveByAccount(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}
	if excess := len(active) - (m.limit - 1); excess > 0 {
		if err := m.evict(ctx, active[:excess], now); err != nil {
			return nil, err
		}
	}

	if err := m.repo.Insert(ctx, session); err != nil {
		return nil, err
	}

	if err := m.enforceLimit(ctx, session); err != nil {
		return nil, err
	}

	m.audit.LogSessionEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventSessionCreated,
		AccountID: session.AccountID,
		SessionID: session.ID,
		IPAddress: session.IPAddress,
		Success:   true,
	})
	return session, nil
}

// enforceLimit re-reads the active set and evicts the oldest sessions other than keep
func (m *SessionManager) enforceLimit(ctx context.Context, keep *models.Session) error {
	active, err := m.repo.ListActiveByAccount(ctx, keep.AccountID)
	if err != nil {
		return fmt.Errorf("failed to recount active sessions: %w", err)
	}
	excess := len(active) - m.limit
	if excess <= 0 {
		return nil
	}

	victims := make([]*models.Session, 0, excess)
	for _, s := range active {
		if len(victims) == excess {
			break
		}
		if s.ID != keep.ID {
			victims = append(victims, s)
		}
	}
	m.logger.Warn("session limit exceeded after insert, evicting",
		slog.String("account_id", keep.AccountID),
		slog.Int("excess", excess),
	)
	return m.evict(ctx, victims, m.now())
}

func (m *SessionManager) evict(ctx context.Context, victims []*models.Session, at time.Time) error {
	for _, v := range victims {
		changed, err := m.repo.Deactivate(ctx, v.ID, models.RevokeReasonEvicted, at)
		if err != nil {
			return fmt.Errorf("failed to evict session: %w", err)
		}
		if !changed {
			continue
		}
		m.metrics.Revoked(models.RevokeReasonEvicted, 1)
		m.audit.LogSessionEvent(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventSessionEvicted,
			AccountID: v.AccountID,
			SessionID: v.ID,
			Success:   true,
		})
	}
	return nil
}

// FindActive returns an active, unexpired session. An expired session is deactivated on sight.
func (m *SessionManager) FindActive(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active {
		return nil, models.ErrSessionNotFound
	}

	now := m.now()
	if session.IsExpired(now) {
		if _, err := m.repo.Deactivate(ctx, session.ID, models.RevokeReasonExpired, now); err != nil {
			m.logger.Warn("failed to deactivate expired session", slog.String("session_id", session.ID), slog.Any("error", err))
		}
		return nil, models.ErrSessionExpired
	}
	return session, nil
}

// FindActiveByRefresh returns the active session whose current refresh token is refreshToken
func (m *SessionManager) FindActiveByRefresh(ctx context.Context, sessionID, refreshToken string) (*models.Session, error) {
	session, err := m.FindActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !pkgauth.FingerprintMatches(refreshToken, session.RefreshTokenFingerprint) {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

// ListActive returns the active sessions of an account, least recently active first
func (m *SessionManager) ListActive(ctx context.Context, accountID string) ([]*models.Session, error) {
	sessions, err := m.repo.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	now := m.now()
	live := sessions[:0]
	for _, s := range sessions {
		if !s.IsExpired(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

// Revoke deactivates a session. Revoking an unknown or inactive session is a no-op.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, reason string) error {
	changed, err := m.repo.Deactivate(ctx, sessionID, reason, m.now())
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if changed {
		m.metrics.Revoked(reason, 1)
	}
	return nil
}

// RevokeAllForAccount deactivates every active session of the account except exceptSessionID
func (m *SessionManager) RevokeAllForAccount(ctx context.Context, accountID, exceptSessionID, reason string) (int64, error) {
	n, err := m.repo.DeactivateAllForAccount(ctx, accountID, exceptSessionID, reason, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	m.metrics.Revoked(reason, int(n))
	return n, nil
}

// Touch records activity on a validated request
func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	if err := m.repo.Touch(ctx, sessionID, m.now()); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Rotate replaces the token fingerprints and expiries of session in place.
// It succeeds only if oldRefreshToken is still the session's current refresh token.
func (m *SessionManager) Rotate(ctx context.Context, session *models.Session, oldRefreshToken string, pair *models.TokenPair) (*models.Session, error) {
	if pair.AccessExpiresAt.After(pair.RefreshExpiresAt) {
		return nil, fmt.Errorf("access token outlives refresh token")
	}

	updated := *session
	updated.AccessTokenFingerprint = pkgauth.TokenFingerprint(pair.AccessToken)
	updated.RefreshTokenFingerprint = pkgauth.TokenFingerprint(pair.RefreshToken)
	updated.AccessExpiresAt = pair.AccessExpiresAt
	updated.RefreshExpiresAt = pair.RefreshExpiresAt
	updated.LastActivityAt = m.now()

	ok, err := m.repo.UpdateTokens(ctx, &updated, pkgauth.TokenFingerprint(oldRefreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return &updated, nil
}

// Regenerate retires old and creates fresh in its place, giving the account a new
// session identity on login
func (m *SessionManager) Regenerate(ctx context.Context, old, fresh *models.Session, pair *models.TokenPair) (*models.Session, error) {
	if old.AccountID != fresh.AccountID {
		return nil, fmt.Errorf("cannot regenerate a session across accounts")
	}
	if err := m.Revoke(ctx, old.ID, models.RevokeReasonRegenerated); err != nil {
		return nil, err
	}

	created, err := m.Create(ctx, fresh, pair)
	if err != nil {
		return nil, err
	}

	m.audit.LogSessionEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventSessionRegenerate,
		AccountID: fresh.AccountID,
		SessionID: fresh.ID,
		Success:   true,
		Metadata:  map[string]string{"previous_session_id": old.ID},
	})
	return created, nil
}

// SweepExpired deactivates sessions whose refresh window has closed
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeactivateExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	m.metrics.Revoked(models.RevokeReasonExpired, int(n))
	return n, nil
}
