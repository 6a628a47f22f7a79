package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/metrics"
	"github.com/apollo-xwb/paysecure/internal/models"
	pkglogger "github.com/apollo-xwb/paysecure/pkg/logger"
	"github.com/google/uuid"
)

// AuthService orchestrates login, validation, refresh and logout
type AuthService struct {
	credentials *CredentialService
	sessions    *SessionManager
	tokens      *auth.TokenManager
	binder      *auth.SessionBinder
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewAuthService creates a new AuthService. timing and m may be nil.
func NewAuthService(
	credentials *CredentialService,
	sessions *SessionManager,
	tokens *auth.TokenManager,
	binder *auth.SessionBinder,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		binder:      binder,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		now:         time.Now,
	}
}

// LoginInput carries one login request
type LoginInput struct {
	LoginKey  string
	Secret    string
	IPAddress string
	Device    string
	Audience  string
	// PriorAccessToken is an access token the client already held, if any.
	// A live session behind it is replaced rather than kept.
	PriorAccessToken string
}

// AuthResult is returned by Login and Refresh
type AuthResult struct {
	AccessToken      string              `json:"access_token"`
	RefreshToken     string              `json:"refresh_token"`
	AccessExpiresAt  time.Time           `json:"access_expires_at"`
	RefreshExpiresAt time.Time           `json:"refresh_expires_at"`
	Account          *models.AccountView `json:"account,omitempty"`
	SessionID        string              `json:"-"`
}

func newAuthResult(pair *models.TokenPair, account *models.Account, sessionID string) *AuthResult {
	return &AuthResult{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Account:          account.View(),
		SessionID:        sessionID,
	}
}

// portalOf turns an audience into the short label used in metrics
func portalOf(audience string) string {
	return strings.TrimSuffix(audience, "-portal")
}

// Login authenticates an account for one portal and opens a bound session.
// Lockout transitions are persisted before the corresponding error is returned.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	start := time.Now()
	portal := portalOf(in.Audience)

	account, err := s.credentials.FindByLoginKey(ctx, in.LoginKey)
	if err == nil && auth.AudienceForClass(account.Class) != in.Audience {
		// an account of the other portal is indistinguishable from an unknown one
		account, err = nil, models.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.credentials.BurnVerification(in.Secret)
			s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventLoginFailed,
				IPAddress:     in.IPAddress,
				FailureReason: "invalid_credentials",
				Metadata:      map[string]string{"login_key": pkglogger.MaskLoginKey(strings.TrimSpace(in.LoginKey))},
			})
			return nil, s.fail(ctx, start, portal, metrics.OutcomeInvalidCredentials, models.ErrInvalidCredentials)
		}
		s.logger.Error("failed to look up account", slog.Any("error", err))
		return nil, s.fail(ctx, start, portal, metrics.OutcomeError, fmt.Errorf("%w: %v", models.ErrInternalServer, err))
	}

	now := s.now()
	if err := s.credentials.Policy().Gate(account, now); err != nil {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginWhileLocked,
			AccountID:     account.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "account_locked",
		})
		return nil, s.fail(ctx, start, portal, metrics.OutcomeLocked, err)
	}

	if !account.Active {
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginInactive,
			AccountID:     account.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "account_inactive",
		})
		return nil, s.fail(ctx, start, portal, metrics.OutcomeInactive, models.ErrAccountInactive)
	}

	if !s.credentials.VerifyAccount(account, in.Secret) {
		transition, err := s.credentials.RegisterFailure(ctx, account, now)
		if err != nil {
			s.logger.Error("failed to persist failed attempt", slog.String("account_id", account.ID), slog.Any("error", err))
			return nil, s.fail(ctx, start, portal, metrics.OutcomeError, fmt.Errorf("%w: %v", models.ErrInternalServer, err))
		}
		if transition.LockedUntil != nil && s.credentials.Policy().State(account, now) == auth.Unlocked {
			s.metrics.Lockout(string(account.Class))
			s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventAccountLocked,
				AccountID:     account.ID,
				IPAddress:     in.IPAddress,
				FailureReason: "threshold_reached",
				Metadata:      map[string]string{"locked_until": transition.LockedUntil.UTC().Format(time.RFC3339)},
			})
		}
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			AccountID:     account.ID,
			IPAddress:     in.IPAddress,
			FailureReason: "invalid_credentials",
			Metadata:      map[string]string{"failed_attempts": fmt.Sprint(transition.Count)},
		})
		return nil, s.fail(ctx, start, portal, metrics.OutcomeInvalidCredentials, models.ErrInvalidCredentials)
	}

	if err := s.credentials.ResetFailures(ctx, account.ID); err != nil {
		return nil, s.internal(ctx, portal, "failed to reset lockout state", err)
	}
	if err := s.credentials.RecordLogin(ctx, account.ID, in.IPAddress, now); err != nil {
		return nil, s.internal(ctx, portal, "failed to record login", err)
	}
	account.LastLoginAt = &now
	account.LastLoginIP = in.IPAddress

	result, err := s.openSession(ctx, account, in)
	if err != nil {
		return nil, s.internal(ctx, portal, "failed to open session", err)
	}

	s.metrics.Login(portal, metrics.OutcomeSuccess)
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		AccountID: account.ID,
		SessionID: result.SessionID,
		IPAddress: in.IPAddress,
		Success:   true,
	})
	return result, nil
}

// openSession issues a pair, binds a new session and stores it, replacing the
// client's prior session when one is presented
func (s *AuthService) openSession(ctx context.Context, account *models.Account, in LoginInput) (*AuthResult, error) {
	sessionID := uuid.New().String()
	pair, err := s.tokens.Issue(account.Claims(), sessionID)
	if err != nil {
		return nil, err
	}

	session := &models.Session{ID: sessionID, AccountID: account.ID}
	if err := s.binder.Bind(session, in.IPAddress, in.Device); err != nil {
		return nil, err
	}

	if prior := s.priorSession(ctx, in.PriorAccessToken, in.Audience, account.ID); prior != nil {
		_, err = s.sessions.Regenerate(ctx, prior, session, pair)
	} else {
		_, err = s.sessions.Create(ctx, session, pair)
	}
	if err != nil {
		return nil, err
	}

	return newAuthResult(pair, account, sessionID), nil
}

// priorSession resolves the live session behind a previously held access token.
// Tokens of another account or audience are ignored.
func (s *AuthService) priorSession(ctx context.Context, accessToken, audience, accountID string) *models.Session {
	if accessToken == "" {
		return nil
	}
	claims, err := s.tokens.Verify(accessToken, audience, models.TokenTypeAccess)
	if err != nil || claims.AccountID != accountID {
		return nil
	}
	session, err := s.sessions.FindActive(ctx, claims.SessionID)
	if err != nil || session.AccountID != accountID {
		return nil
	}
	return session
}

// Validate authenticates a request bearing an access token. The token must verify for
// audience, its session must be active and the request must come from the bound IP.
func (s *AuthService) Validate(ctx context.Context, accessToken, audience, ip, device string) (*models.Principal, error) {
	claims, err := s.tokens.Verify(accessToken, audience, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindActive(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.AccountID != claims.AccountID {
		return nil, models.ErrSessionNotFound
	}

	result, err := s.binder.Check(ctx, session, ip, device)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	if result.Mismatch == auth.MismatchDeviceChanged {
		s.metrics.DeviceChanged()
	}

	if err := s.sessions.Touch(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	account, err := s.activeAccount(ctx, session)
	if err != nil {
		return nil, err
	}

	return &models.Principal{
		Account:   account.View(),
		SessionID: session.ID,
		Audience:  audience,
	}, nil
}

// Refresh rotates the pair of the session named in refreshToken. The session record is
// updated in place; a refresh token that was already rotated no longer matches it.
// Access tokens issued before the rotation stay valid until their own expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, audience, ip, device string) (*AuthResult, error) {
	result, err := s.refresh(ctx, refreshToken, audience, ip, device)
	switch {
	case err == nil:
		s.metrics.Refresh(metrics.OutcomeSuccess)
	case auth.IsAuthFailure(err):
		s.metrics.Refresh(metrics.OutcomeInvalidCredentials)
	default:
		s.metrics.Refresh(metrics.OutcomeError)
	}
	return result, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken, audience, ip, device string) (*AuthResult, error) {
	claims, err := s.tokens.Verify(refreshToken, audience, models.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindActiveByRefresh(ctx, claims.SessionID, refreshToken)
	if err != nil {
		return nil, err
	}
	if session.AccountID != claims.AccountID {
		return nil, models.ErrSessionNotFound
	}

	if _, err := s.binder.Check(ctx, session, ip, device); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	account, err := s.activeAccount(ctx, session)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Rotate(claims, account.Claims())
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Rotate(ctx, session, refreshToken, pair); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}

	s.auditLogger.LogSessionEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventSessionRefreshed,
		AccountID: account.ID,
		SessionID: session.ID,
		IPAddress: ip,
		Success:   true,
	})
	return newAuthResult(pair, account, session.ID), nil
}

// activeAccount loads the owner of session. A missing or deactivated owner ends the session.
func (s *AuthService) activeAccount(ctx context.Context, session *models.Session) (*models.Account, error) {
	account, err := s.credentials.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	if !account.Active {
		if _, err := s.sessions.RevokeAllForAccount(ctx, account.ID, "", models.RevokeReasonInactive); err != nil {
			s.logger.Warn("failed to revoke sessions of inactive account", slog.String("account_id", account.ID), slog.Any("error", err))
		}
		return nil, models.ErrAccountInactive
	}
	return account, nil
}

// Logout revokes one session. Unknown or already revoked sessions succeed.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, sessionID, models.RevokeReasonLogout); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	s.auditLogger.LogSessionEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogout,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutTokens resolves the session from whichever presented token still verifies
// and revokes it. Nothing verifying is not an error.
func (s *AuthService) LogoutTokens(ctx context.Context, accessToken, refreshToken, audience string) error {
	if accessToken != "" {
		if claims, err := s.tokens.Verify(accessToken, audience, models.TokenTypeAccess); err == nil {
			return s.Logout(ctx, claims.SessionID)
		}
	}
	if refreshToken != "" {
		if claims, err := s.tokens.Verify(refreshToken, audience, models.TokenTypeRefresh); err == nil {
			return s.Logout(ctx, claims.SessionID)
		}
	}
	return nil
}

// LogoutAll revokes every session of the account except exceptSessionID (may be empty)
func (s *AuthService) LogoutAll(ctx context.Context, accountID, exceptSessionID string) (int64, error) {
	n, err := s.sessions.RevokeAllForAccount(ctx, accountID, exceptSessionID, models.RevokeReasonLogoutAll)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	s.auditLogger.LogSessionEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogoutAll,
		AccountID: accountID,
		SessionID: exceptSessionID,
		Success:   true,
		Metadata:  map[string]string{"revoked": fmt.Sprint(n)},
	})
	return n, nil
}

// ActiveSessions lists the live sessions of an account, marking currentSessionID
// and annotating each with its recorded device changes
func (s *AuthService) ActiveSessions(ctx context.Context, accountID, currentSessionID string) ([]models.SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInternalServer, err)
	}
	views := make([]models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		view := session.View(currentSessionID)
		view.DeviceChanges = s.binder.DeviceChanges(ctx, session.ID)
		views = append(views, view)
	}
	return views, nil
}

// fail records the outcome and pads the response time before returning err
func (s *AuthService) fail(ctx context.Context, start time.Time, portal, outcome string, err error) error {
	s.metrics.Login(portal, outcome)
	s.timing.WaitFrom(ctx, start, false)
	return err
}

func (s *AuthService) internal(ctx context.Context, portal, msg string, err error) error {
	s.logger.ErrorContext(ctx, msg, slog.Any("error", err))
	s.metrics.Login(portal, metrics.OutcomeError)
	return fmt.Errorf("%w: %v", models.ErrInternalServer, err)
}
