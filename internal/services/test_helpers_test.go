package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/models"
	pkgauth "github.com/apollo-xwb/paysecure/pkg/auth"
	pkglogger "github.com/apollo-xwb/paysecure/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// testClock is a settable time source shared by every component of a test harness
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memAccountRepo is an in-memory AccountRepository. The mutex stands in for the
// atomic single-statement update of the Postgres repository.
type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.Account

	failNext   error
	failRecord error
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[string]*models.Account)}
}

func (r *memAccountRepo) FindByLoginKey(ctx context.Context, loginKey string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}
	for _, a := range r.accounts {
		if strings.EqualFold(a.LoginKey, loginKey) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if strings.EqualFold(a.LoginKey, account.LoginKey) {
			return nil, models.ErrConflict
		}
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	cp := *account
	r.accounts[account.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memAccountRepo) RecordFailedAttempt(ctx context.Context, id string, next func(count int, lockedUntil *time.Time) (int, *time.Time)) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failRecord; err != nil {
		r.failRecord = nil
		return 0, nil, err
	}
	a, ok := r.accounts[id]
	if !ok {
		return 0, nil, models.ErrNotFound
	}
	a.FailedAttemptCount, a.LockedUntil = next(a.FailedAttemptCount, a.LockedUntil)
	return a.FailedAttemptCount, a.LockedUntil, nil
}

func (r *memAccountRepo) ResetFailedAttempts(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.FailedAttemptCount = 0
		a.LockedUntil = nil
	}
	return nil
}

func (r *memAccountRepo) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.LastLoginAt = &at
	a.LastLoginIP = ip
	return nil
}

func (r *memAccountRepo) get(id string) models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.accounts[id]
}

func (r *memAccountRepo) update(id string, fn func(a *models.Account)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.accounts[id])
}

func (r *memAccountRepo) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

// memSessionRepo is an in-memory SessionRepository
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session

	// afterList runs once, outside the lock, after the first ListActiveByAccount call
	afterList func()
	failNext  error
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *memSessionRepo) Insert(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	if _, exists := r.sessions[s.ID]; exists {
		return models.ErrConflict
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return nil, err
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	r.mu.Lock()
	out := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.Active {
			cp := *s
			out = append(out, &cp)
		}
	}
	hook := r.afterList
	r.afterList = nil
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].LastActivityAt.Before(out[j].LastActivityAt)
	})

	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *memSessionRepo) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return false, err
	}
	s, ok := r.sessions[id]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	s.RevokedAt = &at
	s.RevokedReason = reason
	return true, nil
}

func (r *memSessionRepo) DeactivateAllForAccount(ctx context.Context, accountID, exceptID, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return 0, err
	}
	var n int64
	for _, s := range r.sessions {
		if s.AccountID == accountID && s.Active && s.ID != exceptID {
			s.Active = false
			s.RevokedAt = &at
			s.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) UpdateTokens(ctx context.Context, s *models.Session, oldRefresh string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok || !cur.Active || cur.RefreshTokenFingerprint != oldRefresh {
		return false, nil
	}
	cur.AccessTokenFingerprint = s.AccessTokenFingerprint
	cur.RefreshTokenFingerprint = s.RefreshTokenFingerprint
	cur.AccessExpiresAt = s.AccessExpiresAt
	cur.RefreshExpiresAt = s.RefreshExpiresAt
	cur.LastActivityAt = s.LastActivityAt
	return true, nil
}

func (r *memSessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	if s, ok := r.sessions[id]; ok && s.Active && at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}

func (r *memSessionRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.Active && !s.RefreshExpiresAt.After(now) {
			s.Active = false
			s.RevokedAt = &now
			s.RevokedReason = models.RevokeReasonExpired
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) get(id string) models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.sessions[id]
}

func (r *memSessionRepo) byAccount(accountID string) []models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Session, 0)
	for _, s := range r.sessions {
		if s.AccountID == accountID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (r *memSessionRepo) countActive(accountID string) int {
	n := 0
	for _, s := range r.byAccount(accountID) {
		if s.Active {
			n++
		}
	}
	return n
}

func (r *memSessionRepo) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

// recordingRecorder collects device anomalies
type recordingRecorder struct {
	mu        sync.Mutex
	anomalies []auth.DeviceAnomaly
}

func (r *recordingRecorder) RecordDeviceChange(ctx context.Context, a auth.DeviceAnomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, a)
	return nil
}

func (r *recordingRecorder) CountForSession(ctx context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.anomalies {
		if a.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

var errStoreDown = errors.New("store unavailable")

const (
	testSecret   = "correct"
	testIP       = "203.0.113.7"
	testDevice   = "device-a"
	testJWTKey   = "services-test-signing-key-0123456789"
	customerKey  = "acc-1"
	employeeKey  = "EMP001"
	accessTTL    = 15 * time.Minute
	refreshTTL   = 7 * 24 * time.Hour
	customerLock = 30 * time.Minute
	employeeLock = 2 * time.Hour
)

// harness wires the real services over in-memory stores and a shared clock
type harness struct {
	clock       *testClock
	accounts    *memAccountRepo
	sessions    *memSessionRepo
	recorder    *recordingRecorder
	credentials *CredentialService
	manager     *SessionManager
	tokens      *auth.TokenManager
	service     *AuthService
}

func newHarness() *harness {
	clock := newTestClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)

	accounts := newMemAccountRepo()
	sessions := newMemSessionRepo()
	recorder := &recordingRecorder{}

	credentials := NewCredentialService(accounts, pkgauth.NewHasher(bcrypt.MinCost),
		auth.NewLockoutPolicy(5, customerLock, employeeLock), logger)

	manager := NewSessionManager(sessions, 3, logger, audit, nil)
	manager.now = clock.Now

	tokens := auth.NewTokenManager(testJWTKey, "paysecure-test", accessTTL, refreshTTL).WithClock(clock.Now)
	binder := auth.NewSessionBinder(manager, recorder, audit, logger)

	service := NewAuthService(credentials, manager, tokens, binder, nil, logger, audit, nil)
	service.now = clock.Now

	return &harness{
		clock:       clock,
		accounts:    accounts,
		sessions:    sessions,
		recorder:    recorder,
		credentials: credentials,
		manager:     manager,
		tokens:      tokens,
		service:     service,
	}
}

func (h *harness) createAccount(loginKey string, class models.AccountClass) *models.Account {
	a, err := h.credentials.Create(context.Background(), NewAccountInput{
		LoginKey:    loginKey,
		Secret:      testSecret,
		Class:       class,
		DisplayName: "Test " + loginKey,
	})
	if err != nil {
		panic(err)
	}
	return a
}

func (h *harness) login(loginKey, secret string) (*AuthResult, error) {
	return h.loginAs(loginKey, secret, auth.AudienceCustomer)
}

func (h *harness) loginAs(loginKey, secret, audience string) (*AuthResult, error) {
	return h.service.Login(context.Background(), LoginInput{
		LoginKey:  loginKey,
		Secret:    secret,
		IPAddress: testIP,
		Device:    testDevice,
		Audience:  audience,
	})
}
