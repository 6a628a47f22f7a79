package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/models"
	pkgauth "github.com/apollo-xwb/paysecure/pkg/auth"
)

// AccountRepository defines the persistence operations on accounts.
// RecordFailedAttempt must apply next atomically with respect to other failures on the same account.
type AccountRepository interface {
	FindByLoginKey(ctx context.Context, loginKey string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	RecordFailedAttempt(ctx context.Context, id string, next func(count int, lockedUntil *time.Time) (int, *time.Time)) (int, *time.Time, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
}

// CredentialService owns account lookup, secret verification and the persisted lockout counters
type CredentialService struct {
	repo   AccountRepository
	hasher *pkgauth.Hasher
	policy *auth.LockoutPolicy
	logger *slog.Logger
}

func NewCredentialService(repo AccountRepository, hasher *pkgauth.Hasher, policy *auth.LockoutPolicy, logger *slog.Logger) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		repo:   repo,
		hasher: hasher,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the lockout policy the service applies
func (s *CredentialService) Policy() *auth.LockoutPolicy {
	return s.policy
}

// FindByLoginKey returns models.ErrNotFound when no account uses the key
func (s *CredentialService) FindByLoginKey(ctx context.Context, loginKey string) (*models.Account, error) {
	loginKey = strings.TrimSpace(loginKey)
	if loginKey == "" {
		return nil, models.ErrNotFound
	}
	return s.repo.FindByLoginKey(ctx, loginKey)
}

func (s *CredentialService) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return s.repo.GetByID(ctx, id)
}

// VerifyCredential checks secret against the stored hash of accountID.
// An unknown account is not an error: it reports false after equivalent hashing work.
func (s *CredentialService) VerifyCredential(ctx context.Context, accountID, secret string) (bool, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.hasher.CompareDummy(secret)
			return false, nil
		}
		return false, fmt.Errorf("failed to load account: %w", err)
	}
	return s.VerifyAccount(account, secret), nil
}

// VerifyAccount checks secret against an already loaded account
func (s *CredentialService) VerifyAccount(account *models.Account, secret string) bool {
	if account == nil || account.CredentialHash == "" {
		s.hasher.CompareDummy(secret)
		return false
	}
	return s.hasher.Compare(account.CredentialHash, secret)
}

// BurnVerification spends the cost of one verification without an account
func (s *CredentialService) BurnVerification(secret string) {
	s.hasher.CompareDummy(secret)
}

// RegisterFailure persists one failed verification and returns the resulting lockout state
func (s *CredentialService) RegisterFailure(ctx context.Context, account *models.Account, now time.Time) (auth.FailureTransition, error) {
	count, lockedUntil, err := s.repo.RecordFailedAttempt(ctx, account.ID, func(count int, lockedUntil *time.Time) (int, *time.Time) {
		tr := s.policy.NextFailure(count, lockedUntil, account.Class, now)
		return tr.Count, tr.LockedUntil
	})
	if err != nil {
		return auth.FailureTransition{}, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return auth.FailureTransition{Count: count, LockedUntil: lockedUntil}, nil
}

// ResetFailures clears the counter and lock after a successful verification
func (s *CredentialService) ResetFailures(ctx context.Context, accountID string) error {
	if err := s.repo.ResetFailedAttempts(ctx, accountID); err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	return nil
}

// RecordLogin stores last login time and address
func (s *CredentialService) RecordLogin(ctx context.Context, accountID, ip string, at time.Time) error {
	if err := s.repo.RecordLogin(ctx, accountID, ip, at); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// NewAccountInput describes an account to provision
type NewAccountInput struct {
	LoginKey    string
	Secret      string
	Class       models.AccountClass
	Role        string
	DisplayName string
}

// Create provisions an account with a hashed secret. Used by the seeder and tests.
func (s *CredentialService) Create(ctx context.Context, in NewAccountInput) (*models.Account, error) {
	in.LoginKey = strings.TrimSpace(in.LoginKey)
	if in.LoginKey == "" || !in.Class.Valid() {
		return nil, models.ErrBadRequest
	}

	hash, err := s.hasher.Hash(in.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	role := in.Role
	if role == "" {
		role = string(in.Class)
	}

	account, err := s.repo.Create(ctx, &models.Account{
		LoginKey:       in.LoginKey,
		CredentialHash: hash,
		Class:          in.Class,
		Role:           role,
		DisplayName:    in.DisplayName,
		Active:         true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created", slog.String("account_id", account.ID), slog.String("class", string(account.Class)))
	return account, nil
}
