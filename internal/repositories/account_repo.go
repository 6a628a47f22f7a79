package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apollo-xwb/paysecure/internal/database"
	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, login_key, credential_hash, class, role, display_name,
	failed_attempt_count, locked_until, active, last_login_at, last_login_ip, created_at, updated_at`

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account
	err := scanner.Scan(
		&a.ID, &a.LoginKey, &a.CredentialHash, &a.Class, &a.Role, &a.DisplayName,
		&a.FailedAttemptCount, &a.LockedUntil, &a.Active, &a.LastLoginAt, &a.LastLoginIP,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

// FindByLoginKey looks up an account case-insensitively
func (r *AccountRepository) FindByLoginKey(ctx context.Context, loginKey string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(login_key) = lower($1)`
	return scanAccountRow(r.pool.QueryRow(ctx, query, strings.TrimSpace(loginKey)))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, login_key, credential_hash, class, role, display_name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.LoginKey, account.CredentialHash, account.Class, account.Role,
		account.DisplayName, account.Active, account.CreatedAt, account.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// RecordFailedAttempt applies next to the stored counter and lock under a row lock, so
// concurrent failures never read the same pre-increment count. next receives the
// persisted count and lock deadline and returns the values to store.
func (r *AccountRepository) RecordFailedAttempt(ctx context.Context, id string, next func(count int, lockedUntil *time.Time) (int, *time.Time)) (int, *time.Time, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, nil, models.ErrNotFound
	}

	var (
		count       int
		lockedUntil *time.Time
	)
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT failed_attempt_count, locked_until FROM accounts WHERE id = $1 FOR UPDATE`, id,
		).Scan(&count, &lockedUntil)
		if err != nil {
			return err
		}

		count, lockedUntil = next(count, lockedUntil)

		_, err = tx.Exec(ctx, `
			UPDATE accounts SET failed_attempt_count = $2, locked_until = $3, updated_at = NOW()
			WHERE id = $1
		`, id, count, lockedUntil)
		return err
	})
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}
	return count, lockedUntil, nil
}

// ResetFailedAttempts clears the counter and any lock after a successful verification
func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	query := `
		UPDATE accounts SET failed_attempt_count = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND (failed_attempt_count <> 0 OR locked_until IS NOT NULL)
	`
	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// RecordLogin stores the audit fields of a successful login
func (r *AccountRepository) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	query := `UPDATE accounts SET last_login_at = $2, last_login_ip = $3, updated_at = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, at, ip)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
