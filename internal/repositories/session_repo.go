package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/apollo-xwb/paysecure/internal/database"
	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository persists sessions. Rows are deactivated, never deleted.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

const sessionColumns = `id, account_id, access_token_fingerprint, refresh_token_fingerprint,
	ip_address, device_fingerprint, issued_at, access_expires_at, refresh_expires_at,
	active, last_activity_at, revoked_at, revoked_reason`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.AccountID, &s.AccessTokenFingerprint, &s.RefreshTokenFingerprint,
		&s.IPAddress, &s.DeviceFingerprint, &s.IssuedAt, &s.AccessExpiresAt, &s.RefreshExpiresAt,
		&s.Active, &s.LastActivityAt, &s.RevokedAt, &s.RevokedReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Insert(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, account_id, access_token_fingerprint, refresh_token_fingerprint,
			ip_address, device_fingerprint, issued_at, access_expires_at, refresh_expires_at,
			active, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.AccountID, s.AccessTokenFingerprint, s.RefreshTokenFingerprint,
		s.IPAddress, s.DeviceFingerprint, s.IssuedAt, s.AccessExpiresAt, s.RefreshExpiresAt,
		s.Active, s.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// ListActiveByAccount returns active sessions oldest activity first
func (r *SessionRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE account_id = $1 AND active
		ORDER BY last_activity_at ASC, issued_at ASC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessionRows(rows)
}

// Deactivate soft-revokes a session. Returns false when it was already inactive.
func (r *SessionRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	query := `UPDATE sessions SET active = FALSE, revoked_at = $2, revoked_reason = $3 WHERE id = $1 AND active`
	tag, err := r.pool.Exec(ctx, query, id, at, reason)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateAllForAccount revokes every active session of the account except exceptID (may be empty)
func (r *SessionRepository) DeactivateAllForAccount(ctx context.Context, accountID, exceptID, reason string, at time.Time) (int64, error) {
	query := `
		UPDATE sessions SET active = FALSE, revoked_at = $3, revoked_reason = $4
		WHERE account_id = $1 AND active AND ($2 = '' OR id::text <> $2)
	`
	tag, err := r.pool.Exec(ctx, query, accountID, exceptID, at, reason)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// UpdateTokens rotates the token fingerprints and expiries of an active session in place.
// The update only applies while the stored refresh fingerprint still equals oldRefresh,
// so a refresh token can rotate its session at most once.
func (r *SessionRepository) UpdateTokens(ctx context.Context, s *models.Session, oldRefresh string) (bool, error) {
	query := `
		UPDATE sessions SET
			access_token_fingerprint = $3,
			refresh_token_fingerprint = $4,
			access_expires_at = $5,
			refresh_expires_at = $6,
			last_activity_at = $7
		WHERE id = $1 AND refresh_token_fingerprint = $2 AND active
	`
	tag, err := r.pool.Exec(ctx, query,
		s.ID, oldRefresh, s.AccessTokenFingerprint, s.RefreshTokenFingerprint,
		s.AccessExpiresAt, s.RefreshExpiresAt, s.LastActivityAt,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Touch records activity on an active session
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id = $1 AND active`
	_, err := r.pool.Exec(ctx, query, id, at)
	return database.MapPostgresError(err)
}

// DeactivateExpired revokes active sessions whose refresh window has closed
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE sessions SET active = FALSE, revoked_at = $1, revoked_reason = $2
		WHERE active AND refresh_expires_at <= $1
	`
	tag, err := r.pool.Exec(ctx, query, now, models.RevokeReasonExpired)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
