package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("repository: user not found")

// ErrTokenInvalid is returned for a verification token that is missing,
// expired, or already used.
var ErrTokenInvalid = errors.New("repository: verification token invalid")

const maxLoginAttempts = 5
const lockoutWindow = 15 * time.Minute

// UserRepo handles user persistence, lockout bookkeeping, and the
// verification/reset token table.
type UserRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a UserRepo.
func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, role_id, status, verified,
	login_attempts, locked_until, password_change_required, last_login, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.RoleID, &u.Status,
		&u.Verified, &u.LoginAttempts, &u.LockedUntil, &u.PasswordChangeRequired, &u.LastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user in pending_verification status.
func (r *UserRepo) Create(ctx context.Context, email, passwordHash, firstName, lastName, roleID string) (*model.User, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO users (email, password_hash, first_name, last_name, role_id, status, verified)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING %s`, userColumns),
		email, passwordHash, firstName, lastName, roleID, string(model.UserStatusPendingVerification))
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("repository: create user: %w", err)
	}
	return u, nil
}

// GetByEmail looks up a user by email (case-sensitive; callers must
// lower-case before calling, per the email-is-lower-cased invariant).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	u, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get user by email: %w", err)
	}
	return u, nil
}

// GetByID looks up a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get user by id: %w", err)
	}
	return u, nil
}

// RecordLoginSuccess resets the failed-attempt counter and stamps last_login.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET login_attempts = 0, locked_until = NULL, last_login = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: record login success: %w", err)
	}
	return nil
}

// RecordLoginFailure increments the failed-attempt counter and locks the
// account for lockoutWindow once maxLoginAttempts is reached. The returned
// bool reports whether this call is the one that crossed the threshold and
// locked the account (false if the account was already unlocked and stays
// that way, or was already locked before this call).
func (r *UserRepo) RecordLoginFailure(ctx context.Context, id string) (bool, error) {
	var lockedUntil, prevLockedUntil *time.Time
	err := r.pool.QueryRow(ctx, `
		WITH prev AS (SELECT locked_until FROM users WHERE id = $1)
		UPDATE users SET
			login_attempts = login_attempts + 1,
			locked_until = CASE WHEN login_attempts + 1 >= $2 THEN now() + $3 ELSE locked_until END
		WHERE id = $1
		RETURNING locked_until, (SELECT locked_until FROM prev)`, id, maxLoginAttempts, lockoutWindow).Scan(&lockedUntil, &prevLockedUntil)
	if err != nil {
		return false, fmt.Errorf("repository: record login failure: %w", err)
	}
	now := time.Now()
	wasLocked := prevLockedUntil != nil && prevLockedUntil.After(now)
	return lockedUntil != nil && lockedUntil.After(now) && !wasLocked, nil
}

// SetPasswordHash replaces a user's password hash and clears any pending
// password-change requirement.
func (r *UserRepo) SetPasswordHash(ctx context.Context, id, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, password_change_required = false WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("repository: set password hash: %w", err)
	}
	return nil
}

// MarkVerified flips verified=true and, if the account was still
// pending_verification, transitions it to active. Idempotent.
func (r *UserRepo) MarkVerified(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET
			verified = true,
			status = CASE WHEN status = 'pending_verification' THEN 'active' ELSE status END
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: mark verified: %w", err)
	}
	return nil
}

// IssueVerificationToken stores the sha256 hash of the caller-minted raw
// token; the raw token itself is never persisted.
func (r *UserRepo) IssueVerificationToken(ctx context.Context, userID string, kind model.VerificationTokenKind, rawToken string, ttl time.Duration) error {
	hash := hashToken(rawToken)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verification_tokens (user_id, token, type, expires_at, used)
		VALUES ($1, $2, $3, $4, false)`,
		userID, hash, string(kind), time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("repository: issue verification token: %w", err)
	}
	return nil
}

// ConsumeVerificationToken validates a raw token against its stored hash,
// marks it used, and returns the owning user ID. Fails closed on any
// mismatch, expiry, or prior use.
func (r *UserRepo) ConsumeVerificationToken(ctx context.Context, rawToken string, kind model.VerificationTokenKind) (string, error) {
	hash := hashToken(rawToken)
	var userID string
	var expiresAt time.Time
	var used bool
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, expires_at, used FROM verification_tokens WHERE token = $1 AND type = $2`,
		hash, string(kind)).Scan(&userID, &expiresAt, &used)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("repository: consume verification token: %w", err)
	}
	if used || time.Now().After(expiresAt) {
		return "", ErrTokenInvalid
	}
	if _, err := r.pool.Exec(ctx, `UPDATE verification_tokens SET used = true WHERE token = $1`, hash); err != nil {
		return "", fmt.Errorf("repository: mark token used: %w", err)
	}
	return userID, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// PasswordChangeRequired reports whether the user must change their
// password before using any other protected endpoint.
func (r *UserRepo) PasswordChangeRequired(ctx context.Context, userID string) (bool, error) {
	var required bool
	err := r.pool.QueryRow(ctx, `SELECT password_change_required FROM users WHERE id = $1`, userID).Scan(&required)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("repository: password change required: %w", err)
	}
	return required, nil
}

// PermissionsForUser returns the union of a user's role permissions and any
// ad-hoc permissions granted via user_roles, satisfying rbac.PermissionSource.
func (r *UserRepo) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT rp.permission_name
		FROM role_permissions rp
		WHERE rp.role_id = (SELECT role_id FROM users WHERE id = $1)
		UNION
		SELECT DISTINCT rp.permission_name
		FROM role_permissions rp
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: permissions for user: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("repository: scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}
