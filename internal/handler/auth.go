package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/auth"
	"github.com/connexus-ai/ragsupport-gateway/internal/mailer"
	"github.com/connexus-ai/ragsupport-gateway/internal/middleware"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

const passwordResetTTL = 1 * time.Hour

// UserStore is the user-account persistence contract the auth handlers need.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash, firstName, lastName, roleID string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	RecordLoginSuccess(ctx context.Context, id string) error
	RecordLoginFailure(ctx context.Context, id string) (bool, error)
	SetPasswordHash(ctx context.Context, id, passwordHash string) error
	MarkVerified(ctx context.Context, id string) error
	IssueVerificationToken(ctx context.Context, userID string, kind model.VerificationTokenKind, rawToken string, ttl time.Duration) error
	ConsumeVerificationToken(ctx context.Context, rawToken string, kind model.VerificationTokenKind) (string, error)
}

// RoleStore resolves role metadata for registration and profile display.
type RoleStore interface {
	GetByID(ctx context.Context, id string) (*model.Role, error)
	GetByName(ctx context.Context, name string) (*model.Role, error)
}

// TokenIssuer mints and verifies access/refresh token pairs.
type TokenIssuer interface {
	IssuePair(userID string) (*auth.TokenPair, error)
	VerifyRefreshToken(raw string) (string, error)
}

// PermissionLister exposes a user's resolved permission set for the profile
// endpoint, bypassing the short-TTL cache since /me is called rarely.
type PermissionLister interface {
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

// AuthDeps bundles everything the auth handlers need.
type AuthDeps struct {
	Users       UserStore
	Roles       RoleStore
	Tokens      TokenIssuer
	Permissions PermissionLister
	Mail        mailer.Sender
	Audit       *AuditRecorder
	Security    *SecurityEventRecorder // may be nil to disable security-event recording
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by login/refresh.
type TokenResponse struct {
	AccessToken            string `json:"accessToken"`
	RefreshToken           string `json:"refreshToken"`
	ExpiresAt              string `json:"expiresAt"`
	PasswordChangeRequired bool   `json:"passwordChangeRequired"`
}

// Login authenticates an email/password pair, applying the lockout and
// constant-response-shape rules: unknown user and wrong password both
// produce the stable invalid_credentials error.
// POST /api/auth/login
func Login(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}

		ctx := r.Context()
		user, err := deps.Users.GetByEmail(ctx, req.Email)
		if err != nil {
			deps.Audit.record(ctx, nil, model.AuditLoginFailed, "warning", false, r)
			respondError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
			return
		}

		now := time.Now()
		if user.IsLocked(now) {
			deps.Audit.record(ctx, &user.ID, model.AuditLoginFailed, "warning", false, r)
			respondError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
			return
		}

		if !auth.VerifyPassword(user.PasswordHash, req.Password) {
			locked, _ := deps.Users.RecordLoginFailure(ctx, user.ID)
			deps.Audit.record(ctx, &user.ID, model.AuditLoginFailed, "warning", false, r)
			if locked {
				deps.Security.record(ctx, &user.ID, model.SecurityEventAccountLocked, "account locked after repeated failed login attempts", r)
			}
			respondError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
			return
		}
		if user.Status != model.UserStatusActive || !user.Verified {
			deps.Audit.record(ctx, &user.ID, model.AuditLoginFailed, "warning", false, r)
			respondError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
			return
		}

		if err := deps.Users.RecordLoginSuccess(ctx, user.ID); err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "login failed")
			return
		}

		pair, err := deps.Tokens.IssuePair(user.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "token issuance failed")
			return
		}

		deps.Audit.record(ctx, &user.ID, model.AuditLogin, "info", true, r)
		respondOK(w, TokenResponse{
			AccessToken:            pair.AccessToken,
			RefreshToken:           pair.RefreshToken,
			ExpiresAt:              pair.ExpiresAt.Format(time.RFC3339),
			PasswordChangeRequired: user.PasswordChangeRequired,
		})
	}
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a valid refresh token for a new access/refresh pair.
// POST /api/auth/refresh
func Refresh(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}

		userID, err := deps.Tokens.VerifyRefreshToken(req.RefreshToken)
		if err != nil {
			deps.Security.record(r.Context(), nil, model.SecurityEventInvalidToken, "refresh token failed verification", r)
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired refresh token")
			return
		}

		pair, err := deps.Tokens.IssuePair(userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "token issuance failed")
			return
		}

		deps.Security.record(r.Context(), &userID, model.SecurityEventTokenRefreshed, "access/refresh token pair reissued", r)
		respondOK(w, TokenResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// ChangePasswordRequest is the body of POST /api/auth/change-password and
// POST /api/auth/force-change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword requires the caller's current password and replaces it.
// POST /api/auth/change-password
func ChangePassword(deps AuthDeps) http.HandlerFunc {
	return changePasswordHandler(deps, true)
}

// ForceChangePassword is the one endpoint a password_change_required user
// may call without the guard rejecting them.
// POST /api/auth/force-change-password
func ForceChangePassword(deps AuthDeps) http.HandlerFunc {
	return changePasswordHandler(deps, false)
}

func changePasswordHandler(deps AuthDeps, requireCurrent bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		var req ChangePasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
		if req.NewPassword == "" {
			respondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "newPassword is required")
			return
		}

		ctx := r.Context()
		user, err := deps.Users.GetByID(ctx, userID)
		if err != nil {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		if requireCurrent && !auth.VerifyPassword(user.PasswordHash, req.CurrentPassword) {
			respondError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "current password is incorrect")
			return
		}

		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "password hashing failed")
			return
		}
		if err := deps.Users.SetPasswordHash(ctx, userID, hash); err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "password update failed")
			return
		}

		deps.Audit.record(ctx, &userID, model.AuditPasswordChange, "info", true, r)
		respondOK(w, map[string]bool{"changed": true})
	}
}

// ForgotPasswordRequest is the body of POST /api/auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword always returns a generic success response, regardless of
// whether the email is registered, to avoid account enumeration.
// POST /api/auth/forgot-password
func ForgotPassword(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ForgotPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}

		ctx := r.Context()
		if user, err := deps.Users.GetByEmail(ctx, req.Email); err == nil {
			rawToken := newRandomToken()
			if err := deps.Users.IssueVerificationToken(ctx, user.ID, model.VerificationTokenPasswordReset, rawToken, passwordResetTTL); err == nil {
				_ = deps.Mail.SendPasswordReset(user.Email, rawToken)
			}
		}

		respondOK(w, map[string]bool{"sent": true})
	}
}

// ResetPasswordRequest is the body of POST /api/auth/reset-password.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword consumes a password-reset token and sets a new password.
// POST /api/auth/reset-password
func ResetPassword(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResetPasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
		if req.NewPassword == "" {
			respondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "newPassword is required")
			return
		}

		ctx := r.Context()
		userID, err := deps.Users.ConsumeVerificationToken(ctx, req.Token, model.VerificationTokenPasswordReset)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid or expired reset token")
			return
		}

		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "password hashing failed")
			return
		}
		if err := deps.Users.SetPasswordHash(ctx, userID, hash); err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "password update failed")
			return
		}

		deps.Audit.record(ctx, &userID, model.AuditPasswordReset, "info", true, r)
		respondOK(w, map[string]bool{"reset": true})
	}
}

// VerifyEmailRequest is the body of POST /api/auth/verify-email.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// VerifyEmail consumes an email-verification token. Idempotent: consuming
// an already-used token fails closed, but re-verifying an already-verified
// user via a fresh token still succeeds.
// POST /api/auth/verify-email
func VerifyEmail(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyEmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}

		ctx := r.Context()
		userID, err := deps.Users.ConsumeVerificationToken(ctx, req.Token, model.VerificationTokenEmailVerify)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid or expired verification token")
			return
		}
		if err := deps.Users.MarkVerified(ctx, userID); err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "verification failed")
			return
		}

		deps.Audit.record(ctx, &userID, model.AuditEmailVerified, "info", true, r)
		respondOK(w, map[string]bool{"verified": true})
	}
}

// MeResponse is the authenticated profile payload, augmented with role name
// and resolved permissions.
type MeResponse struct {
	User        *model.User `json:"user"`
	RoleName    string      `json:"roleName"`
	Permissions []string    `json:"permissions"`
}

// Me returns the authenticated caller's profile, role name, and permissions.
// GET /api/auth/me
func Me(deps AuthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		ctx := r.Context()
		user, err := deps.Users.GetByID(ctx, userID)
		if err != nil {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}

		roleName := ""
		if role, err := deps.Roles.GetByID(ctx, user.RoleID); err == nil {
			roleName = role.Name
		}

		perms, err := deps.Permissions.PermissionsForUser(ctx, userID)
		if err != nil {
			perms = nil
		}

		respondOK(w, MeResponse{User: user, RoleName: roleName, Permissions: perms})
	}
}

func newRandomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
