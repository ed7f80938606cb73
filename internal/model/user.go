package model

import "time"

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	UserStatusActive              UserStatus = "active"
	UserStatusInactive            UserStatus = "inactive"
	UserStatusSuspended           UserStatus = "suspended"
	UserStatusPendingVerification UserStatus = "pending_verification"
)

// User is an account holder. A user is operationally active iff
// Status == active && Verified && (LockedUntil is nil || LockedUntil < now).
type User struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	PasswordHash           string     `json:"-"`
	FirstName              string     `json:"firstName,omitempty"`
	LastName               string     `json:"lastName,omitempty"`
	RoleID                 string     `json:"roleId"`
	Status                 UserStatus `json:"status"`
	Verified               bool       `json:"verified"`
	LoginAttempts          int        `json:"-"`
	LockedUntil            *time.Time `json:"lockedUntil,omitempty"`
	PasswordChangeRequired bool       `json:"passwordChangeRequired"`
	LastLogin              *time.Time `json:"lastLogin,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// IsOperationallyActive reports whether the account may authenticate.
func (u *User) IsOperationallyActive(now time.Time) bool {
	if u.Status != UserStatusActive || !u.Verified {
		return false
	}
	if u.LockedUntil != nil && u.LockedUntil.After(now) {
		return false
	}
	return true
}

// IsLocked reports whether the account is currently in a lockout window.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// VerificationTokenKind distinguishes email verification from password reset
// tokens stored in the same table.
type VerificationTokenKind string

const (
	VerificationTokenEmailVerify   VerificationTokenKind = "email_verify"
	VerificationTokenPasswordReset VerificationTokenKind = "password_reset"
)

// VerificationToken is a single-use, time-limited token tied to a user.
// Only the sha256 hash of the raw token is ever persisted.
type VerificationToken struct {
	UserID    string
	TokenHash string
	Type      VerificationTokenKind
	ExpiresAt time.Time
	Used      bool
}
