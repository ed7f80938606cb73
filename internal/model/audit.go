package model

import (
	"encoding/json"
	"time"
)

// Audit action constants. Audit entries are written for login attempts,
// password changes and resets, email verification, and successful document
// downloads and deletes; chat and search queries are not audited.
const (
	AuditLogin              = "LOGIN"
	AuditLoginFailed        = "LOGIN_FAILED"
	AuditLogout             = "LOGOUT"
	AuditPasswordChange     = "PASSWORD_CHANGE"
	AuditPasswordReset      = "PASSWORD_RESET"
	AuditEmailVerified      = "EMAIL_VERIFIED"
	AuditChatQuery          = "CHAT_QUERY"
	AuditSearchQuery        = "SEARCH_QUERY"
	AuditDocumentDownload   = "DOCUMENT_DOWNLOAD"
	AuditDocumentDelete     = "DOCUMENT_DELETE"
	AuditPermissionDenied   = "PERMISSION_DENIED"
)

// AuditLog is an immutable audit trail entry. Never mutated.
type AuditLog struct {
	ID           string          `json:"id"`
	UserID       *string         `json:"userId,omitempty"`
	Action       string          `json:"action"`
	ResourceID   *string         `json:"resourceId,omitempty"`
	ResourceType *string         `json:"resourceType,omitempty"`
	Severity     string          `json:"severity"`
	Success      bool            `json:"success"`
	Details      json.RawMessage `json:"details,omitempty"`
	IPAddress    *string         `json:"ipAddress,omitempty"`
	UserAgent    *string         `json:"userAgent,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SecurityEvent is an append-only record of a security-relevant occurrence
// (lockouts, rate-limit trips, invalid tokens) distinct from the general
// audit trail so security tooling can scan a narrower stream.
type SecurityEvent struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	SecurityEventAccountLocked   = "ACCOUNT_LOCKED"
	SecurityEventRateLimited     = "RATE_LIMITED"
	SecurityEventInvalidToken    = "INVALID_TOKEN"
	SecurityEventTokenRefreshed  = "TOKEN_REFRESHED"
)
