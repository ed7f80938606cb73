package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// AuditStore persists one audit entry per audited request.
type AuditStore interface {
	Create(ctx context.Context, entry *model.AuditLog) error
}

// AuditRecorder wraps an AuditStore with request-derived metadata
// (IP, user agent) and swallows write failures: audit logging must never
// take down the request path it observes.
type AuditRecorder struct {
	Store AuditStore
}

// record appends one audit entry. success=false should be paired with a
// severity of "warning" or higher.
func (a *AuditRecorder) record(ctx context.Context, userID *string, action, severity string, success bool, r *http.Request) {
	if a == nil || a.Store == nil {
		return
	}
	ip := clientIP(r)
	ua := r.UserAgent()
	entry := &model.AuditLog{
		ID:        newAuditID(),
		UserID:    userID,
		Action:    action,
		Severity:  severity,
		Success:   success,
		IPAddress: &ip,
		UserAgent: &ua,
		CreatedAt: time.Now(),
	}
	_ = a.Store.Create(ctx, entry)
}

// SecurityEventStore persists security events distinct from the general
// audit trail (lockouts, rate limiting, invalid tokens).
type SecurityEventStore interface {
	Create(ctx context.Context, event *model.SecurityEvent) error
}

// SecurityEventRecorder wraps a SecurityEventStore the same way AuditRecorder
// wraps AuditStore: request-derived IP metadata, write failures swallowed so
// security logging never takes down the request path it observes.
type SecurityEventRecorder struct {
	Store SecurityEventStore
}

// record appends one security event.
func (s *SecurityEventRecorder) record(ctx context.Context, userID *string, kind, detail string, r *http.Request) {
	if s == nil || s.Store == nil {
		return
	}
	ip := clientIP(r)
	event := &model.SecurityEvent{
		ID:        newAuditID(),
		UserID:    userID,
		Kind:      kind,
		Detail:    detail,
		IPAddress: &ip,
		CreatedAt: time.Now(),
	}
	_ = s.Store.Create(ctx, event)
}

// RecordSecurityEvent satisfies middleware.SecurityEventRecorder, letting
// packages outside handler (which cannot import it, to avoid an import
// cycle) record security events through the same recorder.
func (s *SecurityEventRecorder) RecordSecurityEvent(ctx context.Context, userID *string, kind, detail string, r *http.Request) {
	s.record(ctx, userID, kind, detail, r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}

func newAuditID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
