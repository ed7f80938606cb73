package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// AuditRepo provides database operations for audit logs. Entries are
// append-only and never mutated.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo creates an AuditRepo.
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create inserts a new audit log entry.
func (r *AuditRepo) Create(ctx context.Context, entry *model.AuditLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_id, resource_type, severity, success, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.UserID, entry.Action, entry.ResourceID, entry.ResourceType,
		entry.Severity, entry.Success, entry.Details,
		entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.AuditCreate: %w", err)
	}
	return nil
}

// ListFilter defines filters for listing audit logs.
type ListFilter struct {
	UserID    string
	Action    string
	Severity  string
	StartDate string // ISO 8601
	EndDate   string // ISO 8601
	Limit     int
	Offset    int
}

// List returns paginated audit logs matching the given filters, newest first.
func (r *AuditRepo) List(ctx context.Context, f ListFilter) ([]model.AuditLog, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `SELECT id, user_id, action, resource_id, resource_type, severity, success, details, ip_address, user_agent, created_at FROM audit_logs WHERE 1=1`
	countQuery := `SELECT count(*) FROM audit_logs WHERE 1=1`
	var args []interface{}
	argIdx := 1

	if f.UserID != "" {
		clause := fmt.Sprintf(` AND user_id = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, f.UserID)
		argIdx++
	}
	if f.Action != "" {
		clause := fmt.Sprintf(` AND action = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, f.Action)
		argIdx++
	}
	if f.Severity != "" {
		clause := fmt.Sprintf(` AND severity = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, f.Severity)
		argIdx++
	}
	if f.StartDate != "" {
		clause := fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, f.StartDate)
		argIdx++
	}
	if f.EndDate != "" {
		clause := fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, f.EndDate)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.AuditList count: %w", err)
	}

	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.AuditList: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLog
	for rows.Next() {
		var e model.AuditLog
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ResourceID, &e.ResourceType,
			&e.Severity, &e.Success, &e.Details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("repository.AuditList scan: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, total, nil
}

// SecurityEventRepo records security-relevant events distinct from ordinary
// audit log entries (lockouts, rate limiting, invalid tokens).
type SecurityEventRepo struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepo creates a SecurityEventRepo.
func NewSecurityEventRepo(pool *pgxpool.Pool) *SecurityEventRepo {
	return &SecurityEventRepo{pool: pool}
}

// Create inserts a new security event.
func (r *SecurityEventRepo) Create(ctx context.Context, event *model.SecurityEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_events (id, user_id, kind, detail, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.UserID, event.Kind, event.Detail, event.IPAddress, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.SecurityEventCreate: %w", err)
	}
	return nil
}

// Recent returns the most recent security events, newest first, capped at 500.
func (r *SecurityEventRepo) Recent(ctx context.Context, limit int) ([]model.SecurityEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, detail, ip_address, created_at
		FROM security_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.SecurityEventRecent: %w", err)
	}
	defer rows.Close()

	var events []model.SecurityEvent
	for rows.Next() {
		var e model.SecurityEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Detail, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.SecurityEventRecent scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
