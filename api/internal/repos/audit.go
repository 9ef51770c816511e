package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/models"
)

var auditCopyColumns = []string{
	"occurred_at", "tenant_id", "actor_user_id", "subject", "action",
	"resource_type", "resource_id", "request_id", "method", "path",
	"status_code", "duration_ms", "client_ip", "user_agent", "details",
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteAuditLog appends entries with COPY; the table is insert-only.
func (r *AuditRepo) WriteAuditLog(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"audit_logs"}, auditCopyColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			if e.OccurredAt.IsZero() {
				e.OccurredAt = now
			}
			return []any{
				e.OccurredAt, e.TenantID, e.ActorUserID, nullIfEmpty(e.Subject), e.Action,
				e.ResourceType, e.ResourceID, nullIfEmpty(e.RequestID), nullIfEmpty(e.Method), nullIfEmpty(e.Path),
				e.StatusCode, e.DurationMS, nullIfEmpty(e.ClientIP), nullIfEmpty(e.UserAgent), e.Details,
			}, nil
		}))
	return err
}

type AuditFilter struct {
	ActorUserID *uuid.UUID
	Action      string
	Since       *time.Time
	Limit       int
}

// Recent returns the newest entries first.
func (r *AuditRepo) Recent(ctx context.Context, filter AuditFilter) ([]models.AuditLog, error) {
	limit := clampLimit(filter.Limit, 50, 1000)
	rows, err := r.pool.Query(ctx, `
		SELECT audit_id, occurred_at, tenant_id, actor_user_id, COALESCE(subject, ''), action,
			resource_type, resource_id, COALESCE(request_id, ''), COALESCE(method, ''), COALESCE(path, ''),
			status_code, duration_ms, COALESCE(client_ip, ''), COALESCE(user_agent, ''), details
		FROM audit_logs
		WHERE ($1::uuid IS NULL OR actor_user_id = $1)
			AND ($2::text IS NULL OR action LIKE $2 || '%')
			AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		ORDER BY occurred_at DESC
		LIMIT $4
	`, filter.ActorUserID, nullIfEmpty(filter.Action), filter.Since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(&e.AuditID, &e.OccurredAt, &e.TenantID, &e.ActorUserID, &e.Subject, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.RequestID, &e.Method, &e.Path,
			&e.StatusCode, &e.DurationMS, &e.ClientIP, &e.UserAgent, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
