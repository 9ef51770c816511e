package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/rbac"
	"water-infra-dashboard/shared/tenantx"
)

type AuditWriter interface {
	WriteAuditLog(ctx context.Context, entries []models.AuditLog) error
}

// AuditMiddleware records state changes, denials and user-record reads.
// Entries are written off the request path.
type AuditMiddleware struct {
	Enabled bool
	Repo    AuditWriter
	Logger  logx.Logger
	Skip    func(*http.Request) bool
	Timeout time.Duration
}

func (m AuditMiddleware) Wrap(next http.Handler) http.Handler {
	if !m.Enabled || m.Repo == nil {
		return next
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if !auditable(r, sw.status) {
			return
		}
		entry := buildAuditEntry(r, sw.status, time.Since(start))

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := m.Repo.WriteAuditLog(ctx, []models.AuditLog{entry}); err != nil {
				m.Logger.Warn(ctx, "audit_write_failed", "audit write failed",
					slog.String("action", entry.Action),
					slog.String("error", err.Error()),
				)
			}
		}()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func auditable(r *http.Request, status int) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/v1/users")
}

func buildAuditEntry(r *http.Request, status int, elapsed time.Duration) models.AuditLog {
	target := classify(r)
	entry := models.AuditLog{
		OccurredAt:   time.Now().UTC(),
		TenantID:     tenantx.UUIDFromContext(r.Context()),
		Action:       target.action,
		ResourceType: target.resourceType,
		ResourceID:   target.resourceID,
		RequestID:    httpx.RequestIDFromContext(r.Context()),
		Method:       r.Method,
		Path:         r.URL.Path,
		StatusCode:   status,
		DurationMS:   elapsed.Milliseconds(),
		ClientIP:     httpx.ClientIP(r),
		UserAgent:    strings.TrimSpace(r.UserAgent()),
	}
	switch status {
	case http.StatusUnauthorized:
		entry.Action = "auth.failed"
	case http.StatusForbidden:
		entry.Action = "access.denied"
	}

	details := map[string]any{"outcome": outcome(status)}
	if auth, ok := authx.FromContext(r.Context()); ok {
		entry.Subject = auth.Subject
	}
	if subject, ok := rbac.SubjectFromContext(r.Context()); ok {
		if id, err := uuid.Parse(subject.ID); err == nil {
			entry.ActorUserID = &id
		}
		details["role"] = string(subject.Role)
	}
	if target.action == "metric.upload" && r.ContentLength > 0 {
		details["content_length"] = r.ContentLength
	}
	if b, err := json.Marshal(details); err == nil {
		entry.Details = b
	}
	return entry
}

func outcome(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}

type auditTarget struct {
	action       string
	resourceType *string
	resourceID   *string
}

// resourceNames maps the first path segment under /api/v1 to the audited
// resource name. Unlisted segments are not attributed.
var resourceNames = map[string]string{
	"auth":      "auth",
	"users":     "user",
	"projects":  "project",
	"metrics":   "metric",
	"alerts":    "alert",
	"dashboard": "dashboard",
	"tenants":   "tenant",
}

// classify names the domain action of a request, such as
// "alert.acknowledge", "metric.upload" or "project.update".
func classify(r *http.Request) auditTarget {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1"), "/"), "/")
	resource, ok := resourceNames[parts[0]]
	if !ok {
		return auditTarget{action: strings.ToLower(r.Method)}
	}
	rest := parts[1:]
	verb := verbFor(r.Method)

	switch resource {
	case "auth":
		if len(rest) > 0 {
			verb = rest[0]
		}
		return auditTarget{action: "auth." + verb, resourceType: &resource}
	case "alert":
		if len(rest) > 0 && rest[0] == "rules" {
			rule := "alert_rule"
			return auditTarget{action: rule + "." + verb, resourceType: &rule}
		}
		if len(rest) == 2 {
			return auditTarget{action: "alert." + rest[1], resourceType: &resource, resourceID: &rest[0]}
		}
	case "metric":
		switch {
		case len(rest) >= 1 && rest[0] == "batch":
			return auditTarget{action: "metric.batch", resourceType: &resource}
		case len(rest) >= 1 && rest[0] == "upload":
			return auditTarget{action: "metric.upload", resourceType: &resource}
		case len(rest) == 1 && rest[0] == "quality":
			reading := "quality_reading"
			return auditTarget{action: reading + ".create", resourceType: &reading}
		case len(rest) == 2 && rest[1] == "score":
			project := "project"
			return auditTarget{action: "metric.score", resourceType: &project, resourceID: &rest[0]}
		}
	}

	target := auditTarget{action: resource + "." + verb, resourceType: &resource}
	if len(rest) > 0 && rest[0] != "" {
		id := rest[0]
		target.resourceID = &id
	}
	return target
}

func verbFor(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
