package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/rbac"
	"water-infra-dashboard/shared/tenantx"
)

type TenantLookup interface {
	GetTenantByID(ctx context.Context, tenantID uuid.UUID) (models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (models.Tenant, error)
}

var (
	errTenantMismatch   = errors.New("tenant id and slug disagree")
	errTenantNotAllowed = errors.New("tenant not allowed")
)

// TenantMiddleware scopes a request to one utility. The scope comes from
// X-Tenant-Slug or X-Tenant-ID; users bound to a utility are scoped to it
// even without a header and may not select another one; ministers see the
// whole country. Unbound users without a header stay unscoped.
type TenantMiddleware struct {
	Tenants TenantLookup
	Skip    func(*http.Request) bool
}

func (m TenantMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		idHeader := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
		slugHeader := strings.TrimSpace(r.Header.Get("X-Tenant-Slug"))
		subject, _ := rbac.SubjectFromContext(r.Context())
		bound := subject != nil && subject.TenantID != ""
		if idHeader == "" && slugHeader == "" {
			if !bound {
				next.ServeHTTP(w, r)
				return
			}
			idHeader = subject.TenantID
		}
		if m.Tenants == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition, "tenant repository not configured", nil)
			return
		}

		record, status, err := m.resolve(r.Context(), idHeader, slugHeader)
		if err != nil {
			code := httpx.CodeInternal
			switch status {
			case http.StatusBadRequest:
				code = httpx.CodeInvalidArgument
			case http.StatusNotFound:
				code = httpx.CodeNotFound
			case http.StatusForbidden:
				code = httpx.CodeForbidden
			}
			httpx.WriteError(w, r, status, code, err.Error(), nil)
			return
		}
		tenantID := record.TenantID.String()

		if bound && subject.Role != rbac.RoleMinister && subject.TenantID != tenantID {
			httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeForbidden, errTenantNotAllowed.Error(), nil)
			return
		}
		if auth, ok := authx.FromContext(r.Context()); ok && !claimsAllowTenant(auth.Claims, tenantID) {
			httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeForbidden, errTenantNotAllowed.Error(), nil)
			return
		}

		ctx := tenantx.WithTenant(r.Context(), tenantx.TenantContext{ID: tenantID, Slug: record.Slug, Name: record.Name})
		httpx.Annotate(ctx, slog.String("tenant", record.Slug))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve prefers the slug; an id sent alongside must name the same tenant.
func (m TenantMiddleware) resolve(ctx context.Context, id, slug string) (models.Tenant, int, error) {
	var (
		record models.Tenant
		err    error
	)
	if slug != "" {
		record, err = m.Tenants.GetTenantBySlug(ctx, slug)
	} else {
		parsed, perr := uuid.Parse(id)
		if perr != nil {
			return models.Tenant{}, http.StatusBadRequest, errors.New("invalid tenant id")
		}
		record, err = m.Tenants.GetTenantByID(ctx, parsed)
	}
	switch {
	case errors.Is(err, repos.ErrNotFound):
		return models.Tenant{}, http.StatusNotFound, errors.New("tenant not found")
	case err != nil:
		return models.Tenant{}, http.StatusInternalServerError, errors.New("failed to resolve tenant")
	}
	if slug != "" && id != "" && !strings.EqualFold(id, record.TenantID.String()) {
		return models.Tenant{}, http.StatusForbidden, errTenantMismatch
	}
	return record, http.StatusOK, nil
}

// claimsAllowTenant checks the optional tenant_id and tenants claims an
// identity provider may put in the token.
func claimsAllowTenant(claims map[string]any, tenantID string) bool {
	if single, ok := claims["tenant_id"].(string); ok && strings.TrimSpace(single) != "" {
		if strings.TrimSpace(single) != tenantID {
			return false
		}
	}
	var allowed []string
	switch t := claims["tenants"].(type) {
	case string:
		allowed = strings.Fields(t)
	case []string:
		allowed = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				allowed = append(allowed, s)
			}
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.TrimSpace(a) == tenantID {
			return true
		}
	}
	return false
}
