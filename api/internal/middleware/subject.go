package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/rbac"
	"water-infra-dashboard/shared/tenantx"
)

type UserLookup interface {
	GetByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	UpsertUserFromOIDC(ctx context.Context, tenantID *uuid.UUID, subject string, email string, fullName string, role string) (models.User, error)
}

// SubjectMiddleware resolves a verified token to the stored user and attaches
// an rbac.Subject. Role and active flag always come from the database.
type SubjectMiddleware struct {
	Users  UserLookup
	Logger logx.Logger
	Skip   func(*http.Request) bool
}

func (m SubjectMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		auth, ok := authx.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if m.Users == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "user store not configured", nil)
			return
		}

		user, err := m.resolve(r.Context(), auth)
		if err != nil {
			if errors.Is(err, repos.ErrNotFound) || errors.Is(err, authx.ErrInvalidToken) {
				httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "unknown user", nil)
				return
			}
			m.Logger.Error(r.Context(), "subject_resolve_failed", "failed to resolve subject",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to resolve user", nil)
			return
		}

		role, ok := rbac.ParseRole(user.Role)
		if !ok {
			role = rbac.RolePublic
		}
		subject := rbac.Subject{
			ID:     user.UserID.String(),
			Email:  user.Email,
			Role:   role,
			Active: user.IsActive,
		}
		if user.TenantID != nil {
			subject.TenantID = user.TenantID.String()
		}
		ctx := rbac.WithSubject(r.Context(), subject)
		httpx.Annotate(ctx, slog.String("user_id", user.UserID.String()), slog.String("role", string(role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m SubjectMiddleware) resolve(ctx context.Context, auth authx.AuthContext) (models.User, error) {
	if auth.Provider == authx.ProviderOIDC {
		role := ""
		for _, raw := range auth.Roles {
			if r, ok := rbac.ParseRole(raw); ok {
				role = string(r)
				break
			}
		}
		return m.Users.UpsertUserFromOIDC(ctx, tenantx.UUIDFromContext(ctx), auth.Subject, auth.Email, auth.Name, role)
	}
	id, err := uuid.Parse(auth.Subject)
	if err != nil {
		return models.User{}, authx.ErrInvalidToken
	}
	return m.Users.GetByID(ctx, id)
}
