package middleware

import (
	"net/http"

	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/rbac"
)

// Guard wraps individual routes with permission or role checks.
type Guard struct {
	Evaluator *rbac.Evaluator
}

func NewGuard(e *rbac.Evaluator) Guard {
	return Guard{Evaluator: e}
}

func (g Guard) Permission(perm rbac.Permission, next http.HandlerFunc) http.Handler {
	return g.check(func(s *rbac.Subject) rbac.Decision { return g.Evaluator.RequirePermission(s, perm) }, next)
}

func (g Guard) Role(roles []rbac.Role, next http.HandlerFunc) http.Handler {
	return g.check(func(s *rbac.Subject) rbac.Decision { return g.Evaluator.RequireRole(s, roles...) }, next)
}

// Authenticated admits any active subject.
func (g Guard) Authenticated(next http.HandlerFunc) http.Handler {
	return g.check(func(s *rbac.Subject) rbac.Decision { return g.Evaluator.RequireRole(s, rbac.AllRoles()...) }, next)
}

func (g Guard) check(decide func(*rbac.Subject) rbac.Decision, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := rbac.SubjectFromContext(r.Context())
		d := decide(subject)
		switch d.Kind {
		case rbac.DenyNone:
			next(w, r)
		case rbac.DenyUnauthenticated:
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
		default:
			httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", d.Reason, nil)
		}
	})
}
