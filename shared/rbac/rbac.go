// Package rbac holds the role to permission matrix and the access evaluator
// used by the HTTP guards.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrEmptyRole    = errors.New("role has no permissions")
	ErrUnknownRole  = errors.New("unknown role")
)

type Role string

const (
	RoleMinister Role = "minister"
	RoleCEO      Role = "ceo"
	RoleManager  Role = "manager"
	RoleOperator Role = "operator"
	RoleAnalyst  Role = "analyst"
	RolePublic   Role = "public"
)

type Permission string

const (
	PermViewNationalDashboard Permission = "view:national_dashboard"
	PermViewRegionalDashboard Permission = "view:regional_dashboard"
	PermViewSiteDashboard     Permission = "view:site_dashboard"
	PermViewPublicDashboard   Permission = "view:public_dashboard"
	PermViewKPIs              Permission = "view:kpis"
	PermViewAlerts            Permission = "view:alerts"
	PermViewReports           Permission = "view:reports"
	PermViewMap               Permission = "view:map"
	PermViewMetrics           Permission = "view:metrics"
	PermExportReports         Permission = "export:reports"
	PermManageUsers           Permission = "manage:users"
	PermManageProjects        Permission = "manage:projects"
	PermManageOperators       Permission = "manage:operators"
	PermCreateMetrics         Permission = "create:metrics"
	PermCreateReadings        Permission = "create:readings"
	PermUploadData            Permission = "upload:data"
)

func AllRoles() []Role {
	return []Role{RoleMinister, RoleCEO, RoleManager, RoleOperator, RoleAnalyst, RolePublic}
}

func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllRoles() {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// Matrix is read-only once built and safe for concurrent use.
type Matrix struct {
	perms map[Role]map[Permission]struct{}
}

// NewMatrix requires a non-empty grant list for every known role and
// rejects roles it does not know.
func NewMatrix(grants map[Role][]Permission) (Matrix, error) {
	for role := range grants {
		if known, ok := ParseRole(string(role)); !ok || known != role {
			return Matrix{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
	}
	perms := make(map[Role]map[Permission]struct{}, len(grants))
	for _, role := range AllRoles() {
		list := grants[role]
		if len(list) == 0 {
			return Matrix{}, fmt.Errorf("%w: %s", ErrEmptyRole, role)
		}
		set := make(map[Permission]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		perms[role] = set
	}
	return Matrix{perms: perms}, nil
}

func DefaultMatrix() Matrix {
	m, err := NewMatrix(map[Role][]Permission{
		RoleMinister: {
			PermViewNationalDashboard, PermViewKPIs, PermViewAlerts, PermViewReports,
			PermViewMap, PermExportReports, PermManageUsers,
		},
		RoleCEO: {
			PermViewRegionalDashboard, PermViewKPIs, PermViewAlerts, PermViewReports,
			PermViewMap, PermViewMetrics, PermExportReports, PermManageProjects, PermManageOperators,
		},
		RoleManager: {
			PermViewRegionalDashboard, PermViewMetrics, PermViewAlerts, PermViewMap,
			PermManageProjects, PermExportReports,
		},
		RoleOperator: {
			PermViewSiteDashboard, PermViewMetrics, PermViewAlerts, PermCreateMetrics,
			PermCreateReadings, PermUploadData,
		},
		RoleAnalyst: {
			PermViewRegionalDashboard, PermViewMetrics, PermViewKPIs, PermViewReports,
			PermViewMap, PermExportReports,
		},
		RolePublic: {
			PermViewPublicDashboard, PermViewMap,
		},
	})
	if err != nil {
		panic(err)
	}
	return m
}

func (m Matrix) IsAllowed(role Role, perm Permission) bool {
	set, ok := m.perms[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// Permissions returns the sorted grants of role, nil for an unknown role.
func (m Matrix) Permissions(role Role) []Permission {
	set, ok := m.perms[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m Matrix) Roles() []Role {
	out := make([]Role, 0, len(m.perms))
	for role := range m.perms {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subject is the resolved caller. TenantID is empty for users not bound to
// a utility.
type Subject struct {
	ID       string
	Email    string
	Role     Role
	Active   bool
	TenantID string
}

type subjectKey struct{}

func WithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	if v := ctx.Value(subjectKey{}); v != nil {
		if s, ok := v.(Subject); ok {
			return &s, true
		}
	}
	return nil, false
}

type DenyKind string

const (
	DenyNone            DenyKind = ""
	DenyUnauthenticated DenyKind = "unauthenticated"
	DenyForbidden       DenyKind = "forbidden"
)

type Decision struct {
	Allowed bool
	Kind    DenyKind
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func (d Decision) Err() error {
	switch d.Kind {
	case DenyNone:
		return nil
	case DenyUnauthenticated:
		return fmt.Errorf("%w: %s", ErrUnauthorized, d.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
	}
}

type Evaluator struct {
	matrix Matrix
}

func NewEvaluator(matrix Matrix) *Evaluator {
	return &Evaluator{matrix: matrix}
}

func (e *Evaluator) Matrix() Matrix { return e.matrix }

func (e *Evaluator) IsAllowed(role Role, perm Permission) bool {
	return e.matrix.IsAllowed(role, perm)
}

// RequirePermission treats an inactive subject as unauthenticated even when
// it presented a valid credential.
func (e *Evaluator) RequirePermission(subject *Subject, perm Permission) Decision {
	if d, ok := authenticated(subject); !ok {
		return d
	}
	if !e.matrix.IsAllowed(subject.Role, perm) {
		return Decision{Kind: DenyForbidden, Reason: fmt.Sprintf("permission %s required", perm)}
	}
	return allow()
}

func (e *Evaluator) RequireRole(subject *Subject, roles ...Role) Decision {
	if d, ok := authenticated(subject); !ok {
		return d
	}
	for _, r := range roles {
		if subject.Role == r {
			return allow()
		}
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return Decision{Kind: DenyForbidden, Reason: "role must be one of " + strings.Join(names, ", ")}
}

func authenticated(subject *Subject) (Decision, bool) {
	if subject == nil || strings.TrimSpace(subject.ID) == "" {
		return Decision{Kind: DenyUnauthenticated, Reason: "not authenticated"}, false
	}
	if !subject.Active {
		return Decision{Kind: DenyUnauthenticated, Reason: "account inactive"}, false
	}
	return Decision{}, true
}
