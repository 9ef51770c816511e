package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var allPermissions = []Permission{
	PermViewNationalDashboard, PermViewRegionalDashboard, PermViewSiteDashboard, PermViewPublicDashboard,
	PermViewKPIs, PermViewAlerts, PermViewReports, PermViewMap, PermViewMetrics, PermExportReports,
	PermManageUsers, PermManageProjects, PermManageOperators, PermCreateMetrics, PermCreateReadings,
	PermUploadData,
}

func TestDefaultMatrixEveryRoleHasPermissions(t *testing.T) {
	m := DefaultMatrix()
	for _, role := range AllRoles() {
		if len(m.Permissions(role)) == 0 {
			t.Fatalf("role %s has no permissions", role)
		}
	}
}

func TestDefaultMatrixAllowsExactlyGrantedPermissions(t *testing.T) {
	m := DefaultMatrix()
	for _, role := range AllRoles() {
		granted := map[Permission]bool{}
		for _, p := range m.Permissions(role) {
			granted[p] = true
		}
		for _, p := range allPermissions {
			if got := m.IsAllowed(role, p); got != granted[p] {
				t.Fatalf("IsAllowed(%s, %s) = %v, want %v", role, p, got, granted[p])
			}
		}
		if m.IsAllowed(role, Permission("delete:everything")) {
			t.Fatalf("unknown permission allowed for %s", role)
		}
	}
}

func TestDefaultMatrixSpotChecks(t *testing.T) {
	m := DefaultMatrix()
	cases := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleOperator, PermCreateMetrics, true},
		{RoleOperator, PermViewKPIs, false},
		{RoleMinister, PermManageUsers, true},
		{RoleMinister, PermViewMetrics, false},
		{RoleCEO, PermManageOperators, true},
		{RoleManager, PermManageProjects, true},
		{RoleAnalyst, PermCreateMetrics, false},
		{RolePublic, PermViewMap, true},
		{RolePublic, PermViewAlerts, false},
		{Role("unknown"), PermViewMap, false},
	}
	for _, tc := range cases {
		if got := m.IsAllowed(tc.role, tc.perm); got != tc.want {
			t.Fatalf("IsAllowed(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

// grantsFor gives every role one permission so tests can override a single
// entry.
func grantsFor(perm Permission) map[Role][]Permission {
	grants := make(map[Role][]Permission, len(AllRoles()))
	for _, role := range AllRoles() {
		grants[role] = []Permission{perm}
	}
	return grants
}

func TestNewMatrixRejectsEmptyRole(t *testing.T) {
	grants := grantsFor(PermViewMap)
	grants[RolePublic] = []Permission{}
	if _, err := NewMatrix(grants); !errors.Is(err, ErrEmptyRole) {
		t.Fatalf("expected ErrEmptyRole, got %v", err)
	}
}

func TestNewMatrixRequiresEveryRole(t *testing.T) {
	_, err := NewMatrix(map[Role][]Permission{RoleMinister: {PermViewKPIs}})
	if !errors.Is(err, ErrEmptyRole) {
		t.Fatalf("expected ErrEmptyRole for missing roles, got %v", err)
	}

	grants := grantsFor(PermViewMap)
	delete(grants, RoleAnalyst)
	if _, err := NewMatrix(grants); !errors.Is(err, ErrEmptyRole) || !strings.Contains(err.Error(), "analyst") {
		t.Fatalf("expected missing analyst to be reported, got %v", err)
	}
}

func TestNewMatrixRejectsUnknownRole(t *testing.T) {
	for _, role := range []Role{"admin", "Minister", ""} {
		grants := grantsFor(PermViewMap)
		grants[role] = []Permission{PermViewKPIs}
		if _, err := NewMatrix(grants); !errors.Is(err, ErrUnknownRole) {
			t.Fatalf("role %q: expected ErrUnknownRole, got %v", role, err)
		}
	}
}

func TestEvaluatorWithCustomMatrix(t *testing.T) {
	grants := grantsFor(PermViewMap)
	grants[RolePublic] = []Permission{PermViewAlerts}
	m, err := NewMatrix(grants)
	if err != nil {
		t.Fatalf("NewMatrix: %v", err)
	}
	e := NewEvaluator(m)
	subject := &Subject{ID: "u1", Role: RolePublic, Active: true}
	if d := e.RequirePermission(subject, PermViewAlerts); !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestRequirePermissionDecisions(t *testing.T) {
	e := NewEvaluator(DefaultMatrix())

	d := e.RequirePermission(nil, PermViewAlerts)
	if d.Allowed || d.Kind != DenyUnauthenticated || !errors.Is(d.Err(), ErrUnauthorized) {
		t.Fatalf("nil subject: got %+v", d)
	}

	inactive := &Subject{ID: "u1", Role: RoleMinister, Active: false}
	d = e.RequirePermission(inactive, PermViewAlerts)
	if d.Kind != DenyUnauthenticated {
		t.Fatalf("inactive subject should be unauthenticated, got %+v", d)
	}

	operator := &Subject{ID: "u2", Role: RoleOperator, Active: true}
	d = e.RequirePermission(operator, PermViewKPIs)
	if d.Kind != DenyForbidden || !errors.Is(d.Err(), ErrForbidden) {
		t.Fatalf("operator kpis: got %+v", d)
	}

	d = e.RequirePermission(operator, PermCreateMetrics)
	if !d.Allowed || d.Err() != nil {
		t.Fatalf("operator create metrics: got %+v", d)
	}
}

func TestRequireRole(t *testing.T) {
	e := NewEvaluator(DefaultMatrix())
	ceo := &Subject{ID: "u1", Role: RoleCEO, Active: true}
	if d := e.RequireRole(ceo, RoleMinister, RoleCEO); !d.Allowed {
		t.Fatalf("expected ceo allowed, got %+v", d)
	}
	analyst := &Subject{ID: "u2", Role: RoleAnalyst, Active: true}
	if d := e.RequireRole(analyst, RoleMinister, RoleCEO); d.Kind != DenyForbidden {
		t.Fatalf("expected forbidden, got %+v", d)
	}
	if d := e.RequireRole(&Subject{ID: "u3", Role: RoleCEO}, RoleCEO); d.Kind != DenyUnauthenticated {
		t.Fatalf("expected unauthenticated for inactive, got %+v", d)
	}
}

func TestSubjectContext(t *testing.T) {
	ctx := WithSubject(context.Background(), Subject{ID: "u1", Role: RoleAnalyst, Active: true})
	s, ok := SubjectFromContext(ctx)
	if !ok || s.Role != RoleAnalyst {
		t.Fatalf("expected subject in context, got %+v %v", s, ok)
	}
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Fatalf("expected no subject")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" CEO "); !ok || r != RoleCEO {
		t.Fatalf("ParseRole(CEO) = %v %v", r, ok)
	}
	if _, ok := ParseRole("admin"); ok {
		t.Fatalf("admin should not parse")
	}
}
