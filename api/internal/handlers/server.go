// Package handlers implements the /api/v1 HTTP surface.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/aggregate"
	"water-infra-dashboard/api/internal/ingest"
	"water-infra-dashboard/api/internal/middleware"
	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/rbac"
	"water-infra-dashboard/shared/tenantx"
	"water-infra-dashboard/shared/units"
)

type UserStore interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	List(ctx context.Context, skip int, limit int) ([]models.User, error)
	Patch(ctx context.Context, userID uuid.UUID, patch models.UserPatch) (models.User, error)
	TouchLogin(ctx context.Context, userID uuid.UUID) error
}

type ProjectStore interface {
	List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int64, error)
	Get(ctx context.Context, projectID uuid.UUID, tenantID *uuid.UUID) (models.Project, error)
	Create(ctx context.Context, p models.Project) (models.Project, error)
	Patch(ctx context.Context, projectID uuid.UUID, patch models.ProjectPatch) (models.Project, error)
	MapPoints(ctx context.Context, region string, tenantID *uuid.UUID) ([]models.Project, error)
}

type MetricStore interface {
	List(ctx context.Context, filter models.MetricFilter) ([]models.Metric, error)
	Latest(ctx context.Context, projectID uuid.UUID) ([]models.Metric, error)
	History(ctx context.Context, projectID uuid.UUID, metricType string, limit int) ([]models.Metric, error)
}

type QualityStore interface {
	Insert(ctx context.Context, q models.QualityReading) (models.QualityReading, error)
	List(ctx context.Context, projectID uuid.UUID, limit int) ([]models.QualityReading, error)
}

type AlertStore interface {
	ListActive(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	Create(ctx context.Context, alert models.Alert, actorID *uuid.UUID) (models.Alert, error)
	Transition(ctx context.Context, alertID uuid.UUID, toStatus string, actorID *uuid.UUID, tenantID *uuid.UUID) (models.Alert, bool, error)
}

type RuleStore interface {
	List(ctx context.Context, active bool) ([]models.AlertRule, error)
	Create(ctx context.Context, rule models.AlertRule) (models.AlertRule, error)
}

type DashboardStore interface {
	KPIs(ctx context.Context, filter models.KPIFilter) (models.DashboardKPIs, error)
	Regions(ctx context.Context, tenantID *uuid.UUID) ([]models.RegionSummary, error)
}

// Cache is optional; a nil Cache disables dashboard caching.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type Deps struct {
	Logger     logx.Logger
	Evaluator  *rbac.Evaluator
	Issuer     *authx.TokenIssuer
	Users      UserStore
	Projects   ProjectStore
	Metrics    MetricStore
	Quality    QualityStore
	Alerts     AlertStore
	Rules      RuleStore
	Dashboard  DashboardStore
	Pipeline   *ingest.Pipeline
	Aggregator *aggregate.Engine
	Thresholds anomaly.Thresholds
	Detector   anomaly.Detector
	Scorer     anomaly.DensityScorer
	MinHistory int
	Units      *units.Registry
	Cache      Cache
	CacheTTL   time.Duration
	MaxUpload  int64
}

type Server struct {
	Deps
	guard middleware.Guard
}

func NewServer(d Deps) *Server {
	if d.Evaluator == nil {
		d.Evaluator = rbac.NewEvaluator(rbac.DefaultMatrix())
	}
	if d.Units == nil {
		d.Units = units.Default()
	}
	if d.MinHistory <= 0 {
		d.MinHistory = anomaly.DefaultMinHistory
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = 10 << 20
	}
	if d.Detector == nil {
		d.Detector = anomaly.NewRuleBased(d.Thresholds)
	}
	return &Server{Deps: d, guard: middleware.NewGuard(d.Evaluator)}
}

func (s *Server) Register(mux *http.ServeMux) {
	g := s.guard
	admins := []rbac.Role{rbac.RoleMinister, rbac.RoleCEO}

	mux.HandleFunc("POST /api/v1/auth/login", s.login)
	mux.HandleFunc("POST /api/v1/auth/register", s.register)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.refresh)

	mux.Handle("GET /api/v1/users/me", g.Authenticated(s.me))
	mux.Handle("GET /api/v1/users", g.Role(admins, s.listUsers))
	mux.Handle("GET /api/v1/users/{user_id}", g.Role(admins, s.getUser))
	mux.Handle("PATCH /api/v1/users/{user_id}", g.Role(admins, s.patchUser))

	mux.Handle("GET /api/v1/projects", g.Authenticated(s.listProjects))
	mux.Handle("GET /api/v1/projects/map", g.Permission(rbac.PermViewMap, s.projectMap))
	mux.Handle("GET /api/v1/projects/{project_id}", g.Authenticated(s.getProject))
	mux.Handle("POST /api/v1/projects", g.Permission(rbac.PermManageProjects, s.createProject))
	mux.Handle("PATCH /api/v1/projects/{project_id}", g.Permission(rbac.PermManageProjects, s.patchProject))

	mux.Handle("POST /api/v1/metrics", g.Permission(rbac.PermCreateMetrics, s.createMetric))
	mux.Handle("POST /api/v1/metrics/batch", g.Permission(rbac.PermCreateMetrics, s.createMetricBatch))
	mux.Handle("POST /api/v1/metrics/upload/csv", g.Permission(rbac.PermUploadData, s.uploadCSV))
	mux.Handle("POST /api/v1/metrics/quality", g.Permission(rbac.PermCreateReadings, s.createQualityReading))
	mux.Handle("GET /api/v1/metrics/{project_id}", g.Permission(rbac.PermViewMetrics, s.listMetrics))
	mux.Handle("GET /api/v1/metrics/{project_id}/latest", g.Permission(rbac.PermViewMetrics, s.latestMetrics))
	mux.Handle("GET /api/v1/metrics/{project_id}/aggregated", g.Permission(rbac.PermViewMetrics, s.aggregatedMetrics))
	mux.Handle("GET /api/v1/metrics/{project_id}/quality", g.Permission(rbac.PermViewMetrics, s.listQualityReadings))
	mux.Handle("POST /api/v1/metrics/{project_id}/score", g.Permission(rbac.PermViewMetrics, s.scoreReading))

	mux.Handle("GET /api/v1/alerts", g.Permission(rbac.PermViewAlerts, s.listAlerts))
	mux.Handle("POST /api/v1/alerts", g.Permission(rbac.PermManageProjects, s.createAlert))
	mux.Handle("POST /api/v1/alerts/{alert_id}/acknowledge", g.Permission(rbac.PermViewAlerts, s.acknowledgeAlert))
	mux.Handle("POST /api/v1/alerts/{alert_id}/resolve", g.Permission(rbac.PermViewAlerts, s.resolveAlert))
	mux.Handle("POST /api/v1/alerts/{alert_id}/suppress", g.Permission(rbac.PermManageProjects, s.suppressAlert))
	mux.Handle("GET /api/v1/alerts/rules", g.Permission(rbac.PermViewAlerts, s.listRules))
	mux.Handle("POST /api/v1/alerts/rules", g.Permission(rbac.PermManageProjects, s.createRule))

	mux.Handle("GET /api/v1/dashboard/kpis", g.Permission(rbac.PermViewKPIs, s.kpis))
	mux.Handle("GET /api/v1/dashboard/regions", g.Permission(rbac.PermViewKPIs, s.regions))

	mux.Handle("GET /api/v1/units/convert", g.Authenticated(s.convertUnits))
	mux.Handle("GET /api/v1/units", g.Authenticated(s.listUnitPairs))
	mux.HandleFunc("GET /api/v1/tenants/current", s.currentTenant)
}

// PublicPaths lists routes reachable without a subject.
func PublicPaths(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/v1/auth/")
}

// writeStoreError maps repository sentinels to the error envelope.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, errForeignTenant):
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, repos.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
	case errors.Is(err, repos.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", what+" already exists", nil)
	case errors.Is(err, repos.ErrInvalidAlertTransition):
		httpx.WriteError(w, r, http.StatusConflict, "FAILED_PRECONDITION", "invalid alert transition", nil)
	case errors.Is(err, ingest.ErrInvalidReading),
		errors.Is(err, aggregate.ErrInvalidInterval),
		errors.Is(err, aggregate.ErrInvalidQuery):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", nil)
	default:
		s.Logger.Error(r.Context(), "request_failed", "request failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

var errForeignTenant = errors.New("tenant is outside the caller's scope")

// tenantScope resolves the tenant a request acts on. An explicit tenant wins
// over the scoped one, but only ministers and unbound subjects may name a
// tenant other than their own.
func tenantScope(r *http.Request, explicit *uuid.UUID) (*uuid.UUID, error) {
	if explicit == nil {
		return tenantx.UUIDFromContext(r.Context()), nil
	}
	subject, ok := rbac.SubjectFromContext(r.Context())
	if ok && subject.TenantID != "" && subject.Role != rbac.RoleMinister && !strings.EqualFold(subject.TenantID, explicit.String()) {
		return nil, errForeignTenant
	}
	return explicit, nil
}

// requireProject writes 404 when a tenant-scoped request names a project of
// another tenant. Unscoped requests are left to the store.
func (s *Server) requireProject(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) bool {
	tenantID := tenantx.UUIDFromContext(r.Context())
	if tenantID == nil {
		return true
	}
	if _, err := s.Projects.Get(r.Context(), projectID, tenantID); err != nil {
		s.writeStoreError(w, r, err, "project")
		return false
	}
	return true
}

// requireProjects checks each distinct project of an ingest payload.
func (s *Server) requireProjects(w http.ResponseWriter, r *http.Request, inputs []ingest.MetricInput) bool {
	seen := make(map[uuid.UUID]struct{}, len(inputs))
	for _, in := range inputs {
		if _, ok := seen[in.ProjectID]; ok {
			continue
		}
		seen[in.ProjectID] = struct{}{}
		if !s.requireProject(w, r, in.ProjectID) {
			return false
		}
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.New(key + " must be a uuid")
	}
	return &id, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New(key + " must be an RFC3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

// actorID returns the authenticated user id, if any.
func actorID(r *http.Request) *uuid.UUID {
	subject, ok := rbac.SubjectFromContext(r.Context())
	if !ok {
		return nil
	}
	id, err := uuid.Parse(subject.ID)
	if err != nil {
		return nil
	}
	return &id
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
}
