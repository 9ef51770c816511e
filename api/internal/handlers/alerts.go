package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/tenantx"
	"water-infra-dashboard/shared/workflow"
)

const alertTypeManual = "manual"

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryUUID(r, "project_id")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100, 1, 500)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	severity := workflow.NormalizeStatus(r.URL.Query().Get("severity"))
	if severity != "" && !workflow.ValidSeverity(severity) {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown severity", nil)
		return
	}
	alerts, err := s.Alerts.ListActive(r.Context(), models.AlertFilter{
		ProjectID: projectID,
		Severity:  severity,
		TenantID:  tenantx.UUIDFromContext(r.Context()),
		Limit:     limit,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "alert")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, alerts)
}

type alertCreateRequest struct {
	ProjectID   uuid.UUID  `json:"project_id" validate:"required"`
	RuleID      *uuid.UUID `json:"rule_id,omitempty"`
	Title       string     `json:"title" validate:"required,max=255"`
	Message     string     `json:"message" validate:"required"`
	Severity    string     `json:"severity" validate:"required,oneof=info warning critical emergency"`
	MetricType  *string    `json:"metric_type,omitempty" validate:"omitempty,max=50"`
	MetricValue *float64   `json:"metric_value,omitempty"`
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var req alertCreateRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if !s.requireProject(w, r, req.ProjectID) {
		return
	}
	alert, err := s.Alerts.Create(r.Context(), models.Alert{
		TenantID:    tenantx.UUIDFromContext(r.Context()),
		ProjectID:   req.ProjectID,
		RuleID:      req.RuleID,
		Title:       strings.TrimSpace(req.Title),
		Message:     req.Message,
		Severity:    req.Severity,
		AlertType:   alertTypeManual,
		MetricType:  req.MetricType,
		MetricValue: req.MetricValue,
	}, actorID(r))
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	s.invalidateDashboard(r.Context())
	httpx.WriteJSON(w, http.StatusCreated, alert)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, workflow.AlertStatusAcknowledged)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, workflow.AlertStatusResolved)
}

func (s *Server) suppressAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, workflow.AlertStatusSuppressed)
}

// transitionAlert is idempotent: repeating the current status returns 200
// without a new event.
func (s *Server) transitionAlert(w http.ResponseWriter, r *http.Request, toStatus string) {
	alertID, ok := pathUUID(w, r, "alert_id")
	if !ok {
		return
	}
	alert, changed, err := s.Alerts.Transition(r.Context(), alertID, toStatus, actorID(r), tenantx.UUIDFromContext(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err, "alert")
		return
	}
	if changed {
		metricsx.IncAlertTransition(toStatus)
		s.invalidateDashboard(r.Context())
	}
	httpx.WriteJSON(w, http.StatusOK, alert)
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	rules, err := s.Rules.List(r.Context(), activeOnly)
	if err != nil {
		s.writeStoreError(w, r, err, "rule")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rules)
}

type ruleCreateRequest struct {
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	Name        string     `json:"name" validate:"required,max=255"`
	Description *string    `json:"description,omitempty"`
	MetricType  string     `json:"metric_type" validate:"required,max=50"`
	Condition   string     `json:"condition" validate:"required,oneof=gt lt gte lte eq anomaly"`
	Threshold   *float64   `json:"threshold,omitempty"`
	Severity    string     `json:"severity" validate:"required,oneof=info warning critical emergency"`
	NotifySMS   bool       `json:"notify_sms"`
	NotifyEmail bool       `json:"notify_email"`
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleCreateRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if req.Condition != "anomaly" && req.Threshold == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "threshold is required for comparison rules", nil)
		return
	}
	if req.ProjectID != nil && !s.requireProject(w, r, *req.ProjectID) {
		return
	}
	rule, err := s.Rules.Create(r.Context(), models.AlertRule{
		TenantID:    tenantx.UUIDFromContext(r.Context()),
		ProjectID:   req.ProjectID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		MetricType:  req.MetricType,
		Condition:   req.Condition,
		Threshold:   req.Threshold,
		Severity:    req.Severity,
		IsActive:    true,
		NotifySMS:   req.NotifySMS,
		NotifyEmail: req.NotifyEmail,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "rule")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rule)
}
