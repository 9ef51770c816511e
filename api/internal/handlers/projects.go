package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/tenantx"
)

type projectList struct {
	Items []models.Project `json:"items"`
	Total int64            `json:"total"`
	Skip  int              `json:"skip"`
	Limit int              `json:"limit"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	skip, err := httpx.QueryInt(r, "skip", 0, 0, 1_000_000)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 50, 1, 200)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	explicit, err := queryUUID(r, "tenant_id")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	tenantID, err := tenantScope(r, explicit)
	if err != nil {
		s.writeStoreError(w, r, err, "tenant")
		return
	}

	q := r.URL.Query()
	items, total, err := s.Projects.List(r.Context(), models.ProjectFilter{
		Region:      strings.TrimSpace(q.Get("region")),
		Status:      strings.TrimSpace(q.Get("status")),
		ProjectType: strings.TrimSpace(q.Get("project_type")),
		TenantID:    tenantID,
		Skip:        skip,
		Limit:       limit,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, projectList{Items: items, Total: total, Skip: skip, Limit: limit})
}

func (s *Server) projectMap(w http.ResponseWriter, r *http.Request) {
	items, err := s.Projects.MapPoints(r.Context(), strings.TrimSpace(r.URL.Query().Get("region")), tenantx.UUIDFromContext(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	p, err := s.Projects.Get(r.Context(), id, tenantx.UUIDFromContext(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

type projectCreateRequest struct {
	TenantID         *uuid.UUID `json:"tenant_id,omitempty"`
	Name             string     `json:"name" validate:"required,max=200"`
	ProjectType      string     `json:"project_type" validate:"required,max=50"`
	Status           string     `json:"status,omitempty" validate:"omitempty,max=30"`
	Region           string     `json:"region" validate:"required,max=100"`
	District         *string    `json:"district,omitempty" validate:"omitempty,max=100"`
	Latitude         *float64   `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude        *float64   `json:"longitude,omitempty" validate:"omitempty,longitude"`
	CapacityM3Day    *float64   `json:"capacity_m3_day,omitempty" validate:"omitempty,gte=0"`
	PopulationServed int        `json:"population_served" validate:"gte=0"`
	ConnectionsCount int        `json:"connections_count" validate:"gte=0"`
	CommissionedAt   *time.Time `json:"commissioned_at,omitempty"`
	Description      *string    `json:"description,omitempty"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectCreateRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	tenantID, err := tenantScope(r, req.TenantID)
	if err != nil {
		s.writeStoreError(w, r, err, "tenant")
		return
	}
	p, err := s.Projects.Create(r.Context(), models.Project{
		TenantID:         tenantID,
		Name:             strings.TrimSpace(req.Name),
		ProjectType:      strings.TrimSpace(req.ProjectType),
		Status:           strings.TrimSpace(req.Status),
		Region:           strings.TrimSpace(req.Region),
		District:         req.District,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		CapacityM3Day:    req.CapacityM3Day,
		PopulationServed: req.PopulationServed,
		ConnectionsCount: req.ConnectionsCount,
		CommissionedAt:   req.CommissionedAt,
		Description:      req.Description,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	s.invalidateDashboard(r.Context())
	httpx.WriteJSON(w, http.StatusCreated, p)
}

type projectPatchRequest struct {
	Name             *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Status           *string  `json:"status,omitempty" validate:"omitempty,max=30"`
	District         *string  `json:"district,omitempty" validate:"omitempty,max=100"`
	Latitude         *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude        *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	CapacityM3Day    *float64 `json:"capacity_m3_day,omitempty" validate:"omitempty,gte=0"`
	PopulationServed *int     `json:"population_served,omitempty" validate:"omitempty,gte=0"`
	ConnectionsCount *int     `json:"connections_count,omitempty" validate:"omitempty,gte=0"`
	Description      *string  `json:"description,omitempty"`
}

func (s *Server) patchProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "project_id")
	if !ok {
		return
	}
	var req projectPatchRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if !s.requireProject(w, r, id) {
		return
	}
	p, err := s.Projects.Patch(r.Context(), id, models.ProjectPatch{
		Name:             req.Name,
		Status:           req.Status,
		District:         req.District,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		CapacityM3Day:    req.CapacityM3Day,
		PopulationServed: req.PopulationServed,
		ConnectionsCount: req.ConnectionsCount,
		Description:      req.Description,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "project")
		return
	}
	s.invalidateDashboard(r.Context())
	httpx.WriteJSON(w, http.StatusOK, p)
}
