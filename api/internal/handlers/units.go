package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/tenantx"
)

type conversionResponse struct {
	Value     float64 `json:"value"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Converted float64 `json:"converted"`
}

func (s *Server) convertUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from == "" || to == "" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "from and to are required", nil)
		return
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(q.Get("value")), 64)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "value must be a number", nil)
		return
	}
	converted, ok := s.Units.Convert(value, from, to)
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "unsupported conversion", map[string]string{"from": from, "to": to})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, conversionResponse{Value: value, From: from, To: to, Converted: converted})
}

func (s *Server) listUnitPairs(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Units.Pairs())
}

type tenantResponse struct {
	TenantID string `json:"tenant_id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
}

func (s *Server) currentTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantx.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "tenant not set", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tenantResponse{TenantID: tenant.ID, Slug: tenant.Slug, Name: tenant.Name})
}
