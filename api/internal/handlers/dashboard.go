package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/tenantx"
)

const dashboardCachePrefix = "dashboard:"

func kpiCacheKey(filter models.KPIFilter) string {
	tenant := "all"
	if filter.TenantID != nil {
		tenant = filter.TenantID.String()
	}
	region := filter.Region
	if region == "" {
		region = "all"
	}
	return dashboardCachePrefix + "kpis:" + tenant + ":" + strings.ToLower(region)
}

func (s *Server) kpis(w http.ResponseWriter, r *http.Request) {
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
	filter := models.KPIFilter{
		Region:   strings.TrimSpace(r.URL.Query().Get("region")),
		TenantID: tenantID,
	}
	key := kpiCacheKey(filter)

	if s.Cache != nil {
		var cached models.DashboardKPIs
		hit, err := s.Cache.GetJSON(r.Context(), key, &cached)
		if err != nil {
			s.Logger.Warn(r.Context(), "cache_read_failed", "dashboard cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		metricsx.IncCacheLookup(hit)
		if hit {
			httpx.WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	out, err := s.Dashboard.KPIs(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, r, err, "dashboard")
		return
	}
	if s.Cache != nil && s.CacheTTL > 0 {
		if err := s.Cache.SetJSON(r.Context(), key, out, s.CacheTTL); err != nil {
			s.Logger.Warn(r.Context(), "cache_write_failed", "dashboard cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) regions(w http.ResponseWriter, r *http.Request) {
	out, err := s.Dashboard.Regions(r.Context(), tenantx.UUIDFromContext(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, err, "dashboard")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// invalidateDashboard drops cached KPIs after writes that change them.
func (s *Server) invalidateDashboard(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if _, err := s.Cache.DeletePrefix(ctx, dashboardCachePrefix); err != nil {
		s.Logger.Warn(ctx, "cache_invalidate_failed", "dashboard cache invalidation failed", slog.String("error", err.Error()))
	}
}
