package repos

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"water-infra-dashboard/api/internal/models"
)

// NRWPlaceholderPct stands in for non-revenue water until billing data is
// available.
const NRWPlaceholderPct = 35.0

type DashboardRepo struct {
	pool *pgxpool.Pool
}

func NewDashboardRepo(pool *pgxpool.Pool) *DashboardRepo {
	return &DashboardRepo{pool: pool}
}

// KPIs runs the summary queries concurrently on the pool.
func (r *DashboardRepo) KPIs(ctx context.Context, filter models.KPIFilter) (models.DashboardKPIs, error) {
	var (
		kpis      models.DashboardKPIs
		compliant int64
		readings  int64
	)
	region := nullIfEmpty(filter.Region)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `
			SELECT count(*),
				count(*) FILTER (WHERE status = 'operational'),
				COALESCE(sum(population_served), 0),
				COALESCE(sum(connections_count), 0)
			FROM projects
			WHERE ($1::text IS NULL OR region = $1) AND ($2::uuid IS NULL OR tenant_id = $2)
		`, region, filter.TenantID).Scan(&kpis.TotalProjects, &kpis.OperationalProjects, &kpis.TotalPopulationServed, &kpis.TotalConnections)
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `
			SELECT COALESCE(avg(value) FILTER (WHERE metric_type = 'flow'), 0),
				COALESCE(avg(value) FILTER (WHERE metric_type = 'pressure'), 0)
			FROM metrics
			WHERE metric_type IN ('flow', 'pressure')
		`).Scan(&kpis.AvgFlowRateLS, &kpis.AvgPressureBar)
	})
	g.Go(func() error {
		n, err := countActiveAlerts(gctx, r.pool, nil, filter.TenantID)
		kpis.ActiveAlerts = n
		return err
	})
	g.Go(func() error {
		return r.pool.QueryRow(gctx, `
			SELECT count(*) FILTER (WHERE is_compliant), count(*)
			FROM water_quality_readings
		`).Scan(&compliant, &readings)
	})
	if err := g.Wait(); err != nil {
		return models.DashboardKPIs{}, err
	}

	kpis.AvgFlowRateLS = round(kpis.AvgFlowRateLS, 2)
	kpis.AvgPressureBar = round(kpis.AvgPressureBar, 2)
	kpis.NRWPercentage = NRWPlaceholderPct
	kpis.WaterQualityCompliancePct = CompliancePct(compliant, readings)
	return kpis, nil
}

func (r *DashboardRepo) Regions(ctx context.Context, tenantID *uuid.UUID) ([]models.RegionSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT region, count(*), COALESCE(sum(population_served), 0)
		FROM projects
		WHERE $1::uuid IS NULL OR tenant_id = $1
		GROUP BY region
		ORDER BY region ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.RegionSummary, 0)
	for rows.Next() {
		var s models.RegionSummary
		if err := rows.Scan(&s.Region, &s.ProjectCount, &s.PopulationServed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CompliancePct is 100 when there are no readings yet.
func CompliancePct(compliant, total int64) float64 {
	if total <= 0 {
		return 100.0
	}
	return round(float64(compliant)/float64(total)*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
