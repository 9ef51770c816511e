package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/models"
)

const projectColumns = `project_id, tenant_id, name, project_type, status, region, district, latitude, longitude, capacity_m3_day,
	population_served, connections_count, commissioned_at, description, created_at, updated_at`

type ProjectsRepo struct {
	pool *pgxpool.Pool
}

func NewProjectsRepo(pool *pgxpool.Pool) *ProjectsRepo {
	return &ProjectsRepo{pool: pool}
}

func scanProject(row rowScanner) (models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ProjectID, &p.TenantID, &p.Name, &p.ProjectType, &p.Status, &p.Region, &p.District, &p.Latitude, &p.Longitude,
		&p.CapacityM3Day, &p.PopulationServed, &p.ConnectionsCount, &p.CommissionedAt, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// List returns one page of projects and the total matching the filter.
func (r *ProjectsRepo) List(ctx context.Context, filter models.ProjectFilter) ([]models.Project, int64, error) {
	const where = `
		WHERE ($1::text IS NULL OR region = $1)
			AND ($2::text IS NULL OR status = $2)
			AND ($3::text IS NULL OR project_type = $3)
			AND ($4::uuid IS NULL OR tenant_id = $4)`
	args := []any{nullIfEmpty(filter.Region), nullIfEmpty(filter.Status), nullIfEmpty(filter.ProjectType), filter.TenantID}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	skip := filter.Skip
	if skip < 0 {
		skip = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects`+where+`
		ORDER BY name ASC
		LIMIT $5 OFFSET $6
	`, append(args, clampLimit(filter.Limit, 50, 200), skip)...)
	if err != nil {
		return nil, 0, err
	}
	projects, err := collectProjects(rows)
	return projects, total, err
}

// MapPoints returns projects that have coordinates.
func (r *ProjectsRepo) MapPoints(ctx context.Context, region string, tenantID *uuid.UUID) ([]models.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
			AND ($1::text IS NULL OR region = $1)
			AND ($2::uuid IS NULL OR tenant_id = $2)
		ORDER BY name ASC
	`, nullIfEmpty(region), tenantID)
	if err != nil {
		return nil, err
	}
	return collectProjects(rows)
}

// Get treats a project outside a non-nil tenantID as missing.
func (r *ProjectsRepo) Get(ctx context.Context, projectID uuid.UUID, tenantID *uuid.UUID) (models.Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE project_id = $1 AND ($2::uuid IS NULL OR tenant_id = $2)
	`, projectID, tenantID))
	return p, mapError(err)
}

func (r *ProjectsRepo) Create(ctx context.Context, p models.Project) (models.Project, error) {
	if p.Status == "" {
		p.Status = "planned"
	}
	created, err := scanProject(r.pool.QueryRow(ctx, `
		INSERT INTO projects (tenant_id, name, project_type, status, region, district, latitude, longitude, capacity_m3_day,
			population_served, connections_count, commissioned_at, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+projectColumns,
		p.TenantID, p.Name, p.ProjectType, p.Status, p.Region, p.District, p.Latitude, p.Longitude, p.CapacityM3Day,
		p.PopulationServed, p.ConnectionsCount, p.CommissionedAt, p.Description))
	return created, mapError(err)
}

// Patch applies the non-nil fields of patch.
func (r *ProjectsRepo) Patch(ctx context.Context, projectID uuid.UUID, patch models.ProjectPatch) (models.Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `
		UPDATE projects SET
			name = COALESCE($2, name),
			status = COALESCE($3, status),
			district = COALESCE($4, district),
			latitude = COALESCE($5, latitude),
			longitude = COALESCE($6, longitude),
			capacity_m3_day = COALESCE($7, capacity_m3_day),
			population_served = COALESCE($8, population_served),
			connections_count = COALESCE($9, connections_count),
			description = COALESCE($10, description),
			updated_at = $11
		WHERE project_id = $1
		RETURNING `+projectColumns,
		projectID, patch.Name, patch.Status, patch.District, patch.Latitude, patch.Longitude, patch.CapacityM3Day,
		patch.PopulationServed, patch.ConnectionsCount, patch.Description, time.Now().UTC()))
	return p, mapError(err)
}

func collectProjects(rows pgx.Rows) ([]models.Project, error) {
	defer rows.Close()
	projects := make([]models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
