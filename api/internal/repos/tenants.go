package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/models"
)

const tenantColumns = `tenant_id, slug, name, created_at`

// TenantsRepo stores the utilities (water boards, municipal providers) that
// own projects and users.
type TenantsRepo struct {
	pool *pgxpool.Pool
}

func NewTenantsRepo(pool *pgxpool.Pool) *TenantsRepo {
	return &TenantsRepo{pool: pool}
}

func scanTenant(row rowScanner) (models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.TenantID, &t.Slug, &t.Name, &t.CreatedAt)
	return t, err
}

// CreateTenant fails with ErrConflict when the slug is taken.
func (r *TenantsRepo) CreateTenant(ctx context.Context, slug string, name string) (models.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`INSERT INTO tenants (slug, name) VALUES ($1, $2) RETURNING `+tenantColumns, slug, name))
	return t, mapError(err)
}

func (r *TenantsRepo) GetTenantByID(ctx context.Context, tenantID uuid.UUID) (models.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = $1`, tenantID))
	return t, mapError(err)
}

// GetTenantBySlug matches case-insensitively; slugs are stored lowercase.
func (r *TenantsRepo) GetTenantBySlug(ctx context.Context, slug string) (models.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = lower($1)`, slug))
	return t, mapError(err)
}

func (r *TenantsRepo) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Tenant, error) {
		return scanTenant(row)
	})
}
