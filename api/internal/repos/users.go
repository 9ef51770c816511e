package repos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/models"
)

const userColumns = `user_id, tenant_id, subject, email, full_name, password_hash, role, region, is_active, created_at, updated_at, last_login_at`

type UsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{pool: pool}
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.UserID, &u.TenantID, &u.Subject, &u.Email, &u.FullName, &u.PasswordHash, &u.Role, &u.Region, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	return u, err
}

// Create registers a local account. A duplicate email yields ErrConflict.
func (r *UsersRepo) Create(ctx context.Context, user models.User) (models.User, error) {
	created, err := scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (tenant_id, email, full_name, password_hash, role, region, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		user.TenantID, normalizeEmail(user.Email), user.FullName, user.PasswordHash, user.Role, user.Region, user.IsActive))
	return created, mapError(err)
}

// UpsertUserFromOIDC links an external identity to a user row, keyed by the
// token subject. The role of an existing user is kept.
func (r *UsersRepo) UpsertUserFromOIDC(ctx context.Context, tenantID *uuid.UUID, subject string, email string, fullName string, role string) (models.User, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(email) == "" {
		email = subject + "@oidc.local"
	}
	user, err := scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (tenant_id, subject, email, full_name, role, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, COALESCE($4, ''), COALESCE($5, 'public'), $6, $6, $6)
		ON CONFLICT (subject) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = CASE WHEN EXCLUDED.full_name = '' THEN users.full_name ELSE EXCLUDED.full_name END,
			last_login_at = EXCLUDED.last_login_at,
			updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		tenantID, subject, normalizeEmail(email), nullIfEmpty(fullName), nullIfEmpty(role), now))
	return user, mapError(err)
}

func (r *UsersRepo) GetByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	return u, mapError(err)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	return u, mapError(err)
}

func (r *UsersRepo) List(ctx context.Context, skip int, limit int) ([]models.User, error) {
	if skip < 0 {
		skip = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, clampLimit(limit, 50, 200), skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UsersRepo) Patch(ctx context.Context, userID uuid.UUID, patch models.UserPatch) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `
		UPDATE users SET
			full_name = COALESCE($2, full_name),
			role = COALESCE($3, role),
			region = COALESCE($4, region),
			is_active = COALESCE($5, is_active),
			tenant_id = COALESCE($6, tenant_id),
			updated_at = $7
		WHERE user_id = $1
		RETURNING `+userColumns,
		userID, patch.FullName, patch.Role, patch.Region, patch.IsActive, patch.TenantID, time.Now().UTC()))
	return u, mapError(err)
}

func (r *UsersRepo) TouchLogin(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = now() WHERE user_id = $1`, userID)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
