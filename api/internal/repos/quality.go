package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/models"
)

const qualityColumns = `reading_id, project_id, ph, turbidity_ntu, chlorine_mg_l, tds_mg_l, conductivity_us_cm, temperature_c,
	dissolved_oxygen_mg_l, is_compliant, notes, recorded_at, created_at`

type QualityRepo struct {
	pool *pgxpool.Pool
}

func NewQualityRepo(pool *pgxpool.Pool) *QualityRepo {
	return &QualityRepo{pool: pool}
}

func scanQuality(row rowScanner) (models.QualityReading, error) {
	var q models.QualityReading
	err := row.Scan(&q.ReadingID, &q.ProjectID, &q.PH, &q.TurbidityNTU, &q.ChlorineMgL, &q.TDSMgL, &q.ConductivityUsCm, &q.TemperatureC,
		&q.DissolvedOxygenMg, &q.IsCompliant, &q.Notes, &q.RecordedAt, &q.CreatedAt)
	return q, err
}

// Insert stores a reading. IsCompliant must already be computed.
func (r *QualityRepo) Insert(ctx context.Context, q models.QualityReading) (models.QualityReading, error) {
	created, err := scanQuality(r.pool.QueryRow(ctx, `
		INSERT INTO water_quality_readings (project_id, ph, turbidity_ntu, chlorine_mg_l, tds_mg_l, conductivity_us_cm,
			temperature_c, dissolved_oxygen_mg_l, is_compliant, notes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+qualityColumns,
		q.ProjectID, q.PH, q.TurbidityNTU, q.ChlorineMgL, q.TDSMgL, q.ConductivityUsCm, q.TemperatureC, q.DissolvedOxygenMg,
		q.IsCompliant, q.Notes, q.RecordedAt))
	return created, mapError(err)
}

func (r *QualityRepo) List(ctx context.Context, projectID uuid.UUID, limit int) ([]models.QualityReading, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+qualityColumns+`
		FROM water_quality_readings
		WHERE project_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, projectID, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.QualityReading, 0)
	for rows.Next() {
		q, err := scanQuality(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, q)
	}
	return readings, rows.Err()
}
