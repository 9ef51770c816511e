package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/aggregate"
	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/dbx"
)

const metricColumns = `metric_id, project_id, sensor_id, metric_type, value, unit, is_anomaly, anomaly_score, quality_flag, recorded_at, ingested_at`

type MetricsRepo struct {
	pool *pgxpool.Pool
}

func NewMetricsRepo(pool *pgxpool.Pool) *MetricsRepo {
	return &MetricsRepo{pool: pool}
}

func scanMetric(row rowScanner) (models.Metric, error) {
	var m models.Metric
	err := row.Scan(&m.MetricID, &m.ProjectID, &m.SensorID, &m.MetricType, &m.Value, &m.Unit, &m.IsAnomaly, &m.AnomalyScore,
		&m.QualityFlag, &m.RecordedAt, &m.IngestedAt)
	return m, err
}

// InsertMetrics writes all metrics and opens the given anomaly alerts in one
// transaction. Nothing is persisted if any row fails. The returned alerts are
// the ones actually opened; duplicates of an open anomaly alert are skipped.
func (r *MetricsRepo) InsertMetrics(ctx context.Context, metrics []models.Metric, anomalies []models.Alert) ([]models.Metric, []models.Alert, error) {
	if len(metrics) == 0 {
		return nil, nil, nil
	}

	var (
		stored []models.Metric
		opened []models.Alert
	)
	err := dbx.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		if stored, err = insertMetricsBatch(ctx, tx, metrics); err != nil {
			return mapError(err)
		}
		opened = make([]models.Alert, 0, len(anomalies))
		for _, draft := range anomalies {
			alert, ok, err := openAnomalyAlert(ctx, tx, draft)
			if err != nil {
				return mapError(err)
			}
			if ok {
				opened = append(opened, alert)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return stored, opened, nil
}

func insertMetricsBatch(ctx context.Context, tx pgx.Tx, metrics []models.Metric) ([]models.Metric, error) {
	batch := &pgx.Batch{}
	for _, m := range metrics {
		id := m.MetricID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(`
			INSERT INTO metrics (metric_id, project_id, sensor_id, metric_type, value, unit, is_anomaly, anomaly_score, quality_flag, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+metricColumns,
			id, m.ProjectID, m.SensorID, m.MetricType, m.Value, m.Unit, m.IsAnomaly, m.AnomalyScore, m.QualityFlag, m.RecordedAt)
	}

	br := tx.SendBatch(ctx, batch)
	stored := make([]models.Metric, 0, len(metrics))
	for range metrics {
		m, err := scanMetric(br.QueryRow())
		if err != nil {
			_ = br.Close()
			return nil, err
		}
		stored = append(stored, m)
	}
	return stored, br.Close()
}

// List returns metrics newest first.
func (r *MetricsRepo) List(ctx context.Context, filter models.MetricFilter) ([]models.Metric, error) {
	limit := clampLimit(filter.Limit, 500, 5000)
	rows, err := r.pool.Query(ctx, `
		SELECT `+metricColumns+`
		FROM metrics
		WHERE project_id = $1
			AND ($2::text IS NULL OR metric_type = $2)
			AND ($3::timestamptz IS NULL OR recorded_at >= $3)
			AND ($4::timestamptz IS NULL OR recorded_at <= $4)
		ORDER BY recorded_at DESC
		LIMIT $5
	`, filter.ProjectID, nullIfEmpty(filter.MetricType), filter.Start, filter.End, limit)
	if err != nil {
		return nil, err
	}
	return collectMetrics(rows)
}

// Latest returns the most recent reading of each metric type for a project.
func (r *MetricsRepo) Latest(ctx context.Context, projectID uuid.UUID) ([]models.Metric, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (metric_type) `+metricColumns+`
		FROM metrics
		WHERE project_id = $1
		ORDER BY metric_type, recorded_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	return collectMetrics(rows)
}

// History returns up to limit readings of one type, newest first.
func (r *MetricsRepo) History(ctx context.Context, projectID uuid.UUID, metricType string, limit int) ([]models.Metric, error) {
	return r.List(ctx, models.MetricFilter{ProjectID: projectID, MetricType: metricType, Limit: limit})
}

// Buckets groups readings into fixed bins with date_bin, or calendar months
// with date_trunc.
func (r *MetricsRepo) Buckets(ctx context.Context, q aggregate.BucketQuery) ([]aggregate.Bucket, error) {
	args := []any{q.ProjectID, q.MetricType, q.Start, q.End}
	bucketExpr := "date_trunc('month', recorded_at, 'UTC')"
	if !q.Interval.Month {
		bucketExpr = "date_bin($5::interval, recorded_at, TIMESTAMPTZ '2000-01-01 00:00:00+00')"
		args = append(args, fmt.Sprintf("%d seconds", int64(q.Interval.Duration/time.Second)))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+bucketExpr+` AS period, avg(value), min(value), max(value), count(*)
		FROM metrics
		WHERE project_id = $1 AND metric_type = $2 AND recorded_at >= $3 AND recorded_at <= $4
		GROUP BY period
		ORDER BY period ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]aggregate.Bucket, 0)
	for rows.Next() {
		var b aggregate.Bucket
		if err := rows.Scan(&b.Period, &b.Avg, &b.Min, &b.Max, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func collectMetrics(rows pgx.Rows) ([]models.Metric, error) {
	defer rows.Close()
	metrics := make([]models.Metric, 0)
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
