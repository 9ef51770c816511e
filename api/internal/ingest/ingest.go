// Package ingest validates, scores and stores sensor readings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/anomaly"
	"water-infra-dashboard/shared/influxx"
	"water-infra-dashboard/shared/logx"
	"water-infra-dashboard/shared/metricsx"
	"water-infra-dashboard/shared/workflow"
)

var ErrInvalidReading = errors.New("invalid reading")

const mirrorTimeout = 3 * time.Second

type MetricInput struct {
	ProjectID  uuid.UUID  `json:"project_id" validate:"required"`
	SensorID   *string    `json:"sensor_id,omitempty" validate:"omitempty,max=100"`
	MetricType string     `json:"metric_type" validate:"required,max=50"`
	Value      *float64   `json:"value" validate:"required"`
	Unit       string     `json:"unit" validate:"required,max=20"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// Store persists a scored batch atomically together with any anomaly alerts.
type Store interface {
	InsertMetrics(ctx context.Context, metrics []models.Metric, anomalies []models.Alert) ([]models.Metric, []models.Alert, error)
}

// Mirror receives a copy of stored readings. Failures never fail ingestion.
type Mirror interface {
	WritePoints(ctx context.Context, points []influxx.Point) error
}

type Options struct {
	AlertsEnabled bool
	Mirror        Mirror
	Logger        logx.Logger
}

type Pipeline struct {
	store      Store
	thresholds anomaly.Thresholds
	mirror     Mirror
	alerts     bool
	log        logx.Logger
	now        func() time.Time
}

func NewPipeline(store Store, thresholds anomaly.Thresholds, opts Options) *Pipeline {
	return &Pipeline{
		store:      store,
		thresholds: thresholds,
		mirror:     opts.Mirror,
		alerts:     opts.AlertsEnabled,
		log:        opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) IngestOne(ctx context.Context, in MetricInput) (models.Metric, error) {
	stored, err := p.ingest(ctx, []MetricInput{in})
	if err != nil {
		return models.Metric{}, err
	}
	return stored[0], nil
}

// IngestBatch stores every reading or none of them.
func (p *Pipeline) IngestBatch(ctx context.Context, in []MetricInput) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	stored, err := p.ingest(ctx, in)
	if err != nil {
		metricsx.IncBatchRejected()
		return 0, err
	}
	return len(stored), nil
}

func (p *Pipeline) ingest(ctx context.Context, in []MetricInput) ([]models.Metric, error) {
	metrics := make([]models.Metric, 0, len(in))
	var anomalies []models.Alert
	for i, item := range in {
		m, err := p.score(item)
		if err != nil {
			if len(in) > 1 {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			return nil, err
		}
		metrics = append(metrics, m)
		if m.IsAnomaly && p.alerts {
			anomalies = append(anomalies, anomalyAlert(m))
		}
	}

	stored, opened, err := p.store.InsertMetrics(ctx, metrics, anomalies)
	if err != nil {
		return nil, err
	}

	for _, m := range stored {
		metricsx.IncReadingIngested(m.MetricType, m.QualityFlag)
		if m.IsAnomaly {
			metricsx.IncAnomalyFlagged(m.MetricType)
		}
	}
	for _, a := range opened {
		p.log.Info(ctx, "anomaly_alert_opened", "anomaly alert opened",
			slog.String("alert_id", a.AlertID.String()),
			slog.String("project_id", a.ProjectID.String()),
			slog.String("severity", a.Severity),
		)
	}
	p.mirrorReadings(ctx, stored)
	return stored, nil
}

// score normalizes one input and applies the range detector.
func (p *Pipeline) score(in MetricInput) (models.Metric, error) {
	metricType := strings.ToLower(strings.TrimSpace(in.MetricType))
	unit := strings.TrimSpace(in.Unit)
	switch {
	case in.ProjectID == uuid.Nil:
		return models.Metric{}, fmt.Errorf("%w: project_id is required", ErrInvalidReading)
	case metricType == "":
		return models.Metric{}, fmt.Errorf("%w: metric_type is required", ErrInvalidReading)
	case unit == "":
		return models.Metric{}, fmt.Errorf("%w: unit is required", ErrInvalidReading)
	case in.Value == nil:
		return models.Metric{}, fmt.Errorf("%w: value is required", ErrInvalidReading)
	case math.IsNaN(*in.Value) || math.IsInf(*in.Value, 0):
		return models.Metric{}, fmt.Errorf("%w: value must be finite", ErrInvalidReading)
	}
	value := *in.Value

	recordedAt := p.now()
	if in.RecordedAt != nil && !in.RecordedAt.IsZero() {
		recordedAt = in.RecordedAt.UTC()
	}
	var sensorID *string
	if in.SensorID != nil {
		if s := strings.TrimSpace(*in.SensorID); s != "" {
			sensorID = &s
		}
	}

	isAnomaly, score := p.thresholds.DetectSimple(metricType, value)
	flag := models.QualityGood
	if isAnomaly {
		flag = models.QualitySuspect
	}
	return models.Metric{
		MetricID:     uuid.New(),
		ProjectID:    in.ProjectID,
		SensorID:     sensorID,
		MetricType:   metricType,
		Value:        value,
		Unit:         unit,
		IsAnomaly:    isAnomaly,
		AnomalyScore: score,
		QualityFlag:  flag,
		RecordedAt:   recordedAt,
	}, nil
}

func anomalyAlert(m models.Metric) models.Alert {
	severity := workflow.SeverityWarning
	if m.AnomalyScore >= 0.9 {
		severity = workflow.SeverityCritical
	}
	metricType := m.MetricType
	value := m.Value
	return models.Alert{
		ProjectID:   m.ProjectID,
		Title:       "Anomalous " + metricType + " reading",
		Message:     fmt.Sprintf("%s reading %g %s is outside the expected range (score %.3f)", metricType, m.Value, m.Unit, m.AnomalyScore),
		Severity:    severity,
		Status:      workflow.AlertStatusActive,
		AlertType:   "anomaly",
		MetricType:  &metricType,
		MetricValue: &value,
	}
}

func (p *Pipeline) mirrorReadings(ctx context.Context, stored []models.Metric) {
	if p.mirror == nil || len(stored) == 0 {
		return
	}
	points := make([]influxx.Point, 0, len(stored))
	for _, m := range stored {
		tags := map[string]string{
			"project_id":   m.ProjectID.String(),
			"metric_type":  m.MetricType,
			"quality_flag": m.QualityFlag,
		}
		if m.SensorID != nil {
			tags["sensor_id"] = *m.SensorID
		}
		points = append(points, influxx.Point{
			Measurement: influxx.MeasurementReadings,
			Tags:        tags,
			Fields: map[string]any{
				"value":         m.Value,
				"anomaly_score": m.AnomalyScore,
				"is_anomaly":    m.IsAnomaly,
			},
			Time: m.RecordedAt,
		})
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := p.mirror.WritePoints(mctx, points); err != nil {
		metricsx.IncInfluxWriteFailure()
		p.log.Warn(ctx, "influx_mirror_failed", "failed to mirror readings",
			slog.Int("count", len(points)),
			slog.String("error", err.Error()),
		)
	}
}
