package repos

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/shared/dbx"
	"water-infra-dashboard/shared/events"
	"water-infra-dashboard/shared/workflow"
)

const AlertTypeAnomaly = "anomaly"

const alertColumns = `alert_id, tenant_id, project_id, rule_id, title, message, severity, status, alert_type,
	metric_type, metric_value, acknowledged_by, acknowledged_at, resolved_by, resolved_at, created_at, updated_at`

type AlertsRepo struct {
	pool *pgxpool.Pool
}

func NewAlertsRepo(pool *pgxpool.Pool) *AlertsRepo {
	return &AlertsRepo{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var a models.Alert
	err := row.Scan(&a.AlertID, &a.TenantID, &a.ProjectID, &a.RuleID, &a.Title, &a.Message, &a.Severity, &a.Status, &a.AlertType,
		&a.MetricType, &a.MetricValue, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// ListActive returns alerts in the active state, newest first.
func (r *AlertsRepo) ListActive(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	limit := clampLimit(filter.Limit, 100, 500)
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE status = $1
			AND ($2::uuid IS NULL OR project_id = $2)
			AND ($3::text IS NULL OR severity = $3)
			AND ($4::uuid IS NULL OR tenant_id = $4)
		ORDER BY created_at DESC
		LIMIT $5
	`, workflow.AlertStatusActive, filter.ProjectID, nullIfEmpty(filter.Severity), filter.TenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func countActiveAlerts(ctx context.Context, db DBTX, projectID *uuid.UUID, tenantID *uuid.UUID) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `
		SELECT count(*)
		FROM alerts
		WHERE status = $1
			AND ($2::uuid IS NULL OR project_id = $2)
			AND ($3::uuid IS NULL OR tenant_id = $3)
	`, workflow.AlertStatusActive, projectID, tenantID).Scan(&n)
	return n, err
}

func (r *AlertsRepo) GetByID(ctx context.Context, alertID uuid.UUID) (models.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE alert_id = $1`, alertID))
	return a, mapError(err)
}

// Create stores a manually raised alert and queues its alert_created event.
func (r *AlertsRepo) Create(ctx context.Context, alert models.Alert, actorID *uuid.UUID) (models.Alert, error) {
	alert.Status = workflow.AlertStatusActive
	var created models.Alert
	err := dbx.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanAlert(tx.QueryRow(ctx, `
			INSERT INTO alerts (tenant_id, project_id, rule_id, title, message, severity, status, alert_type, metric_type, metric_value)
			SELECT COALESCE(p.tenant_id, $1), p.project_id, $3, $4, $5, $6, $7, $8, $9, $10
			FROM projects p
			WHERE p.project_id = $2 AND ($1::uuid IS NULL OR p.tenant_id = $1)
			RETURNING `+alertColumns,
			alert.TenantID, alert.ProjectID, alert.RuleID, alert.Title, alert.Message, alert.Severity, alert.Status,
			alert.AlertType, alert.MetricType, alert.MetricValue))
		if err != nil {
			return mapError(err)
		}
		return enqueueAlertEvent(ctx, tx, created, workflow.AlertEventCreated, "", actorID)
	})
	if err != nil {
		return models.Alert{}, err
	}
	return created, nil
}

// Transition moves an alert along the lifecycle table. Re-applying the
// current status is a no-op and reports changed=false. A non-nil tenantID
// hides alerts of other tenants as ErrNotFound.
func (r *AlertsRepo) Transition(ctx context.Context, alertID uuid.UUID, toStatus string, actorID *uuid.UUID, tenantID *uuid.UUID) (models.Alert, bool, error) {
	toStatus = workflow.NormalizeStatus(toStatus)

	var (
		result  models.Alert
		changed bool
	)
	err := dbx.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		alert, err := scanAlert(tx.QueryRow(ctx, `
			SELECT `+alertColumns+`
			FROM alerts
			WHERE alert_id = $1 AND ($2::uuid IS NULL OR tenant_id = $2)
			FOR UPDATE`, alertID, tenantID))
		if err != nil {
			return mapError(err)
		}
		if alert.Status == toStatus {
			result = alert
			return nil
		}
		if !workflow.CanTransition(alert.Status, toStatus) {
			return ErrInvalidAlertTransition
		}

		now := time.Now().UTC()
		switch toStatus {
		case workflow.AlertStatusAcknowledged:
			alert.AcknowledgedBy = actorID
			alert.AcknowledgedAt = &now
		case workflow.AlertStatusResolved:
			alert.ResolvedBy = actorID
			alert.ResolvedAt = &now
		}
		fromStatus := alert.Status

		result, err = scanAlert(tx.QueryRow(ctx, `
			UPDATE alerts
			SET status = $2, acknowledged_by = $3, acknowledged_at = $4, resolved_by = $5, resolved_at = $6, updated_at = $7
			WHERE alert_id = $1
			RETURNING `+alertColumns,
			alertID, toStatus, alert.AcknowledgedBy, alert.AcknowledgedAt, alert.ResolvedBy, alert.ResolvedAt, now))
		if err != nil {
			return err
		}
		changed = true
		return enqueueAlertEvent(ctx, tx, result, workflow.EventTypeForTransition(fromStatus, toStatus), fromStatus, actorID)
	})
	if err != nil {
		return models.Alert{}, false, err
	}
	return result, changed, nil
}

// openAnomalyAlert inserts an anomaly alert unless one is already open for
// the same project and metric type. The tenant is taken from the project.
func openAnomalyAlert(ctx context.Context, db DBTX, alert models.Alert) (models.Alert, bool, error) {
	created, err := scanAlert(db.QueryRow(ctx, `
		INSERT INTO alerts (tenant_id, project_id, title, message, severity, status, alert_type, metric_type, metric_value)
		SELECT p.tenant_id, p.project_id, $2, $3, $4, $5, $6, $7, $8
		FROM projects p
		WHERE p.project_id = $1
		ON CONFLICT (project_id, metric_type) WHERE alert_type = 'anomaly' AND status IN ('active', 'acknowledged')
		DO NOTHING
		RETURNING `+alertColumns,
		alert.ProjectID, alert.Title, alert.Message, alert.Severity, workflow.AlertStatusActive, AlertTypeAnomaly,
		alert.MetricType, alert.MetricValue))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, false, nil
	}
	if err != nil {
		return models.Alert{}, false, err
	}
	if err := enqueueAlertEvent(ctx, db, created, workflow.AlertEventCreated, "", nil); err != nil {
		return models.Alert{}, false, err
	}
	return created, true, nil
}

func enqueueAlertEvent(ctx context.Context, db DBTX, alert models.Alert, eventType string, fromStatus string, actorID *uuid.UUID) error {
	tenantID := uuid.Nil
	if alert.TenantID != nil {
		tenantID = *alert.TenantID
	}
	env, err := events.NewEnvelope(tenantID, events.AggregateAlert, alert.AlertID, eventType, events.AlertPayload{
		AlertID:     alert.AlertID,
		ProjectID:   alert.ProjectID,
		RuleID:      alert.RuleID,
		Title:       alert.Title,
		Severity:    alert.Severity,
		Status:      alert.Status,
		FromStatus:  fromStatus,
		AlertType:   alert.AlertType,
		MetricType:  alert.MetricType,
		MetricValue: alert.MetricValue,
		ActorID:     actorID,
	}, alert.UpdatedAt)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = insertOutboxEvent(ctx, db, models.OutboxEvent{
		EventID:       env.EventID,
		TenantID:      alert.TenantID,
		AggregateType: events.AggregateAlert,
		AggregateID:   alert.AlertID,
		Topic:         events.TopicForAggregate(events.AggregateAlert),
		Payload:       raw,
	})
	return err
}

type AlertRulesRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRulesRepo(pool *pgxpool.Pool) *AlertRulesRepo {
	return &AlertRulesRepo{pool: pool}
}

const ruleColumns = `rule_id, tenant_id, project_id, name, description, metric_type, condition, threshold, severity,
	is_active, notify_sms, notify_email, created_at`

func scanRule(row rowScanner) (models.AlertRule, error) {
	var rule models.AlertRule
	err := row.Scan(&rule.RuleID, &rule.TenantID, &rule.ProjectID, &rule.Name, &rule.Description, &rule.MetricType, &rule.Condition,
		&rule.Threshold, &rule.Severity, &rule.IsActive, &rule.NotifySMS, &rule.NotifyEmail, &rule.CreatedAt)
	return rule, err
}

func (r *AlertRulesRepo) List(ctx context.Context, active bool) ([]models.AlertRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE is_active = $1 ORDER BY created_at DESC`, active)
}

// Matching returns active rules for a metric type that apply to the project,
// either directly or as global rules without a project.
func (r *AlertRulesRepo) Matching(ctx context.Context, projectID uuid.UUID, metricType string) ([]models.AlertRule, error) {
	return r.query(ctx, `
		SELECT `+ruleColumns+`
		FROM alert_rules
		WHERE is_active AND metric_type = $2 AND (project_id IS NULL OR project_id = $1)
		ORDER BY created_at ASC
	`, projectID, strings.ToLower(metricType))
}

func (r *AlertRulesRepo) Create(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	created, err := scanRule(r.pool.QueryRow(ctx, `
		INSERT INTO alert_rules (tenant_id, project_id, name, description, metric_type, condition, threshold, severity, is_active, notify_sms, notify_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+ruleColumns,
		rule.TenantID, rule.ProjectID, rule.Name, rule.Description, strings.ToLower(rule.MetricType), rule.Condition, rule.Threshold,
		rule.Severity, rule.IsActive, rule.NotifySMS, rule.NotifyEmail))
	return created, mapError(err)
}

func (r *AlertRulesRepo) query(ctx context.Context, sql string, args ...any) ([]models.AlertRule, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]models.AlertRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
