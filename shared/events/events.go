package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	TopicAlerts = "alerts"
)

const (
	AggregateAlert = "alert"
)

// AlertPayload is carried by every alert_* event.
type AlertPayload struct {
	AlertID     uuid.UUID  `json:"alert_id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	RuleID      *uuid.UUID `json:"rule_id,omitempty"`
	Title       string     `json:"title"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	FromStatus  string     `json:"from_status,omitempty"`
	AlertType   string     `json:"alert_type"`
	MetricType  *string    `json:"metric_type,omitempty"`
	MetricValue *float64   `json:"metric_value,omitempty"`
	ActorID     *uuid.UUID `json:"actor_id,omitempty"`
}

func NewEnvelope(tenantID uuid.UUID, aggregateType string, aggregateID uuid.UUID, eventType string, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Envelope{
		EventID:       uuid.New(),
		TenantID:      tenantID,
		OccurredAt:    at,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

func TopicForAggregate(aggregateType string) string {
	switch aggregateType {
	case AggregateAlert:
		return TopicAlerts
	default:
		return ""
	}
}
