package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewEnvelope(t *testing.T) {
	alertID := uuid.New()
	payload := AlertPayload{AlertID: alertID, Title: "High flow", Severity: "critical", Status: "active"}
	env, err := NewEnvelope(uuid.Nil, AggregateAlert, alertID, "alert_created", payload, time.Time{})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.EventID == uuid.Nil || env.OccurredAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", env)
	}
	var decoded AlertPayload
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.AlertID != alertID || decoded.Severity != "critical" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if TopicForAggregate(env.AggregateType) != TopicAlerts {
		t.Fatalf("alerts aggregate should route to alerts topic")
	}
	if TopicForAggregate("robot") != "" {
		t.Fatalf("unknown aggregate should have no topic")
	}
}
