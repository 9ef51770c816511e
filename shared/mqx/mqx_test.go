package mqx

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/events"
)

type capturePublisher struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return nil
}

func TestPublishEnvelopePropagatesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	env := events.Envelope{EventID: uuid.New(), EventType: "alert_created", AggregateID: uuid.New()}
	pub := &capturePublisher{}
	if err := PublishEnvelope(ctx, pub, events.TopicAlerts, env); err != nil {
		t.Fatalf("PublishEnvelope: %v", err)
	}
	if string(pub.key) != env.AggregateID.String() {
		t.Fatalf("message must be keyed by aggregate id, got %s", pub.key)
	}
	if pub.headers[HeaderEventID] != env.EventID.String() || pub.headers[HeaderEventType] != "alert_created" {
		t.Fatalf("unexpected headers %v", pub.headers)
	}
	var decoded events.Envelope
	if err := json.Unmarshal(pub.value, &decoded); err != nil || decoded.EventID != env.EventID {
		t.Fatalf("payload is not the envelope: %v", err)
	}

	msg := kafka.Message{Topic: pub.topic}
	for k, v := range pub.headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	consumed, span := StartConsumeSpan(context.Background(), msg)
	defer span.End()
	if got := trace.SpanContextFromContext(consumed).TraceID(); got != traceID {
		t.Fatalf("consumer should continue trace %s, got %s", traceID, got)
	}
}

func TestHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "a", Value: []byte("1")}}
	c := headerCarrier{headers: &headers}
	c.Set("a", "2")
	c.Set("b", "3")
	if c.Get("a") != "2" || c.Get("b") != "3" || len(c.Keys()) != 2 {
		t.Fatalf("unexpected headers %+v", headers)
	}
	if c.Get("missing") != "" {
		t.Fatalf("missing header should be empty")
	}
}

func TestRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(config.Config{}); err == nil {
		t.Fatalf("producer without brokers should fail")
	}
	if _, err := NewConsumer(config.Config{KafkaBrokers: []string{"localhost:9092"}}, events.TopicAlerts, ""); err == nil {
		t.Fatalf("consumer without group should fail")
	}
}
