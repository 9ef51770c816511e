// Package mqx carries alert events over Kafka. Messages are keyed by aggregate
// id and carry W3C trace context in their headers.
package mqx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"water-infra-dashboard/shared/config"
	"water-infra-dashboard/shared/events"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

var errNoBrokers = errors.New("KAFKA_BROKERS is required")

// Publisher is satisfied by *Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errNoBrokers
	}
	attempts := cfg.KafkaRetryMax
	if attempts < 1 {
		attempts = 1
	}
	return &Producer{writer: &kafka.Writer{
		Addr: kafka.TCP(cfg.KafkaBrokers...),
		// Hash keeps every event of one alert on one partition.
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  attempts,
		BatchTimeout: time.Duration(cfg.KafkaWriteMS) * time.Millisecond,
		Transport:    &kafka.Transport{ClientID: cfg.KafkaClientID},
	}}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.writer == nil {
		return errors.New("producer not initialized")
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "kafka.produce", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", topic),
	)

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	msg := kafka.Message{Topic: topic, Key: key, Value: value}
	for _, k := range names {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// PublishEnvelope keys the message by aggregate id and injects the caller's
// trace context so the consumer span joins the same trace.
func PublishEnvelope(ctx context.Context, pub Publisher, topic string, env events.Envelope) error {
	if pub == nil {
		return errors.New("publisher not initialized")
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	headers := propagation.MapCarrier{
		HeaderEventID:   env.EventID.String(),
		HeaderEventType: env.EventType,
	}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	return pub.Publish(ctx, topic, []byte(env.AggregateID.String()), value, headers)
}
