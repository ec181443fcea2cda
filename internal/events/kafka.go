package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// KafkaPublisher writes events to the topic named after the stream. Keyed
// payloads are hashed to a partition by key.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := event.ID
	if k, ok := data.(Keyed); ok {
		key = k.EventKey()
	}
	msg := kafka.Message{
		Topic: stream,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	msg.Headers = injectTraceHeaders(ctx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber consumes a topic as part of a consumer group. Offsets are
// committed only after the handler succeeds.
type KafkaSubscriber struct {
	reader  *kafka.Reader
	handler Handler
	logger  *slog.Logger
	topic   string
}

type KafkaSubscriberConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	Handler Handler
	Logger  *slog.Logger
}

func NewKafkaSubscriber(cfg KafkaSubscriberConfig) *KafkaSubscriber {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		handler: cfg.Handler,
		logger:  cfg.Logger,
		topic:   cfg.Topic,
	}
}

func (s *KafkaSubscriber) Start(ctx context.Context) error {
	defer s.reader.Close()
	s.logger.Info("kafka subscriber started", "topic", s.topic)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("kafka subscriber stopping", "topic", s.topic)
				return ctx.Err()
			}
			s.logger.Error("kafka read failed", "topic", s.topic, "err", err)
			time.Sleep(time.Second)
			continue
		}

		if !settled(s.logger, s.process(ctx, msg), "topic", msg.Topic, "offset", msg.Offset) {
			continue
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.logger.Error("kafka commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

func (s *KafkaSubscriber) process(ctx context.Context, msg kafka.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: msg.Headers})
	ctx, span := otel.Tracer("events").Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		return Unprocessable(fmt.Errorf("failed to unmarshal event: %w", err))
	}
	if err := s.handler(ctx, event); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

// headerCarrier adapts Kafka headers to the W3C trace context propagator.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
