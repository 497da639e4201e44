package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-coupons/internal/models"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer       messageWriter
	outcomeTopic string
}

// NewProducer creates a writer that routes each message to its own topic,
// keyed by hash so events for one coupon stay ordered.
func NewProducer(brokers []string, outcomeTopic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, outcomeTopic: outcomeTopic}
}

// Publish writes one message, carrying the caller's trace context in its
// headers.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	var headers headerCarrier
	otel.GetTextMapPropagator().Inject(ctx, &headers)
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header(headers),
	})
}

// PublishOutcome streams a redemption outcome keyed by coupon id, falling
// back to the order id when the coupon was never resolved.
func (p *Producer) PublishOutcome(ctx context.Context, event models.CouponOutcomeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal coupon outcome: %w", err)
	}
	key := event.CouponID
	if key == "" {
		key = event.OrderID
	}
	return p.Publish(ctx, p.outcomeTopic, key, value)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
