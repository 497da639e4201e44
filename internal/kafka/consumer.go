package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ms-coupons/kafka")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderHandler processes one order-created event. A returned error is
// treated as transient and the event is retried.
type OrderHandler func(ctx context.Context, event models.OrderCreatedEvent) error

// Consumer delivers order-created events at least once: an offset is
// committed only after the handler has finished with the message.
type Consumer struct {
	reader      messageReader
	log         *logger.Logger
	topic       string
	maxAttempts int
	backoff     time.Duration
	onResult    func(status string)
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return newConsumer(reader, topic, log)
}

func newConsumer(reader messageReader, topic string, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:      reader,
		log:         log,
		topic:       topic,
		maxAttempts: 5,
		backoff:     time.Second,
	}
}

// OnResult registers a callback receiving "processed", "failed" or
// "malformed" for every message.
func (c *Consumer) OnResult(fn func(status string)) {
	c.onResult = fn
}

// Run consumes until ctx is cancelled. A message whose handler still
// fails after the last attempt is logged and committed so one bad event
// cannot stall the partition.
func (c *Consumer) Run(ctx context.Context, handle OrderHandler) error {
	c.log.LogKafka("CONSUME", c.topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.LogKafka("CONSUME", c.topic, "consumer stopped")
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error fetching message from %s: %v", c.topic, err))
			if !c.sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		status := c.process(ctx, msg, handle)
		if ctx.Err() != nil && status == "failed" {
			// Shutting down mid-retry: leave the offset for redelivery.
			return nil
		}
		c.report(status)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d on %s: %v", msg.Offset, c.topic, err))
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, handle OrderHandler) string {
	var event models.OrderCreatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.Warn("KAFKA", fmt.Sprintf("Skipping malformed message at offset %d: %v", msg.Offset, err))
		return "malformed"
	}
	if event.ID == "" {
		event.ID = string(msg.Key)
	}

	// Continue the producer's trace when the message carries one.
	headers := headerCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &headers)
	ctx, span := tracer.Start(ctx, c.topic+" process", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(
		attribute.String("messaging.destination.name", c.topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
		attribute.String("order.id", event.ID),
	))
	defer span.End()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := handle(ctx, event)
		if err == nil {
			return "processed"
		}
		span.RecordError(err)
		c.log.Error("KAFKA", fmt.Sprintf("Handling order %s failed (attempt %d/%d): %v", event.ID, attempt, c.maxAttempts, err))
		if attempt == c.maxAttempts || !c.sleep(ctx, time.Duration(attempt)*c.backoff) {
			break
		}
	}
	return "failed"
}

func (c *Consumer) report(status string) {
	if c.onResult != nil {
		c.onResult(status)
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
