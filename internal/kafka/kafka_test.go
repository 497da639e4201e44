package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// fakeReader hands out queued messages and blocks once they run out.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func orderMessage(t *testing.T, offset int64, event models.OrderCreatedEvent) kafka.Message {
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(event.ID), Value: value}
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader, handle OrderHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handle) }()

	select {
	case <-r.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_CommitsAfterHandling(t *testing.T) {
	r := newFakeReader(
		orderMessage(t, 1, models.OrderCreatedEvent{ID: "o1", AuthorID: "u1", CouponCode: "SAVE10"}),
		orderMessage(t, 2, models.OrderCreatedEvent{ID: "o2", AuthorID: "u2"}),
	)
	c := newConsumer(r, "orders", logger.Discard())

	var seen []string
	var statuses []string
	c.OnResult(func(s string) { statuses = append(statuses, s) })

	runUntilDrained(t, c, r, func(ctx context.Context, e models.OrderCreatedEvent) error {
		seen = append(seen, e.ID)
		return nil
	})

	assert.Equal(t, []string{"o1", "o2"}, seen)
	assert.Equal(t, []int64{1, 2}, r.committed)
	assert.Equal(t, []string{"processed", "processed"}, statuses)
}

func TestConsumer_RetriesTransientFailures(t *testing.T) {
	r := newFakeReader(orderMessage(t, 7, models.OrderCreatedEvent{ID: "o1", AuthorID: "u1", CouponID: "c1"}))
	c := newConsumer(r, "orders", logger.Discard())
	c.backoff = time.Millisecond

	calls := 0
	runUntilDrained(t, c, r, func(ctx context.Context, e models.OrderCreatedEvent) error {
		calls++
		if calls < 3 {
			return errors.New("db unavailable")
		}
		return nil
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, r.committed)
}

func TestConsumer_GivesUpAndCommits(t *testing.T) {
	r := newFakeReader(orderMessage(t, 3, models.OrderCreatedEvent{ID: "o1"}))
	c := newConsumer(r, "orders", logger.Discard())
	c.backoff = time.Millisecond
	c.maxAttempts = 2

	var statuses []string
	c.OnResult(func(s string) { statuses = append(statuses, s) })

	calls := 0
	runUntilDrained(t, c, r, func(ctx context.Context, e models.OrderCreatedEvent) error {
		calls++
		return errors.New("still failing")
	})

	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{3}, r.committed)
	assert.Equal(t, []string{"failed"}, statuses)
}

func TestConsumer_SkipsMalformedMessages(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("{broken")},
		orderMessage(t, 2, models.OrderCreatedEvent{ID: "o2", AuthorID: "u2"}),
	)
	c := newConsumer(r, "orders", logger.Discard())

	var seen []string
	runUntilDrained(t, c, r, func(ctx context.Context, e models.OrderCreatedEvent) error {
		seen = append(seen, e.ID)
		return nil
	})

	assert.Equal(t, []string{"o2"}, seen)
	assert.Equal(t, []int64{1, 2}, r.committed)
}

func TestConsumer_UsesKeyWhenIDMissing(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 1, Key: []byte("order-from-key"), Value: []byte(`{"authorID":"u1"}`)})
	c := newConsumer(r, "orders", logger.Discard())

	var seen string
	runUntilDrained(t, c, r, func(ctx context.Context, e models.OrderCreatedEvent) error {
		seen = e.ID
		return nil
	})
	assert.Equal(t, "order-from-key", seen)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducer_PublishOutcome(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, outcomeTopic: "coupons.usage.outcome"}

	err := p.PublishOutcome(context.Background(), models.CouponOutcomeEvent{OrderID: "o1", CouponID: "c1", IsValid: true, Reason: "valid", UsedCount: 1})
	require.NoError(t, err)
	err = p.PublishOutcome(context.Background(), models.CouponOutcomeEvent{OrderID: "o2", Reason: "Coupon not found"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "coupons.usage.outcome", w.msgs[0].Topic)
	assert.Equal(t, "c1", string(w.msgs[0].Key))
	assert.Equal(t, "o2", string(w.msgs[1].Key))

	var decoded models.CouponOutcomeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.True(t, decoded.IsValid)
	assert.Equal(t, 1, decoded.UsedCount)
}

func TestProducer_PropagatesWriteErrors(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("leader not available")}, outcomeTopic: "t"}
	err := p.PublishOutcome(context.Background(), models.CouponOutcomeEvent{OrderID: "o1"})
	assert.Error(t, err)
}

func TestEnsureTopicsExist_NoBrokers(t *testing.T) {
	assert.Error(t, EnsureTopicsExist(nil, []string{"t"}, logger.Discard()))
}

func TestTraceContextCrossesKafka(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	p := &Producer{writer: w, outcomeTopic: "orders"}
	value, err := json.Marshal(models.OrderCreatedEvent{ID: "o1", AuthorID: "u1", CouponID: "c1"})
	require.NoError(t, err)
	require.NoError(t, p.Publish(parent, "orders", "o1", value))
	require.Len(t, w.msgs, 1)

	carrier := headerCarrier(w.msgs[0].Headers)
	assert.NotEmpty(t, carrier.Get("traceparent"))

	msg := w.msgs[0]
	msg.Offset = 1
	r := newFakeReader(msg)
	c := newConsumer(r, "orders", logger.Discard())

	var seen trace.TraceID
	runUntilDrained(t, c, r, func(ctx context.Context, e models.OrderCreatedEvent) error {
		seen = trace.SpanContextFromContext(ctx).TraceID()
		return nil
	})
	assert.Equal(t, traceID, seen)
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	var c headerCarrier
	c.Set("traceparent", "a")
	c.Set("baggage", "k=v")
	c.Set("traceparent", "b")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestConsumer_RunReturnsAfterInFlightHandler(t *testing.T) {
	r := newFakeReader(orderMessage(t, 3, models.OrderCreatedEvent{ID: "o1", AuthorID: "u1"}))
	c := newConsumer(r, "orders", logger.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context, e models.OrderCreatedEvent) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the handler finished")
	}
}
