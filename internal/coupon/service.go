package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-coupons/internal/coupon/db"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/metrics"
	"ms-coupons/internal/models"
	"ms-coupons/internal/resolve"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ms-coupons/coupon")

const (
	MsgNoCoupon      = "no coupon applied"
	MsgMissingUserID = "missing user id"
)

type Store interface {
	ResolveCoupon(ctx context.Context, id, code string) (*models.Coupon, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx *db.Tx) error) error
	RedemptionByOrder(ctx context.Context, orderID string) (*models.Redemption, error)
	UpdateOrderValidation(ctx context.Context, orderID string, v *models.CouponValidation) (bool, error)
	InsertActivity(ctx context.Context, entry *models.ActivityLog) error
	RecentOrders(ctx context.Context, couponID, code string, limit int) ([]models.Order, error)
	UsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, event models.CouponOutcomeEvent) error
}

type StatsCache interface {
	Get(ctx context.Context, couponID string) (*models.UsageStats, error)
	Set(ctx context.Context, stats *models.UsageStats) error
	Invalidate(ctx context.Context, couponID string) error
}

type Service struct {
	store     Store
	publisher OutcomePublisher
	cache     StatsCache
	recorder  *Recorder
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Service)

// WithPublisher publishes every redemption outcome.
func WithPublisher(p OutcomePublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithStatsCache caches usage statistics.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = &Recorder{store: s.store, publisher: s.publisher, log: s.log, now: s.now}
	return s
}

// Result is what the order-created handler reports back to its caller.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// HandleOrderCreated runs the coupon workflow for a newly created order.
// Policy rejections are reported in the Result. A non-nil error means the
// attempt failed for infrastructure reasons and may be retried.
func (s *Service) HandleOrderCreated(ctx context.Context, order models.Order) (Result, error) {
	if !order.HasCoupon() {
		return Result{Success: true, Message: MsgNoCoupon}, nil
	}
	if order.AuthorID == "" {
		s.log.Warn("COUPON", fmt.Sprintf("Order %s references a coupon but has no author", order.ID))
		return Result{Success: false, Message: MsgMissingUserID}, nil
	}

	ctx, span := tracer.Start(ctx, "coupon.HandleOrderCreated", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("coupon.id", order.CouponID),
		attribute.String("coupon.code", order.CouponCode),
	))
	defer span.End()

	// A redelivered order keeps the coupon it redeemed the first time,
	// even if that coupon has since been deleted.
	prior, err := s.store.RedemptionByOrder(ctx, order.ID)
	if err != nil {
		span.RecordError(err)
		s.recorder.RecordFailure(ctx, order, err)
		return Result{}, newError(CodeInternal, "load redemption", err)
	}

	var couponID string
	if prior != nil {
		couponID = prior.CouponID
	} else {
		c, err := s.store.ResolveCoupon(ctx, order.CouponID, order.CouponCode)
		if errors.Is(err, resolve.ErrNotFound) {
			return s.notFound(ctx, order), nil
		}
		if err != nil {
			span.RecordError(err)
			s.recorder.RecordFailure(ctx, order, err)
			return Result{}, newError(CodeInternal, "resolve coupon", err)
		}
		couponID = c.ID
	}

	out, err := s.Redeem(ctx, couponID, order.AuthorID, order.ID)
	if errors.Is(err, resolve.ErrNotFound) {
		if prior != nil {
			return s.replayFromLedger(ctx, order, prior), nil
		}
		return s.notFound(ctx, order), nil
	}
	if err != nil {
		span.RecordError(err)
		s.recorder.RecordFailure(ctx, order, err)
		return Result{}, newError(CodeInternal, "redeem coupon", err)
	}

	s.metrics.Redemption(out.Reason)
	s.log.LogCoupon("REDEEM", out.CouponCode, fmt.Sprintf("order=%s user=%s reason=%s used=%d/%d replayed=%t",
		order.ID, order.AuthorID, out.Reason, out.UsedCount, out.UsageLimit, out.Replayed))

	s.recorder.Record(ctx, order, out)
	if out.Valid && !out.Replayed {
		s.invalidateStats(ctx, out.CouponID)
	}

	return Result{Success: out.Valid, Message: out.Reason, Outcome: &out}, nil
}

func (s *Service) notFound(ctx context.Context, order models.Order) Result {
	s.metrics.Redemption("not_found")
	s.log.LogCoupon("RESOLVE", order.CouponID+"/"+order.CouponCode, "coupon not found for order "+order.ID)
	s.recorder.RecordNotFound(ctx, order)
	return Result{Success: false, Message: ReasonNotFound}
}

// replayFromLedger answers a redelivery whose coupon was deleted after it
// was redeemed. The order keeps its first annotation.
func (s *Service) replayFromLedger(ctx context.Context, order models.Order, prior *models.Redemption) Result {
	out := Outcome{
		Valid:      true,
		Reason:     ReasonValid,
		CouponID:   prior.CouponID,
		CouponCode: order.CouponCode,
		UsedCount:  prior.UsedCount,
		UserID:     prior.UserID,
		OrderID:    order.ID,
		Replayed:   true,
	}
	s.metrics.Redemption(out.Reason)
	s.log.LogCoupon("REDEEM", prior.CouponID, fmt.Sprintf("order=%s already redeemed, coupon no longer exists", order.ID))
	s.recorder.Republish(ctx, order, out)
	return Result{Success: true, Message: out.Reason, Outcome: &out}
}

func (s *Service) invalidateStats(ctx context.Context, couponID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, couponID); err != nil {
		s.log.Warn("REDIS", fmt.Sprintf("Failed to invalidate stats for coupon %s: %v", couponID, err))
	}
}
