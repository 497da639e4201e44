package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coupon service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	redemptions *prometheus.CounterVec
	resets      *prometheus.CounterVec
	events      *prometheus.CounterVec
	txRetries   prometheus.Counter
	txDuration  prometheus.Histogram
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupons",
			Name:      "redemption_attempts_total",
			Help:      "Coupon redemption attempts by outcome reason.",
		}, []string{"reason"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupons",
			Name:      "usage_resets_total",
			Help:      "Admin usage resets by reset type.",
		}, []string{"type"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupons",
			Name:      "order_events_total",
			Help:      "Order created events consumed by handling status.",
		}, []string{"status"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coupons",
			Name:      "tx_retries_total",
			Help:      "Coupon transactions re-run after a serialization conflict.",
		}),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coupons",
			Name:      "tx_duration_seconds",
			Help:      "Wall time of coupon usage transactions including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.redemptions, m.resets, m.events, m.txRetries, m.txDuration)
	return m
}

func (m *Metrics) Redemption(reason string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reset(resetType string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(resetType).Inc()
}

func (m *Metrics) Event(status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(status).Inc()
}

func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *Metrics) ObserveTx(d time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
