package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wx-shi/utxo-balance/internal/model"
)

// Metrics counts balance requests by chain and outcome.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	height   *prometheus.GaugeVec
}

// New registers the balance metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "utxo_balance",
			Name:      "requests_total",
			Help:      "Balance requests by chain and outcome",
		}, []string{"chain", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "utxo_balance",
			Name:      "request_duration_seconds",
			Help:      "Time spent answering a balance request",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"chain"}),
		height: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "utxo_balance",
			Name:      "ledger_sync_height",
			Help:      "Last sync height seen while resolving a balance",
		}, []string{"chain"}),
	}
	reg.MustRegister(m.requests, m.duration, m.height)
	return m
}

// Observe records one answered request. A nil *Metrics records nothing.
func (m *Metrics) Observe(result model.BalanceResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result.Currency, string(result.ErrorType)).Inc()
	m.duration.WithLabelValues(result.Currency).Observe(elapsed.Seconds())
	if result.ErrorType == model.ErrNone {
		m.height.WithLabelValues(result.Currency).Set(float64(result.BlockHeight))
	}
}
