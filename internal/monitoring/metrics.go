package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signal metrics
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyramid_bot_signals_total",
			Help: "Total number of trading signals processed",
		},
		[]string{"symbol", "action", "outcome"},
	)

	// Order metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyramid_bot_orders_total",
			Help: "Total number of orders confirmed by the exchange",
		},
		[]string{"symbol", "side"},
	)

	orderNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pyramid_bot_order_notional",
			Help:    "Distribution of order notional values",
			Buckets: prometheus.ExponentialBuckets(10, 2.5, 10),
		},
		[]string{"symbol"},
	)

	// Position metrics
	pyramidLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pyramid_bot_level",
			Help: "Current pyramid level per symbol",
		},
		[]string{"symbol"},
	)

	marginUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pyramid_bot_margin_used",
			Help: "Margin allocated per symbol",
		},
		[]string{"symbol"},
	)

	exposureRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pyramid_bot_exposure_ratio",
			Help: "Total margin used over account value",
		},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pyramid_bot_current_price",
			Help: "Latest observed price per symbol",
		},
		[]string{"symbol"},
	)

	// Risk metrics
	forcedClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyramid_bot_forced_closes_total",
			Help: "Total number of risk-triggered forced closes",
		},
		[]string{"symbol", "reason"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyramid_bot_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderNotional)
	prometheus.MustRegister(pyramidLevel)
	prometheus.MustRegister(marginUsed)
	prometheus.MustRegister(exposureRatio)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(forcedClosesTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordSignal records a processed signal and its outcome
// (accepted, dropped, failed).
func RecordSignal(symbol, action, outcome string) {
	signalsTotal.WithLabelValues(symbol, action, outcome).Inc()
}

// RecordOrder records a confirmed order
func RecordOrder(symbol, side string, notional float64) {
	ordersTotal.WithLabelValues(symbol, side).Inc()
	orderNotional.WithLabelValues(symbol).Observe(notional)
}

// UpdatePyramidLevel updates the level gauge for a symbol
func UpdatePyramidLevel(symbol string, level int) {
	pyramidLevel.WithLabelValues(symbol).Set(float64(level))
}

// UpdateMarginUsed updates the per-symbol margin gauge
func UpdateMarginUsed(symbol string, margin float64) {
	marginUsed.WithLabelValues(symbol).Set(margin)
}

// UpdateExposureRatio updates the account-wide exposure gauge
func UpdateExposureRatio(ratio float64) {
	exposureRatio.Set(ratio)
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordForcedClose records a risk-triggered close
func RecordForcedClose(symbol, reason string) {
	forcedClosesTotal.WithLabelValues(symbol, reason).Inc()
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
