// Package metrics exposes sync pipeline counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instrument outcomes
const (
	OutcomeSynced  = "synced"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Run results
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

var (
	// mode: full_import daily_update
	// outcome: synced skipped failed
	instrumentCounterVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_instruments_total",
			Help: "Instruments processed by sync runs.",
		},
		[]string{"mode", "outcome"},
	)

	rowsCounterVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_upserted_total",
			Help: "Bars written to stock_daily_history.",
		},
		[]string{"period"},
	)

	runCounterVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Finished sync runs.",
		},
		[]string{"mode", "result"},
	)

	runningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_running",
			Help: "1 while a sync run is in progress.",
		},
	)

	// seconds
	runDurationVec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Wall time of sync runs.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"mode"},
	)

	// kind: factors scores
	triggerErrorVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_trigger_errors_total",
			Help: "Downstream analytics trigger failures.",
		},
		[]string{"kind"},
	)

	// reason: already_running invalid_date
	rejectedCounterVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_requests_rejected_total",
			Help: "Admin sync requests that did not start a run.",
		},
		[]string{"reason"},
	)

	promHttpHandler = gin.WrapH(promhttp.Handler())

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(instrumentCounterVec)
		prometheus.MustRegister(rowsCounterVec)
		prometheus.MustRegister(runCounterVec)
		prometheus.MustRegister(runningGauge)
		prometheus.MustRegister(runDurationVec)
		prometheus.MustRegister(triggerErrorVec)
		prometheus.MustRegister(rejectedCounterVec)
	})
}

// GetMetrics serves /metrics
func GetMetrics(c *gin.Context) {
	promHttpHandler(c)
}

func InstrumentInc(mode, outcome string) {
	instrumentCounterVec.WithLabelValues(mode, outcome).Inc()
}

func RowsAdd(period string, n int64) {
	rowsCounterVec.WithLabelValues(period).Add(float64(n))
}

func RunStarted() {
	runningGauge.Set(1)
}

func RunFinished(mode, result string, seconds float64) {
	runningGauge.Set(0)
	runCounterVec.WithLabelValues(mode, result).Inc()
	runDurationVec.WithLabelValues(mode).Observe(seconds)
}

func TriggerErrorInc(kind string) {
	triggerErrorVec.WithLabelValues(kind).Inc()
}

func RequestRejectedInc(reason string) {
	rejectedCounterVec.WithLabelValues(reason).Inc()
}
