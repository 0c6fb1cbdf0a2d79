package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

// Metrics holds the ledger collectors. A nil *Metrics records nothing.
type Metrics struct {
	transfersCounter       prometheus.Counter
	transferFailuresVec    *prometheus.CounterVec
	transferRetriesCounter prometheus.Counter
	transferDuration       prometheus.Histogram
	chainTailGauge         prometheus.Gauge
	verifiedEntriesGauge   prometheus.Gauge
	violationsGauge        prometheus.Gauge
	chainOkGauge           prometheus.Gauge
}

// NewMetrics registers the ledger collectors with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := Metrics{
		// transfer processing
		transfersCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_transfers_total", namespace),
			Help: "The number of committed transfers",
		}),
		transferFailuresVec: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_transfer_failures_total", namespace),
			Help: "The number of rejected or failed transfers by reason",
		}, []string{"reason"}),
		transferRetriesCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_transfer_retries_total", namespace),
			Help: "The number of transfer attempts repeated after a transient fault",
		}),
		transferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_transfer_duration_seconds", namespace),
			Help:    "Time spent in a transfer including lock waits",
			Buckets: prometheus.DefBuckets,
		}),
		chainTailGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_chain_tail_position", namespace),
			Help: "The position of the latest committed entry",
		}),
		// chain verification
		verifiedEntriesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_verified_entries", namespace),
			Help: "The number of entries replayed by the last verification",
		}),
		violationsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_chain_violations", namespace),
			Help: "The number of violations reported by the last verification",
		}),
		chainOkGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_chain_ok", namespace),
			Help: "1 if the last verification found the chain consistent, 0 otherwise",
		}),
	}
	return &m
}

func (metrics *Metrics) TransferCommitted(position uint64, took time.Duration) {
	if metrics == nil {
		return
	}
	metrics.transfersCounter.Inc()
	metrics.chainTailGauge.Set(float64(position))
	metrics.transferDuration.Observe(took.Seconds())
}

func (metrics *Metrics) TransferFailed(reason string) {
	if metrics == nil {
		return
	}
	metrics.transferFailuresVec.WithLabelValues(reason).Inc()
}

func (metrics *Metrics) TransferRetried() {
	if metrics == nil {
		return
	}
	metrics.transferRetriesCounter.Inc()
}

// ChainVerified publishes the outcome of the last verification.
func (metrics *Metrics) ChainVerified(report models.VerificationReport) {
	if metrics == nil {
		return
	}
	metrics.verifiedEntriesGauge.Set(float64(report.EntryCount))
	metrics.violationsGauge.Set(float64(report.ViolationCount))
	if report.OK {
		metrics.chainOkGauge.Set(1)
	} else {
		metrics.chainOkGauge.Set(0)
	}
}
