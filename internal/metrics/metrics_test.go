package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

func TestMetrics_TransferCommitted(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.TransferCommitted(1, 10*time.Millisecond)
	m.TransferCommitted(2, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transfersCounter))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.chainTailGauge))
}

func TestMetrics_TransferFailed(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.TransferFailed("insufficient_balance")
	m.TransferFailed("insufficient_balance")
	m.TransferFailed("lock_timeout")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transferFailuresVec.WithLabelValues("insufficient_balance")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transferFailuresVec.WithLabelValues("lock_timeout")))
}

func TestMetrics_ChainVerified(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ChainVerified(models.VerificationReport{OK: true, EntryCount: 5})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.chainOkGauge))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.verifiedEntriesGauge))

	m.ChainVerified(models.VerificationReport{
		OK:             false,
		EntryCount:     5,
		ViolationCount: 1,
		Errors:         []models.Violation{{Position: 3, Kind: models.BlockHashMismatch}},
	})
	assert.Equal(t, float64(0), testutil.ToFloat64(m.chainOkGauge))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.violationsGauge))
}

func TestMetrics_ChainVerified_Truncated(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ChainVerified(models.VerificationReport{
		EntryCount:     200,
		ViolationCount: 120,
		Errors:         make([]models.Violation, 50),
		Truncated:      true,
	})
	assert.Equal(t, float64(120), testutil.ToFloat64(m.violationsGauge))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TransferCommitted(1, time.Millisecond)
		m.TransferFailed("lock_timeout")
		m.TransferRetried()
		m.ChainVerified(models.VerificationReport{OK: true})
	})
}
