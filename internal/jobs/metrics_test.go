package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("ledger_period_close").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("ledger_period_close").End(boom), boom)
	rejected := fmt.Errorf("%w: bad payload", asynq.SkipRetry)
	assert.ErrorIs(t, m.Track("ledger_period_close").End(rejected), asynq.SkipRetry)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_period_close", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_period_close", StatusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_period_close", StatusRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger_period_close")))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("ledger_period_close")), 0.0)
}

func TestAddAnomaliesIgnoresEmptyCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAnomalies("missing_row", 4, 0)
	m.AddAnomalies("missing_row", 4, 3)
	m.AddAnomalies("missing_row", 0, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.anomalies.WithLabelValues("missing_row", "4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues("missing_row", "0")))

	var nilMetrics *Metrics
	nilMetrics.AddAnomalies("missing_row", 4, 1)
	assert.NoError(t, nilMetrics.Track("x").End(nil))
}
