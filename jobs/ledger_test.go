package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type stubLedger struct {
	closeErr  error
	closed    []int64
	rebuilt   []int64
	checked   []int64
	periods   []periods.Period
	reports   map[int64]accounting.IntegrityReport
	lastScope shared.TenantScope
}

func (s *stubLedger) ClosePeriod(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.CloseResult, error) {
	s.lastScope = scope
	if s.closeErr != nil {
		return accounting.CloseResult{}, s.closeErr
	}
	s.closed = append(s.closed, periodID)
	return accounting.CloseResult{CarriedForward: true}, nil
}

func (s *stubLedger) RebuildPeriodBalances(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.RebuildResult, error) {
	s.rebuilt = append(s.rebuilt, periodID)
	return accounting.RebuildResult{PeriodID: periodID}, nil
}

func (s *stubLedger) CheckIntegrity(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.IntegrityReport, error) {
	s.checked = append(s.checked, periodID)
	return s.reports[periodID], nil
}

func (s *stubLedger) ListPeriods(ctx context.Context, scope shared.TenantScope) ([]periods.Period, error) {
	return s.periods, nil
}

type stubCleaner struct {
	olderThan time.Duration
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return 4, nil
}

func newLedgerJobs(ledger *stubLedger, cleaner IdempotencyCleaner) (*LedgerJobs, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	return NewLedgerJobs(ledger, cleaner, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics), registry
}

func counterTotal(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestPeriodTasksCarryPayloadAndQueue(t *testing.T) {
	task, err := NewPeriodCloseTask(PeriodPayload{CompanyID: 1, PeriodID: 9, ActorID: 3})
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerPeriodClose, task.Type())

	var payload PeriodPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(9), payload.PeriodID)

	_, err = NewPeriodRebuildTask(PeriodPayload{CompanyID: 1})
	assert.Error(t, err)
	_, err = NewIntegrityTask(IntegrityPayload{})
	assert.Error(t, err)
	_, err = NewIdempotencyCleanupTask(0)
	assert.Error(t, err)
}

func TestHandleCloseRunsService(t *testing.T) {
	ledger := &stubLedger{}
	jobs, _ := newLedgerJobs(ledger, nil)
	task, err := NewPeriodCloseTask(PeriodPayload{CompanyID: 2, PeriodID: 5, ActorID: 8})
	require.NoError(t, err)

	require.NoError(t, jobs.HandleClose(context.Background(), task))
	assert.Equal(t, []int64{5}, ledger.closed)
	assert.Equal(t, shared.TenantScope{CompanyID: 2, ActorID: 8}, ledger.lastScope)
}

func TestHandleCloseClassifiesFailures(t *testing.T) {
	task, err := NewPeriodCloseTask(PeriodPayload{CompanyID: 2, PeriodID: 5, ActorID: 8})
	require.NoError(t, err)

	busy := &stubLedger{closeErr: shared.ErrLockBusy}
	jobs, _ := newLedgerJobs(busy, nil)
	err = jobs.HandleClose(context.Background(), task)
	assert.ErrorIs(t, err, shared.ErrLockBusy)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	missing := &stubLedger{closeErr: ledgererr.ErrPeriodNotFound}
	jobs, _ = newLedgerJobs(missing, nil)
	err = jobs.HandleClose(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, ledgererr.ErrPeriodNotFound)

	bad := asynq.NewTask(TaskLedgerPeriodClose, []byte(`{"company_id":1}`))
	assert.ErrorIs(t, jobs.HandleClose(context.Background(), bad), asynq.SkipRetry)
}

func TestHandleRebuildRunsService(t *testing.T) {
	ledger := &stubLedger{}
	jobs, _ := newLedgerJobs(ledger, nil)
	task, err := NewPeriodRebuildTask(PeriodPayload{CompanyID: 2, PeriodID: 6, ActorID: 8})
	require.NoError(t, err)
	require.NoError(t, jobs.HandleRebuild(context.Background(), task))
	assert.Equal(t, []int64{6}, ledger.rebuilt)
}

func TestHandleIntegrityCountsAnomalies(t *testing.T) {
	drifted := accounting.IntegrityReport{
		PeriodID:    11,
		TotalDebit:  decimal.NewFromInt(10),
		TotalCredit: decimal.NewFromInt(10),
		Anomalies: []accounting.Anomaly{
			{Key: balances.Key{AccountID: 1, PeriodID: 11}, Reason: accounting.AnomalyMissingRow},
			{Key: balances.Key{AccountID: 2, PeriodID: 11}, Reason: accounting.AnomalyMissingRow},
		},
	}
	ledger := &stubLedger{
		periods: []periods.Period{{ID: 10}, {ID: 11}},
		reports: map[int64]accounting.IntegrityReport{11: drifted},
	}
	jobs, registry := newLedgerJobs(ledger, nil)
	task, err := NewIntegrityTask(IntegrityPayload{CompanyIDs: []int64{3}})
	require.NoError(t, err)

	require.NoError(t, jobs.HandleIntegrity(context.Background(), task))
	assert.Equal(t, []int64{10, 11}, ledger.checked)
	assert.Equal(t, 2.0, counterTotal(t, registry, "odyssey_ledger_anomalies_total"))
	assert.Equal(t, 1.0, counterTotal(t, registry, "odyssey_jobs_total"))
}

func TestHandleCleanupPurgesKeys(t *testing.T) {
	cleaner := &stubCleaner{}
	jobs, _ := newLedgerJobs(&stubLedger{}, cleaner)
	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, jobs.HandleCleanup(context.Background(), task))
	assert.Equal(t, 72*time.Hour, cleaner.olderThan)

	err = jobs.HandleCleanup(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlersCoverEveryLedgerTask(t *testing.T) {
	jobs, _ := newLedgerJobs(&stubLedger{}, nil)
	types := map[string]bool{}
	for _, h := range jobs.Handlers() {
		types[h.Type] = true
	}
	for _, typ := range []string{TaskLedgerPeriodClose, TaskLedgerPeriodRebuild, TaskLedgerIntegrity, TaskIdempotencyCleanup} {
		assert.True(t, types[typ], typ)
	}
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, QueueCritical, body.Queues[0].Queue)
}

func TestFailPassesUnknownErrorsThrough(t *testing.T) {
	jobs, _ := newLedgerJobs(&stubLedger{}, nil)
	boom := errors.New("boom")
	err := jobs.fail(TaskLedgerPeriodClose, boom)
	assert.Equal(t, boom, err)
}
