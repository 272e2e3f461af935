package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// LedgerService is the slice of the ledger the workers drive.
type LedgerService interface {
	ClosePeriod(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.CloseResult, error)
	RebuildPeriodBalances(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.RebuildResult, error)
	CheckIntegrity(ctx context.Context, scope shared.TenantScope, periodID int64) (accounting.IntegrityReport, error)
	ListPeriods(ctx context.Context, scope shared.TenantScope) ([]periods.Period, error)
}

// IdempotencyCleaner purges request keys older than a cutoff.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// LedgerJobs handles ledger maintenance tasks.
type LedgerJobs struct {
	Service     LedgerService
	Idempotency IdempotencyCleaner
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewLedgerJobs initialises the ledger task handlers.
func NewLedgerJobs(service LedgerService, idempotency IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerJobs {
	return &LedgerJobs{Service: service, Idempotency: idempotency, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers for worker registration.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerPeriodClose, Handler: j.HandleClose},
		{Type: TaskLedgerPeriodRebuild, Handler: j.HandleRebuild},
		{Type: TaskLedgerIntegrity, Handler: j.HandleIntegrity},
		{Type: TaskIdempotencyCleanup, Handler: j.HandleCleanup},
	}
}

// HandleClose closes the period named in the payload.
func (j *LedgerJobs) HandleClose(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track("ledger_period_close")
	defer func() { err = tracker.End(err) }()

	p, err := decodePeriod(t)
	if err != nil {
		return err
	}
	result, err := j.Service.ClosePeriod(ctx, scopeOf(p.CompanyID, p.ActorID), p.PeriodID)
	if err != nil {
		return j.fail(TaskLedgerPeriodClose, err)
	}
	j.logger().Info("period closed",
		slog.Int64("company_id", p.CompanyID),
		slog.Int64("period_id", p.PeriodID),
		slog.Bool("carried_forward", result.CarriedForward),
		slog.Int("rows_updated", result.Updated),
		slog.Int("rows_created", result.Created))
	return nil
}

// HandleRebuild regenerates the balance rows of the period in the payload.
func (j *LedgerJobs) HandleRebuild(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track("ledger_period_rebuild")
	defer func() { err = tracker.End(err) }()

	p, err := decodePeriod(t)
	if err != nil {
		return err
	}
	if _, err := j.Service.RebuildPeriodBalances(ctx, scopeOf(p.CompanyID, p.ActorID), p.PeriodID); err != nil {
		return j.fail(TaskLedgerPeriodRebuild, err)
	}
	return nil
}

// HandleIntegrity checks every requested company and counts anomalies.
func (j *LedgerJobs) HandleIntegrity(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track("ledger_integrity")
	defer func() { err = tracker.End(err) }()

	var p IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	actor := p.ActorID
	if actor <= 0 {
		actor = SystemActorID
	}
	var errs []error
	for _, companyID := range p.CompanyIDs {
		if err := j.checkCompany(ctx, scopeOf(companyID, actor), p.PeriodID); err != nil {
			errs = append(errs, fmt.Errorf("company %d: %w", companyID, err))
		}
	}
	return errors.Join(errs...)
}

func (j *LedgerJobs) checkCompany(ctx context.Context, scope shared.TenantScope, periodID int64) error {
	ids := []int64{periodID}
	if periodID == 0 {
		list, err := j.Service.ListPeriods(ctx, scope)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, period := range list {
			ids = append(ids, period.ID)
		}
	}
	for _, id := range ids {
		report, err := j.Service.CheckIntegrity(ctx, scope, id)
		if err != nil {
			return err
		}
		if report.Healthy() {
			continue
		}
		for reason, count := range report.CountByReason() {
			j.Metrics.AddAnomalies(reason, scope.CompanyID, count)
		}
		if !report.TotalDebit.Equal(report.TotalCredit) {
			j.Metrics.AddAnomalies("unbalanced_period", scope.CompanyID, 1)
		}
		j.logger().Warn("ledger balances drifted from posted lines",
			slog.Int64("company_id", scope.CompanyID),
			slog.Int64("period_id", id),
			slog.Int("anomalies", len(report.Anomalies)),
			slog.String("total_debit", report.TotalDebit.String()),
			slog.String("total_credit", report.TotalCredit.String()))
	}
	return nil
}

// HandleCleanup purges expired idempotency keys.
func (j *LedgerJobs) HandleCleanup(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track("ledger_idempotency_cleanup")
	defer func() { err = tracker.End(err) }()

	var p CleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.OlderThan <= 0 {
		return fmt.Errorf("%w: invalid cleanup payload", asynq.SkipRetry)
	}
	if j.Idempotency == nil {
		return nil
	}
	removed, err := j.Idempotency.Cleanup(ctx, p.OlderThan)
	if err != nil {
		return err
	}
	j.logger().Info("idempotency keys purged", slog.Int64("removed", removed))
	return nil
}

// fail keeps lock and conflict errors retryable and stops retries for
// errors a rerun cannot fix.
func (j *LedgerJobs) fail(task string, err error) error {
	if errors.Is(err, shared.ErrLockBusy) || ledgererr.IsRetryable(err) {
		j.logger().Info("ledger task will retry", slog.String("task", task), slog.Any("error", err))
		return err
	}
	var verr *ledgererr.ValidationError
	if errors.As(err, &verr) ||
		errors.Is(err, ledgererr.ErrPeriodNotFound) ||
		errors.Is(err, ledgererr.ErrInvalidStatus) {
		j.logger().Error("ledger task rejected", slog.String("task", task), slog.Any("error", err))
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}
	return err
}

func (j *LedgerJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// SystemActorID is recorded as the actor of scheduled runs.
const SystemActorID int64 = 1

func decodePeriod(t *asynq.Task) (PeriodPayload, error) {
	var p PeriodPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err := p.validate(); err != nil {
		return p, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return p, nil
}

func scopeOf(companyID, actorID int64) shared.TenantScope {
	return shared.TenantScope{CompanyID: companyID, ActorID: actorID}
}
