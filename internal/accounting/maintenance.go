package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// CloseResult reports what a period close did.
type CloseResult struct {
	Period         periods.Period `json:"period"`
	NextPeriodID   *int64         `json:"next_period_id,omitempty"`
	CarriedForward bool           `json:"carried_forward"`
	Updated        int            `json:"updated"`
	Created        int            `json:"created"`
}

// RebuildResult reports what a balance rebuild did.
type RebuildResult struct {
	PeriodID int64 `json:"period_id"`
	balances.RebuildResult
}

func (s *Service) withPeriodLock(ctx context.Context, periodID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, shared.FinanceLockKey(periodID), fn)
}

// ClosePeriod marks the period CLOSED and copies every closing balance into
// the opening of the next period. Closing an already closed period only
// repeats the carry-forward. Without a next period nothing is carried.
func (s *Service) ClosePeriod(ctx context.Context, scope shared.TenantScope, periodID int64) (CloseResult, error) {
	if err := checkScope(scope); err != nil {
		return CloseResult{}, err
	}
	var result CloseResult
	err := s.withPeriodLock(ctx, periodID, func(ctx context.Context) error {
		return s.unit(ctx, "close_period", func(ctx context.Context, tx TxRepository) error {
			result = CloseResult{}
			registry := periods.NewRegistry(tx.Periods())
			period, err := tx.Periods().GetForUpdate(ctx, scope.CompanyID, periodID)
			if err != nil {
				return err
			}
			if period.IsOpen() {
				period, err = registry.Transition(ctx, period, periods.PeriodStatusClosed, scope.ActorID, s.now())
				if err != nil {
					return err
				}
			}
			result.Period = period
			next, err := registry.Next(ctx, period)
			if err != nil || next == nil {
				return err
			}
			carry, err := balances.NewAggregator(tx.Balances()).CarryForward(ctx, period, *next)
			if err != nil {
				return err
			}
			result.NextPeriodID = &next.ID
			result.CarriedForward = true
			result.Updated, result.Created = carry.Updated, carry.Created
			return nil
		})
	})
	if err != nil {
		return CloseResult{}, err
	}
	if !result.CarriedForward {
		s.logger.WarnContext(ctx, "period closed without a successor, balances not carried forward",
			slog.Int64("company_id", scope.CompanyID),
			slog.Int64("period_id", periodID),
			slog.String("period", result.Period.Name))
	}
	s.invalidate(ctx, scope.CompanyID)
	s.record(ctx, scope, "period.close", "accounting_period", periodID, map[string]any{
		"name":            result.Period.Name,
		"carried_forward": result.CarriedForward,
		"rows_updated":    result.Updated,
		"rows_created":    result.Created,
	})
	return result, nil
}

// ReopenPeriod moves a CLOSED period back to OPEN. Openings already carried
// into the next period stay until that period is closed again.
func (s *Service) ReopenPeriod(ctx context.Context, scope shared.TenantScope, periodID int64) (periods.Period, error) {
	if err := checkScope(scope); err != nil {
		return periods.Period{}, err
	}
	var period periods.Period
	err := s.withPeriodLock(ctx, periodID, func(ctx context.Context) error {
		return s.unit(ctx, "reopen_period", func(ctx context.Context, tx TxRepository) error {
			current, err := tx.Periods().GetForUpdate(ctx, scope.CompanyID, periodID)
			if err != nil {
				return err
			}
			period, err = periods.NewRegistry(tx.Periods()).Transition(ctx, current, periods.PeriodStatusOpen, scope.ActorID, s.now())
			return err
		})
	})
	if err != nil {
		return periods.Period{}, err
	}
	s.record(ctx, scope, "period.reopen", "accounting_period", periodID, map[string]any{"name": period.Name})
	return period, nil
}

// CreatePeriod registers an explicit period window.
func (s *Service) CreatePeriod(ctx context.Context, scope shared.TenantScope, name string, start, end time.Time) (periods.Period, error) {
	if err := checkScope(scope); err != nil {
		return periods.Period{}, err
	}
	var period periods.Period
	err := s.unit(ctx, "create_period", func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = periods.NewRegistry(tx.Periods()).Create(ctx, scope.CompanyID, name, start, end)
		return err
	})
	return period, err
}

// ListPeriods returns the company's periods in date order.
func (s *Service) ListPeriods(ctx context.Context, scope shared.TenantScope) ([]periods.Period, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	var out []periods.Period
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = periods.NewRegistry(tx.Periods()).List(ctx, scope.CompanyID)
		return err
	})
	return out, err
}

// RebuildPeriodBalances regenerates every balance row of the period from its
// posted lines. Running it twice yields the same rows.
func (s *Service) RebuildPeriodBalances(ctx context.Context, scope shared.TenantScope, periodID int64) (RebuildResult, error) {
	if err := checkScope(scope); err != nil {
		return RebuildResult{}, err
	}
	result := RebuildResult{PeriodID: periodID}
	err := s.withPeriodLock(ctx, periodID, func(ctx context.Context) error {
		return s.unit(ctx, "rebuild_period", func(ctx context.Context, tx TxRepository) error {
			period, err := tx.Periods().GetForUpdate(ctx, scope.CompanyID, periodID)
			if err != nil {
				return err
			}
			result.RebuildResult, err = balances.NewAggregator(tx.Balances()).Rebuild(ctx, period)
			return err
		})
	})
	if err != nil {
		return RebuildResult{}, err
	}
	s.logger.InfoContext(ctx, "period balances rebuilt",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("period_id", periodID),
		slog.Int64("deleted", result.Deleted),
		slog.Int("rebuilt", result.Rebuilt))
	s.invalidate(ctx, scope.CompanyID)
	s.record(ctx, scope, "period.rebuild", "accounting_period", periodID, map[string]any{
		"deleted": result.Deleted,
		"rebuilt": result.Rebuilt,
	})
	return result, nil
}

// Anomaly reasons.
const (
	AnomalyInconsistentRow = "inconsistent_row"
	AnomalyOrphanMovement  = "orphan_movement"
	AnomalyMovementDrift   = "movement_drift"
	AnomalyMissingRow      = "missing_row"
)

// Anomaly describes one balance row that disagrees with the posted lines.
type Anomaly struct {
	Key    balances.Key `json:"key"`
	Reason string       `json:"reason"`
}

// CountByReason groups the anomalies of a report.
func (r IntegrityReport) CountByReason() map[string]int {
	out := make(map[string]int)
	for _, a := range r.Anomalies {
		out[a.Reason]++
	}
	return out
}

// IntegrityReport summarises a consistency check of one period.
type IntegrityReport struct {
	PeriodID    int64           `json:"period_id"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	Rows        int             `json:"rows"`
	Anomalies   []Anomaly       `json:"anomalies"`
}

// Healthy reports whether the period balances agree with its lines.
func (r IntegrityReport) Healthy() bool {
	return r.TotalDebit.Equal(r.TotalCredit) && len(r.Anomalies) == 0
}

// CheckIntegrity compares the stored balance rows of a period with a replay
// of its posted lines without changing anything.
func (s *Service) CheckIntegrity(ctx context.Context, scope shared.TenantScope, periodID int64) (IntegrityReport, error) {
	if err := checkScope(scope); err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{PeriodID: periodID}
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.Periods().Get(ctx, scope.CompanyID, periodID)
		if err != nil {
			return err
		}
		rows, err := tx.Balances().ListByPeriod(ctx, period.ID)
		if err != nil {
			return err
		}
		movements, err := tx.Balances().PeriodMovements(ctx, scope.CompanyID, period.ID)
		if err != nil {
			return err
		}
		report = inspect(period.ID, rows, movements)
		return nil
	})
	return report, err
}

func inspect(periodID int64, rows []balances.Balance, movements []balances.Movement) IntegrityReport {
	report := IntegrityReport{PeriodID: periodID, Rows: len(rows)}
	replayed := make(map[string]balances.Movement, len(movements))
	for _, mv := range movements {
		report.TotalDebit = report.TotalDebit.Add(mv.Debit)
		report.TotalCredit = report.TotalCredit.Add(mv.Credit)
		key := balances.Key{AccountID: mv.AccountID, PeriodID: periodID, BranchID: mv.BranchID}.String()
		acc := replayed[key]
		acc.AccountID, acc.BranchID = mv.AccountID, mv.BranchID
		acc.Debit = acc.Debit.Add(mv.Debit)
		acc.Credit = acc.Credit.Add(mv.Credit)
		replayed[key] = acc
	}
	for _, row := range rows {
		if !row.Consistent() {
			report.Anomalies = append(report.Anomalies, Anomaly{Key: row.Key, Reason: AnomalyInconsistentRow})
		}
		mv, ok := replayed[row.Key.String()]
		delete(replayed, row.Key.String())
		if !ok {
			if !row.PeriodDebit.IsZero() || !row.PeriodCredit.IsZero() {
				report.Anomalies = append(report.Anomalies, Anomaly{Key: row.Key, Reason: AnomalyOrphanMovement})
			}
			continue
		}
		if !row.PeriodDebit.Equal(mv.Debit) || !row.PeriodCredit.Equal(mv.Credit) {
			report.Anomalies = append(report.Anomalies, Anomaly{Key: row.Key, Reason: AnomalyMovementDrift})
		}
	}
	for _, mv := range replayed {
		key := balances.Key{AccountID: mv.AccountID, PeriodID: periodID, BranchID: mv.BranchID}
		report.Anomalies = append(report.Anomalies, Anomaly{Key: key, Reason: AnomalyMissingRow})
	}
	return report
}
