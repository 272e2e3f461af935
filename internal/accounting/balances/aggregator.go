package balances

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Store persists balance rows and reads posted line history.
// Posted lines include those of VOIDED entries: the paired reversal is what
// nets them out.
type Store interface {
	Find(ctx context.Context, key Key) (Balance, bool, error)
	// CreateZero inserts an empty row for key unless one exists.
	CreateZero(ctx context.Context, companyID int64, key Key) error
	// Update writes b if the stored version still equals expected, bumping it.
	// A version miss returns shared.ErrConcurrencyConflict.
	Update(ctx context.Context, b Balance, expected int64) error
	Insert(ctx context.Context, b Balance) error
	ListByPeriod(ctx context.Context, periodID int64) ([]Balance, error)
	DeleteByPeriod(ctx context.Context, periodID int64) (int64, error)
	PeriodMovements(ctx context.Context, companyID, periodID int64) ([]Movement, error)
	MovementsBetween(ctx context.Context, companyID int64, from, to time.Time) ([]Movement, error)
	SumPosted(ctx context.Context, companyID, accountID int64, branchID *int64, asOf time.Time) (debit, credit decimal.Decimal, err error)
}

// Aggregator maintains per-account, per-period running totals.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// GetOrCreate returns the row for key, creating a zeroed one when absent.
func (a *Aggregator) GetOrCreate(ctx context.Context, companyID int64, key Key) (Balance, error) {
	b, ok, err := a.store.Find(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	if ok {
		return b, nil
	}
	if err := a.store.CreateZero(ctx, companyID, key); err != nil {
		return Balance{}, err
	}
	b, ok, err = a.store.Find(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		// Created by a transaction outside our snapshot.
		return Balance{}, fmt.Errorf("balances: row %s not visible: %w", key, shared.ErrConcurrencyConflict)
	}
	return b, nil
}

// Apply adds one movement to the period, closing and year-to-date totals.
// The write is conditional on the version read here.
func (a *Aggregator) Apply(ctx context.Context, companyID int64, key Key, debit, credit decimal.Decimal) (Balance, error) {
	b, err := a.GetOrCreate(ctx, companyID, key)
	if err != nil {
		return Balance{}, err
	}
	expected := b.Version
	b.PeriodDebit = b.PeriodDebit.Add(debit)
	b.PeriodCredit = b.PeriodCredit.Add(credit)
	b.YTDDebit = b.YTDDebit.Add(debit)
	b.YTDCredit = b.YTDCredit.Add(credit)
	b.Recompute()
	if err := a.store.Update(ctx, b, expected); err != nil {
		return Balance{}, err
	}
	b.Version = expected + 1
	return b, nil
}

// BalanceAtDate sums posted lines dated on or before asOf, bypassing the
// period rows. A nil branch aggregates all branches.
func (a *Aggregator) BalanceAtDate(ctx context.Context, account accounts.Account, asOf time.Time, branchID *int64) (PointBalance, error) {
	debit, credit, err := a.store.SumPosted(ctx, account.CompanyID, account.ID, branchID, periods.Day(asOf))
	if err != nil {
		return PointBalance{}, err
	}
	return PointBalance{
		AccountID: account.ID,
		BranchID:  branchID,
		AsOf:      periods.Day(asOf),
		Debit:     debit,
		Credit:    credit,
		Net:       account.Type.Net(debit, credit),
	}, nil
}

// CarryResult reports the rows touched by a carry-forward.
type CarryResult struct {
	Updated int
	Created int
}

// CarryForward copies every closing balance of from into the opening of to
// and recomputes to's closing from the movements it already holds. Period
// movements of to are left untouched. Year-to-date restarts when to opens a
// new fiscal year.
func (a *Aggregator) CarryForward(ctx context.Context, from, to periods.Period) (CarryResult, error) {
	source, err := a.store.ListByPeriod(ctx, from.ID)
	if err != nil {
		return CarryResult{}, err
	}
	target, err := a.store.ListByPeriod(ctx, to.ID)
	if err != nil {
		return CarryResult{}, err
	}
	sameYear := from.FiscalYear() == to.FiscalYear()
	var result CarryResult
	carried := make(map[int]struct{}, len(source))
	for _, src := range source {
		key := Key{AccountID: src.Key.AccountID, PeriodID: to.ID, BranchID: src.Key.BranchID}
		dst, idx := findRow(target, key)
		dst.OpeningDebit = src.ClosingDebit
		dst.OpeningCredit = src.ClosingCredit
		dst.Recompute()
		dst.YTDDebit, dst.YTDCredit = dst.PeriodDebit, dst.PeriodCredit
		if sameYear {
			dst.YTDDebit = src.YTDDebit.Add(dst.PeriodDebit)
			dst.YTDCredit = src.YTDCredit.Add(dst.PeriodCredit)
		}
		if idx < 0 {
			dst.CompanyID = to.CompanyID
			dst.Version = 1
			if err := a.store.Insert(ctx, dst); err != nil {
				return result, err
			}
			result.Created++
			continue
		}
		carried[idx] = struct{}{}
		if err := a.store.Update(ctx, dst, target[idx].Version); err != nil {
			return result, err
		}
		result.Updated++
	}
	// Rows with no counterpart in from carry nothing in.
	for idx, dst := range target {
		if _, ok := carried[idx]; ok || (dst.OpeningDebit.IsZero() && dst.OpeningCredit.IsZero()) {
			continue
		}
		expected := dst.Version
		dst.OpeningDebit, dst.OpeningCredit = decimal.Zero, decimal.Zero
		dst.Recompute()
		dst.YTDDebit, dst.YTDCredit = dst.PeriodDebit, dst.PeriodCredit
		if err := a.store.Update(ctx, dst, expected); err != nil {
			return result, err
		}
		result.Updated++
	}
	return result, nil
}

func findRow(rows []Balance, key Key) (Balance, int) {
	for i, row := range rows {
		if row.Key.AccountID == key.AccountID && sameBranch(row.Key.BranchID, key.BranchID) {
			return row, i
		}
	}
	return Zero(0, key), -1
}

// RebuildResult reports the effect of a rebuild.
type RebuildResult struct {
	Deleted int64 `json:"deleted"`
	Rebuilt int   `json:"rebuilt"`
}

// Rebuild deletes every row of the period and replays its posted lines.
// Carried-forward openings survive the rebuild; period and closing totals are
// regenerated, and year-to-date is re-summed from the start of the fiscal year.
func (a *Aggregator) Rebuild(ctx context.Context, period periods.Period) (RebuildResult, error) {
	existing, err := a.store.ListByPeriod(ctx, period.ID)
	if err != nil {
		return RebuildResult{}, err
	}
	movements, err := a.store.PeriodMovements(ctx, period.CompanyID, period.ID)
	if err != nil {
		return RebuildResult{}, err
	}
	yearStart := time.Date(period.FiscalYear(), time.January, 1, 0, 0, 0, 0, time.UTC)
	ytd, err := a.store.MovementsBetween(ctx, period.CompanyID, yearStart, period.EndDate)
	if err != nil {
		return RebuildResult{}, err
	}
	deleted, err := a.store.DeleteByPeriod(ctx, period.ID)
	if err != nil {
		return RebuildResult{}, err
	}

	rows := make([]Balance, 0, len(existing)+len(movements))
	upsert := func(key Key) *Balance {
		for i := range rows {
			if rows[i].Key.AccountID == key.AccountID && sameBranch(rows[i].Key.BranchID, key.BranchID) {
				return &rows[i]
			}
		}
		rows = append(rows, Zero(period.CompanyID, key))
		return &rows[len(rows)-1]
	}
	for _, old := range existing {
		if old.OpeningDebit.IsZero() && old.OpeningCredit.IsZero() {
			continue
		}
		row := upsert(old.Key)
		row.OpeningDebit, row.OpeningCredit = old.OpeningDebit, old.OpeningCredit
	}
	for _, mv := range movements {
		row := upsert(Key{AccountID: mv.AccountID, PeriodID: period.ID, BranchID: mv.BranchID})
		row.PeriodDebit = row.PeriodDebit.Add(mv.Debit)
		row.PeriodCredit = row.PeriodCredit.Add(mv.Credit)
	}
	for _, mv := range ytd {
		for i := range rows {
			if rows[i].Key.AccountID == mv.AccountID && sameBranch(rows[i].Key.BranchID, mv.BranchID) {
				rows[i].YTDDebit = rows[i].YTDDebit.Add(mv.Debit)
				rows[i].YTDCredit = rows[i].YTDCredit.Add(mv.Credit)
			}
		}
	}
	for i := range rows {
		rows[i].Recompute()
		stamp(&rows[i], existing)
		if err := a.store.Insert(ctx, rows[i]); err != nil {
			return RebuildResult{Deleted: deleted}, err
		}
	}
	return RebuildResult{Deleted: deleted, Rebuilt: len(rows)}, nil
}

// stamp carries the version of the row being replaced. The version only moves
// when the amounts changed, so rebuilding an intact period rewrites identical rows.
func stamp(row *Balance, existing []Balance) {
	row.Version = 1
	for _, old := range existing {
		if old.Key.AccountID != row.Key.AccountID || !sameBranch(old.Key.BranchID, row.Key.BranchID) {
			continue
		}
		row.Version = old.Version
		if old.SameAmounts(*row) {
			row.UpdatedAt = old.UpdatedAt
		} else {
			row.Version++
		}
		return
	}
}
