package accounting

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// PeriodAccountBalances sums the period's balance rows per account. A nil
// branch includes every branch; otherwise only that branch's rows count.
func (s *Service) PeriodAccountBalances(ctx context.Context, scope shared.TenantScope, periodID int64, branchID *int64) (reports.Header, []reports.AccountBalance, error) {
	if err := checkScope(scope); err != nil {
		return reports.Header{}, nil, err
	}
	header := reports.Header{CompanyID: scope.CompanyID, PeriodID: periodID, BranchID: branchID}
	var out []reports.AccountBalance
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.Periods().Get(ctx, scope.CompanyID, periodID)
		if err != nil {
			return err
		}
		header.PeriodName = period.Name
		chart, err := tx.Accounts().List(ctx, scope.CompanyID)
		if err != nil {
			return err
		}
		rows, err := tx.Balances().ListByPeriod(ctx, period.ID)
		if err != nil {
			return err
		}
		byAccount := make(map[int64]*reports.AccountBalance, len(chart))
		for _, acc := range chart {
			if acc.IsGroup {
				continue
			}
			byAccount[acc.ID] = &reports.AccountBalance{AccountID: acc.ID, Code: acc.Code, Name: acc.Name, Type: acc.Type}
		}
		for _, row := range rows {
			if branchID != nil && !sameBranch(row.Key.BranchID, branchID) {
				continue
			}
			target, ok := byAccount[row.Key.AccountID]
			if !ok {
				continue
			}
			accumulate(target, row)
		}
		out = make([]reports.AccountBalance, 0, len(byAccount))
		for _, acc := range byAccount {
			out = append(out, *acc)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
		return nil
	})
	return header, out, err
}

func accumulate(target *reports.AccountBalance, row balances.Balance) {
	target.OpeningDebit = target.OpeningDebit.Add(row.OpeningDebit)
	target.OpeningCredit = target.OpeningCredit.Add(row.OpeningCredit)
	target.Debit = target.Debit.Add(row.PeriodDebit)
	target.Credit = target.Credit.Add(row.PeriodCredit)
}

func sameBranch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// TrialBalance builds the trial balance of a period.
func (s *Service) TrialBalance(ctx context.Context, scope shared.TenantScope, periodID int64, branchID *int64) (reports.TrialBalanceView, error) {
	header, rows, err := s.PeriodAccountBalances(ctx, scope, periodID, branchID)
	if err != nil {
		return reports.TrialBalanceView{}, err
	}
	tb := reports.BuildTrialBalance(rows)
	return reports.TrialBalanceView{Header: header, Balanced: tb.Balanced(), Report: tb}, nil
}

// ProfitAndLoss builds the income statement of a period's movements.
func (s *Service) ProfitAndLoss(ctx context.Context, scope shared.TenantScope, periodID int64, branchID *int64) (reports.ProfitAndLossView, error) {
	header, rows, err := s.PeriodAccountBalances(ctx, scope, periodID, branchID)
	if err != nil {
		return reports.ProfitAndLossView{}, err
	}
	return reports.ProfitAndLossView{Header: header, Report: reports.BuildProfitAndLoss(rows)}, nil
}

// BalanceSheet builds the statement of financial position at period end.
func (s *Service) BalanceSheet(ctx context.Context, scope shared.TenantScope, periodID int64, branchID *int64) (reports.BalanceSheetView, error) {
	header, rows, err := s.PeriodAccountBalances(ctx, scope, periodID, branchID)
	if err != nil {
		return reports.BalanceSheetView{}, err
	}
	bs := reports.BuildBalanceSheet(rows)
	return reports.BalanceSheetView{Header: header, Balanced: bs.Balanced(), Report: bs}, nil
}
