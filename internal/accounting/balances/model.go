package balances

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
)

// Key identifies one balance row. A nil branch is the company-level row.
type Key struct {
	AccountID int64  `json:"account_id"`
	PeriodID  int64  `json:"period_id"`
	BranchID  *int64 `json:"branch_id,omitempty"`
}

func (k Key) String() string {
	branch := "-"
	if k.BranchID != nil {
		branch = fmt.Sprintf("%d", *k.BranchID)
	}
	return fmt.Sprintf("%d:%d:%s", k.AccountID, k.PeriodID, branch)
}

// Balance is the running total of one account in one period and branch.
type Balance struct {
	ID            int64
	CompanyID     int64
	Key           Key
	OpeningDebit  decimal.Decimal
	OpeningCredit decimal.Decimal
	PeriodDebit   decimal.Decimal
	PeriodCredit  decimal.Decimal
	ClosingDebit  decimal.Decimal
	ClosingCredit decimal.Decimal
	YTDDebit      decimal.Decimal
	YTDCredit     decimal.Decimal
	Version       int64
	UpdatedAt     time.Time
}

// Zero returns an empty row for key.
func Zero(companyID int64, key Key) Balance {
	return Balance{
		CompanyID:     companyID,
		Key:           key,
		OpeningDebit:  decimal.Zero,
		OpeningCredit: decimal.Zero,
		PeriodDebit:   decimal.Zero,
		PeriodCredit:  decimal.Zero,
		ClosingDebit:  decimal.Zero,
		ClosingCredit: decimal.Zero,
		YTDDebit:      decimal.Zero,
		YTDCredit:     decimal.Zero,
	}
}

// Recompute restores closing = opening + period on both sides.
func (b *Balance) Recompute() {
	b.ClosingDebit = b.OpeningDebit.Add(b.PeriodDebit)
	b.ClosingCredit = b.OpeningCredit.Add(b.PeriodCredit)
}

// Consistent reports whether closing = opening + period holds.
func (b Balance) Consistent() bool {
	return b.ClosingDebit.Equal(b.OpeningDebit.Add(b.PeriodDebit)) &&
		b.ClosingCredit.Equal(b.OpeningCredit.Add(b.PeriodCredit))
}

// SameAmounts compares every amount column of two rows.
func (b Balance) SameAmounts(o Balance) bool {
	return b.OpeningDebit.Equal(o.OpeningDebit) && b.OpeningCredit.Equal(o.OpeningCredit) &&
		b.PeriodDebit.Equal(o.PeriodDebit) && b.PeriodCredit.Equal(o.PeriodCredit) &&
		b.ClosingDebit.Equal(o.ClosingDebit) && b.ClosingCredit.Equal(o.ClosingCredit) &&
		b.YTDDebit.Equal(o.YTDDebit) && b.YTDCredit.Equal(o.YTDCredit)
}

// Movement is an aggregated debit/credit pair for an account and branch.
type Movement struct {
	AccountID int64
	BranchID  *int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Snapshot is the read model returned to callers.
type Snapshot struct {
	AccountID     int64                  `json:"account_id"`
	PeriodID      int64                  `json:"period_id"`
	BranchID      *int64                 `json:"branch_id,omitempty"`
	NormalBalance accounts.NormalBalance `json:"normal_balance"`
	OpeningDebit  decimal.Decimal        `json:"opening_debit"`
	OpeningCredit decimal.Decimal        `json:"opening_credit"`
	PeriodDebit   decimal.Decimal        `json:"period_debit"`
	PeriodCredit  decimal.Decimal        `json:"period_credit"`
	ClosingDebit  decimal.Decimal        `json:"closing_debit"`
	ClosingCredit decimal.Decimal        `json:"closing_credit"`
	YTDDebit      decimal.Decimal        `json:"ytd_debit"`
	YTDCredit     decimal.Decimal        `json:"ytd_credit"`
	Net           decimal.Decimal        `json:"net_balance"`
	Version       int64                  `json:"version"`
}

// NewSnapshot projects a row through the account's sign rule.
func NewSnapshot(b Balance, typ accounts.AccountType) Snapshot {
	return Snapshot{
		AccountID:     b.Key.AccountID,
		PeriodID:      b.Key.PeriodID,
		BranchID:      b.Key.BranchID,
		NormalBalance: typ.NormalBalance(),
		OpeningDebit:  b.OpeningDebit,
		OpeningCredit: b.OpeningCredit,
		PeriodDebit:   b.PeriodDebit,
		PeriodCredit:  b.PeriodCredit,
		ClosingDebit:  b.ClosingDebit,
		ClosingCredit: b.ClosingCredit,
		YTDDebit:      b.YTDDebit,
		YTDCredit:     b.YTDCredit,
		Net:           typ.Net(b.ClosingDebit, b.ClosingCredit),
		Version:       b.Version,
	}
}

// PointBalance is an account balance at an arbitrary date.
type PointBalance struct {
	AccountID int64           `json:"account_id"`
	BranchID  *int64          `json:"branch_id,omitempty"`
	AsOf      time.Time       `json:"as_of"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Net       decimal.Decimal `json:"net_balance"`
}

func sameBranch(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
