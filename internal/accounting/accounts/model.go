package accounts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeCOGS      AccountType = "COGS"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalBalance is the side on which an account naturally increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// ParseAccountType rejects values outside the chart of accounts categories.
func ParseAccountType(raw string) (AccountType, error) {
	t := AccountType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity,
		AccountTypeRevenue, AccountTypeCOGS, AccountTypeExpense:
		return t, nil
	default:
		return "", fmt.Errorf("accounts: unknown account type %q", raw)
	}
}

// NormalBalance returns the natural side for the type.
func (t AccountType) NormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense, AccountTypeCOGS:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// Net applies the ledger sign rule: debit-normal accounts report
// debit minus credit, credit-normal accounts report credit minus debit.
// Every balance and report in the module goes through here.
func (t AccountType) Net(debit, credit decimal.Decimal) decimal.Decimal {
	if t.NormalBalance() == NormalDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// IsProfitAndLoss reports whether balances reset at fiscal year end.
func (t AccountType) IsProfitAndLoss() bool {
	switch t {
	case AccountTypeRevenue, AccountTypeCOGS, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID                 int64       `json:"id"`
	CompanyID          int64       `json:"company_id"`
	Code               string      `json:"code"`
	Name               string      `json:"name"`
	Type               AccountType `json:"type"`
	ParentID           *int64      `json:"parent_id,omitempty"`
	IsGroup            bool        `json:"is_group"`
	AllowDirectPosting bool        `json:"allow_direct_posting"`
	IsActive           bool        `json:"is_active"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// NormalBalance is derived from the account type.
func (a Account) NormalBalance() NormalBalance {
	return a.Type.NormalBalance()
}

// Postable reports whether journal lines may target the account.
// Group accounts never accept postings, regardless of the posting flag.
func (a Account) Postable() bool {
	return !a.IsGroup && a.AllowDirectPosting && a.IsActive
}

// CreateInput captures a new chart of accounts node.
type CreateInput struct {
	Code               string
	Name               string
	Type               AccountType
	ParentID           *int64
	IsGroup            bool
	AllowDirectPosting bool
}
