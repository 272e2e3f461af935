package reports

// Header identifies the company, period and branch a report covers.
type Header struct {
	CompanyID  int64  `json:"company_id"`
	PeriodID   int64  `json:"period_id"`
	PeriodName string `json:"period_name"`
	BranchID   *int64 `json:"branch_id,omitempty"`
}

// TrialBalanceView is the response envelope for the trial balance.
type TrialBalanceView struct {
	Header
	Balanced bool         `json:"balanced"`
	Report   TrialBalance `json:"report"`
}

// ProfitAndLossView is the response envelope for profit & loss.
type ProfitAndLossView struct {
	Header
	Report ProfitAndLoss `json:"report"`
}

// BalanceSheetView is the response envelope for the balance sheet.
type BalanceSheetView struct {
	Header
	Balanced bool         `json:"balanced"`
	Report   BalanceSheet `json:"report"`
}
