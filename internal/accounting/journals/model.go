package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type classifies entries and selects their reference prefix.
type Type string

const (
	TypeGeneral    Type = "GENERAL"
	TypeSales      Type = "SALES"
	TypePurchase   Type = "PURCHASE"
	TypePayment    Type = "PAYMENT"
	TypeReceipt    Type = "RECEIPT"
	TypeAdjustment Type = "ADJUSTMENT"
	TypeOpening    Type = "OPENING"
	TypeReversal   Type = "REVERSAL"
)

// ParseType rejects values outside the known entry types.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if t.Prefix() == "" {
		return "", fmt.Errorf("journals: unknown type %q", raw)
	}
	return t, nil
}

// Prefix returns the reference prefix, or "" for unknown types.
func (t Type) Prefix() string {
	switch t {
	case TypeGeneral:
		return "JV"
	case TypeSales:
		return "SJ"
	case TypePurchase:
		return "PJ"
	case TypePayment:
		return "PV"
	case TypeReceipt:
		return "RV"
	case TypeAdjustment:
		return "AJ"
	case TypeOpening:
		return "OB"
	case TypeReversal:
		return "RJ"
	default:
		return ""
	}
}

// Status enumerates journal lifecycle values.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
	StatusVoided Status = "VOIDED"
)

// ParseStatus rejects values outside the lifecycle.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusPosted, StatusVoided:
		return s, nil
	default:
		return "", fmt.Errorf("journals: unknown status %q", raw)
	}
}

// CanTransition encodes draft -> posted -> voided. Voided is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusPosted
	case StatusPosted:
		return next == StatusVoided
	case StatusVoided:
		return false
	default:
		return false
	}
}

// Journal is an entry header with its lines.
type Journal struct {
	ID           int64           `json:"id"`
	CompanyID    int64           `json:"company_id"`
	BranchID     *int64          `json:"branch_id,omitempty"`
	PeriodID     int64           `json:"period_id"`
	Reference    string          `json:"reference"`
	Type         Type            `json:"type"`
	Status       Status          `json:"status"`
	Date         time.Time       `json:"date"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	TotalDebit   decimal.Decimal `json:"total_debit"`
	TotalCredit  decimal.Decimal `json:"total_credit"`
	Description  string          `json:"description"`
	SourceModule string          `json:"source_module,omitempty"`
	SourceID     *uuid.UUID      `json:"source_id,omitempty"`
	ReversalOf   *int64          `json:"reversal_of,omitempty"`
	ReversedBy   *int64          `json:"reversed_by,omitempty"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
	PostedBy     *int64          `json:"posted_by,omitempty"`
	VoidedAt     *time.Time      `json:"voided_at,omitempty"`
	VoidedBy     *int64          `json:"voided_by,omitempty"`
	VoidReason   string          `json:"void_reason,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Lines        []Line          `json:"lines"`
}

// Line stores debit or credit amount for an account.
type Line struct {
	ID          int64           `json:"id"`
	JournalID   int64           `json:"journal_id"`
	LineNo      int             `json:"line_no"`
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
	CostCenter  string          `json:"cost_center,omitempty"`
	SourceRef   string          `json:"source_ref,omitempty"`
}

// Totals sums both sides of the lines.
func Totals(lines []Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// Balanced compares the line sums exactly.
func (j Journal) Balanced() bool {
	debit, credit := Totals(j.Lines)
	return debit.Equal(credit)
}

// AccountIDs lists distinct accounts referenced by the lines.
func (j Journal) AccountIDs() []int64 {
	return accountIDs(j.Lines)
}

func accountIDs(lines []Line) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	return ids
}

// FormatReference renders {prefix}-{year}-{seq} with a five digit sequence.
func FormatReference(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}
