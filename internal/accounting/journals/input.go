package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// DefaultCurrency is applied when the caller leaves currency blank.
const DefaultCurrency = "IDR"

const reversalPrefix = "Reversal: "

// Decimal places kept by the amount and exchange rate columns.
const (
	AmountScale = 2
	RateScale   = 6
)

// MinorUnits is the number of decimal places an amount in unit may carry.
func MinorUnits(unit currency.Unit) int32 {
	scale, _ := currency.Standard.Rounding(unit)
	return min(int32(scale), AmountScale)
}

func exceedsScale(v decimal.Decimal, places int32) bool {
	return !v.Equal(v.Truncate(places))
}

// LineInput describes a journal line for a create request.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	CostCenter  string
	SourceRef   string
}

// CreateInput groups fields required to create a draft entry.
type CreateInput struct {
	Date         time.Time
	Type         Type
	Currency     string
	ExchangeRate decimal.Decimal
	Description  string
	SourceModule string
	SourceID     *uuid.UUID
	Lines        []LineInput
}

// Normalize fills defaults and canonicalises codes.
func (in *CreateInput) Normalize() {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	if in.ExchangeRate.IsZero() {
		in.ExchangeRate = decimal.NewFromInt(1)
	}
	in.SourceModule = strings.TrimSpace(in.SourceModule)
}

// Validate checks the shape of the entry. Balance is checked at posting.
func (in CreateInput) Validate() error {
	if in.Date.IsZero() {
		return shared.Invalid("date", "required")
	}
	if in.Type.Prefix() == "" {
		return shared.Invalid("type", "unknown type %q", in.Type)
	}
	unit, err := currency.ParseISO(in.Currency)
	if err != nil {
		return shared.Invalid("currency", "%q is not an ISO 4217 code", in.Currency)
	}
	if !in.ExchangeRate.IsPositive() {
		return shared.Invalid("exchange_rate", "must be positive")
	}
	if exceedsScale(in.ExchangeRate, RateScale) {
		return shared.Invalid("exchange_rate", "more than %d decimal places", RateScale)
	}
	places := MinorUnits(unit)
	if (in.SourceModule == "") != (in.SourceID == nil) {
		return shared.Invalid("source", "module and id must be supplied together")
	}
	if len(in.Lines) < 2 {
		return shared.Invalid("lines", "at least two lines required")
	}
	for idx, line := range in.Lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if line.AccountID <= 0 {
			return shared.Invalid(field+".account_id", "required")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Invalid(field, "negative amount")
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return shared.Invalid(field, "exactly one of debit or credit must be non-zero")
		}
		if exceedsScale(line.Debit, places) || exceedsScale(line.Credit, places) {
			return shared.Invalid(field, "%s amounts allow at most %d decimal places", in.Currency, places)
		}
	}
	return nil
}

// AccountIDs lists distinct accounts referenced by the input lines.
func (in CreateInput) AccountIDs() []int64 {
	return accountIDs(in.lines())
}

func (in CreateInput) lines() []Line {
	out := make([]Line, 0, len(in.Lines))
	for idx, line := range in.Lines {
		out = append(out, Line{
			LineNo:      idx + 1,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: strings.TrimSpace(line.Description),
			CostCenter:  strings.TrimSpace(line.CostCenter),
			SourceRef:   strings.TrimSpace(line.SourceRef),
		})
	}
	return out
}

// Draft builds the unsaved header and numbered lines for the input.
func (in CreateInput) Draft(companyID int64, branchID *int64, periodID int64, reference string, actorID int64) Journal {
	lines := in.lines()
	debit, credit := Totals(lines)
	return Journal{
		CompanyID:    companyID,
		BranchID:     branchID,
		PeriodID:     periodID,
		Reference:    reference,
		Type:         in.Type,
		Status:       StatusDraft,
		Date:         in.Date,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		TotalDebit:   debit,
		TotalCredit:  credit,
		Description:  strings.TrimSpace(in.Description),
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		CreatedBy:    actorID,
		Lines:        lines,
	}
}

// ReversalInput mirrors the original entry: every line keeps its account
// with debit and credit swapped.
func ReversalInput(original Journal, date time.Time) CreateInput {
	lines := make([]LineInput, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: reversalPrefix + line.Description,
			CostCenter:  line.CostCenter,
			SourceRef:   line.SourceRef,
		})
	}
	return CreateInput{
		Date:         date,
		Type:         TypeReversal,
		Currency:     original.Currency,
		ExchangeRate: original.ExchangeRate,
		Description:  reversalPrefix + original.Reference,
		Lines:        lines,
	}
}
