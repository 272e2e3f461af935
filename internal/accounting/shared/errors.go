package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates malformed input such as unknown accounts or bad amounts.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrClosedPeriod indicates the owning period does not accept postings.
	ErrClosedPeriod = errors.New("accounting: period is closed")
	// ErrNonPostableAccount indicates a line targets a group or restricted account.
	ErrNonPostableAccount = errors.New("accounting: account does not allow direct posting")
	// ErrNotDraft indicates the entry left draft status already.
	ErrNotDraft = errors.New("accounting: journal entry is not a draft")
	// ErrNotVoidable indicates the entry is not posted or was already reversed.
	ErrNotVoidable = errors.New("accounting: journal entry cannot be voided")
	// ErrConcurrencyConflict indicates a lost optimistic race. Safe to retry.
	ErrConcurrencyConflict = errors.New("accounting: concurrent modification detected")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrPeriodNotFound indicates missing period.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrPeriodOverlap indicates a period window collides with an existing one.
	ErrPeriodOverlap = errors.New("accounting: period overlaps existing period")
	// ErrInvalidStatus indicates a status value or transition outside the lifecycle.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
)

// ValidationError reports which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("accounting: validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("accounting: validation failed: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// UnbalancedError carries both sides of an unbalanced entry.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance (debit %s, credit %s)", e.Debit.String(), e.Credit.String())
}

// Is matches ErrUnbalanced.
func (e *UnbalancedError) Is(target error) bool { return target == ErrUnbalanced }

// ClosedPeriodError names the period that rejected a posting.
type ClosedPeriodError struct {
	PeriodID int64
	Name     string
}

func (e *ClosedPeriodError) Error() string {
	return fmt.Sprintf("accounting: period %s is closed", e.Name)
}

// Is matches ErrClosedPeriod.
func (e *ClosedPeriodError) Is(target error) bool { return target == ErrClosedPeriod }

// NonPostableAccountError names the account that rejected a posting.
type NonPostableAccountError struct {
	AccountID int64
	Code      string
}

func (e *NonPostableAccountError) Error() string {
	return fmt.Sprintf("accounting: account %s does not allow direct posting", e.Code)
}

// Is matches ErrNonPostableAccount.
func (e *NonPostableAccountError) Is(target error) bool { return target == ErrNonPostableAccount }

// IsRetryable reports whether the failed unit may be resubmitted unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
