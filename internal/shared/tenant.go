package shared

import "errors"

// TenantScope identifies the company, optional branch and acting user of a
// ledger call. It is passed explicitly; nothing in the engine reads it from
// ambient state.
type TenantScope struct {
	CompanyID int64
	BranchID  *int64
	ActorID   int64
}

// ErrTenantRequired indicates a call without a company.
var ErrTenantRequired = errors.New("tenant scope requires company id")

// Validate ensures the scope identifies a company.
func (s TenantScope) Validate() error {
	if s.CompanyID <= 0 {
		return ErrTenantRequired
	}
	if s.BranchID != nil && *s.BranchID <= 0 {
		return errors.New("tenant scope branch id must be positive")
	}
	return nil
}

// Branch returns the branch id or zero for company-level scope.
func (s TenantScope) Branch() int64 {
	if s.BranchID == nil {
		return 0
	}
	return *s.BranchID
}
