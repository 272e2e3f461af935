package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Service manages the chart of accounts for a company.
type Service struct {
	repo Store
}

func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, companyID int64) ([]Account, error) {
	return s.repo.List(ctx, companyID)
}

func (s *Service) Get(ctx context.Context, companyID, id int64) (Account, error) {
	return s.repo.Get(ctx, companyID, id)
}

// Create validates the node against the existing tree before inserting it.
func (s *Service) Create(ctx context.Context, companyID int64, in CreateInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" {
		return Account{}, shared.Invalid("code", "required")
	}
	if in.Name == "" {
		return Account{}, shared.Invalid("name", "required")
	}
	typ, err := ParseAccountType(string(in.Type))
	if err != nil {
		return Account{}, shared.Invalid("type", "%s", err.Error())
	}
	in.Type = typ
	existing, err := s.repo.List(ctx, companyID)
	if err != nil {
		return Account{}, err
	}
	candidate := Account{ID: -1, CompanyID: companyID, Code: in.Code, Type: in.Type, ParentID: in.ParentID, IsGroup: in.IsGroup}
	if in.ParentID != nil {
		parent, err := s.repo.Get(ctx, companyID, *in.ParentID)
		if err != nil {
			return Account{}, err
		}
		if parent.Type != in.Type {
			return Account{}, shared.Invalid("type", "must match parent type %s", parent.Type)
		}
	}
	if err := ValidateTree(append(existing, candidate)); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return Account{}, err
		}
		return Account{}, shared.Invalid("parent_id", "%s", err.Error())
	}
	return s.repo.Insert(ctx, companyID, in)
}
