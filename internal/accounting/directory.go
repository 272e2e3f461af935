package accounting

import (
	"context"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// CreateAccount adds a node to the company's chart of accounts.
func (s *Service) CreateAccount(ctx context.Context, scope shared.TenantScope, in accounts.CreateInput) (accounts.Account, error) {
	if err := checkScope(scope); err != nil {
		return accounts.Account{}, err
	}
	var account accounts.Account
	err := s.unit(ctx, "create_account", func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = accounts.NewService(tx.Accounts()).Create(ctx, scope.CompanyID, in)
		return err
	})
	if err != nil {
		return accounts.Account{}, err
	}
	s.record(ctx, scope, "account.create", "account", account.ID, map[string]any{
		"code": account.Code,
		"type": string(account.Type),
	})
	return account, nil
}

// ListAccounts returns the company's chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context, scope shared.TenantScope) ([]accounts.Account, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	var out []accounts.Account
	err := s.read(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = accounts.NewService(tx.Accounts()).List(ctx, scope.CompanyID)
		return err
	})
	return out, err
}
