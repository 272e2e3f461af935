package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func ptr(v int64) *int64 { return &v }

func TestNetAppliesNormalBalanceSide(t *testing.T) {
	debit := decimal.NewFromInt(1000)
	credit := decimal.NewFromInt(250)
	for _, typ := range []AccountType{AccountTypeAsset, AccountTypeExpense, AccountTypeCOGS} {
		assert.True(t, typ.Net(debit, credit).Equal(decimal.NewFromInt(750)), typ)
		assert.Equal(t, NormalDebit, typ.NormalBalance())
	}
	for _, typ := range []AccountType{AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue} {
		assert.True(t, typ.Net(debit, credit).Equal(decimal.NewFromInt(-750)), typ)
		assert.Equal(t, NormalCredit, typ.NormalBalance())
	}
}

func TestParseAccountTypeRejectsUnknown(t *testing.T) {
	typ, err := ParseAccountType(" cogs ")
	require.NoError(t, err)
	assert.Equal(t, AccountTypeCOGS, typ)

	_, err = ParseAccountType("INCOME")
	require.Error(t, err)
}

func TestGroupAccountNeverPostable(t *testing.T) {
	acc := Account{IsGroup: true, AllowDirectPosting: true, IsActive: true}
	assert.False(t, acc.Postable())
	acc.IsGroup = false
	assert.True(t, acc.Postable())
	acc.IsActive = false
	assert.False(t, acc.Postable())
}

func TestValidateTree(t *testing.T) {
	base := []Account{
		{ID: 1, Code: "1", IsGroup: true},
		{ID: 2, Code: "11", IsGroup: true, ParentID: ptr(1)},
		{ID: 3, Code: "1101", ParentID: ptr(2)},
	}
	require.NoError(t, ValidateTree(base))

	t.Run("cycle", func(t *testing.T) {
		accs := []Account{
			{ID: 1, Code: "1", IsGroup: true, ParentID: ptr(2)},
			{ID: 2, Code: "11", IsGroup: true, ParentID: ptr(1)},
		}
		err := ValidateTree(accs)
		require.Error(t, err)
	})
	t.Run("leaf parent", func(t *testing.T) {
		accs := append([]Account{}, base...)
		accs = append(accs, Account{ID: 4, Code: "110101", ParentID: ptr(3)})
		assert.ErrorIs(t, ValidateTree(accs), ErrParentNotGroup)
	})
	t.Run("prefix", func(t *testing.T) {
		accs := append([]Account{}, base...)
		accs = append(accs, Account{ID: 4, Code: "2101", ParentID: ptr(2)})
		assert.ErrorIs(t, ValidateTree(accs), ErrCodePrefix)
	})
	t.Run("duplicate", func(t *testing.T) {
		accs := append([]Account{}, base...)
		accs = append(accs, Account{ID: 4, Code: "1101", ParentID: ptr(2)})
		assert.ErrorIs(t, ValidateTree(accs), ErrDuplicateCode)
	})
}

type memoryStore struct {
	accounts []Account
}

func (m *memoryStore) Get(ctx context.Context, companyID, id int64) (Account, error) {
	for _, acc := range m.accounts {
		if acc.ID == id && acc.CompanyID == companyID {
			return acc, nil
		}
	}
	return Account{}, shared.ErrAccountNotFound
}

func (m *memoryStore) GetMany(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account)
	for _, id := range ids {
		if acc, err := m.Get(ctx, companyID, id); err == nil {
			out[id] = acc
		}
	}
	return out, nil
}

func (m *memoryStore) List(ctx context.Context, companyID int64) ([]Account, error) {
	var out []Account
	for _, acc := range m.accounts {
		if acc.CompanyID == companyID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (m *memoryStore) Insert(ctx context.Context, companyID int64, in CreateInput) (Account, error) {
	acc := Account{
		ID:                 int64(len(m.accounts) + 1),
		CompanyID:          companyID,
		Code:               in.Code,
		Name:               in.Name,
		Type:               in.Type,
		ParentID:           in.ParentID,
		IsGroup:            in.IsGroup,
		AllowDirectPosting: in.AllowDirectPosting && !in.IsGroup,
		IsActive:           true,
	}
	m.accounts = append(m.accounts, acc)
	return acc, nil
}

func TestServiceCreate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&memoryStore{})

	group, err := svc.Create(ctx, 1, CreateInput{Code: "1", Name: "Assets", Type: "asset", IsGroup: true, AllowDirectPosting: true})
	require.NoError(t, err)
	assert.False(t, group.Postable())

	cash, err := svc.Create(ctx, 1, CreateInput{Code: "1100", Name: "Cash", Type: AccountTypeAsset, ParentID: &group.ID, AllowDirectPosting: true})
	require.NoError(t, err)
	assert.True(t, cash.Postable())

	_, err = svc.Create(ctx, 1, CreateInput{Code: "4000", Name: "Sales", Type: AccountTypeRevenue, ParentID: &group.ID})
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "type", verr.Field)

	_, err = svc.Create(ctx, 1, CreateInput{Code: "1200", Name: "Bank", Type: AccountTypeAsset, ParentID: &cash.ID})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, 1, CreateInput{Code: "", Name: "Blank", Type: AccountTypeAsset})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
