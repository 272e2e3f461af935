package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Store is the read/write surface the directory needs from persistence.
type Store interface {
	Get(ctx context.Context, companyID, id int64) (Account, error)
	GetMany(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error)
	List(ctx context.Context, companyID int64) ([]Account, error)
	Insert(ctx context.Context, companyID int64, in CreateInput) (Account, error)
}

// Repository reads accounts through any pgx handle.
type Repository struct {
	db db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const accountColumns = `id, company_id, code, name, type, parent_id, is_group, allow_direct_posting, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var typ string
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &typ, &a.ParentID, &a.IsGroup, &a.AllowDirectPosting, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	a.Type, err = ParseAccountType(typ)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (r *Repository) Get(ctx context.Context, companyID, id int64) (Account, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return acc, nil
}

// GetMany returns the subset of ids that exist for the company.
func (r *Repository) GetMany(ctx context.Context, companyID int64, ids []int64) (map[int64]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 AND id = ANY($2)`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acc.ID] = acc
	}
	return out, rows.Err()
}

func (r *Repository) List(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, companyID int64, in CreateInput) (Account, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, `INSERT INTO accounts (company_id, code, name, type, parent_id, is_group, allow_direct_posting, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE) RETURNING `+accountColumns,
		companyID, in.Code, in.Name, string(in.Type), in.ParentID, in.IsGroup, in.AllowDirectPosting && !in.IsGroup))
	if err != nil {
		if db.IsUniqueViolation(err, "uq_accounts_company_code") {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	return acc, nil
}
