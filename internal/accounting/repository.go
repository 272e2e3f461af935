package accounting

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the ledger stores bound to one transaction.
type TxRepository interface {
	Accounts() accounts.Store
	Periods() periods.Store
	Journals() journals.Store
	Balances() balances.Store
}

// Repository persists ledger entities in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction. Every store handed to
// fn shares that transaction, so a unit of work commits or rolls back whole.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

type txRepository struct {
	accounts *accounts.Repository
	periods  *periods.Repository
	journals *journals.Repository
	balances *balances.Repository
}

func newTxRepository(conn db.DBTX) *txRepository {
	return &txRepository{
		accounts: accounts.NewRepository(conn),
		periods:  periods.NewRepository(conn),
		journals: journals.NewRepository(conn),
		balances: balances.NewRepository(conn),
	}
}

func (r *txRepository) Accounts() accounts.Store { return r.accounts }
func (r *txRepository) Periods() periods.Store   { return r.periods }
func (r *txRepository) Journals() journals.Store { return r.journals }
func (r *txRepository) Balances() balances.Store { return r.balances }
