package balances

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Repository implements Store on Postgres. Rows are unique per
// (account_id, period_id, COALESCE(branch_id, 0)).
type Repository struct {
	db db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const balanceColumns = `id, company_id, account_id, period_id, branch_id, opening_debit, opening_credit, period_debit, period_credit,
	closing_debit, closing_credit, ytd_debit, ytd_credit, version, updated_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.ID, &b.CompanyID, &b.Key.AccountID, &b.Key.PeriodID, &b.Key.BranchID, &b.OpeningDebit, &b.OpeningCredit,
		&b.PeriodDebit, &b.PeriodCredit, &b.ClosingDebit, &b.ClosingCredit, &b.YTDDebit, &b.YTDCredit, &b.Version, &b.UpdatedAt)
	return b, err
}

func (r *Repository) Find(ctx context.Context, key Key) (Balance, bool, error) {
	b, err := scanBalance(r.db.QueryRow(ctx, `SELECT `+balanceColumns+` FROM account_balances
WHERE account_id=$1 AND period_id=$2 AND COALESCE(branch_id, 0) = COALESCE($3::bigint, 0)`, key.AccountID, key.PeriodID, key.BranchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, false, nil
		}
		return Balance{}, false, err
	}
	return b, true, nil
}

func (r *Repository) CreateZero(ctx context.Context, companyID int64, key Key) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_balances (company_id, account_id, period_id, branch_id)
VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`, companyID, key.AccountID, key.PeriodID, key.BranchID)
	if db.IsSerializationFailure(err) {
		return shared.ErrConcurrencyConflict
	}
	return err
}

func (r *Repository) Update(ctx context.Context, b Balance, expected int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE account_balances SET
	opening_debit=$4, opening_credit=$5, period_debit=$6, period_credit=$7, closing_debit=$8, closing_credit=$9,
	ytd_debit=$10, ytd_credit=$11, version = version + 1, updated_at = NOW()
WHERE account_id=$1 AND period_id=$2 AND COALESCE(branch_id, 0) = COALESCE($3::bigint, 0) AND version=$12`,
		b.Key.AccountID, b.Key.PeriodID, b.Key.BranchID, b.OpeningDebit, b.OpeningCredit, b.PeriodDebit, b.PeriodCredit,
		b.ClosingDebit, b.ClosingCredit, b.YTDDebit, b.YTDCredit, expected)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return shared.ErrConcurrencyConflict
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

func (r *Repository) Insert(ctx context.Context, b Balance) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_balances (company_id, account_id, period_id, branch_id, opening_debit, opening_credit,
	period_debit, period_credit, closing_debit, closing_credit, ytd_debit, ytd_credit, version, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,COALESCE($14::timestamptz, NOW()))`,
		b.CompanyID, b.Key.AccountID, b.Key.PeriodID, b.Key.BranchID, b.OpeningDebit, b.OpeningCredit, b.PeriodDebit, b.PeriodCredit,
		b.ClosingDebit, b.ClosingCredit, b.YTDDebit, b.YTDCredit, b.Version, nullTime(b.UpdatedAt))
	if db.IsUniqueViolation(err, "") {
		return shared.ErrConcurrencyConflict
	}
	return err
}

func (r *Repository) ListByPeriod(ctx context.Context, periodID int64) ([]Balance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+balanceColumns+` FROM account_balances WHERE period_id=$1 ORDER BY account_id, branch_id NULLS FIRST`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteByPeriod(ctx context.Context, periodID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM account_balances WHERE period_id=$1`, periodID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *Repository) PeriodMovements(ctx context.Context, companyID, periodID int64) ([]Movement, error) {
	return r.movements(ctx, `SELECT l.account_id, j.branch_id, SUM(l.debit), SUM(l.credit)
FROM journal_lines l JOIN journals j ON j.id = l.journal_id
WHERE j.company_id=$1 AND j.period_id=$2 AND j.status IN ('POSTED','VOIDED')
GROUP BY l.account_id, j.branch_id`, companyID, periodID)
}

func (r *Repository) MovementsBetween(ctx context.Context, companyID int64, from, to time.Time) ([]Movement, error) {
	return r.movements(ctx, `SELECT l.account_id, j.branch_id, SUM(l.debit), SUM(l.credit)
FROM journal_lines l JOIN journals j ON j.id = l.journal_id
WHERE j.company_id=$1 AND j.date BETWEEN $2::date AND $3::date AND j.status IN ('POSTED','VOIDED')
GROUP BY l.account_id, j.branch_id`, companyID, from, to)
}

func (r *Repository) movements(ctx context.Context, sql string, args ...any) ([]Movement, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.AccountID, &mv.BranchID, &mv.Debit, &mv.Credit); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (r *Repository) SumPosted(ctx context.Context, companyID, accountID int64, branchID *int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l JOIN journals j ON j.id = l.journal_id
WHERE j.company_id=$1 AND l.account_id=$2 AND j.date <= $3::date AND j.status IN ('POSTED','VOIDED')
	AND ($4::bigint IS NULL OR j.branch_id = $4)`, companyID, accountID, asOf, branchID).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return debit, credit, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
