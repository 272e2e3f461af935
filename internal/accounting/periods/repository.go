package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Store persists accounting periods.
type Store interface {
	Get(ctx context.Context, companyID, id int64) (Period, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (Period, error)
	GetForShare(ctx context.Context, companyID, id int64) (Period, error)
	FindCovering(ctx context.Context, companyID int64, date time.Time) (Period, error)
	LastBefore(ctx context.Context, companyID int64, date time.Time) (*Period, error)
	FirstAfter(ctx context.Context, companyID int64, date time.Time) (*Period, error)
	List(ctx context.Context, companyID int64) ([]Period, error)
	Insert(ctx context.Context, p Period) (Period, error)
	SetStatus(ctx context.Context, id int64, status PeriodStatus, actor *int64, at *time.Time) error
}

// Repository implements Store on Postgres.
type Repository struct {
	db db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

const periodColumns = `id, company_id, name, start_date, end_date, status, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var status string
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.StartDate, &p.EndDate, &status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Period{}, err
	}
	p.Status = parsed
	return p, nil
}

func (r *Repository) one(ctx context.Context, sql string, args ...any) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *Repository) optional(ctx context.Context, sql string, args ...any) (*Period, error) {
	p, err := r.one(ctx, sql, args...)
	if errors.Is(err, shared.ErrPeriodNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Get(ctx context.Context, companyID, id int64) (Period, error) {
	return r.one(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE company_id=$1 AND id=$2`, companyID, id)
}

// GetForUpdate row-locks the period until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, companyID, id int64) (Period, error) {
	return r.one(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id)
}

// GetForShare blocks close and rebuild, which take FOR UPDATE, while
// postings into the period are in flight.
func (r *Repository) GetForShare(ctx context.Context, companyID, id int64) (Period, error) {
	return r.one(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE company_id=$1 AND id=$2 FOR SHARE`, companyID, id)
}

func (r *Repository) FindCovering(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	return r.one(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE company_id=$1 AND $2::date BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, companyID, Day(date))
}

func (r *Repository) LastBefore(ctx context.Context, companyID int64, date time.Time) (*Period, error) {
	return r.optional(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE company_id=$1 AND end_date < $2::date ORDER BY end_date DESC LIMIT 1`, companyID, Day(date))
}

func (r *Repository) FirstAfter(ctx context.Context, companyID int64, date time.Time) (*Period, error) {
	return r.optional(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE company_id=$1 AND start_date > $2::date ORDER BY start_date ASC LIMIT 1`, companyID, Day(date))
}

func (r *Repository) List(ctx context.Context, companyID int64) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE company_id=$1 ORDER BY start_date`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, p Period) (Period, error) {
	inserted, err := scanPeriod(r.db.QueryRow(ctx, `INSERT INTO accounting_periods (company_id, name, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5) RETURNING `+periodColumns, p.CompanyID, p.Name, Day(p.StartDate), Day(p.EndDate), string(p.Status)))
	if err != nil {
		var pgErr *pgconn.PgError
		// 23P01 is the exclusion constraint on overlapping windows.
		if db.IsUniqueViolation(err, "") || (errors.As(err, &pgErr) && pgErr.Code == "23P01") {
			return Period{}, shared.ErrConcurrencyConflict
		}
		return Period{}, err
	}
	return inserted, nil
}

func (r *Repository) SetStatus(ctx context.Context, id int64, status PeriodStatus, actor *int64, at *time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounting_periods SET status=$2, closed_by=$3, closed_at=$4, updated_at=NOW() WHERE id=$1`, id, string(status), actor, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}
