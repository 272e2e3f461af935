package journals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Store persists journal headers, lines and reference counters.
type Store interface {
	NextSequence(ctx context.Context, companyID int64, prefix string, year int) (int64, error)
	Insert(ctx context.Context, j Journal) (Journal, error)
	Get(ctx context.Context, companyID, id int64) (Journal, error)
	GetForUpdate(ctx context.Context, companyID, id int64) (Journal, error)
	MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error
	MarkVoided(ctx context.Context, id, reversalID, actorID int64, reason string, at time.Time) error
}

// Repository implements Store on Postgres.
type Repository struct {
	db db.DBTX
}

// NewRepository binds the repository to a pool or transaction.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// NextSequence allocates the next reference number for (company, prefix, year).
// The counter row is seeded from the highest suffix already in use so sparse
// or imported references are respected; afterwards a single upsert increments
// it, and its row lock serialises concurrent allocations until commit.
func (r *Repository) NextSequence(ctx context.Context, companyID int64, prefix string, year int) (int64, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `INSERT INTO journal_sequences (company_id, prefix, year, last_value)
VALUES ($1, $2, $3, COALESCE((
	SELECT MAX(CAST(split_part(reference, '-', 3) AS BIGINT))
	FROM journals
	WHERE company_id = $1 AND reference LIKE $2 || '-' || CAST($3::int AS text) || '-%'
), 0) + 1)
ON CONFLICT (company_id, prefix, year)
DO UPDATE SET last_value = journal_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`, companyID, prefix, year).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *Repository) Insert(ctx context.Context, j Journal) (Journal, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO journals (company_id, branch_id, period_id, reference, type, status, date, currency, exchange_rate,
	total_debit, total_credit, description, source_module, source_id, reversal_of, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15,$16)
RETURNING id, created_at, updated_at`,
		j.CompanyID, j.BranchID, j.PeriodID, j.Reference, string(j.Type), string(j.Status), j.Date, j.Currency, j.ExchangeRate,
		j.TotalDebit, j.TotalCredit, j.Description, j.SourceModule, j.SourceID, j.ReversalOf, j.CreatedBy)
	if err := row.Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		switch {
		case db.IsUniqueViolation(err, "uq_journals_source"):
			return Journal{}, shared.ErrSourceAlreadyLinked
		case db.IsUniqueViolation(err, "uq_journals_reference"):
			return Journal{}, shared.ErrConcurrencyConflict
		}
		return Journal{}, err
	}
	for idx := range j.Lines {
		line := &j.Lines[idx]
		line.JournalID = j.ID
		err := r.db.QueryRow(ctx, `INSERT INTO journal_lines (journal_id, line_no, account_id, debit, credit, description, cost_center, source_ref)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,'')) RETURNING id`,
			j.ID, line.LineNo, line.AccountID, line.Debit, line.Credit, line.Description, line.CostCenter, line.SourceRef).Scan(&line.ID)
		if err != nil {
			return Journal{}, err
		}
	}
	return j, nil
}

const journalColumns = `id, company_id, branch_id, period_id, reference, type, status, date, currency, exchange_rate, total_debit, total_credit,
	description, COALESCE(source_module, ''), source_id, reversal_of, reversed_by, posted_at, posted_by, voided_at, voided_by,
	COALESCE(void_reason, ''), created_by, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, companyID, id int64) (Journal, error) {
	return r.load(ctx, `SELECT `+journalColumns+` FROM journals WHERE company_id=$1 AND id=$2`, companyID, id)
}

// GetForUpdate row-locks the header until the surrounding transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, companyID, id int64) (Journal, error) {
	return r.load(ctx, `SELECT `+journalColumns+` FROM journals WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id)
}

func (r *Repository) load(ctx context.Context, sql string, companyID, id int64) (Journal, error) {
	var j Journal
	var typ, status string
	err := r.db.QueryRow(ctx, sql, companyID, id).Scan(&j.ID, &j.CompanyID, &j.BranchID, &j.PeriodID, &j.Reference, &typ, &status,
		&j.Date, &j.Currency, &j.ExchangeRate, &j.TotalDebit, &j.TotalCredit, &j.Description, &j.SourceModule, &j.SourceID,
		&j.ReversalOf, &j.ReversedBy, &j.PostedAt, &j.PostedBy, &j.VoidedAt, &j.VoidedBy, &j.VoidReason, &j.CreatedBy,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, shared.ErrJournalNotFound
		}
		return Journal{}, err
	}
	if j.Type, err = ParseType(typ); err != nil {
		return Journal{}, err
	}
	if j.Status, err = ParseStatus(status); err != nil {
		return Journal{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, journal_id, line_no, account_id, debit, credit, description, COALESCE(cost_center, ''), COALESCE(source_ref, '')
FROM journal_lines WHERE journal_id=$1 ORDER BY line_no`, j.ID)
	if err != nil {
		return Journal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.JournalID, &line.LineNo, &line.AccountID, &line.Debit, &line.Credit, &line.Description, &line.CostCenter, &line.SourceRef); err != nil {
			return Journal{}, err
		}
		j.Lines = append(j.Lines, line)
	}
	return j, rows.Err()
}

// MarkPosted flips DRAFT to POSTED; a concurrent post makes it fail with ErrNotDraft.
func (r *Repository) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE journals SET status='POSTED', posted_at=$2, posted_by=$3, updated_at=NOW() WHERE id=$1 AND status='DRAFT'`, id, at, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotDraft
	}
	return nil
}

// MarkVoided flips POSTED to VOIDED and links the reversal.
func (r *Repository) MarkVoided(ctx context.Context, id, reversalID, actorID int64, reason string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE journals SET status='VOIDED', reversed_by=$2, voided_by=$3, void_reason=$4, voided_at=$5, updated_at=NOW()
WHERE id=$1 AND status='POSTED' AND reversed_by IS NULL`, id, reversalID, actorID, reason, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotVoidable
	}
	return nil
}
