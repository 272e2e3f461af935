package audit

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// PgRepository membaca audit_logs dari PostgreSQL.
type PgRepository struct {
	db db.DBTX
}

// NewRepository membuat repository audit.
func NewRepository(conn db.DBTX) *PgRepository {
	return &PgRepository{db: conn}
}

const windowQuery = `SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE company_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at < $3)
  AND ($4::bigint IS NULL OR actor_id = $4)
  AND ($5::text IS NULL OR entity = $5)
  AND ($6::text IS NULL OR entity_id = $6)
  AND ($7::text IS NULL OR action = $7)
ORDER BY occurred_at DESC, id DESC
OFFSET $8
LIMIT $9`

// Window mengembalikan baris terbaru lebih dulu.
func (r *PgRepository) Window(ctx context.Context, q WindowQuery) ([]TimelineRow, error) {
	var limit pgtype.Int8
	if q.Limit > 0 {
		limit = pgtype.Int8{Int64: int64(q.Limit), Valid: true}
	}
	var actor pgtype.Int8
	if q.ActorID > 0 {
		actor = pgtype.Int8{Int64: q.ActorID, Valid: true}
	}
	rows, err := r.db.Query(ctx, windowQuery,
		q.CompanyID,
		toPgTime(q.From),
		toPgTime(endOfDay(q.To)),
		actor,
		optionalText(q.Entity),
		optionalText(q.EntityID),
		optionalText(q.Action),
		q.Offset,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Meta); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// endOfDay membuat batas To inklusif untuk tanggal tanpa jam.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
