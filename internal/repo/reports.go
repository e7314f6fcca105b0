package repo

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, e domain.ReportEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO reports(reported_at,name,role,task,count,reviewer_id,submitter_id) VALUES (?,?,?,?,?,?,?)`,
		e.ReportedAt, e.Name, e.Role, e.Task, e.Count, e.ReviewerID, e.SubmitterID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListReports returns the whole ledger in append order.
func (r Repo) ListReports(ctx context.Context) ([]domain.ReportEntry, error) {
	return r.queryReports(ctx, `SELECT id,reported_at,name,role,task,count,reviewer_id,submitter_id FROM reports ORDER BY id ASC`)
}

// ListReportsBetween returns ledger entries with from <= reported_at < to.
// Timestamps are RFC3339 UTC, so lexicographic comparison is chronological.
func (r Repo) ListReportsBetween(ctx context.Context, from, to string) ([]domain.ReportEntry, error) {
	return r.queryReports(ctx, `SELECT id,reported_at,name,role,task,count,reviewer_id,submitter_id FROM reports WHERE reported_at >= ? AND reported_at < ? ORDER BY id ASC`, from, to)
}

func (r Repo) queryReports(ctx context.Context, query string, args ...any) ([]domain.ReportEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReportEntry
	for rows.Next() {
		var e domain.ReportEntry
		if err := rows.Scan(&e.ID, &e.ReportedAt, &e.Name, &e.Role, &e.Task, &e.Count, &e.ReviewerID, &e.SubmitterID); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
