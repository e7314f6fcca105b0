package repo

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

func (r Repo) InsertPendingTx(ctx context.Context, tx *sql.Tx, p domain.PendingProposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pending_tasks(id,name,submitter_id,submitter_name,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.SubmitterID, p.SubmitterName, p.CreatedAt)
	return err
}

// ListPending returns the moderation queue in submission order.
func (r Repo) ListPending(ctx context.Context) ([]domain.PendingProposal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,submitter_id,submitter_name,created_at FROM pending_tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingProposal
	for rows.Next() {
		var p domain.PendingProposal
		if err := rows.Scan(&p.ID, &p.Name, &p.SubmitterID, &p.SubmitterName, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetPendingTx(ctx context.Context, tx *sql.Tx, id string) (domain.PendingProposal, error) {
	var p domain.PendingProposal
	err := tx.QueryRowContext(ctx, `SELECT id,name,submitter_id,submitter_name,created_at FROM pending_tasks WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.SubmitterID, &p.SubmitterName, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// DeletePendingTx removes a proposal exactly once; a second delete of the
// same id reports ErrNotFound.
func (r Repo) DeletePendingTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM pending_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
