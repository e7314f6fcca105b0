package repo

import (
	"context"
	"database/sql"
)

// ListTasks returns the task catalog in its configured order.
func (r Repo) ListTasks(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name FROM tasks ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (r Repo) HasTaskTx(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE name=?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertTaskTx appends a task at the end of the catalog, ignoring duplicates.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tasks(name, position)
SELECT ?, COALESCE(MAX(position),0)+1 FROM tasks`, name)
	return err
}

func (r Repo) RemoveTaskTx(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE name=?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks`).Scan(&n)
	return n, err
}
