package repo

import (
	"context"
	"database/sql"
	"errors"

	"shiftline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const profileColumns = `id,name,role,superadmin,lang,summary_enabled,manager_id,handle,hidden,created_at`

func scanProfile(scan func(dest ...any) error) (domain.Profile, error) {
	var p domain.Profile
	var superadmin, summaryEnabled, hidden int
	var managerID sql.NullString
	err := scan(&p.ID, &p.Name, &p.Role, &superadmin, &p.Lang, &summaryEnabled, &managerID, &p.Handle, &hidden, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Superadmin = superadmin != 0
	p.SummaryEnabled = summaryEnabled != 0
	p.Hidden = hidden != 0
	if managerID.Valid {
		p.ManagerID = &managerID.String
	}
	return p, nil
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

func (r Repo) InsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Role, boolInt(p.Superadmin), p.Lang, boolInt(p.SummaryEnabled),
		nullableStringPtr(p.ManagerID), p.Handle, boolInt(p.Hidden), p.CreatedAt)
	return err
}

func (r Repo) UpdateProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET name=?, role=?, superadmin=?, lang=?, summary_enabled=?, manager_id=?, handle=?, hidden=? WHERE id=?`,
		p.Name, p.Role, boolInt(p.Superadmin), p.Lang, boolInt(p.SummaryEnabled),
		nullableStringPtr(p.ManagerID), p.Handle, boolInt(p.Hidden), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProfiles returns all profiles ordered by creation. Hidden profiles are
// included only when includeHidden is set.
func (r Repo) ListProfiles(ctx context.Context, includeHidden bool) ([]domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	if !includeHidden {
		query += ` WHERE hidden=0`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
