package repo

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

func (r Repo) NextPostIDTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0)+1 FROM posts`).Scan(&id)
	return id, err
}

func (r Repo) InsertPostTx(ctx context.Context, tx *sql.Tx, p domain.BoardPost) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO posts(id,text,author,published_on,media_ref) VALUES (?,?,?,?,?)`,
		p.ID, p.Text, p.Author, p.PublishedOn, nullableStringPtr(p.MediaRef))
	return err
}

func scanPost(scan func(dest ...any) error) (domain.BoardPost, error) {
	var p domain.BoardPost
	var media sql.NullString
	err := scan(&p.ID, &p.Text, &p.Author, &p.PublishedOn, &media)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if media.Valid {
		p.MediaRef = &media.String
	}
	return p, nil
}

func (r Repo) GetPost(ctx context.Context, id int64) (domain.BoardPost, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,text,author,published_on,media_ref FROM posts WHERE id=?`, id)
	p, err := scanPost(row.Scan)
	if err != nil {
		return p, err
	}
	p.Reactions, err = r.reactionsForPost(ctx, r.DB.QueryContext, id)
	return p, err
}

func (r Repo) GetPostTx(ctx context.Context, tx *sql.Tx, id int64) (domain.BoardPost, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,text,author,published_on,media_ref FROM posts WHERE id=?`, id)
	p, err := scanPost(row.Scan)
	if err != nil {
		return p, err
	}
	p.Reactions, err = r.reactionsForPost(ctx, tx.QueryContext, id)
	return p, err
}

// ListPosts returns posts newest-first with their reaction sets.
func (r Repo) ListPosts(ctx context.Context) ([]domain.BoardPost, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,text,author,published_on,media_ref FROM posts ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BoardPost
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Reactions, err = r.reactionsForPost(ctx, r.DB.QueryContext, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) reactionsForPost(ctx context.Context, query queryFunc, postID int64) (map[string][]string, error) {
	rows, err := query(ctx, `SELECT emoji,user_id FROM reactions WHERE post_id=? ORDER BY emoji, user_id`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]string{}
	for rows.Next() {
		var emoji, userID string
		if err := rows.Scan(&emoji, &userID); err != nil {
			return nil, err
		}
		res[emoji] = append(res[emoji], userID)
	}
	return res, rows.Err()
}

func (r Repo) HasReactionTx(ctx context.Context, tx *sql.Tx, postID int64, emoji, userID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM reactions WHERE post_id=? AND emoji=? AND user_id=?`, postID, emoji, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) InsertReactionTx(ctx context.Context, tx *sql.Tx, postID int64, emoji, userID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO reactions(post_id,emoji,user_id) VALUES (?,?,?)`, postID, emoji, userID)
	return err
}

func (r Repo) DeleteReactionTx(ctx context.Context, tx *sql.Tx, postID int64, emoji, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE post_id=? AND emoji=? AND user_id=?`, postID, emoji, userID)
	return err
}
