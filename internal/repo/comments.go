package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

// InsertComment appends a comment to an existing task. The task must
// exist inside the same transaction or the write fails with ErrNotFound.
func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) (domain.Comment, error) {
	if _, err := r.GetTaskTx(ctx, tx, c.TaskID); err != nil {
		return domain.Comment{}, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO comments(task_id,author,text,created_at) VALUES (?,?,?,?)`,
		c.TaskID, c.Author, c.Text, c.CreatedAt)
	if err != nil {
		return domain.Comment{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Comment{}, err
	}
	c.ID = id
	return c, nil
}

// ListComments returns a task's comments in ascending creation order.
func (r Repo) ListComments(ctx context.Context, taskID int64) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author,text,created_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountComments(ctx context.Context, taskID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM comments WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}
