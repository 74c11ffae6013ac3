package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Description, &t.Status, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(description,status,created_by,created_at) VALUES (?,?,?,?)`,
		t.Description, t.Status, t.CreatedBy, t.CreatedAt)
	if err != nil {
		return t, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t, err
	}
	t.ID = id
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT id,description,status,created_by,created_at FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT id,description,status,created_by,created_at FROM tasks WHERE id=?`, id))
}

// TaskFilters narrows the candidate set at the store level. Date-range
// predicates are applied by the paging engine on the result.
type TaskFilters struct {
	Status domain.Status
	Author string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Author != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.Author)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,description,status,created_by,created_at FROM tasks ` + where + ` ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Description, &t.Status, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SetTaskStatus(ctx context.Context, tx *sql.Tx, id int64, status domain.Status) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes the task and all its comments.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status domain.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// ReassignTasks moves ownership of all tasks created by from to the to identity.
func (r Repo) ReassignTasks(ctx context.Context, tx *sql.Tx, from, to string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET created_by=? WHERE created_by=?`, to, from)
	return err
}

func (r Repo) CountTasksByAuthor(ctx context.Context, tx *sql.Tx, author string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE created_by=?`, author).Scan(&n)
	return n, err
}
