package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.Identity, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, identity string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT identity,role,created_at FROM users WHERE identity=?`, identity))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, identity string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT identity,role,created_at FROM users WHERE identity=?`, identity))
}

// EnsureUser registers the identity if unknown and returns the stored row.
// Registering an identity that already exists is a no-op.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, identity string, role domain.Role, now string) (domain.User, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(identity,role,created_at) VALUES (?,?,?)`,
		identity, role, now); err != nil {
		return domain.User{}, err
	}
	return r.GetUserTx(ctx, tx, identity)
}

// InsertUser is the non-idempotent create path; a duplicate identity is a conflict.
func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if _, err := r.GetUserTx(ctx, tx, u.Identity); err == nil {
		return ErrConflict
	} else if err != ErrNotFound {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO users(identity,role,created_at) VALUES (?,?,?)`,
		u.Identity, u.Role, u.CreatedAt)
	return err
}

func (r Repo) SetUserRole(ctx context.Context, tx *sql.Tx, identity string, role domain.Role) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET role=? WHERE identity=?`, role, identity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, identity string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE identity=?`, identity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT identity,role,created_at FROM users ORDER BY created_at ASC, identity ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Identity, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
