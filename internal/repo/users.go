package repo

import (
	"context"
	"database/sql"
	"strings"

	"labflow/internal/domain"
)

const userColumns = `id,name,email,password_hash,role,active,manager_id,created_at,updated_at`

type UserFilters struct {
	Role   string
	Active *bool
	Limit  int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var active int
	var manager sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &active, &manager, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Active = active != 0
	u.ManagerID = stringPtr(manager)
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.exec(ctx, tx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Role, boolInt(u.Active), nullableStringPtr(u.ManagerID), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	return r.execOne(ctx, tx, `UPDATE users SET name=?,email=?,password_hash=?,role=?,active=?,manager_id=?,updated_at=? WHERE id=?`,
		u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Role, boolInt(u.Active), nullableStringPtr(u.ManagerID), u.UpdatedAt, u.ID)
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, tx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

// GetUserByEmail matches case-insensitively; emails are stored lower-cased.
func (r Repo) GetUserByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, tx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	var w where
	w.eq("role", f.Role)
	if f.Active != nil {
		w.add("active=?", boolInt(*f.Active))
	}
	limit, args := limitClause(f.Limit, w.args)
	rows, err := r.query(ctx, nil, `SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// CountActiveUsersByRole groups active users by role.
func (r Repo) CountActiveUsersByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.query(ctx, nil, `SELECT role, COUNT(*) FROM users WHERE active=1 GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		res[role] = n
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.queryRow(ctx, nil, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
