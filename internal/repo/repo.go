package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"labflow/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New returns a Repo for conn.
func New(conn *sql.DB, dialect db.Dialect) Repo {
	if dialect == "" {
		dialect = db.SQLite
	}
	return Repo{DB: conn, Dialect: dialect}
}

// on picks tx when given, the pool otherwise.
func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	res, err := r.on(tx).ExecContext(ctx, r.Dialect.Rebind(query), args...)
	return res, mapError(err)
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return r.on(tx).QueryContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.on(tx).QueryRowContext(ctx, r.Dialect.Rebind(query), args...)
}

// execOne runs an update or delete that must touch exactly one row.
func (r Repo) execOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := r.exec(ctx, tx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError folds driver uniqueness violations into ErrDuplicate.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return errors.Join(ErrDuplicate, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+"=?", value)
	}
}

// cursor keeps rows strictly after (createdAt,id) in descending order.
func (w *where) cursor(createdAt, id string) {
	if createdAt != "" && id != "" {
		w.add("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func limitClause(limit int, args []any) (string, []any) {
	if limit > 0 {
		return " LIMIT ?", append(args, limit)
	}
	return "", args
}
