package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"labflow/internal/domain"
)

const requestColumns = `id,code,site_id,test_type,priority,status,description,due_date,requested_by,accepted_by,accepted_at,finished_at,created_at,updated_at`

type RequestFilters struct {
	SiteID          string
	Status          string
	Priority        string
	TestType        string
	RequestedBy     string
	From            string
	To              string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func scanRequest(row rowScanner) (domain.TestRequest, error) {
	var t domain.TestRequest
	var desc, due, acceptedBy, acceptedAt, finishedAt sql.NullString
	err := row.Scan(&t.ID, &t.Code, &t.SiteID, &t.TestType, &t.Priority, &t.Status, &desc, &due, &t.RequestedBy,
		&acceptedBy, &acceptedAt, &finishedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.DueDate = stringPtr(due)
	t.AcceptedBy = stringPtr(acceptedBy)
	t.AcceptedAt = stringPtr(acceptedAt)
	t.FinishedAt = stringPtr(finishedAt)
	return t, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, t domain.TestRequest) error {
	_, err := r.exec(ctx, tx, `INSERT INTO test_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Code, t.SiteID, t.TestType, t.Priority, t.Status, nullable(t.Description), nullableStringPtr(t.DueDate), t.RequestedBy,
		nullableStringPtr(t.AcceptedBy), nullableStringPtr(t.AcceptedAt), nullableStringPtr(t.FinishedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, t domain.TestRequest) error {
	return r.execOne(ctx, tx, `UPDATE test_requests SET site_id=?,test_type=?,priority=?,status=?,description=?,due_date=?,accepted_by=?,accepted_at=?,finished_at=?,updated_at=? WHERE id=?`,
		t.SiteID, t.TestType, t.Priority, t.Status, nullable(t.Description), nullableStringPtr(t.DueDate),
		nullableStringPtr(t.AcceptedBy), nullableStringPtr(t.AcceptedAt), nullableStringPtr(t.FinishedAt), t.UpdatedAt, t.ID)
}

func (r Repo) GetRequest(ctx context.Context, tx *sql.Tx, id string) (domain.TestRequest, error) {
	return scanRequest(r.queryRow(ctx, tx, `SELECT `+requestColumns+` FROM test_requests WHERE id=?`, id))
}

func (r Repo) DeleteRequest(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM test_requests WHERE id=?`, id)
}

func (w *where) requestFilters(f RequestFilters) {
	w.eq("site_id", f.SiteID)
	w.eq("status", f.Status)
	w.eq("priority", f.Priority)
	w.eq("test_type", f.TestType)
	w.eq("requested_by", f.RequestedBy)
	if f.From != "" {
		w.add("created_at >= ?", f.From)
	}
	if f.To != "" {
		w.add("created_at <= ?", f.To)
	}
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.TestRequest, error) {
	var w where
	w.requestFilters(f)
	w.cursor(f.CursorCreatedAt, f.CursorID)
	limit, args := limitClause(f.Limit, w.args)
	return r.listRequests(ctx, `SELECT `+requestColumns+` FROM test_requests`+w.String()+` ORDER BY created_at DESC, id DESC`+limit, args...)
}

// ListOverdueRequests returns open requests whose due date is before today.
func (r Repo) ListOverdueRequests(ctx context.Context, today string) ([]domain.TestRequest, error) {
	return r.listRequests(ctx, `SELECT `+requestColumns+` FROM test_requests
WHERE due_date IS NOT NULL AND due_date < ? AND status NOT IN ('finished','cancelled')
ORDER BY due_date ASC, id ASC`, today)
}

func (r Repo) listRequests(ctx context.Context, query string, args ...any) ([]domain.TestRequest, error) {
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestRequest
	for rows.Next() {
		t, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountRequestsByStatus groups requests by status, optionally for one site.
func (r Repo) CountRequestsByStatus(ctx context.Context, siteID string) (map[string]int, error) {
	var w where
	w.eq("site_id", siteID)
	rows, err := r.query(ctx, nil, `SELECT status, COUNT(*) FROM test_requests`+w.String()+` GROUP BY status`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

// NextRequestSequence returns the next free sequence number for codes starting with prefix.
func (r Repo) NextRequestSequence(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	var last string
	err := r.queryRow(ctx, tx, `SELECT code FROM test_requests WHERE code LIKE ? ORDER BY LENGTH(code) DESC, code DESC LIMIT 1`, prefix+"%").Scan(&last)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
	if err != nil {
		return 0, fmt.Errorf("parse request code %s: %w", last, err)
	}
	return n + 1, nil
}
