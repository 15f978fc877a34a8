package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"labflow/internal/domain"
)

const resultColumns = `id,request_id,performed_by,kind,measurements_json,status,verdict,observations,started_at,finished_at,report_path,report_version,report_generated_at,created_at,updated_at`

type ResultFilters struct {
	RequestID   string
	Kind        string
	Status      string
	PerformedBy string
	Limit       int
}

func scanResult(row rowScanner) (domain.TestResult, error) {
	var t domain.TestResult
	var measurements string
	var obs, started, finished, reportPath, reportAt sql.NullString
	err := row.Scan(&t.ID, &t.RequestID, &t.PerformedBy, &t.Kind, &measurements, &t.Status, &t.Verdict, &obs,
		&started, &finished, &reportPath, &t.ReportVersion, &reportAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(measurements), &t.Measurements); err != nil {
		return t, fmt.Errorf("decode measurements for %s: %w", t.ID, err)
	}
	t.Observations = obs.String
	t.StartedAt = stringPtr(started)
	t.FinishedAt = stringPtr(finished)
	t.ReportPath = stringPtr(reportPath)
	t.ReportGeneratedAt = stringPtr(reportAt)
	return t, nil
}

func (r Repo) InsertResult(ctx context.Context, tx *sql.Tx, t domain.TestResult) error {
	m, err := json.Marshal(t.Measurements)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO test_results(`+resultColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RequestID, t.PerformedBy, string(t.Kind), string(m), t.Status, t.Verdict, nullable(t.Observations),
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.FinishedAt), nullableStringPtr(t.ReportPath), t.ReportVersion,
		nullableStringPtr(t.ReportGeneratedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateResult(ctx context.Context, tx *sql.Tx, t domain.TestResult) error {
	m, err := json.Marshal(t.Measurements)
	if err != nil {
		return err
	}
	return r.execOne(ctx, tx, `UPDATE test_results SET measurements_json=?,status=?,verdict=?,observations=?,started_at=?,finished_at=?,report_path=?,report_version=?,report_generated_at=?,updated_at=? WHERE id=?`,
		string(m), t.Status, t.Verdict, nullable(t.Observations), nullableStringPtr(t.StartedAt), nullableStringPtr(t.FinishedAt),
		nullableStringPtr(t.ReportPath), t.ReportVersion, nullableStringPtr(t.ReportGeneratedAt), t.UpdatedAt, t.ID)
}

func (r Repo) GetResult(ctx context.Context, tx *sql.Tx, id string) (domain.TestResult, error) {
	return scanResult(r.queryRow(ctx, tx, `SELECT `+resultColumns+` FROM test_results WHERE id=?`, id))
}

func (r Repo) GetResultByRequest(ctx context.Context, tx *sql.Tx, requestID string) (domain.TestResult, error) {
	return scanResult(r.queryRow(ctx, tx, `SELECT `+resultColumns+` FROM test_results WHERE request_id=?`, requestID))
}

// ResultExists reports whether the request already has a result.
func (r Repo) ResultExists(ctx context.Context, tx *sql.Tx, requestID string) (bool, error) {
	var n int
	if err := r.queryRow(ctx, tx, `SELECT COUNT(*) FROM test_results WHERE request_id=?`, requestID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListResults(ctx context.Context, f ResultFilters) ([]domain.TestResult, error) {
	var w where
	w.eq("request_id", f.RequestID)
	w.eq("kind", f.Kind)
	w.eq("status", f.Status)
	w.eq("performed_by", f.PerformedBy)
	limit, args := limitClause(f.Limit, w.args)
	rows, err := r.query(ctx, nil, `SELECT `+resultColumns+` FROM test_results`+w.String()+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestResult
	for rows.Next() {
		t, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
