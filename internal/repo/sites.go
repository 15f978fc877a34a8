package repo

import (
	"context"
	"database/sql"

	"labflow/internal/domain"
)

const siteColumns = `id,code,name,location,client,contract_number,description,status,director_id,start_date,estimated_end_date,actual_end_date,created_at,updated_at`

type SiteFilters struct {
	Status          string
	DirectorID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func scanSite(row rowScanner) (domain.Site, error) {
	var s domain.Site
	var code, client, contract, desc, start, estimated, actual sql.NullString
	err := row.Scan(&s.ID, &code, &s.Name, &s.Location, &client, &contract, &desc, &s.Status, &s.DirectorID,
		&start, &estimated, &actual, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Code = stringPtr(code)
	s.Client = client.String
	s.ContractNumber = contract.String
	s.Description = desc.String
	s.StartDate = stringPtr(start)
	s.EstimatedEndDate = stringPtr(estimated)
	s.ActualEndDate = stringPtr(actual)
	return s, nil
}

func (r Repo) InsertSite(ctx context.Context, tx *sql.Tx, s domain.Site) error {
	_, err := r.exec(ctx, tx, `INSERT INTO sites(`+siteColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, nullableStringPtr(s.Code), s.Name, s.Location, nullable(s.Client), nullable(s.ContractNumber), nullable(s.Description),
		s.Status, s.DirectorID, nullableStringPtr(s.StartDate), nullableStringPtr(s.EstimatedEndDate), nullableStringPtr(s.ActualEndDate),
		s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSite(ctx context.Context, tx *sql.Tx, s domain.Site) error {
	return r.execOne(ctx, tx, `UPDATE sites SET code=?,name=?,location=?,client=?,contract_number=?,description=?,status=?,director_id=?,start_date=?,estimated_end_date=?,actual_end_date=?,updated_at=? WHERE id=?`,
		nullableStringPtr(s.Code), s.Name, s.Location, nullable(s.Client), nullable(s.ContractNumber), nullable(s.Description),
		s.Status, s.DirectorID, nullableStringPtr(s.StartDate), nullableStringPtr(s.EstimatedEndDate), nullableStringPtr(s.ActualEndDate),
		s.UpdatedAt, s.ID)
}

func (r Repo) GetSite(ctx context.Context, tx *sql.Tx, id string) (domain.Site, error) {
	return scanSite(r.queryRow(ctx, tx, `SELECT `+siteColumns+` FROM sites WHERE id=?`, id))
}

func (r Repo) DeleteSite(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execOne(ctx, tx, `DELETE FROM sites WHERE id=?`, id)
}

func (r Repo) ListSites(ctx context.Context, f SiteFilters) ([]domain.Site, error) {
	var w where
	w.eq("status", f.Status)
	w.eq("director_id", f.DirectorID)
	w.cursor(f.CursorCreatedAt, f.CursorID)
	limit, args := limitClause(f.Limit, w.args)
	rows, err := r.query(ctx, nil, `SELECT `+siteColumns+` FROM sites`+w.String()+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SiteDependents counts rows that reference a site: test requests, assigned equipment
// and equipment history entries.
func (r Repo) SiteDependents(ctx context.Context, tx *sql.Tx, siteID string) (requests, equipment, history int, err error) {
	if err = r.queryRow(ctx, tx, `SELECT COUNT(*) FROM test_requests WHERE site_id=?`, siteID).Scan(&requests); err != nil {
		return 0, 0, 0, err
	}
	if err = r.queryRow(ctx, tx, `SELECT COUNT(*) FROM equipment WHERE site_id=?`, siteID).Scan(&equipment); err != nil {
		return 0, 0, 0, err
	}
	if err = r.queryRow(ctx, tx, `SELECT COUNT(*) FROM equipment_history WHERE from_site_id=? OR to_site_id=?`, siteID, siteID).Scan(&history); err != nil {
		return 0, 0, 0, err
	}
	return requests, equipment, history, nil
}
