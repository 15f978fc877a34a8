package repo

import (
	"context"
	"database/sql"

	"labflow/internal/domain"
)

const equipmentColumns = `id,asset_code,name,category,status,brand,model,serial_number,location,next_maintenance,site_id,deleted_at,created_at,updated_at`

type EquipmentFilters struct {
	Status   string
	Category string
	SiteID   string
	// Available keeps operational equipment sitting in the depot.
	Available bool
	Limit     int
}

func scanEquipment(row rowScanner) (domain.Equipment, error) {
	var e domain.Equipment
	var brand, model, serial, location, next, site, deleted sql.NullString
	err := row.Scan(&e.ID, &e.AssetCode, &e.Name, &e.Category, &e.Status, &brand, &model, &serial, &location, &next, &site, &deleted,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Brand = brand.String
	e.Model = model.String
	e.SerialNumber = serial.String
	e.Location = location.String
	e.NextMaintenance = stringPtr(next)
	e.SiteID = stringPtr(site)
	e.DeletedAt = stringPtr(deleted)
	return e, nil
}

func (r Repo) InsertEquipment(ctx context.Context, tx *sql.Tx, e domain.Equipment) error {
	_, err := r.exec(ctx, tx, `INSERT INTO equipment(`+equipmentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.AssetCode, e.Name, e.Category, e.Status, nullable(e.Brand), nullable(e.Model), nullable(e.SerialNumber), nullable(e.Location),
		nullableStringPtr(e.NextMaintenance), nullableStringPtr(e.SiteID), nullableStringPtr(e.DeletedAt), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEquipment(ctx context.Context, tx *sql.Tx, e domain.Equipment) error {
	return r.execOne(ctx, tx, `UPDATE equipment SET asset_code=?,name=?,category=?,status=?,brand=?,model=?,serial_number=?,location=?,next_maintenance=?,site_id=?,deleted_at=?,updated_at=? WHERE id=?`,
		e.AssetCode, e.Name, e.Category, e.Status, nullable(e.Brand), nullable(e.Model), nullable(e.SerialNumber), nullable(e.Location),
		nullableStringPtr(e.NextMaintenance), nullableStringPtr(e.SiteID), nullableStringPtr(e.DeletedAt), e.UpdatedAt, e.ID)
}

// GetEquipment hides soft-deleted rows.
func (r Repo) GetEquipment(ctx context.Context, tx *sql.Tx, id string) (domain.Equipment, error) {
	return scanEquipment(r.queryRow(ctx, tx, `SELECT `+equipmentColumns+` FROM equipment WHERE id=? AND deleted_at IS NULL`, id))
}

func (r Repo) ListEquipment(ctx context.Context, f EquipmentFilters) ([]domain.Equipment, error) {
	w := where{}
	w.add("deleted_at IS NULL")
	w.eq("status", f.Status)
	w.eq("category", f.Category)
	w.eq("site_id", f.SiteID)
	if f.Available {
		w.add("site_id IS NULL AND status=?", domain.EquipmentOperational)
	}
	limit, args := limitClause(f.Limit, w.args)
	rows, err := r.query(ctx, nil, `SELECT `+equipmentColumns+` FROM equipment`+w.String()+` ORDER BY asset_code ASC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// InsertHistory appends a movement entry. History has no update or delete.
func (r Repo) InsertHistory(ctx context.Context, tx *sql.Tx, h domain.EquipmentHistory) error {
	_, err := r.exec(ctx, tx, `INSERT INTO equipment_history(id,equipment_id,kind,from_site_id,to_site_id,from_status,to_status,description,actor_id,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		h.ID, h.EquipmentID, h.Kind, nullableStringPtr(h.FromSiteID), nullableStringPtr(h.ToSiteID), nullableStringPtr(h.FromStatus),
		nullableStringPtr(h.ToStatus), nullable(h.Description), h.ActorID, h.CreatedAt)
	return err
}

// ListHistory returns entries oldest first.
func (r Repo) ListHistory(ctx context.Context, equipmentID string) ([]domain.EquipmentHistory, error) {
	rows, err := r.query(ctx, nil, `SELECT id,equipment_id,kind,from_site_id,to_site_id,from_status,to_status,description,actor_id,created_at
FROM equipment_history WHERE equipment_id=? ORDER BY created_at ASC, id ASC`, equipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EquipmentHistory
	for rows.Next() {
		var h domain.EquipmentHistory
		var fromSite, toSite, fromStatus, toStatus, desc sql.NullString
		if err := rows.Scan(&h.ID, &h.EquipmentID, &h.Kind, &fromSite, &toSite, &fromStatus, &toStatus, &desc, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.FromSiteID = stringPtr(fromSite)
		h.ToSiteID = stringPtr(toSite)
		h.FromStatus = stringPtr(fromStatus)
		h.ToStatus = stringPtr(toStatus)
		h.Description = desc.String
		res = append(res, h)
	}
	return res, rows.Err()
}

// EquipmentExists also counts soft-deleted rows, whose history stays readable.
func (r Repo) EquipmentExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := r.queryRow(ctx, nil, `SELECT COUNT(*) FROM equipment WHERE id=?`, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
