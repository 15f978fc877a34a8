package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"labflow/internal/domain"
	"labflow/internal/engine/auth"
	"labflow/internal/events"
	"labflow/internal/repo"
	"labflow/internal/report"
)

type CreateEquipmentInput struct {
	AssetCode       string
	Name            string
	Category        string
	Brand           string
	Model           string
	SerialNumber    string
	Location        string
	NextMaintenance *string
}

type UpdateEquipmentInput struct {
	AssetCode       *string
	Name            *string
	Category        *string
	Brand           *string
	Model           *string
	SerialNumber    *string
	Location        *string
	NextMaintenance *string
}

func (e Engine) CreateEquipment(ctx context.Context, actor auth.Identity, in CreateEquipmentInput) (domain.Equipment, error) {
	var out domain.Equipment
	if err := auth.Require(actor, auth.Administrator, auth.Supervisor); err != nil {
		return out, err
	}
	in.AssetCode = strings.TrimSpace(in.AssetCode)
	in.Name = strings.TrimSpace(in.Name)
	if err := required("asset_code", in.AssetCode); err != nil {
		return out, err
	}
	if err := required("name", in.Name); err != nil {
		return out, err
	}
	if err := oneOf("category", in.Category, domain.EquipmentCategories); err != nil {
		return out, err
	}
	if err := validDate("next_maintenance", in.NextMaintenance); err != nil {
		return out, err
	}
	now := e.timestamp()
	out = domain.Equipment{
		ID:              uuid.NewString(),
		AssetCode:       in.AssetCode,
		Name:            in.Name,
		Category:        in.Category,
		Status:          domain.EquipmentOperational,
		Brand:           in.Brand,
		Model:           in.Model,
		SerialNumber:    in.SerialNumber,
		Location:        in.Location,
		NextMaintenance: in.NextMaintenance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertEquipment(ctx, tx, out); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("asset code %s: %w", out.AssetCode, repo.ErrDuplicate)
			}
			return err
		}
		return e.Events.Append(ctx, tx, events.EquipmentCreated, "equipment", out.ID, actor.ID, events.EventPayload{"asset_code": out.AssetCode})
	})
	if err != nil {
		return domain.Equipment{}, err
	}
	return out, nil
}

func (e Engine) GetEquipment(ctx context.Context, actor auth.Identity, id string) (domain.Equipment, error) {
	eq, err := e.Repo.GetEquipment(ctx, nil, id)
	if err != nil {
		return eq, missing("equipment", id, err)
	}
	return eq, nil
}

func (e Engine) ListEquipment(ctx context.Context, actor auth.Identity, f repo.EquipmentFilters) ([]domain.Equipment, error) {
	if f.Status != "" {
		if err := oneOf("status", f.Status, domain.EquipmentStatuses); err != nil {
			return nil, err
		}
	}
	if f.Category != "" {
		if err := oneOf("category", f.Category, domain.EquipmentCategories); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListEquipment(ctx, f)
}

// EquipmentHistory lists movements oldest first, including for deleted equipment.
func (e Engine) EquipmentHistory(ctx context.Context, actor auth.Identity, id string) ([]domain.EquipmentHistory, error) {
	ok, err := e.Repo.EquipmentExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("equipment", id)
	}
	return e.Repo.ListHistory(ctx, id)
}

func (e Engine) UpdateEquipment(ctx context.Context, actor auth.Identity, id string, in UpdateEquipmentInput) (domain.Equipment, error) {
	var out domain.Equipment
	if err := auth.Require(actor, auth.Administrator, auth.Supervisor); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		eq, err := e.Repo.GetEquipment(ctx, tx, id)
		if err != nil {
			return missing("equipment", id, err)
		}
		changes := events.EventPayload{}
		set := func(field string, dst *string, v *string) {
			if v != nil && *v != *dst {
				*dst = *v
				changes[field] = *v
			}
		}
		if in.AssetCode != nil {
			code := strings.TrimSpace(*in.AssetCode)
			if err := required("asset_code", code); err != nil {
				return err
			}
			set("asset_code", &eq.AssetCode, &code)
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if err := required("name", name); err != nil {
				return err
			}
			set("name", &eq.Name, &name)
		}
		if in.Category != nil {
			if err := oneOf("category", *in.Category, domain.EquipmentCategories); err != nil {
				return err
			}
			set("category", &eq.Category, in.Category)
		}
		set("brand", &eq.Brand, in.Brand)
		set("model", &eq.Model, in.Model)
		set("serial_number", &eq.SerialNumber, in.SerialNumber)
		set("location", &eq.Location, in.Location)
		if in.NextMaintenance != nil {
			if err := validDate("next_maintenance", in.NextMaintenance); err != nil {
				return err
			}
			eq.NextMaintenance = optionalString(*in.NextMaintenance)
			changes["next_maintenance"] = *in.NextMaintenance
		}
		eq.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateEquipment(ctx, tx, eq); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("asset code %s: %w", eq.AssetCode, repo.ErrDuplicate)
			}
			return err
		}
		out = eq
		return e.Events.Append(ctx, tx, events.EquipmentUpdated, "equipment", eq.ID, actor.ID, changes)
	})
	return out, err
}

// historyKind classifies a status change for the movement history.
func historyKind(from, to string) string {
	switch {
	case to == domain.EquipmentMaintenance:
		return domain.HistoryMaintenance
	case from == domain.EquipmentMaintenance && to == domain.EquipmentOperational:
		return domain.HistoryRepair
	default:
		return domain.HistoryStatusChange
	}
}

// SetEquipmentStatus changes the operational status and records a history entry.
func (e Engine) SetEquipmentStatus(ctx context.Context, actor auth.Identity, id, status, description string) (domain.Equipment, error) {
	var out domain.Equipment
	var from string
	if err := auth.Require(actor, auth.Administrator, auth.Supervisor, auth.Laboratorist); err != nil {
		return out, err
	}
	if err := oneOf("status", status, domain.EquipmentStatuses); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		eq, err := e.Repo.GetEquipment(ctx, tx, id)
		if err != nil {
			return missing("equipment", id, err)
		}
		from = eq.Status
		if from == status {
			return invalid("status", "equipment is already "+status)
		}
		now := e.timestamp()
		eq.Status = status
		eq.UpdatedAt = now
		if err := e.Repo.UpdateEquipment(ctx, tx, eq); err != nil {
			return err
		}
		if err := e.Repo.InsertHistory(ctx, tx, domain.EquipmentHistory{
			ID:          uuid.NewString(),
			EquipmentID: eq.ID,
			Kind:        historyKind(from, status),
			FromStatus:  &from,
			ToStatus:    &status,
			Description: description,
			ActorID:     actor.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		out = eq
		return e.Events.Append(ctx, tx, events.EquipmentStatusChanged, "equipment", eq.ID, actor.ID, events.EventPayload{"from": from, "to": status})
	})
	if err != nil {
		return domain.Equipment{}, err
	}
	e.Metrics.RecordTransition("equipment", from, status)
	return out, nil
}

// AssignEquipment moves operational equipment to an open site.
func (e Engine) AssignEquipment(ctx context.Context, actor auth.Identity, id, siteID, description string) (domain.Equipment, error) {
	var out domain.Equipment
	if err := auth.Require(actor, auth.Administrator, auth.Supervisor); err != nil {
		return out, err
	}
	if err := required("site_id", siteID); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		eq, err := e.Repo.GetEquipment(ctx, tx, id)
		if err != nil {
			return missing("equipment", id, err)
		}
		if eq.Status != domain.EquipmentOperational {
			return invalid("status", "only operational equipment can be assigned")
		}
		if eq.SiteID != nil && *eq.SiteID == siteID {
			return invalid("site_id", "equipment is already assigned to this site")
		}
		site, err := e.Repo.GetSite(ctx, tx, siteID)
		if err != nil {
			return missing("site", siteID, err)
		}
		if site.Terminal() {
			return invalid("site_id", "site is "+site.Status)
		}
		now := e.timestamp()
		from := eq.SiteID
		eq.SiteID = &site.ID
		eq.UpdatedAt = now
		if err := e.Repo.UpdateEquipment(ctx, tx, eq); err != nil {
			return err
		}
		if err := e.Repo.InsertHistory(ctx, tx, domain.EquipmentHistory{
			ID:          uuid.NewString(),
			EquipmentID: eq.ID,
			Kind:        domain.HistoryAssignment,
			FromSiteID:  from,
			ToSiteID:    &site.ID,
			Description: description,
			ActorID:     actor.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		out = eq
		return e.Events.Append(ctx, tx, events.EquipmentAssigned, "equipment", eq.ID, actor.ID, events.EventPayload{"site_id": site.ID})
	})
	return out, err
}

// ReturnEquipment brings assigned equipment back to the depot.
func (e Engine) ReturnEquipment(ctx context.Context, actor auth.Identity, id, description string) (domain.Equipment, error) {
	var out domain.Equipment
	if err := auth.Require(actor, auth.Administrator, auth.Supervisor); err != nil {
		return out, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		eq, err := e.Repo.GetEquipment(ctx, tx, id)
		if err != nil {
			return missing("equipment", id, err)
		}
		if eq.InDepot() {
			return invalid("site_id", "equipment is not assigned")
		}
		now := e.timestamp()
		from := eq.SiteID
		eq.SiteID = nil
		eq.UpdatedAt = now
		if err := e.Repo.UpdateEquipment(ctx, tx, eq); err != nil {
			return err
		}
		if err := e.Repo.InsertHistory(ctx, tx, domain.EquipmentHistory{
			ID:          uuid.NewString(),
			EquipmentID: eq.ID,
			Kind:        domain.HistoryReturn,
			FromSiteID:  from,
			Description: description,
			ActorID:     actor.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		out = eq
		return e.Events.Append(ctx, tx, events.EquipmentReturned, "equipment", eq.ID, actor.ID, events.EventPayload{"site_id": *from})
	})
	return out, err
}

// DeleteEquipment soft-deletes equipment sitting in the depot. History is kept.
func (e Engine) DeleteEquipment(ctx context.Context, actor auth.Identity, id string) error {
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		eq, err := e.Repo.GetEquipment(ctx, tx, id)
		if err != nil {
			return missing("equipment", id, err)
		}
		if !eq.InDepot() {
			return invalid("site_id", "return the equipment before deleting it")
		}
		now := e.timestamp()
		eq.DeletedAt = &now
		eq.UpdatedAt = now
		if err := e.Repo.UpdateEquipment(ctx, tx, eq); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.EquipmentDeleted, "equipment", eq.ID, actor.ID, nil)
	})
}

// ExportInventory renders the filtered inventory as XLSX.
func (e Engine) ExportInventory(ctx context.Context, actor auth.Identity, f repo.EquipmentFilters) ([]byte, error) {
	items, err := e.ListEquipment(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	for _, it := range items {
		if it.SiteID == nil {
			continue
		}
		if _, ok := names[*it.SiteID]; ok {
			continue
		}
		if s, err := e.Repo.GetSite(ctx, nil, *it.SiteID); err == nil {
			names[s.ID] = s.Name
		}
	}
	return report.BuildInventory(items, names)
}
