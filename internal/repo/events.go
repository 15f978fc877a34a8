package repo

import (
	"context"
	"database/sql"

	"labflow/internal/domain"
)

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// Cursor returns events with ids below it.
	Cursor int64
	Limit  int
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	var w where
	w.eq("type", f.Type)
	w.eq("entity_kind", f.EntityKind)
	w.eq("entity_id", f.EntityID)
	if f.Cursor > 0 {
		w.add("id<?", f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.query(ctx, nil, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`+w.String()+` ORDER BY id DESC LIMIT ?`,
		append(w.args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
