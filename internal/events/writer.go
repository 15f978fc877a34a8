package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"labflow/internal/db"
)

// Event types written by the engine.
const (
	UserRegistered         = "user.registered"
	UserCreated            = "user.created"
	UserUpdated            = "user.updated"
	UserPasswordChanged    = "user.password_changed"
	UserDeactivated        = "user.deactivated"
	UserRestored           = "user.restored"
	UserLoggedOut          = "user.logged_out"
	SiteCreated            = "site.created"
	SiteUpdated            = "site.updated"
	SiteStatusChanged      = "site.status_changed"
	SiteDeleted            = "site.deleted"
	RequestCreated         = "request.created"
	RequestUpdated         = "request.updated"
	RequestStatusChanged   = "request.status_changed"
	RequestPriorityChanged = "request.priority_changed"
	RequestDeleted         = "request.deleted"
	ResultCreated          = "result.created"
	ResultUpdated          = "result.updated"
	ResultStatusChanged    = "result.status_changed"
	ResultReportGenerated  = "result.report_generated"
	EquipmentCreated       = "equipment.created"
	EquipmentUpdated       = "equipment.updated"
	EquipmentStatusChanged = "equipment.status_changed"
	EquipmentAssigned      = "equipment.assigned"
	EquipmentReturned      = "equipment.returned"
	EquipmentDeleted       = "equipment.deleted"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records one audit event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
