package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"100"`
		Cursor     string `query:"cursor"`
	}) (*reply[page[domain.Event]], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cursor int64
		if input.Cursor != "" {
			v, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || v <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = v
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListEvents(ctx, actor, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := page[domain.Event]{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return ok("events", resp)
	})
}
