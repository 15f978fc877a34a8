package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
)

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List test requests",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SiteID      string `query:"site_id"`
		Status      string `query:"status" enum:"pending,accepted,in_progress,finished,cancelled"`
		Priority    string `query:"priority" enum:"normal,high,urgent"`
		TestType    string `query:"test_type" enum:"soil,concrete,asphalt"`
		RequestedBy string `query:"requested_by"`
		From        string `query:"from" doc:"YYYY-MM-DD or RFC3339"`
		To          string `query:"to" doc:"YYYY-MM-DD or RFC3339"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*reply[page[domain.TestRequest]], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		createdAt, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListRequests(ctx, actor, repo.RequestFilters{
			SiteID:          input.SiteID,
			Status:          input.Status,
			Priority:        input.Priority,
			TestType:        input.TestType,
			RequestedBy:     input.RequestedBy,
			From:            input.From,
			To:              input.To,
			Limit:           limit + 1,
			CursorCreatedAt: createdAt,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := page[domain.TestRequest]{Items: []domain.TestRequest{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return ok("test requests", resp)
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-stats",
		Method:      http.MethodGet,
		Path:        "/requests/stats",
		Summary:     "Test requests per status",
		Tags:        []string{"requests"},
	}, func(ctx context.Context, input *struct {
		SiteID string `query:"site_id"`
	}) (*reply[domain.RequestStats], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.RequestStats(ctx, actor, input.SiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request statistics", stats)
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-requests",
		Method:      http.MethodGet,
		Path:        "/requests/overdue",
		Summary:     "Open requests past their due date",
		Tags:        []string{"requests"},
	}, func(ctx context.Context, _ *struct{}) (*reply[[]domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.OverdueRequests(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("overdue test requests", nonNil(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get test request",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetRequest(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request", t)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Create test request",
		Tags:          []string{"requests"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTestRequestRequest
	}) (*reply[domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := e.CreateRequest(ctx, actor, engine.CreateRequestInput{
			SiteID:      b.SiteID,
			TestType:    b.TestType,
			Priority:    b.Priority,
			Description: b.Description,
			DueDate:     b.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request created", t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-request",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}",
		Summary:     "Update test request",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateTestRequestRequest
	}) (*reply[domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := e.UpdateRequest(ctx, actor, input.ID, engine.UpdateRequestInput{
			SiteID:      b.SiteID,
			TestType:    b.TestType,
			Description: b.Description,
			DueDate:     b.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request updated", t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-request-status",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}/status",
		Summary:     "Move a test request through its lifecycle",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetStatusRequest
	}) (*reply[domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetRequestStatus(ctx, actor, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request status updated", t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-request-priority",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}/priority",
		Summary:     "Change test request priority",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetPriorityRequest
	}) (*reply[domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetRequestPriority(ctx, actor, input.ID, input.Body.Priority)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request priority updated", t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-request",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/accept",
		Summary:     "Accept a pending test request",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.TestRequest], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AcceptRequest(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test request accepted", t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-request",
		Method:      http.MethodDelete,
		Path:        "/requests/{id}",
		Summary:     "Delete test request",
		Tags:        []string{"requests"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[*empty], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRequest(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return done("test request deleted")
	})
}
