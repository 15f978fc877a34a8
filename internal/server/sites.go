package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
)

type SiteListParams struct {
	Status string `query:"status" enum:"planned,in_progress,paused,finished,cancelled"`
	Limit  int    `query:"limit" default:"50"`
	Cursor string `query:"cursor" doc:"next_cursor of the previous page"`
}

func listSites(ctx context.Context, e engine.Engine, directorID string, input *SiteListParams) (*reply[page[domain.Site]], error) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	createdAt, id, err := parseCompositeCursor(input.Cursor)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
	}
	limit := normalizeLimit(input.Limit)
	items, err := e.ListSites(ctx, actor, repo.SiteFilters{
		Status:          input.Status,
		DirectorID:      directorID,
		Limit:           limit + 1,
		CursorCreatedAt: createdAt,
		CursorID:        id,
	})
	if err != nil {
		return nil, handleError(err)
	}
	resp := page[domain.Site]{Items: []domain.Site{}}
	if len(items) > limit {
		last := items[limit-1]
		resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		items = items[:limit]
	}
	resp.Items = append(resp.Items, items...)
	return ok("sites", resp)
}

func registerSites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sites",
		Method:      http.MethodGet,
		Path:        "/sites",
		Summary:     "List construction sites",
		Tags:        []string{"sites"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SiteListParams
		DirectorID string `query:"director_id"`
	}) (*reply[page[domain.Site]], error) {
		return listSites(ctx, e, input.DirectorID, &input.SiteListParams)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-director-sites",
		Method:      http.MethodGet,
		Path:        "/sites/director/{director_id}",
		Summary:     "List sites run by a director",
		Tags:        []string{"sites"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SiteListParams
		DirectorID string `path:"director_id"`
	}) (*reply[page[domain.Site]], error) {
		return listSites(ctx, e, input.DirectorID, &input.SiteListParams)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-site",
		Method:      http.MethodGet,
		Path:        "/sites/{id}",
		Summary:     "Get site",
		Tags:        []string{"sites"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.Site], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetSite(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("site", s)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-site",
		Method:        http.MethodPost,
		Path:          "/sites",
		Summary:       "Create site",
		Tags:          []string{"sites"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateSiteRequest
	}) (*reply[domain.Site], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		s, err := e.CreateSite(ctx, actor, engine.CreateSiteInput{
			Code:             b.Code,
			Name:             b.Name,
			Location:         b.Location,
			Client:           b.Client,
			ContractNumber:   b.ContractNumber,
			Description:      b.Description,
			DirectorID:       b.DirectorID,
			StartDate:        b.StartDate,
			EstimatedEndDate: b.EstimatedEndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("site created", s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-site",
		Method:      http.MethodPatch,
		Path:        "/sites/{id}",
		Summary:     "Update site",
		Tags:        []string{"sites"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateSiteRequest
	}) (*reply[domain.Site], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		s, err := e.UpdateSite(ctx, actor, input.ID, engine.UpdateSiteInput{
			Code:             b.Code,
			Name:             b.Name,
			Location:         b.Location,
			Client:           b.Client,
			ContractNumber:   b.ContractNumber,
			Description:      b.Description,
			DirectorID:       b.DirectorID,
			StartDate:        b.StartDate,
			EstimatedEndDate: b.EstimatedEndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("site updated", s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-site-status",
		Method:      http.MethodPatch,
		Path:        "/sites/{id}/status",
		Summary:     "Move a site through its lifecycle",
		Tags:        []string{"sites"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetStatusRequest
	}) (*reply[domain.Site], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SetSiteStatus(ctx, actor, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("site status updated", s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-site",
		Method:      http.MethodDelete,
		Path:        "/sites/{id}",
		Summary:     "Delete site",
		Tags:        []string{"sites"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[*empty], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSite(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return done("site deleted")
	})
}
