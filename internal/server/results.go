package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func attachment(name string, data []byte) *fileOutput {
	return &fileOutput{
		ContentType:        xlsxContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
		Body:               data,
	}
}

func registerResults(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-results",
		Method:      http.MethodGet,
		Path:        "/results",
		Summary:     "List test results",
		Tags:        []string{"results"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RequestID   string `query:"request_id"`
		Kind        string `query:"kind" enum:"soil,concrete,asphalt"`
		Status      string `query:"status" enum:"pending,in_progress,finished"`
		PerformedBy string `query:"performed_by"`
		Limit       int    `query:"limit" default:"50"`
	}) (*reply[[]domain.TestResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListResults(ctx, actor, repo.ResultFilters{
			RequestID:   input.RequestID,
			Kind:        input.Kind,
			Status:      input.Status,
			PerformedBy: input.PerformedBy,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test results", nonNil(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-result",
		Method:      http.MethodGet,
		Path:        "/results/{id}",
		Summary:     "Get test result",
		Tags:        []string{"results"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.TestResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.GetResult(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test result", r)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-result",
		Method:        http.MethodPost,
		Path:          "/results",
		Summary:       "Open the result of an accepted request",
		Tags:          []string{"results"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateResultRequest
	}) (*reply[domain.TestResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateResult(ctx, actor, engine.CreateResultInput{
			RequestID:    input.Body.RequestID,
			Measurements: input.Body.Measurements,
			Observations: input.Body.Observations,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test result created", r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-result",
		Method:      http.MethodPatch,
		Path:        "/results/{id}",
		Summary:     "Record measurements, verdict or observations",
		Tags:        []string{"results"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateResultRequest
	}) (*reply[domain.TestResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.UpdateResult(ctx, actor, input.ID, engine.UpdateResultInput{
			Measurements: input.Body.Measurements,
			Verdict:      input.Body.Verdict,
			Observations: input.Body.Observations,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test result updated", r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-result-status",
		Method:      http.MethodPatch,
		Path:        "/results/{id}/status",
		Summary:     "Move a test result through its lifecycle",
		Tags:        []string{"results"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetStatusRequest
	}) (*reply[domain.TestResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.SetResultStatus(ctx, actor, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("test result status updated", r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-report",
		Method:      http.MethodPost,
		Path:        "/results/{id}/report",
		Summary:     "Generate the XLSX report of a finished result",
		Tags:        []string{"results"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.TestResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.GenerateReport(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok(fmt.Sprintf("report version %d generated", r.ReportVersion), r)
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-report",
		Method:      http.MethodGet,
		Path:        "/results/{id}/report",
		Summary:     "Download the latest report",
		Tags:        []string{"results"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*fileOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.Report(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return attachment(f.Name, f.Data), nil
	})
}
