package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
)

type equipmentQuery struct {
	Status    string `query:"status" enum:"operational,maintenance,out_of_service"`
	Category  string `query:"category" enum:"laboratory,field,office,vehicle"`
	SiteID    string `query:"site_id"`
	Available bool   `query:"available" doc:"operational and not assigned to a site"`
}

func (q equipmentQuery) filters(limit int) repo.EquipmentFilters {
	return repo.EquipmentFilters{
		Status:    q.Status,
		Category:  q.Category,
		SiteID:    q.SiteID,
		Available: q.Available,
		Limit:     limit,
	}
}

func registerEquipment(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-equipment",
		Method:      http.MethodGet,
		Path:        "/equipment",
		Summary:     "List equipment",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		equipmentQuery
		Limit int `query:"limit" default:"50"`
	}) (*reply[[]domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEquipment(ctx, actor, input.filters(normalizeLimit(input.Limit)))
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment", nonNil(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-equipment",
		Method:      http.MethodGet,
		Path:        "/equipment/export",
		Summary:     "Export the inventory as XLSX",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		equipmentQuery
	}) (*fileOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.ExportInventory(ctx, actor, input.filters(0))
		if err != nil {
			return nil, handleError(err)
		}
		return attachment("inventory.xlsx", data), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-equipment",
		Method:      http.MethodGet,
		Path:        "/equipment/{id}",
		Summary:     "Get equipment",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eq, err := e.GetEquipment(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment", eq)
	})

	huma.Register(api, huma.Operation{
		OperationID: "equipment-history",
		Method:      http.MethodGet,
		Path:        "/equipment/{id}/history",
		Summary:     "Movement and maintenance history, oldest first",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[[]domain.EquipmentHistory], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.EquipmentHistory(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment history", nonNil(items))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-equipment",
		Method:        http.MethodPost,
		Path:          "/equipment",
		Summary:       "Register equipment",
		Tags:          []string{"equipment"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateEquipmentRequest
	}) (*reply[domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		eq, err := e.CreateEquipment(ctx, actor, engine.CreateEquipmentInput{
			AssetCode:       b.AssetCode,
			Name:            b.Name,
			Category:        b.Category,
			Brand:           b.Brand,
			Model:           b.Model,
			SerialNumber:    b.SerialNumber,
			Location:        b.Location,
			NextMaintenance: b.NextMaintenance,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment created", eq)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-equipment",
		Method:      http.MethodPatch,
		Path:        "/equipment/{id}",
		Summary:     "Update equipment",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateEquipmentRequest
	}) (*reply[domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		eq, err := e.UpdateEquipment(ctx, actor, input.ID, engine.UpdateEquipmentInput{
			AssetCode:       b.AssetCode,
			Name:            b.Name,
			Category:        b.Category,
			Brand:           b.Brand,
			Model:           b.Model,
			SerialNumber:    b.SerialNumber,
			Location:        b.Location,
			NextMaintenance: b.NextMaintenance,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment updated", eq)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-equipment-status",
		Method:      http.MethodPatch,
		Path:        "/equipment/{id}/status",
		Summary:     "Change equipment status",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body EquipmentStatusRequest
	}) (*reply[domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eq, err := e.SetEquipmentStatus(ctx, actor, input.ID, input.Body.Status, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment status updated", eq)
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-equipment",
		Method:      http.MethodPost,
		Path:        "/equipment/{id}/assign",
		Summary:     "Assign equipment to a site",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body AssignEquipmentRequest
	}) (*reply[domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eq, err := e.AssignEquipment(ctx, actor, input.ID, input.Body.SiteID, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment assigned", eq)
	})

	huma.Register(api, huma.Operation{
		OperationID: "return-equipment",
		Method:      http.MethodPost,
		Path:        "/equipment/{id}/return",
		Summary:     "Return equipment to the depot",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body *ReturnEquipmentRequest `required:"false"`
	}) (*reply[domain.Equipment], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body != nil {
			desc = input.Body.Description
		}
		eq, err := e.ReturnEquipment(ctx, actor, input.ID, desc)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("equipment returned", eq)
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-equipment",
		Method:      http.MethodDelete,
		Path:        "/equipment/{id}",
		Summary:     "Retire equipment",
		Tags:        []string{"equipment"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[*empty], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteEquipment(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return done("equipment deleted")
	})
}
