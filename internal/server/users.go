package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/repo"
)

func registerAuth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Create a customer account",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body RegisterRequest
	}) (*reply[engine.Session], error) {
		sess, err := e.Register(ctx, engine.RegisterInput{Name: input.Body.Name, Email: input.Body.Email, Password: input.Body.Password})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("account created", sess)
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest
	}) (*reply[engine.Session], error) {
		sess, err := e.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("logged in", sess)
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "Revoke the current token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*reply[*empty], error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Logout(ctx, p.Identity, p.Claims); err != nil {
			return nil, handleError(err)
		}
		return done("logged out")
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Summary:     "Current account",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*reply[domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Me(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("current account", u)
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-password-reset",
		Method:      http.MethodPost,
		Path:        "/auth/password-reset",
		Summary:     "Mail a password reset token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body PasswordResetRequest
	}) (*reply[*empty], error) {
		if err := e.RequestPasswordReset(ctx, input.Body.Email); err != nil {
			return nil, handleError(err)
		}
		return done("if the address is registered, a reset token was sent")
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-password-reset",
		Method:      http.MethodPost,
		Path:        "/auth/password-reset/confirm",
		Summary:     "Set a new password with a reset token",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body PasswordResetConfirmRequest
	}) (*reply[*empty], error) {
		if err := e.ConfirmPasswordReset(ctx, input.Body.Token, input.Body.NewPassword); err != nil {
			return nil, handleError(err)
		}
		return done("password updated")
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role" enum:"administrator,supervisor,director,laboratorist,customer"`
		Active string `query:"active" enum:"true,false"`
		Limit  int    `query:"limit" default:"50"`
	}) (*reply[[]domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.UserFilters{Role: input.Role, Limit: normalizeLimit(input.Limit)}
		if input.Active != "" {
			active := input.Active == "true"
			f.Active = &active
		}
		users, err := e.ListUsers(ctx, actor, f)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("users", nonNil(users))
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-stats",
		Method:      http.MethodGet,
		Path:        "/users/stats",
		Summary:     "Active users per role",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*reply[domain.UserStats], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.UserStats(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("user statistics", stats)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetUser(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("user", u)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		Tags:          []string{"users"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest
	}) (*reply[domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		u, err := e.CreateUser(ctx, actor, engine.CreateUserInput{
			Name:      b.Name,
			Email:     b.Email,
			Password:  b.Password,
			Role:      b.Role,
			ManagerID: b.ManagerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("user created", u)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{id}",
		Summary:     "Update user",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateUserRequest
	}) (*reply[domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		u, err := e.UpdateUser(ctx, actor, input.ID, engine.UpdateUserInput{
			Name:      b.Name,
			Email:     b.Email,
			Role:      b.Role,
			ManagerID: b.ManagerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return ok("user updated", u)
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-password",
		Method:      http.MethodPut,
		Path:        "/users/{id}/password",
		Summary:     "Change password",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ChangePasswordRequest
	}) (*reply[*empty], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ChangePassword(ctx, actor, input.ID, input.Body.CurrentPassword, input.Body.NewPassword); err != nil {
			return nil, handleError(err)
		}
		return done("password changed")
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-user",
		Method:      http.MethodDelete,
		Path:        "/users/{id}",
		Summary:     "Deactivate user",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.SetUserActive(ctx, actor, input.ID, false)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("user deactivated", u)
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-user",
		Method:      http.MethodPost,
		Path:        "/users/{id}/restore",
		Summary:     "Reactivate user",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*reply[domain.User], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.SetUserActive(ctx, actor, input.ID, true)
		if err != nil {
			return nil, handleError(err)
		}
		return ok("user restored", u)
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
