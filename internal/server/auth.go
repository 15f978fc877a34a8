package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"labflow/internal/engine"
	"labflow/internal/engine/auth"
	"labflow/internal/metrics"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Identity auth.Identity
	Claims   auth.Claims
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Identity.ID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func actorFromContext(ctx context.Context) (auth.Identity, huma.StatusError) {
	p, err := principalFromRequest(ctx)
	if err != nil {
		return auth.Identity{}, err
	}
	return p.Identity, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

var publicRoutes = []string{
	"health",
	"openapi.json",
	"auth/login",
	"auth/register",
	"auth/password-reset",
	"auth/password-reset/confirm",
}

// isPublic reports whether p is served without a token.
func isPublic(basePath, p string) bool {
	for _, route := range publicRoutes {
		if p == path.Join(basePath, route) {
			return true
		}
	}
	return false
}

// failureReason labels authentication failures for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrTokenMalformed):
		return "malformed"
	default:
		return "rejected"
	}
}

// newAuthMiddleware resolves the bearer token of every API request outside the public routes.
func newAuthMiddleware(basePath string, e engine.Engine, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath+"/") || isPublic(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				m.RecordAuthFailure("missing")
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				m.RecordAuthFailure("malformed")
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid authorization header", nil))
				return
			}
			id, claims, err := e.Authenticate(req.Context(), token)
			if err != nil {
				if !auth.IsAuthenticationFailure(err) {
					respondStatusError(w, handleError(err))
					return
				}
				m.RecordAuthFailure(failureReason(err))
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil))
				return
			}
			ctx := withPrincipal(req.Context(), Principal{Identity: id, Claims: claims})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
