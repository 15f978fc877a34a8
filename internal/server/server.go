package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"labflow/internal/engine"
	"labflow/internal/engine/auth"
	"labflow/internal/metrics"
	"labflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	// LoginRatePerMinute limits login, register and password reset per client IP.
	LoginRatePerMinute int
	// ExposeErrors adds internal error text to 500 responses.
	ExposeErrors bool
	// TrustProxy rewrites the client address from proxy headers before rate limiting.
	TrustProxy bool
}

// apiError is the failed form of the response envelope.
type apiError struct {
	status  int
	cause   error
	Success bool           `json:"success"`
	Message string         `json:"message" example:"request not found"`
	Code    string         `json:"error" example:"not_found"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// envelope is the successful form of the response envelope.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Message string `json:"message"`
}

type reply[T any] struct {
	Body envelope[T]
}

type empty struct{}

func ok[T any](message string, data T) (*reply[T], error) {
	return &reply[T]{Body: envelope[T]{Success: true, Data: data, Message: message}}, nil
}

func done(message string) (*reply[*empty], error) {
	return &reply[*empty]{Body: envelope[*empty]{Success: true, Message: message}}, nil
}

type page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// New returns an HTTP handler exposing the lab API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", withDetails(msg, errs), nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// schema validation is a client error like any other bad input
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", withDetails(msg, errs), nil)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	if cfg.TrustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(requestLogger(log))
	router.Use(cfg.Metrics.Middleware)
	limiter := newRateLimiterStore(cfg.LoginRatePerMinute)
	router.Use(limiter.limit(
		path.Join(basePath, "auth/login"),
		path.Join(basePath, "auth/register"),
		path.Join(basePath, "auth/password-reset"),
		path.Join(basePath, "auth/password-reset/confirm"),
	))
	router.Use(newAuthMiddleware(basePath, cfg.Engine, cfg.Metrics))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusNotFound, "", "route not found", nil))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondStatusError(w, newAPIError(http.StatusMethodNotAllowed, "", "method not allowed", nil))
	})

	hcfg := huma.DefaultConfig("Labflow API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	hcfg.SchemasPath = ""
	hcfg.CreateHooks = nil
	hcfg.Transformers = append(hcfg.Transformers, exposeCause(cfg.ExposeErrors))
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerSites(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerResults(group, cfg.Engine)
	registerEquipment(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	return router, nil
}

func withDetails(msg string, errs []error) string {
	if len(errs) == 0 {
		return msg
	}
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(parts, "; ")
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status:  status,
		Message: message,
		Code:    code,
		Details: details,
	}
}

// handleError maps engine errors onto statuses and stable error codes.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if auth.IsAuthenticationFailure(err) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		var details map[string]any
		if len(fe.Required) > 0 {
			details = map[string]any{"required": fe.Required}
		}
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), details)
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadRequest, "invalid_transition", te.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return newAPIError(http.StatusConflict, "conflict", conflictMessage(err), nil)
	}
	return &apiError{
		status:  http.StatusInternalServerError,
		cause:   err,
		Message: "internal error",
		Code:    "internal_error",
	}
}

// exposeCause copies the internal error text into 500 details when enabled.
func exposeCause(enabled bool) huma.Transformer {
	return func(_ huma.Context, _ string, v any) (any, error) {
		ae, isAPIError := v.(*apiError)
		if !enabled || !isAPIError || ae.cause == nil {
			return v, nil
		}
		out := *ae
		out.Details = map[string]any{"error": ae.cause.Error()}
		return &out, nil
	}
}

// conflictMessage keeps the caller-facing prefix and drops the driver text.
func conflictMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "+repo.ErrDuplicate.Error()); i > 0 {
		return msg[:i] + " already exists"
	}
	return "resource already exists"
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				log.Error("request failed", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if isPublic(basePath, route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Labflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; from POST /auth/login.
    </p>
  </body>
</html>`, specURL)
}

type healthStatus struct {
	Status string `json:"status" example:"ok"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*reply[healthStatus], error) {
		return ok("service is healthy", healthStatus{Status: "ok"})
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
