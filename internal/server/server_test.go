package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
	"labflow/internal/db"
	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/metrics"
	"labflow/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOption func(*Config)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Dialect: db.SQLite, Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn, db.SQLite))

	cfg := &config.Config{Env: config.EnvTest}
	cfg.JWT.Secret = "server-test-secret"
	cfg.JWT.ExpiresIn = time.Hour
	cfg.JWT.Issuer = "labflow"
	cfg.Reports.Dir = workspace + "/reports"
	e := engine.New(conn, db.SQLite, cfg)
	_, _, err = e.EnsureAdmin(context.Background(), "admin@lab.test", "admin-pass", "Admin")
	require.NoError(t, err)

	scfg := Config{Engine: e, BasePath: "/api", LoginRatePerMinute: 100}
	for _, opt := range opts {
		opt(&scfg)
	}
	handler, err := New(scfg)
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type testEnvelope[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data"`
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func decode[T any](t *testing.T, data []byte) testEnvelope[T] {
	t.Helper()
	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

// caller is a logged-in client bound to a test server.
type caller struct {
	t     *testing.T
	srv   *testServer
	token string
}

func (a caller) call(method, p string, body any) (*http.Response, []byte) {
	a.t.Helper()
	headers := map[string]string{}
	if a.token != "" {
		headers["Authorization"] = "Bearer " + a.token
	}
	return doJSON(a.t, a.srv.Client(), method, a.srv.URL+"/api"+p, body, headers)
}

func (a caller) expect(status int, method, p string, body any) []byte {
	a.t.Helper()
	res, data := a.call(method, p, body)
	require.Equal(a.t, status, res.StatusCode, string(data))
	return data
}

func login(t *testing.T, srv *testServer, email, password string) caller {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	sess := decode[engine.Session](t, data)
	require.NotEmpty(t, sess.Data.Token)
	return caller{t: t, srv: srv, token: sess.Data.Token}
}

func (a caller) createUser(role, name string) (domain.User, caller) {
	a.t.Helper()
	email := strings.ToLower(name) + "@lab.test"
	data := a.expect(http.StatusCreated, http.MethodPost, "/users", map[string]any{
		"name":     name,
		"email":    email,
		"password": "secret-pass",
		"role":     role,
	})
	u := decode[domain.User](a.t, data).Data
	return u, login(a.t, a.srv, email, "secret-pass")
}

func (a caller) createSite(directorID string) domain.Site {
	a.t.Helper()
	data := a.expect(http.StatusCreated, http.MethodPost, "/sites", map[string]any{
		"name":        "North bypass",
		"location":    "km 12",
		"director_id": directorID,
	})
	return decode[domain.Site](a.t, data).Data
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	env := decode[healthStatus](t, data)
	assert.True(t, env.Success)
	assert.Equal(t, "ok", env.Data.Status)
	assert.Equal(t, "service is healthy", env.Message)
}

func TestTokenGate(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"malformed token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}
			res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/sites", nil, headers)
			require.Equal(t, http.StatusUnauthorized, res.StatusCode)
			env := decode[any](t, data)
			assert.False(t, env.Success)
			assert.Equal(t, "unauthorized", env.Error)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestLoginMeLogout(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"email":    "admin@lab.test",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	admin := login(t, srv, "admin@lab.test", "admin-pass")
	me := decode[domain.User](t, admin.expect(http.StatusOK, http.MethodGet, "/auth/me", nil))
	assert.Equal(t, "admin@lab.test", me.Data.Email)
	assert.Equal(t, "administrator", me.Data.Role)
	assert.NotContains(t, string(admin.expect(http.StatusOK, http.MethodGet, "/auth/me", nil)), "password")

	admin.expect(http.StatusOK, http.MethodPost, "/auth/logout", nil)
	res, data := admin.call(http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
}

func TestRegisterCreatesCustomer(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/register", map[string]any{
		"name":     "Carl",
		"email":    "carl@lab.test",
		"password": "secret-pass",
	}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	sess := decode[engine.Session](t, data)
	assert.Equal(t, "customer", sess.Data.User.Role)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/register", map[string]any{
		"name":     "Carl",
		"email":    "carl@lab.test",
		"password": "secret-pass",
	}, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))
}

func TestSchemaViolationIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	data := admin.expect(http.StatusBadRequest, http.MethodPost, "/users", map[string]any{
		"name":     "Zed",
		"email":    "zed@lab.test",
		"password": "secret-pass",
		"role":     "janitor",
	})
	env := decode[any](t, data)
	assert.False(t, env.Success)
	assert.Equal(t, "bad_request", env.Error)
}

func TestRoleAndOwnershipGates(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	director, directorAPI := admin.createUser("director", "Dana")
	_, otherDirector := admin.createUser("director", "Dora")
	_, customer := admin.createUser("customer", "Carl")
	s := admin.createSite(director.ID)

	data := customer.expect(http.StatusCreated, http.MethodPost, "/requests", map[string]any{
		"site_id":   s.ID,
		"test_type": "soil",
	})
	req := decode[domain.TestRequest](t, data).Data
	assert.Equal(t, "pending", req.Status)

	data = customer.expect(http.StatusForbidden, http.MethodPost, "/requests/"+req.ID+"/accept", nil)
	env := decode[any](t, data)
	assert.Equal(t, "forbidden", env.Error)
	assert.Contains(t, env.Details, "required")

	directorAPI.expect(http.StatusOK, http.MethodPatch, "/sites/"+s.ID, map[string]any{"client": "City"})
	otherDirector.expect(http.StatusForbidden, http.MethodPatch, "/sites/"+s.ID, map[string]any{"client": "Other"})
	admin.expect(http.StatusNotFound, http.MethodGet, "/sites/missing", nil)
}

func TestInvalidTransitionIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	director, _ := admin.createUser("director", "Dana")
	s := admin.createSite(director.ID)

	data := admin.expect(http.StatusBadRequest, http.MethodPatch, "/sites/"+s.ID+"/status", map[string]any{"status": "finished"})
	env := decode[any](t, data)
	assert.Equal(t, "invalid_transition", env.Error)
	assert.Equal(t, "planned", env.Details["from"])
	assert.Equal(t, "finished", env.Details["to"])

	data = admin.expect(http.StatusOK, http.MethodPatch, "/sites/"+s.ID+"/status", map[string]any{"status": "in_progress"})
	assert.Equal(t, "in_progress", decode[domain.Site](t, data).Data.Status)
}

func TestDuplicateAssetCodeIsConflict(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	body := map[string]any{"asset_code": "EQ-001", "name": "Oven", "category": "laboratory"}
	admin.expect(http.StatusCreated, http.MethodPost, "/equipment", body)
	data := admin.expect(http.StatusConflict, http.MethodPost, "/equipment", body)
	env := decode[any](t, data)
	assert.Equal(t, "conflict", env.Error)
	assert.Equal(t, "asset code EQ-001 already exists", env.Message)
}

func TestRequestListPagination(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	director, _ := admin.createUser("director", "Dana")
	_, customer := admin.createUser("customer", "Carl")
	s := admin.createSite(director.ID)
	for i := 0; i < 3; i++ {
		customer.expect(http.StatusCreated, http.MethodPost, "/requests", map[string]any{"site_id": s.ID, "test_type": "concrete"})
	}

	seen := map[string]bool{}
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		p := "/requests?limit=2"
		if cursor != "" {
			p += "&cursor=" + cursor
		}
		got := decode[page[domain.TestRequest]](t, admin.expect(http.StatusOK, http.MethodGet, p, nil)).Data
		for _, it := range got.Items {
			assert.False(t, seen[it.ID], "duplicate item %s", it.ID)
			seen[it.ID] = true
		}
		if got.NextCursor == "" {
			break
		}
		cursor = got.NextCursor
	}
	assert.Len(t, seen, 3)
	admin.expect(http.StatusBadRequest, http.MethodGet, "/requests?cursor=garbage", nil)
}

func TestResultReportDownload(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	director, _ := admin.createUser("director", "Dana")
	_, customer := admin.createUser("customer", "Carl")
	_, lab := admin.createUser("laboratorist", "Lea")
	s := admin.createSite(director.ID)
	req := decode[domain.TestRequest](t, customer.expect(http.StatusCreated, http.MethodPost, "/requests", map[string]any{
		"site_id":   s.ID,
		"test_type": "soil",
	})).Data
	lab.expect(http.StatusOK, http.MethodPost, "/requests/"+req.ID+"/accept", nil)

	res := decode[domain.TestResult](t, lab.expect(http.StatusCreated, http.MethodPost, "/results", map[string]any{
		"request_id": req.ID,
	})).Data
	lab.expect(http.StatusConflict, http.MethodPost, "/results", map[string]any{"request_id": req.ID})
	lab.expect(http.StatusNotFound, http.MethodGet, "/results/"+res.ID+"/report", nil)

	lab.expect(http.StatusOK, http.MethodPatch, "/results/"+res.ID+"/status", map[string]any{"status": "in_progress"})
	updated := decode[domain.TestResult](t, lab.expect(http.StatusOK, http.MethodPatch, "/results/"+res.ID, map[string]any{
		"measurements": map[string]any{"kind": "soil", "soil": map[string]any{"liquid_limit": 45, "plastic_limit": 25}},
		"verdict":      "approved",
	})).Data
	require.NotNil(t, updated.Measurements.Soil.PlasticityIndex)
	assert.Equal(t, 20.0, *updated.Measurements.Soil.PlasticityIndex)

	lab.expect(http.StatusBadRequest, http.MethodPost, "/results/"+res.ID+"/report", nil)
	lab.expect(http.StatusOK, http.MethodPatch, "/results/"+res.ID+"/status", map[string]any{"status": "finished"})
	got := decode[domain.TestRequest](t, customer.expect(http.StatusOK, http.MethodGet, "/requests/"+req.ID, nil)).Data
	assert.Equal(t, "finished", got.Status)

	env := decode[domain.TestResult](t, lab.expect(http.StatusOK, http.MethodPost, "/results/"+res.ID+"/report", nil))
	assert.Equal(t, 1, env.Data.ReportVersion)
	assert.Equal(t, "report version 1 generated", env.Message)

	dl, body := customer.call(http.MethodGet, "/results/"+res.ID+"/report", nil)
	require.Equal(t, http.StatusOK, dl.StatusCode, string(body))
	assert.Equal(t, xlsxContentType, dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), res.ID+"-v1.xlsx")
	assert.True(t, bytes.HasPrefix(body, []byte("PK")), "xlsx is a zip archive")
}

func TestEquipmentRoutes(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	director, _ := admin.createUser("director", "Dana")
	s := admin.createSite(director.ID)
	eq := decode[domain.Equipment](t, admin.expect(http.StatusCreated, http.MethodPost, "/equipment", map[string]any{
		"asset_code": "EQ-010",
		"name":       "Slump cone",
		"category":   "field",
	})).Data

	admin.expect(http.StatusOK, http.MethodPost, "/equipment/"+eq.ID+"/assign", map[string]any{"site_id": s.ID})
	admin.expect(http.StatusBadRequest, http.MethodDelete, "/equipment/"+eq.ID, nil)
	avail := decode[[]domain.Equipment](t, admin.expect(http.StatusOK, http.MethodGet, "/equipment?available=true", nil)).Data
	assert.Empty(t, avail)
	admin.expect(http.StatusOK, http.MethodPost, "/equipment/"+eq.ID+"/return", nil)

	hist := decode[[]domain.EquipmentHistory](t, admin.expect(http.StatusOK, http.MethodGet, "/equipment/"+eq.ID+"/history", nil)).Data
	require.Len(t, hist, 2)
	assert.Equal(t, "assignment", hist[0].Kind)
	assert.Equal(t, "return", hist[1].Kind)

	res, body := admin.call(http.MethodGet, "/equipment/export", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, xlsxContentType, res.Header.Get("Content-Type"))

	admin.expect(http.StatusOK, http.MethodDelete, "/equipment/"+eq.ID, nil)
	admin.expect(http.StatusNotFound, http.MethodGet, "/equipment/"+eq.ID, nil)
	admin.expect(http.StatusOK, http.MethodGet, "/equipment/"+eq.ID+"/history", nil)
}

func TestEventsAreAdminOnly(t *testing.T) {
	srv := newTestServer(t)
	admin := login(t, srv, "admin@lab.test", "admin-pass")
	_, customer := admin.createUser("customer", "Carl")

	customer.expect(http.StatusForbidden, http.MethodGet, "/events", nil)
	got := decode[page[domain.Event]](t, admin.expect(http.StatusOK, http.MethodGet, "/events?limit=1", nil)).Data
	require.Len(t, got.Items, 1)
	assert.NotEmpty(t, got.NextCursor)
	next := decode[page[domain.Event]](t, admin.expect(http.StatusOK, http.MethodGet, "/events?limit=1&cursor="+got.NextCursor, nil)).Data
	require.Len(t, next.Items, 1)
	assert.Less(t, next.Items[0].ID, got.Items[0].ID)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/nowhere", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	env := decode[any](t, data)
	assert.False(t, env.Success)
	assert.Equal(t, "not_found", env.Error)
	assert.Equal(t, "route not found", env.Message)
}

func TestLoginIsRateLimited(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.LoginRatePerMinute = 2 })
	body := map[string]any{"email": "admin@lab.test", "password": "wrong"}
	for i := 0; i < 2; i++ {
		res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", body, nil)
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", body, nil)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[any](t, data).Error)
}

func TestForwardedHeadersDoNotBypassRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.LoginRatePerMinute = 2 })
	body := map[string]any{"email": "admin@lab.test", "password": "wrong"}
	var got []int
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", body, map[string]string{
			"X-Forwarded-For": ip,
			"X-Real-IP":       ip,
		})
		got = append(got, res.StatusCode)
	}
	assert.Equal(t, []int{401, 401, 429, 429}, got)
}

func TestTrustedProxyKeysOnForwardedAddress(t *testing.T) {
	srv := newTestServer(t, func(c *Config) {
		c.LoginRatePerMinute = 1
		c.TrustProxy = true
	})
	body := map[string]any{"email": "admin@lab.test", "password": "wrong"}
	attempt := func(ip string) int {
		res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", body, map[string]string{"X-Forwarded-For": ip})
		return res.StatusCode
	}
	assert.Equal(t, http.StatusUnauthorized, attempt("10.0.0.1"))
	assert.Equal(t, http.StatusUnauthorized, attempt("10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, attempt("10.0.0.1"))
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("labflow")
	srv := newTestServer(t, func(c *Config) { c.Metrics = m })
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/users", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `labflow_auth_failures_total{reason="missing"} 1`)
	assert.Contains(t, string(data), "labflow_http_requests_total")
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, _ := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/requests/{id}/accept")
	assert.Contains(t, paths, "/api/results/{id}/report")
}
