// Package labsdk is a small client for the Labflow HTTP API.
package labsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to one Labflow server. Login stores the bearer token on the client.
type Client struct {
	http     *resty.Client
	basePath string
}

// New creates a client for baseURL (scheme and host) and the API base path, usually /api.
func New(baseURL, basePath string) *Client {
	if basePath == "" {
		basePath = "/api"
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: hc, basePath: "/" + strings.Trim(basePath, "/")}
}

// WithRetry retries transport errors and 5xx answers.
func (c *Client) WithRetry(count int) *Client {
	c.http.SetRetryCount(count).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return c
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) { c.http.SetAuthToken(token) }

// APIError is the error envelope of a non-2xx response.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("labflow: %d %s: %s", e.Status, e.Code, e.Message)
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type Session struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type Site struct {
	ID         string  `json:"id"`
	Code       *string `json:"code,omitempty"`
	Name       string  `json:"name"`
	Location   string  `json:"location"`
	Status     string  `json:"status"`
	DirectorID string  `json:"director_id"`
}

type NewSite struct {
	Code       string `json:"code,omitempty"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Client     string `json:"client,omitempty"`
	DirectorID string `json:"director_id"`
}

type TestRequest struct {
	ID          string  `json:"id"`
	Code        string  `json:"code"`
	SiteID      string  `json:"site_id"`
	TestType    string  `json:"test_type"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	DueDate     *string `json:"due_date,omitempty"`
	RequestedBy string  `json:"requested_by"`
	AcceptedBy  *string `json:"accepted_by,omitempty"`
}

type NewTestRequest struct {
	SiteID      string  `json:"site_id"`
	TestType    string  `json:"test_type"`
	Priority    string  `json:"priority,omitempty"`
	Description string  `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type Equipment struct {
	ID        string  `json:"id"`
	AssetCode string  `json:"asset_code"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Status    string  `json:"status"`
	SiteID    *string `json:"site_id,omitempty"`
}

// Login exchanges credentials for a session and keeps its token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	sess, err := do[Session](ctx, c, http.MethodPost, "auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return sess, err
	}
	c.SetToken(sess.Token)
	return sess, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := do[struct{}](ctx, c, http.MethodPost, "auth/logout", nil)
	return err
}

func (c *Client) Me(ctx context.Context) (User, error) {
	return do[User](ctx, c, http.MethodGet, "auth/me", nil)
}

// ListSites returns one page of sites; pass the previous NextCursor to continue.
func (c *Client) ListSites(ctx context.Context, status, cursor string, limit int) (Page[Site], error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	return do[Page[Site]](ctx, c, http.MethodGet, withQuery("sites", q), nil)
}

func (c *Client) CreateSite(ctx context.Context, s NewSite) (Site, error) {
	return do[Site](ctx, c, http.MethodPost, "sites", s)
}

func (c *Client) SetSiteStatus(ctx context.Context, id, status string) (Site, error) {
	return do[Site](ctx, c, http.MethodPatch, "sites/"+url.PathEscape(id)+"/status", map[string]string{"status": status})
}

func (c *Client) CreateRequest(ctx context.Context, r NewTestRequest) (TestRequest, error) {
	return do[TestRequest](ctx, c, http.MethodPost, "requests", r)
}

func (c *Client) GetRequest(ctx context.Context, id string) (TestRequest, error) {
	return do[TestRequest](ctx, c, http.MethodGet, "requests/"+url.PathEscape(id), nil)
}

func (c *Client) AcceptRequest(ctx context.Context, id string) (TestRequest, error) {
	return do[TestRequest](ctx, c, http.MethodPost, "requests/"+url.PathEscape(id)+"/accept", nil)
}

func (c *Client) SetRequestStatus(ctx context.Context, id, status string) (TestRequest, error) {
	return do[TestRequest](ctx, c, http.MethodPatch, "requests/"+url.PathEscape(id)+"/status", map[string]string{"status": status})
}

func (c *Client) AssignEquipment(ctx context.Context, id, siteID string) (Equipment, error) {
	return do[Equipment](ctx, c, http.MethodPost, "equipment/"+url.PathEscape(id)+"/assign", map[string]string{"site_id": siteID})
}

// DownloadReport fetches the latest XLSX report of a result.
func (c *Client) DownloadReport(ctx context.Context, resultID string) ([]byte, error) {
	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&apiErr).
		Get(c.path("results/" + url.PathEscape(resultID) + "/report"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, &apiErr
	}
	return resp.Body(), nil
}

func do[T any](ctx context.Context, c *Client, method, endpoint string, body any) (T, error) {
	var out envelope[T]
	var apiErr APIError
	req := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, c.path(endpoint))
	if err != nil {
		return out.Data, err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return out.Data, &apiErr
	}
	return out.Data, nil
}

func (c *Client) path(endpoint string) string {
	return c.basePath + "/" + strings.TrimLeft(endpoint, "/")
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}
