// Package client talks to a remote back-office server over its REST API.
// Every call returns an apperr.Result; transport and decoding failures are
// normalised into ServiceErrors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/models"
)

const linkService = "LinkService"

// Client is a REST client for the back-office API.
type Client struct {
	base    *url.URL
	token   string
	timeout time.Duration
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout. Zero or negative keeps the
// default of 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the server at baseURL (e.g. http://localhost:8080).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	c := &Client{base: u}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	c.http = &http.Client{Timeout: c.timeout}
	return c, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Service string `json:"service"`
}

type request struct {
	service string
	op      apperr.Op
	method  string
	path    string
	query   url.Values
	header  http.Header
	body    []byte
}

// call performs one request and decodes a JSON response into out (unless
// out is nil). Failures are attributed to r.service and classified by r.op.
func (c *Client) call(ctx context.Context, r request, out any) *apperr.ServiceError {
	u := c.base.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}
	var rd io.Reader
	if r.body != nil {
		rd = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), rd)
	if err != nil {
		return apperr.UnexpectedError(r.service, "build request: "+err.Error(), err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Normalize(r.service, r.op, fmt.Errorf("%s %s: %w", r.method, r.path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return apperr.Normalize(r.service, r.op, fmt.Errorf("read response: %w", err))
	}
	if se := classify(r.service, r.op, resp.StatusCode, raw); se != nil {
		return se
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.UnexpectedError(r.service, "decode response: "+err.Error(), err)
	}
	return nil
}

// classify turns a non-2xx response into a ServiceError.
func classify(service string, op apperr.Op, status int, raw []byte) *apperr.ServiceError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Unauthorized(service, messageOf(raw, status), apperr.ErrUnauthorized)
	case status < 400 || status >= 600:
		return apperr.UnexpectedError(service, fmt.Sprintf("unexpected status %d", status), nil)
	}

	cause := statusCause(status)
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && knownCode(eb.Code) {
		origin := service
		if eb.Service != "" {
			origin = eb.Service
		}
		return apperr.FromCode(eb.Code, origin, messageOf(raw, status), cause)
	}
	return apperr.Normalize(service, op, fmt.Errorf("%s: %w", messageOf(raw, status), cause))
}

func knownCode(code string) bool {
	for _, k := range apperr.Kinds() {
		if k.Code() == code {
			return true
		}
	}
	return false
}

// HTTPError is the cause recorded for an error response without a more
// specific sentinel.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return "http status " + strconv.Itoa(e.Status) }

func statusCause(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.ErrValidation
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return apperr.ErrConflict
	default:
		return &HTTPError{Status: status}
	}
}

func messageOf(raw []byte, status int) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}

// Create creates an entity of kind from a JSON payload.
func (c *Client) Create(ctx context.Context, kind models.Kind, payload json.RawMessage) apperr.Result[models.Entity] {
	var e models.Entity
	if se := c.call(ctx, request{
		service: backoffice.ServiceName(kind), op: apperr.OpCreate,
		method: http.MethodPost, path: "/api/entities/" + string(kind), body: payload,
	}, &e); se != nil {
		return apperr.Fail[models.Entity](se)
	}
	return apperr.OK(e)
}

// Get fetches one entity.
func (c *Client) Get(ctx context.Context, kind models.Kind, id string) apperr.Result[models.Entity] {
	var e models.Entity
	path := "/api/entities/" + string(kind) + "/" + url.PathEscape(id)
	if se := c.call(ctx, request{service: backoffice.ServiceName(kind), op: apperr.OpFetch, method: http.MethodGet, path: path}, &e); se != nil {
		return apperr.Fail[models.Entity](se)
	}
	return apperr.OK(e)
}

// Update replaces an entity's payload. ifMatch may be empty.
func (c *Client) Update(ctx context.Context, kind models.Kind, id string, payload json.RawMessage, ifMatch string) apperr.Result[models.Entity] {
	r := request{
		service: backoffice.ServiceName(kind), op: apperr.OpUpdate,
		method: http.MethodPut, path: "/api/entities/" + string(kind) + "/" + url.PathEscape(id), body: payload,
	}
	if ifMatch != "" {
		r.header = http.Header{"If-Match": {`"` + strings.Trim(ifMatch, `"`) + `"`}}
	}
	var e models.Entity
	if se := c.call(ctx, r, &e); se != nil {
		return apperr.Fail[models.Entity](se)
	}
	return apperr.OK(e)
}

// Delete removes an entity.
func (c *Client) Delete(ctx context.Context, kind models.Kind, id string) apperr.Result[struct{}] {
	path := "/api/entities/" + string(kind) + "/" + url.PathEscape(id)
	if se := c.call(ctx, request{service: backoffice.ServiceName(kind), op: apperr.OpDelete, method: http.MethodDelete, path: path}, nil); se != nil {
		return apperr.Fail[struct{}](se)
	}
	return apperr.OK(struct{}{})
}

// List fetches one page of entities.
func (c *Client) List(ctx context.Context, kind models.Kind, limit, offset int) apperr.Result[backoffice.Page] {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var page backoffice.Page
	if se := c.call(ctx, request{
		service: backoffice.ServiceName(kind), op: apperr.OpFetch,
		method: http.MethodGet, path: "/api/entities/" + string(kind), query: q,
	}, &page); se != nil {
		return apperr.Fail[backoffice.Page](se)
	}
	return apperr.OK(page)
}

// Summaries walks every page of kind and returns the entities as summaries.
func (c *Client) Summaries(ctx context.Context, kind models.Kind) apperr.Result[[]models.Summary] {
	const pageSize = 200
	out := []models.Summary{}
	for offset := 0; ; offset += pageSize {
		res := c.List(ctx, kind, pageSize, offset)
		page, ok := res.Get()
		if !ok {
			se, _ := res.Failure()
			return apperr.Fail[[]models.Summary](se)
		}
		for _, e := range page.Items {
			out = append(out, e.Summary())
		}
		if len(page.Items) == 0 || offset+len(page.Items) >= page.Total {
			return apperr.OK(out)
		}
	}
}

// Relations fetches the relation catalog.
func (c *Client) Relations(ctx context.Context) apperr.Result[[]models.Relation] {
	var body struct {
		Relations []models.Relation `json:"relations"`
	}
	if se := c.call(ctx, request{service: linkService, op: apperr.OpFetch, method: http.MethodGet, path: "/api/relations"}, &body); se != nil {
		return apperr.Fail[[]models.Relation](se)
	}
	return apperr.OK(body.Relations)
}
