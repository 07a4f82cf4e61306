package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/entitygraph/pkg/auth"
)

// HTTPClient drives either an in-process handler or, when TEST_SERVER_URL
// is set, a running server.
type HTTPClient struct {
	handler    http.Handler
	baseURL    string
	httpClient *http.Client
}

// HTTPResponse is the recorded status, body and headers of one request.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// RequestOption modifies an outgoing request
type RequestOption func(*http.Request)

// NewHTTPClient creates a client over handler.
func NewHTTPClient(handler http.Handler) *HTTPClient {
	return &HTTPClient{
		handler:    handler,
		baseURL:    os.Getenv("TEST_SERVER_URL"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsExternal returns true if this client hits an external server
func (c *HTTPClient) IsExternal() bool {
	return c.baseURL != ""
}

// Request performs an HTTP request
func (c *HTTPClient) Request(method, path string, opts ...RequestOption) *HTTPResponse {
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}

	if !c.IsExternal() {
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, req)
		return &HTTPResponse{StatusCode: rec.Code, Body: rec.Body.Bytes(), Headers: rec.Header()}
	}

	var body io.Reader
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = bytes.NewReader(b)
	}
	out, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return &HTTPResponse{Body: []byte(err.Error())}
	}
	out.Header = req.Header.Clone()

	resp, err := c.httpClient.Do(out)
	if err != nil {
		return &HTTPResponse{Body: []byte(err.Error())}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return &HTTPResponse{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}
}

// GET performs a GET request
func (c *HTTPClient) GET(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (c *HTTPClient) POST(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPost, path, opts...)
}

// PATCH performs a PATCH request
func (c *HTTPClient) PATCH(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPatch, path, opts...)
}

// DELETE performs a DELETE request
func (c *HTTPClient) DELETE(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodDelete, path, opts...)
}

// WithTenant sets the tenant header
func WithTenant(id uuid.UUID) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(auth.HeaderTenantID, id.String())
	}
}

// WithActor sets the acting user header
func WithActor(id uuid.UUID) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(auth.HeaderActorID, id.String())
	}
}

// WithJSONBody marshals v as the request body
func WithJSONBody(v any) RequestOption {
	return func(r *http.Request) {
		b, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		r.Body = io.NopCloser(bytes.NewReader(b))
		r.ContentLength = int64(len(b))
		r.Header.Set("Content-Type", "application/json")
	}
}

// JSON unmarshals the response body into v
func (r *HTTPResponse) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string
func (r *HTTPResponse) String() string {
	return string(r.Body)
}
