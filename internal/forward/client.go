package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/crudkit/internal/logging"
	"github.com/mrlokans/crudkit/internal/status"
)

const (
	defaultTimeout = 30 * time.Second
	logBodyWidth   = 1000
)

// Request describes a call to a remote API.
type Request struct {
	URL    string
	Method string // default GET

	// URLParams and URLVariables replace {name} placeholders in URL.
	URLParams    map[string]any
	URLVariables map[string]any

	// SearchParams is appended with AppendURLSearchParams.
	SearchParams any
	// Query values are merged into the query string.
	Query url.Values

	Headers http.Header
	Cookies []*http.Cookie

	// JSON is marshalled as the body unless Body is set.
	JSON any
	Body []byte
}

// Response is a buffered remote response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Client calls remote APIs.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL makes request URLs relative to base.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = base }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client with a 30s timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildURL resolves the final URL of req.
func (c *Client) BuildURL(req Request) string {
	u := joinURL(c.baseURL, req.URL)
	u = replacePlaceholders(u, req.URLParams)
	u = replacePlaceholders(u, req.URLVariables)
	if len(req.Query) > 0 {
		u = AppendURLSearchParams(u, req.Query)
	}
	if req.SearchParams != nil {
		u = AppendURLSearchParams(u, req.SearchParams)
	}
	return u
}

// APIRequest performs req. Any response, whatever its status, is returned;
// transport failures return a status.APIRequestErr code carrying the cause.
func (c *Client) APIRequest(ctx context.Context, req Request) (*Response, error) {
	target := c.BuildURL(req)
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	body := req.Body
	if body == nil && req.JSON != nil {
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, status.New(status.APIRequestErr.Key, fmt.Sprintf("failed to encode json body: %v", err))
		}
		body = raw
	}

	log := logging.L()
	log.Debug("api request",
		zap.String("url", target),
		zap.String("method", method),
		zap.ByteString("body", body),
	)

	resp, err := c.do(ctx, method, target, body, req)
	if err != nil {
		log.Error("api request failed", zap.String("url", target), zap.Error(err))
		return nil, status.New(status.APIRequestErr.Key, err.Error())
	}

	log.Debug("api request completed",
		zap.Int("status_code", resp.StatusCode),
		zap.String("result", shorten(resp.Text(), logBodyWidth)),
	)
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, req Request) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body == nil && req.JSON != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range req.Cookies {
		httpReq.AddCookie(cookie)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
