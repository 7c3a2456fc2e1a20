package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/radclaudiu/ProductivaWorking-sub000/internal/errors"
)

// DefaultTimeout is the default per-call timeout.
const DefaultTimeout = 15 * time.Second

// maxResponseSize limits response body reads to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client holds the connection settings shared by every entity gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string // bearer token
	scopeID    string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithScope sets the tenant/company identifier sent as X-Scope-ID.
func WithScope(scopeID string) Option {
	return func(c *Client) { c.scopeID = scopeID }
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ScopeID returns the configured scope id.
func (c *Client) ScopeID() string {
	return c.scopeID
}

// request describes one call.
type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
}

// do sends req and returns the response status and body. Transport failures, timeouts
// and non-2xx statuses are mapped onto the error taxonomy. Statuses listed in accept are
// returned without error.
func (c *Client) do(ctx context.Context, r request, accept ...int) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := r.method + " " + r.path

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, apperrors.Wrap(apperrors.ErrInvalid, "marshaling request", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrInvalid, "creating request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.scopeID != "" {
		req.Header.Set("X-Scope-ID", c.scopeID)
	}
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	if int64(len(respBody)) > maxResponseSize {
		return 0, nil, apperrors.New(apperrors.ErrMalformedResponse,
			fmt.Sprintf("%s: response exceeds maximum size of %d bytes", op, maxResponseSize))
	}

	for _, status := range accept {
		if resp.StatusCode == status {
			return resp.StatusCode, respBody, nil
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, respBody, apperrors.Server(resp.StatusCode, op+": "+errorMessage(respBody))
	}
	return resp.StatusCode, respBody, nil
}

// transportError classifies a failed round trip.
func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(apperrors.ErrTimeout, op, err)
	}
	return apperrors.Wrap(apperrors.ErrNetworkUnavailable, op, err)
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		for _, s := range []string{parsed.Message, parsed.Error, parsed.Detail} {
			if s != "" {
				return s
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

// decode unmarshals a response body, mapping failures to MALFORMED_RESPONSE.
func decode(op string, body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return apperrors.New(apperrors.ErrMalformedResponse, op+": empty response")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Wrap(apperrors.ErrMalformedResponse, op+": decoding response", err)
	}
	return nil
}
