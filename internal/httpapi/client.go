package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout is the request timeout of a Client built without
// WithHTTPClient.
const DefaultTimeout = 5 * time.Second

// Client talks to a diskcached server.
type Client struct {
	base string
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for the server at base, such as
// "http://127.0.0.1:8081".
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) keyURL(key string) string {
	return c.base + kvPrefix + url.PathEscape(key)
}

// Health returns nil if the server is up and its store open.
func (c *Client) Health(ctx context.Context) error {
	var out HealthResponse
	return c.doJSON(ctx, http.MethodGet, c.base+"/health", nil, &out)
}

// Get returns the value stored for key and whether it exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.keyURL(key), nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode >= 300 {
		return "", false, decodeError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, err
	}
	return string(body), true, nil
}

// Set stores value under key.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.doJSON(ctx, http.MethodPut, c.keyURL(key), strings.NewReader(value), nil)
}

// Delete removes key and reports whether it existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	var out DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, c.keyURL(key), nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// Clear removes every key.
func (c *Client) Clear(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, c.base+"/kv", nil, nil)
}

// Keys returns every key, sorted.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	var out KeysResponse
	if err := c.doJSON(ctx, http.MethodGet, c.base+"/keys", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// Info returns per-shard metadata.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var out InfoResponse
	if err := c.doJSON(ctx, http.MethodGet, c.base+"/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return c.http.Do(req)
}

// doJSON sends a request and decodes a JSON reply into out, if out is not
// nil.
func (c *Client) doJSON(ctx context.Context, method, target string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, target, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	serr := &StatusError{Code: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return serr
	}
	var body ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		serr.Kind = body.Kind
		serr.Message = body.Error
		return serr
	}
	serr.Message = string(bytes.TrimSpace(data))
	return serr
}
