package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "tablesync/1.0"
)

// HTTPClient fetches pages from an HTTP endpoint answering
//
//	GET {endpoint}?table={table}&pageNo={n}&pageSize={size}
//
// with the envelope {"code":0,"msg":"","data":{"content":[...],"totalElements":N}}.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// HTTPOption configures the HTTP client
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// NewHTTPClient creates a client for endpoint. If timeout is 0, uses DefaultTimeout.
func NewHTTPClient(endpoint string, timeout time.Duration, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid source endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid source endpoint %q: scheme must be http or https", endpoint)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch retrieves one page of table.
func (c *HTTPClient) Fetch(ctx context.Context, table string, pageNo, pageSize int) (*Page, error) {
	pageURL, err := c.pageURL(table, pageNo, pageSize)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	return decodePage(body)
}

func (c *HTTPClient) pageURL(table string, pageNo, pageSize int) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid source endpoint: %w", err)
	}
	q := u.Query()
	q.Set("table", table)
	q.Set("pageNo", strconv.Itoa(pageNo))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPClient) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, pageURL, resp.Status)
	}
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}

	// +1 to detect an oversized body without a Content-Length
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func decodePage(body []byte) (*Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	env := gjson.ParseBytes(body)

	if code := env.Get("code"); code.Exists() && code.Int() != 0 {
		return nil, &SourceError{Code: code.Int(), Message: env.Get("msg").String()}
	}

	data := env.Get("data")
	if !data.IsObject() {
		return nil, fmt.Errorf("response has no data object")
	}

	page := &Page{TotalCount: data.Get("totalElements").Int()}
	if page.TotalCount < 0 {
		return nil, fmt.Errorf("negative totalElements %d", page.TotalCount)
	}

	content := data.Get("content")
	if !content.Exists() || content.Type == gjson.Null {
		return page, nil
	}
	if !content.IsArray() {
		return nil, fmt.Errorf("data.content must be an array")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(content.Raw)))
	dec.UseNumber()
	if err := dec.Decode(&page.Records); err != nil {
		return nil, fmt.Errorf("failed to decode data.content: %w", err)
	}
	return page, nil
}
