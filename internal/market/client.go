package market

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

	"github.com/mercatorlabs/marketsync/internal/retry"
)

// Config holds marketplace API client settings
type Config struct {
	BaseURL         string        `toml:"base_url"`
	APIKey          string        `toml:"api_key"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	PageSize        int           `toml:"page_size"`
	PollInterval    time.Duration `toml:"poll_interval"`
	MaxPollAttempts int           `toml:"max_poll_attempts"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestTimeout:  30 * time.Second,
		PageSize:        200,
		PollInterval:    15 * time.Second,
		MaxPollAttempts: 40,
	}
}

// Page is one page of items from a paged fetch.
// An empty NextCursor means the last page has been reached.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
}

// Report states returned by PollReport
const (
	ReportPending = "pending"
	ReportReady   = "ready"
	ReportFailed  = "failed"
)

// ReportStatus is the current state of a requested marketplace report
type ReportStatus struct {
	State       string `json:"status"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Client is the surface of the marketplace API this system consumes.
// Every call is a transient-failure candidate for the retry policy;
// implementations classify their errors accordingly.
type Client interface {
	FetchPage(ctx context.Context, kind, cursor string) (*Page, error)
	CreateReport(ctx context.Context, kind string) (string, error)
	PollReport(ctx context.Context, handle string) (*ReportStatus, error)
}

// APIError is a non-2xx response from the marketplace
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market: api returned %d: %s", e.StatusCode, e.Body)
}

// HTTPClient talks to the marketplace REST API.
// Timeouts and 5xx responses come back wrapped as retry.Transient;
// other 4xx responses are retry.Fatal, since repeating a rejected
// request cannot succeed.
type HTTPClient struct {
	config Config
	http   *http.Client
}

// NewHTTPClient creates a client for the configured marketplace
func NewHTTPClient(config Config) (*HTTPClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("market: base_url must be specified")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("market: invalid base_url: %w", err)
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}

	return &HTTPClient{
		config: config,
		http: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// FetchPage retrieves one page of the given kind starting at cursor
func (c *HTTPClient) FetchPage(ctx context.Context, kind, cursor string) (*Page, error) {
	endpoint := fmt.Sprintf("%s/v1/%s", c.config.BaseURL, url.PathEscape(kind))

	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.config.PageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var page Page
	if err := c.get(ctx, endpoint+"?"+query.Encode(), &page); err != nil {
		return nil, fmt.Errorf("fetch %s page: %w", kind, err)
	}

	return &page, nil
}

// CreateReport requests asynchronous generation of a report and returns
// its handle for polling
func (c *HTTPClient) CreateReport(ctx context.Context, kind string) (string, error) {
	endpoint := c.config.BaseURL + "/v1/reports"

	body, err := json.Marshal(map[string]string{"kind": kind})
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("market: encode report request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &created); err != nil {
		return "", fmt.Errorf("create %s report: %w", kind, err)
	}
	if created.ID == "" {
		return "", retry.Fatal(fmt.Errorf("market: report created without an id"))
	}

	return created.ID, nil
}

// PollReport checks the state of a previously created report
func (c *HTTPClient) PollReport(ctx context.Context, handle string) (*ReportStatus, error) {
	endpoint := fmt.Sprintf("%s/v1/reports/%s", c.config.BaseURL, url.PathEscape(handle))

	var status ReportStatus
	if err := c.get(ctx, endpoint, &status); err != nil {
		return nil, fmt.Errorf("poll report %s: %w", handle, err)
	}

	return &status, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Fatal(err)
	}
	c.authorize(req)
	return c.do(req, out)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// do executes the request and decodes the response, classifying failures
// for the retry policy
func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Connection failures and client-side timeouts are environmental
		return retry.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.Transient(apiErr)
		}
		return retry.Fatal(apiErr)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A malformed body from a 2xx response is most likely a proxy or
		// gateway mangling the payload
		return retry.Transient(fmt.Errorf("market: decode response: %w", err))
	}

	return nil
}
