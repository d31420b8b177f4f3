// Package analytics reads the user analytics document from the backend API.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gematik/zero-dash/pkg/metrics"
)

// Counts are JSON numbers and decode as float64, so 1e3 and 10.0 are valid.
type Report struct {
	TotalActiveUsers   float64          `json:"totalActiveUsers"`
	TotalNewSignups    float64          `json:"totalNewSignups"`
	TotalPageViews     float64          `json:"totalPageViews"`
	AvgSessionDuration float64          `json:"avgSessionDuration"`
	UserAnalytics      []DailyAnalytics `json:"userAnalytics"`
}

type DailyAnalytics struct {
	Date               string  `json:"date"`
	ActiveUsers        float64 `json:"activeUsers"`
	NewSignups         float64 `json:"newSignups"`
	PageViews          float64 `json:"pageViews"`
	AvgSessionDuration float64 `json:"avgSessionDuration"`
}

// DataFetchError is returned for any failed fetch. Its message is the one
// shown to the user, the cause is kept for logging.
type DataFetchError struct {
	StatusCode int
	Err        error
}

func (e *DataFetchError) Error() string {
	return "Failed to fetch data"
}

func (e *DataFetchError) Unwrap() error {
	return e.Err
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	metrics    *metrics.Metrics
}

// NewClient creates a client for GET <baseURL><path>. httpClient is expected
// to carry the session token, see package authorizer.
func NewClient(httpClient *http.Client, baseURL, path string, m *metrics.Metrics) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url: %q", baseURL)
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		metrics:    m,
	}, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Fetch returns the analytics document. A null document yields (nil, nil).
func (c *Client) Fetch(ctx context.Context) (*Report, error) {
	report, err := c.fetch(ctx)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
		slog.Error("API call failed", "url", c.endpoint, "error", err)
	case report == nil:
		outcome = "empty"
	}
	if c.metrics != nil {
		c.metrics.AnalyticsFetches.WithLabelValues(outcome).Inc()
	}
	return report, err
}

func (c *Client) fetch(ctx context.Context) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, &DataFetchError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DataFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &DataFetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var report *Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, &DataFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode analytics: %w", err)}
	}
	return report, nil
}

// FormatCount renders n with thousands separators. Fractions are kept,
// trailing zeros are not: 1200 -> "1,200", 1234.5 -> "1,234.5".
func FormatCount(n float64) string {
	return humanize.Commaf(n)
}

// FormatSeconds renders a duration in seconds with two decimals, e.g. "30.50s".
func FormatSeconds(seconds float64) string {
	return fmt.Sprintf("%.2fs", seconds)
}
