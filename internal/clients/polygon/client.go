// Package polygon provides a client for the Polygon.io market data API.
// Polygon serves two roles: fallback price source when Alpha Vantage is
// throttled, and reference source for shares outstanding when filings
// are stale.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProviderError is returned for API failures and malformed payloads.
type ProviderError struct {
	Message string
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("polygon error: %s", e.Message)
}

// Options tunes the client.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the Polygon.io API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Polygon client.
// A missing API key is a configuration error and fails construction.
func NewClient(apiKey string, opts Options, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("POLYGON_API_KEY is missing; set it in the environment or .env file")
	}

	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.polygon.io"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        log.With().Str("client", "polygon").Logger(),
	}, nil
}

type aggsResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Timestamp int64   `json:"t"` // Unix epoch milliseconds
		Close     float64 `json:"c"`
	} `json:"results"`
}

// GetDailyClose fetches the most recent daily close on or before asOf,
// looking back at most lookbackDays.
func (c *Client) GetDailyClose(ctx context.Context, symbol string, asOf time.Time, lookbackDays int) (*float64, *time.Time, error) {
	if lookbackDays < 0 {
		lookbackDays = 0
	}
	start := asOf.AddDate(0, 0, -lookbackDays)

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=desc&limit=%d",
		strings.ToUpper(symbol),
		start.Format("2006-01-02"),
		asOf.Format("2006-01-02"),
		lookbackDays+1,
	)

	var payload aggsResponse
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, nil, err
	}

	// Results arrive newest-first; take the first bar inside the range.
	// The as-of bound is re-checked because the API treats the range
	// endpoints loosely around market holidays.
	for _, bar := range payload.Results {
		barDate := time.UnixMilli(bar.Timestamp).UTC().Truncate(24 * time.Hour)
		if barDate.After(asOf) || barDate.Before(start) {
			continue
		}
		closeVal := bar.Close
		c.log.Debug().
			Str("symbol", symbol).
			Str("date", barDate.Format("2006-01-02")).
			Float64("close", closeVal).
			Msg("Resolved daily close")
		return &closeVal, &barDate, nil
	}

	return nil, nil, nil
}

type tickerDetailsResponse struct {
	Status  string `json:"status"`
	Results struct {
		WeightedSharesOutstanding   *float64 `json:"weighted_shares_outstanding"`
		ShareClassSharesOutstanding *float64 `json:"share_class_shares_outstanding"`
	} `json:"results"`
}

// GetSharesOutstanding fetches a reference share count for a ticker.
// Weighted shares outstanding are preferred over the share-class count.
// Returns nil when the endpoint reports neither.
func (c *Client) GetSharesOutstanding(ctx context.Context, symbol string) (*float64, error) {
	path := fmt.Sprintf("/v3/reference/tickers/%s", strings.ToUpper(symbol))

	var payload tickerDetailsResponse
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	if v := payload.Results.WeightedSharesOutstanding; v != nil && *v > 0 {
		return v, nil
	}
	if v := payload.Results.ShareClassSharesOutstanding; v != nil && *v > 0 {
		return v, nil
	}
	return nil, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	url := c.baseURL + path + sep + "apiKey=" + c.apiKey

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ProviderError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ProviderError{Message: fmt.Sprintf("failed to parse response: %v", err)}
	}

	return nil
}
