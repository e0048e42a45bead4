// Package alphavantage provides a client for the Alpha Vantage market data API.
// Alpha Vantage is the primary price source; its free tier is aggressively
// rate limited, so every request goes through a shared sliding-window budget
// and throttle responses are retried a bounded number of times.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zakatools/cri-tracker/internal/clients/ratelimit"
)

// ProviderError is returned for malformed payloads and non-throttle API failures.
type ProviderError struct {
	Message string
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("alpha vantage error: %s", e.Message)
}

// RateLimitError is returned when the API throttle persisted through all retries.
type RateLimitError struct {
	Note string
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("alpha vantage rate limit: %s", e.Note)
}

// Options tunes the client's budget and retry policy.
type Options struct {
	BaseURL        string
	CallsPerMinute int
	MaxRetries     int
	RetryDelay     time.Duration
	Timeout        time.Duration
}

// Client is the Alpha Vantage API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Window
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        zerolog.Logger
}

// NewClient creates a new Alpha Vantage client.
// A missing API key is a configuration error and fails construction.
func NewClient(apiKey string, opts Options, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ALPHA_VANTAGE_API_KEY is missing; set it in the environment or .env file")
	}

	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.alphavantage.co"
	}
	if opts.CallsPerMinute <= 0 {
		opts.CallsPerMinute = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 16 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    ratelimit.NewWindow(opts.CallsPerMinute, time.Minute),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		sleep:      sleepCtx,
		log:        log.With().Str("client", "alphavantage").Logger(),
	}, nil
}

// GetDailyClose fetches the most recent close on or before asOf, looking back
// at most lookbackDays.
func (c *Client) GetDailyClose(ctx context.Context, symbol string, asOf time.Time, lookbackDays int) (*float64, *time.Time, error) {
	if lookbackDays < 0 {
		lookbackDays = 0
	}
	start := asOf.AddDate(0, 0, -lookbackDays)

	outputSize := "compact"
	if lookbackDays > 100 {
		outputSize = "full"
	}

	payload, err := c.get(ctx, map[string]string{
		"function":   "TIME_SERIES_DAILY_ADJUSTED",
		"symbol":     strings.ToUpper(symbol),
		"outputsize": outputSize,
	})
	if err != nil {
		return nil, nil, err
	}

	rawSeries, ok := payload["Time Series (Daily)"]
	if !ok {
		return nil, nil, nil
	}
	series, ok := rawSeries.(map[string]interface{})
	if !ok {
		return nil, nil, nil
	}

	// Iterate newest-first; the first qualifying entry wins.
	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	for _, dateStr := range dates {
		entryDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if entryDate.After(asOf) || entryDate.Before(start) {
			continue
		}

		datapoint, ok := series[dateStr].(map[string]interface{})
		if !ok {
			continue
		}
		closeStr := pickString(datapoint, "5. adjusted close", "4. close", "4. Close")
		if closeStr == "" {
			continue
		}
		closeVal, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			continue
		}

		c.log.Debug().
			Str("symbol", symbol).
			Str("date", dateStr).
			Float64("close", closeVal).
			Msg("Resolved daily close")
		return &closeVal, &entryDate, nil
	}

	return nil, nil, nil
}

// get performs a rate-limited request with retries on throttle responses.
// The API signals throttling with a "Note" field in an otherwise valid
// 200 response; each such response costs a retry and a fixed delay.
func (c *Client) get(ctx context.Context, params map[string]string) (map[string]interface{}, error) {
	lastNote := "request retries exhausted"

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		payload, err := c.doRequest(ctx, params)
		if err != nil {
			return nil, err
		}

		if msg, ok := payload["Error Message"].(string); ok && msg != "" {
			return nil, ProviderError{Message: msg}
		}

		note, _ := payload["Note"].(string)
		if note == "" {
			return payload, nil
		}

		lastNote = note
		c.log.Warn().
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Msg("Alpha Vantage throttled the request, backing off")

		if attempt < c.maxRetries-1 {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, RateLimitError{Note: lastNote}
}

func (c *Client) doRequest(ctx context.Context, params map[string]string) (map[string]interface{}, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ProviderError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, ProviderError{Message: fmt.Sprintf("failed to parse response: %v", err)}
	}

	return payload, nil
}

func pickString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
