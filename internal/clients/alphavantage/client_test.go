package alphavantage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-key", Options{
		BaseURL:        server.URL,
		CallsPerMinute: 100,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)

	// No real backoff in tests.
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return client, server
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("", Options{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALPHA_VANTAGE_API_KEY")
}

func TestGetDailyClose(t *testing.T) {
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		body      string
		wantClose *float64
		wantDate  string
	}{
		{
			name: "prefers adjusted close",
			body: `{"Time Series (Daily)": {
				"2024-03-14": {"4. close": "100.00", "5. adjusted close": "99.50"},
				"2024-03-13": {"4. close": "98.00", "5. adjusted close": "97.75"}
			}}`,
			wantClose: floatPtr(99.50),
			wantDate:  "2024-03-14",
		},
		{
			name: "falls back to raw close",
			body: `{"Time Series (Daily)": {
				"2024-03-14": {"4. close": "100.00"}
			}}`,
			wantClose: floatPtr(100.00),
			wantDate:  "2024-03-14",
		},
		{
			name: "skips entries after the as-of date",
			body: `{"Time Series (Daily)": {
				"2024-03-18": {"4. close": "105.00"},
				"2024-03-14": {"4. close": "100.00"}
			}}`,
			wantClose: floatPtr(100.00),
			wantDate:  "2024-03-14",
		},
		{
			name:      "no series in payload",
			body:      `{"Meta Data": {"2. Symbol": "AAPL"}}`,
			wantClose: nil,
		},
		{
			name: "all entries outside the lookback",
			body: `{"Time Series (Daily)": {
				"2020-01-02": {"4. close": "50.00"}
			}}`,
			wantClose: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
				assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
				fmt.Fprint(w, tt.body)
			})

			closeVal, date, err := client.GetDailyClose(context.Background(), "aapl", asOf, 120)
			require.NoError(t, err)

			if tt.wantClose == nil {
				assert.Nil(t, closeVal)
				assert.Nil(t, date)
				return
			}

			require.NotNil(t, closeVal)
			require.NotNil(t, date)
			assert.InDelta(t, *tt.wantClose, *closeVal, 1e-9)
			assert.Equal(t, tt.wantDate, date.Format("2006-01-02"))
		})
	}
}

func TestGetDailyClose_OutputSize(t *testing.T) {
	var gotSize string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSize = r.URL.Query().Get("outputsize")
		fmt.Fprint(w, `{}`)
	})

	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	_, _, err := client.GetDailyClose(context.Background(), "AAPL", asOf, 60)
	require.NoError(t, err)
	assert.Equal(t, "compact", gotSize)

	_, _, err = client.GetDailyClose(context.Background(), "AAPL", asOf, 120)
	require.NoError(t, err)
	assert.Equal(t, "full", gotSize)
}

func TestGetDailyClose_APIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Error Message": "Invalid API call"}`)
	})

	_, _, err := client.GetDailyClose(context.Background(), "BOGUS", time.Now(), 120)
	require.Error(t, err)

	var provErr ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Message, "Invalid API call")
}

func TestGetDailyClose_RateLimitRetriesThenFails(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`)
	})

	_, _, err := client.GetDailyClose(context.Background(), "AAPL", time.Now(), 120)
	require.Error(t, err)

	var rlErr RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 3, requests)
}

func TestGetDailyClose_RateLimitThenRecovers(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprint(w, `{"Note": "rate limited"}`)
			return
		}
		fmt.Fprint(w, `{"Time Series (Daily)": {"2024-03-14": {"4. close": "100.00"}}}`)
	})

	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	closeVal, _, err := client.GetDailyClose(context.Background(), "AAPL", asOf, 120)
	require.NoError(t, err)
	require.NotNil(t, closeVal)
	assert.InDelta(t, 100.00, *closeVal, 1e-9)
	assert.Equal(t, 2, requests)
}

func TestGetDailyClose_HTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server exploded", http.StatusInternalServerError)
	})

	_, _, err := client.GetDailyClose(context.Background(), "AAPL", time.Now(), 120)
	require.Error(t, err)

	var provErr ProviderError
	assert.ErrorAs(t, err, &provErr)
}

func floatPtr(f float64) *float64 { return &f }
