package universe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantJoined string
		wantTokens []string
	}{
		{
			name:       "strips corporate suffixes",
			in:         "Apple Inc.",
			wantJoined: "apple",
			wantTokens: []string{"apple"},
		},
		{
			name:       "strips punctuation and share class",
			in:         "Berkshire Hathaway Inc. Class B",
			wantJoined: "berkshire hathaway",
			wantTokens: []string{"berkshire", "hathaway"},
		},
		{
			name:       "keeps digits",
			in:         "3M Company",
			wantJoined: "3m",
			wantTokens: []string{"3m"},
		},
		{
			name:       "all suffixes yields empty",
			in:         "Inc Corp Ltd",
			wantJoined: "",
			wantTokens: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined, tokens := NormalizeName(tt.in)
			assert.Equal(t, tt.wantJoined, joined)
			assert.Len(t, tokens, len(tt.wantTokens))
			for _, token := range tt.wantTokens {
				assert.True(t, tokens[token], "missing token %q", token)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("apple", "apple"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	assert.Less(t, Similarity("apple", "zebra"), 0.5)
	assert.Greater(t, Similarity("microsoft", "micrsoft"), 0.85)

	// Symmetric.
	assert.InDelta(t,
		Similarity("alphabet", "alphabets"),
		Similarity("alphabets", "alphabet"), 1e-9)
}

func newTestResolver(t *testing.T, registry string) *Resolver {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, registry)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := edgar.NewClient("TestApp/0.1 (test@example.com)", nil, edgar.Options{
		WWWBaseURL:  server.URL,
		DataBaseURL: server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)

	return NewResolver(client, zerolog.Nop())
}

func TestResolveNameToTicker(t *testing.T) {
	registry := `{
		"0": {"ticker": "AAPL", "title": "Apple Inc."},
		"1": {"ticker": "MSFT", "title": "Microsoft Corporation"},
		"2": {"ticker": "BRK-B", "title": "Berkshire Hathaway Inc. Class B"},
		"3": {"ticker": "JNJ", "title": "Johnson & Johnson"}
	}`
	resolver := newTestResolver(t, registry)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact after normalization", "APPLE INC", "AAPL"},
		{"suffix noise ignored", "Microsoft Corp.", "MSFT"},
		{"multi token overlap", "Berkshire Hathaway Class A", "BRK-B"},
		{"repeated token name", "Johnson & Johnson", "JNJ"},
		{"no plausible match", "Zeta Quantum Holdings XYZ", ""},
		{"empty after normalization", "Inc. Corp.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.ResolveNameToTicker(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveNameToTicker_SimilarityFloor(t *testing.T) {
	// "US Steel" overlaps on one token only and is not similar enough
	// to "United States Steel Corporation" as a whole string.
	registry := `{
		"0": {"ticker": "X", "title": "United States Steel Corporation"}
	}`
	resolver := newTestResolver(t, registry)

	got, err := resolver.ResolveNameToTicker(context.Background(), "Steel Dynamics")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolver_ClearCacheRebuildsIndex(t *testing.T) {
	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"0": {"ticker": "AAPL", "title": "Apple Inc."}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := edgar.NewClient("TestApp/0.1 (test@example.com)", nil, edgar.Options{
		WWWBaseURL:  server.URL,
		DataBaseURL: server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)
	resolver := NewResolver(client, zerolog.Nop())

	_, err = resolver.ResolveNameToTicker(context.Background(), "Apple")
	require.NoError(t, err)
	_, err = resolver.ResolveNameToTicker(context.Background(), "Apple")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	resolver.ClearCache()
	client.ClearCache()
	_, err = resolver.ResolveNameToTicker(context.Background(), "Apple")
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}
