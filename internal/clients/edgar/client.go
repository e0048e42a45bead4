// Package edgar provides a client for the SEC EDGAR data feeds: ticker
// registries, structured company facts, submission histories and raw
// filing archives. Responses are cached persistently so repeated
// analyses do not hammer the regulator's servers.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zakatools/cri-tracker/internal/clientdata"
)

const (
	tickerMapPath       = "/include/ticker.txt"
	fundRegistryPath    = "/files/company_tickers_mf.json"
	companyRegistryPath = "/files/company_tickers.json"
)

const (
	registryKeyEquities = "equities"
	registryKeyFunds    = "funds"
	registryKeyNames    = "names"
)

// Options tunes the client. The two base URLs exist because EDGAR
// splits its feeds across www.sec.gov and data.sec.gov.
type Options struct {
	WWWBaseURL  string
	DataBaseURL string
	Timeout     time.Duration
}

// Client is the SEC EDGAR client. All registry loads are lazy and the
// parsed indices live for the process lifetime until ClearCache.
type Client struct {
	wwwBaseURL  string
	dataBaseURL string
	httpClient  *http.Client
	cache       *clientdata.Repository
	log         zerolog.Logger

	mu          sync.Mutex
	tickerMap   map[string]string
	fundMap     map[string]FundMetadata
	nameIndex   []NameEntry
	factsMem    map[string]*CompanyFacts
	submissions map[string]*Submissions
}

// NewClient creates a new EDGAR client. The SEC requires a descriptive
// User-Agent on every request; a missing one is a configuration error.
func NewClient(userAgent string, cache *clientdata.Repository, opts Options, log zerolog.Logger) (*Client, error) {
	if userAgent == "" {
		return nil, fmt.Errorf("SEC_USER_AGENT is required; set it to something like 'MyApp/0.1 (your-email@example.com)'")
	}

	if opts.WWWBaseURL == "" {
		opts.WWWBaseURL = "https://www.sec.gov"
	}
	if opts.DataBaseURL == "" {
		opts.DataBaseURL = "https://data.sec.gov"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	return &Client{
		wwwBaseURL:  opts.WWWBaseURL,
		dataBaseURL: opts.DataBaseURL,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &userAgentTransport{userAgent: userAgent, base: http.DefaultTransport},
		},
		cache:       cache,
		log:         log.With().Str("client", "edgar").Logger(),
		factsMem:    make(map[string]*CompanyFacts),
		submissions: make(map[string]*Submissions),
	}, nil
}

// userAgentTransport stamps the required User-Agent onto every request.
// Accept-Encoding is left to the transport so gzip stays transparent.
type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NormalizeCIK zero-pads a CIK to the 10 digits the EDGAR URLs expect.
func NormalizeCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if n, err := strconv.Atoi(cik); err == nil {
		return fmt.Sprintf("%010d", n)
	}
	if len(cik) < 10 {
		return strings.Repeat("0", 10-len(cik)) + cik
	}
	return cik
}

// GetCIK maps a ticker to its CIK, checking the equities registry first
// and the fund registry second. Returns "" when the ticker is unknown.
func (c *Client) GetCIK(ctx context.Context, ticker string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))

	tickers, err := c.loadTickerMap(ctx)
	if err != nil {
		return "", err
	}
	if cik, ok := tickers[normalized]; ok {
		return cik, nil
	}

	funds, err := c.loadFundMap(ctx)
	if err != nil {
		return "", err
	}
	if meta, ok := funds[normalized]; ok {
		return meta.CIK, nil
	}
	return "", nil
}

// GetFundMetadata returns series/class identifiers for a fund ticker,
// or nil when the ticker is not in the fund registry.
func (c *Client) GetFundMetadata(ctx context.Context, ticker string) (*FundMetadata, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))

	funds, err := c.loadFundMap(ctx)
	if err != nil {
		return nil, err
	}
	if meta, ok := funds[normalized]; ok {
		copied := meta
		return &copied, nil
	}
	return nil, nil
}

// GetNameIndex returns the company name registry rows for fuzzy
// name resolution.
func (c *Client) GetNameIndex(ctx context.Context) ([]NameEntry, error) {
	c.mu.Lock()
	if c.nameIndex != nil {
		defer c.mu.Unlock()
		return c.nameIndex, nil
	}
	c.mu.Unlock()

	raw, err := c.fetchRegistry(ctx, c.wwwBaseURL+companyRegistryPath, registryKeyNames)
	if err != nil {
		return nil, err
	}

	var payload map[string]companyTickersEntry
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse company registry: %w", err)
	}

	entries := make([]NameEntry, 0, len(payload))
	for _, e := range payload {
		if e.Ticker == "" || e.Title == "" {
			continue
		}
		entries = append(entries, NameEntry{Ticker: strings.ToUpper(e.Ticker), Title: e.Title})
	}

	c.mu.Lock()
	c.nameIndex = entries
	c.mu.Unlock()

	c.log.Info().Int("entries", len(entries)).Msg("Loaded company name index")
	return entries, nil
}

// GetCompanyFacts fetches the structured facts feed for a CIK.
// Returns nil, nil when EDGAR has no facts for the entity (HTTP 404).
func (c *Client) GetCompanyFacts(ctx context.Context, cik string) (*CompanyFacts, error) {
	cikNorm := NormalizeCIK(cik)

	c.mu.Lock()
	if facts, ok := c.factsMem[cikNorm]; ok {
		c.mu.Unlock()
		return facts, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%s.json", c.dataBaseURL, cikNorm)
	raw, err := c.fetchJSON(ctx, url, "edgar_facts", cikNorm, clientdata.TTLFacts)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		c.mu.Lock()
		c.factsMem[cikNorm] = nil
		c.mu.Unlock()
		return nil, nil
	}

	var facts CompanyFacts
	if err := json.Unmarshal(raw, &facts); err != nil {
		return nil, fmt.Errorf("failed to parse company facts for CIK %s: %w", cikNorm, err)
	}

	c.mu.Lock()
	c.factsMem[cikNorm] = &facts
	c.mu.Unlock()
	return &facts, nil
}

// GetSubmissions fetches the submission history for a CIK.
// Returns nil, nil when EDGAR has no history for the entity (HTTP 404).
func (c *Client) GetSubmissions(ctx context.Context, cik string) (*Submissions, error) {
	cikNorm := NormalizeCIK(cik)

	c.mu.Lock()
	if subs, ok := c.submissions[cikNorm]; ok {
		c.mu.Unlock()
		return subs, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.dataBaseURL, cikNorm)
	raw, err := c.fetchJSON(ctx, url, "edgar_submissions", cikNorm, clientdata.TTLSubmissions)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		c.mu.Lock()
		c.submissions[cikNorm] = nil
		c.mu.Unlock()
		return nil, nil
	}

	var subs Submissions
	if err := json.Unmarshal(raw, &subs); err != nil {
		return nil, fmt.Errorf("failed to parse submissions for CIK %s: %w", cikNorm, err)
	}

	c.mu.Lock()
	c.submissions[cikNorm] = &subs
	c.mu.Unlock()
	return &subs, nil
}

// DownloadSubmissionText downloads the full text of one filing from the
// EDGAR archive. The archive path uses the un-padded CIK and the
// accession number with dashes stripped.
func (c *Client) DownloadSubmissionText(ctx context.Context, cik, accession string) (string, error) {
	baseCIK := strings.TrimLeft(NormalizeCIK(cik), "0")
	if baseCIK == "" {
		baseCIK = "0"
	}
	noDashes := strings.ReplaceAll(accession, "-", "")

	url := fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s.txt", c.wwwBaseURL, baseCIK, noDashes, accession)

	body, status, err := c.doGet(ctx, url)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("archive returned status %d for accession %s", status, accession)
	}
	return string(body), nil
}

// ClearCache drops all in-memory registries and feed snapshots so the
// next call reloads from source (or from the persistent cache if fresh).
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickerMap = nil
	c.fundMap = nil
	c.nameIndex = nil
	c.factsMem = make(map[string]*CompanyFacts)
	c.submissions = make(map[string]*Submissions)
}

// loadTickerMap parses the flat equities registry. Lines are
// "ticker<sep>cik" with the separator autodetected per line: pipe, tab,
// or a run of whitespace.
func (c *Client) loadTickerMap(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	if c.tickerMap != nil {
		defer c.mu.Unlock()
		return c.tickerMap, nil
	}
	c.mu.Unlock()

	raw, err := c.fetchRegistry(ctx, c.wwwBaseURL+tickerMapPath, registryKeyEquities)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var ticker, cik string
		switch {
		case strings.Contains(line, "|"):
			parts := strings.SplitN(line, "|", 2)
			ticker, cik = parts[0], parts[1]
		case strings.Contains(line, "\t"):
			parts := strings.SplitN(line, "\t", 2)
			ticker, cik = parts[0], parts[1]
		default:
			parts := strings.Fields(line)
			if len(parts) != 2 {
				continue
			}
			ticker, cik = parts[0], parts[1]
		}

		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		cik = strings.TrimSpace(cik)
		if ticker != "" && cik != "" {
			mapping[ticker] = NormalizeCIK(cik)
		}
	}

	c.mu.Lock()
	c.tickerMap = mapping
	c.mu.Unlock()

	c.log.Info().Int("tickers", len(mapping)).Msg("Loaded equities registry")
	return mapping, nil
}

// loadFundMap parses the fund registry: a column-name list plus rows of
// positional values, indexed through an explicit name-to-column map.
func (c *Client) loadFundMap(ctx context.Context) (map[string]FundMetadata, error) {
	c.mu.Lock()
	if c.fundMap != nil {
		defer c.mu.Unlock()
		return c.fundMap, nil
	}
	c.mu.Unlock()

	raw, err := c.fetchRegistry(ctx, c.wwwBaseURL+fundRegistryPath, registryKeyFunds)
	if err != nil {
		return nil, err
	}

	var payload mfRegistry
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse fund registry: %w", err)
	}

	indexMap := make(map[string]int, len(payload.Fields))
	for i, field := range payload.Fields {
		indexMap[field] = i
	}

	mapping := make(map[string]FundMetadata)
	symbolIdx, hasSymbol := indexMap["symbol"]
	cikIdx, hasCIK := indexMap["cik"]
	if hasSymbol && hasCIK {
		for _, row := range payload.Data {
			symbol := strings.ToUpper(strings.TrimSpace(cellString(row, symbolIdx)))
			cik := strings.TrimSpace(cellString(row, cikIdx))
			if symbol == "" || cik == "" {
				continue
			}

			entry := FundMetadata{CIK: NormalizeCIK(cik)}
			if idx, ok := indexMap["seriesId"]; ok {
				entry.SeriesID = strings.TrimSpace(cellString(row, idx))
			}
			if idx, ok := indexMap["classId"]; ok {
				entry.ClassID = strings.TrimSpace(cellString(row, idx))
			}
			mapping[symbol] = entry
		}
	}

	c.mu.Lock()
	c.fundMap = mapping
	c.mu.Unlock()

	c.log.Info().Int("funds", len(mapping)).Msg("Loaded fund registry")
	return mapping, nil
}

// cellString decodes a positional registry cell, tolerating both string
// and numeric JSON values.
func cellString(row []json.RawMessage, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	var s string
	if err := json.Unmarshal(row[idx], &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(row[idx], &n); err == nil {
		return n.String()
	}
	return ""
}

// fetchRegistry fetches a registry feed cache-first. The raw payload is
// persisted so a restart does not re-download multi-megabyte feeds.
func (c *Client) fetchRegistry(ctx context.Context, url, key string) ([]byte, error) {
	if c.cache != nil {
		cached, err := c.cache.GetIfFresh("edgar_registry", key)
		if err != nil {
			c.log.Warn().Err(err).Str("registry", key).Msg("Cache read failed")
		} else if cached != nil {
			var body string
			if err := json.Unmarshal(cached, &body); err == nil {
				return []byte(body), nil
			}
		}
	}

	body, status, err := c.doGet(ctx, url)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("registry %s returned status %d", key, status)
	}

	if c.cache != nil {
		if err := c.cache.Store("edgar_registry", key, string(body), clientdata.TTLRegistry); err != nil {
			c.log.Warn().Err(err).Str("registry", key).Msg("Cache write failed")
		}
	}
	return body, nil
}

// fetchJSON fetches a JSON feed cache-first. A 404 is a valid answer
// ("the entity has no such feed") and returns nil without error.
func (c *Client) fetchJSON(ctx context.Context, url, table, key string, ttl time.Duration) (json.RawMessage, error) {
	if c.cache != nil {
		cached, err := c.cache.GetIfFresh(table, key)
		if err != nil {
			c.log.Warn().Err(err).Str("table", table).Msg("Cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	body, status, err := c.doGet(ctx, url)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("edgar returned status %d for %s", status, url)
	}

	if c.cache != nil {
		if err := c.cache.Store(table, key, json.RawMessage(body), ttl); err != nil {
			c.log.Warn().Err(err).Str("table", table).Msg("Cache write failed")
		}
	}
	return json.RawMessage(body), nil
}

func (c *Client) doGet(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
