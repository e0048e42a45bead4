package holdings

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

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
	"github.com/zakatools/cri-tracker/internal/modules/universe"
)

const sampleSubmission = `<SEC-DOCUMENT>0001752724-24-000100.txt
<SEC-HEADER>header noise</SEC-HEADER>
<DOCUMENT>
<TYPE>NPORT-P
<XML>
<?xml version="1.0" encoding="UTF-8"?>
<edgarSubmission xmlns="http://www.sec.gov/edgar/nport" xmlns:com="http://www.sec.gov/edgar/common">
  <headerData>
    <filerInfo>
      <seriesClassInfo>
        <seriesId>S000002277</seriesId>
        <classId>C000006228</classId>
      </seriesClassInfo>
    </filerInfo>
  </headerData>
  <formData>
    <genInfo>
      <seriesName>Vanguard 500 Index Fund</seriesName>
      <seriesId>S000002277</seriesId>
    </genInfo>
    <invstOrSecs>
      <invstOrSec>
        <name>APPLE INC</name>
        <title>Apple Inc</title>
        <cusip>037833100</cusip>
        <identifiers><isin value="US0378331005"/></identifiers>
        <pctVal>7.25</pctVal>
      </invstOrSec>
      <invstOrSec>
        <name>MYSTERY HOLDING LLC</name>
        <title>Mystery Holding</title>
        <identifiers><cusip value="999999999"/></identifiers>
        <pctVal>1.10</pctVal>
      </invstOrSec>
      <invstOrSec>
        <name>NO WEIGHT CORP</name>
        <title>No Weight Corp</title>
        <pctVal>not-a-number</pctVal>
      </invstOrSec>
    </invstOrSecs>
  </formData>
</edgarSubmission>
</XML>
</DOCUMENT>
`

func TestExtractPayload(t *testing.T) {
	payload, err := ExtractPayload(sampleSubmission)
	require.NoError(t, err)
	assert.Contains(t, payload, "<edgarSubmission")
	assert.True(t, len(payload) > 0)

	_, err = ExtractPayload("no markers here")
	assert.Error(t, err)

	// An XML block without an edgarSubmission document is skipped.
	_, err = ExtractPayload("<XML>\n<?xml version=\"1.0\"?><other/>\n</XML>")
	assert.Error(t, err)
}

func TestParseDocument(t *testing.T) {
	payload, err := ExtractPayload(sampleSubmission)
	require.NoError(t, err)

	doc, err := ParseDocument(payload)
	require.NoError(t, err)

	assert.Equal(t, "Vanguard 500 Index Fund", doc.SeriesName())
	assert.Len(t, doc.Investments, 3)
	assert.True(t, doc.MatchesTarget("S000002277", "C000006228"))
	assert.True(t, doc.MatchesTarget("", ""))
	assert.False(t, doc.MatchesTarget("S000009999", ""))
	assert.False(t, doc.MatchesTarget("S000002277", "C000009999"))
}

func TestNormalizeWeight(t *testing.T) {
	assert.InDelta(t, 0.45, NormalizeWeight(45), 1e-9)
	assert.InDelta(t, 0.45, NormalizeWeight(0.45), 1e-9)
	assert.InDelta(t, 1.0, NormalizeWeight(1.0), 1e-9)
	assert.InDelta(t, 0, NormalizeWeight(0), 1e-9)
}

func TestCollectFilings(t *testing.T) {
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	recent := edgar.RecentFilings{
		Form:            []string{"NPORT-P", "10-K", "NPORT-P", "NPORT-EX", "NPORT-P"},
		AccessionNumber: []string{"acc-1", "acc-2", "acc-3", "acc-4", "acc-5"},
		PrimaryDocument: []string{"doc1.xml", "report.htm", "doc3.xml", "doc4.xml", "doc5.xml"},
		ReportDate:      []string{"2023-10-31", "2023-12-31", "2024-01-31", "2024-06-30", ""},
	}

	refs := CollectFilings(recent, asOf)
	require.Len(t, refs, 4)

	// Dated filings before as-of come first, newest first; the
	// post-as-of and undated filings trail in provider order.
	assert.Equal(t, "acc-3", refs[0].Accession)
	assert.Equal(t, "acc-1", refs[1].Accession)
	assert.Equal(t, "acc-4", refs[2].Accession)
	assert.Equal(t, "acc-5", refs[3].Accession)
}

func TestCollectFilings_NoMatches(t *testing.T) {
	recent := edgar.RecentFilings{
		Form:            []string{"10-K", "8-K"},
		AccessionNumber: []string{"a", "b"},
		PrimaryDocument: []string{"x.htm", "y.htm"},
		ReportDate:      []string{"2024-01-01", "2024-02-01"},
	}
	assert.Empty(t, CollectFilings(recent, time.Now()))
}

func newTestService(t *testing.T, mux *http.ServeMux) *Service {
	t.Helper()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := edgar.NewClient("TestApp/0.1 (test@example.com)", nil, edgar.Options{
		WWWBaseURL:  server.URL,
		DataBaseURL: server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)

	resolver := universe.NewResolver(client, zerolog.Nop())
	return NewService(client, resolver, zerolog.Nop())
}

func TestGetFundHoldings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/include/ticker.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "aapl|320193\n")
	})
	mux.HandleFunc("/files/company_tickers_mf.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"fields": ["cik", "seriesId", "classId", "symbol"],
			"data": [[36405, "S000002277", "C000006228", "VFINX"]]
		}`)
	})
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"0": {"ticker": "AAPL", "title": "Apple Inc."}}`)
	})
	mux.HandleFunc("/submissions/CIK0000036405.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"name": "VANGUARD INDEX FUNDS",
			"filings": {"recent": {
				"form": ["NPORT-P"],
				"accessionNumber": ["0001752724-24-000100"],
				"primaryDocument": ["primary_doc.xml"],
				"reportDate": ["2024-01-31"]
			}}
		}`)
	})
	mux.HandleFunc("/Archives/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleSubmission)
	})

	svc := newTestService(t, mux)
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	result, err := svc.GetFundHoldings(context.Background(), "vfinx", asOf)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "Vanguard 500 Index Fund", result.SeriesName)
	require.Len(t, result.Holdings, 2) // the unparseable weight is dropped

	apple := result.Holdings[0]
	require.NotNil(t, apple.Ticker)
	assert.Equal(t, "AAPL", *apple.Ticker)
	assert.Equal(t, "APPLE INC", apple.Name)
	assert.InDelta(t, 0.0725, apple.Weight, 1e-9)
	require.NotNil(t, apple.ISIN)
	assert.Equal(t, "US0378331005", *apple.ISIN)
	require.NotNil(t, apple.CUSIP)
	assert.Equal(t, "037833100", *apple.CUSIP)

	mystery := result.Holdings[1]
	assert.Nil(t, mystery.Ticker) // name resolves to nothing
	assert.Equal(t, "MYSTERY HOLDING LLC", mystery.Name)
	assert.InDelta(t, 0.0110, mystery.Weight, 1e-9)
	require.NotNil(t, mystery.CUSIP)
	assert.Equal(t, "999999999", *mystery.CUSIP)
}

func TestGetFundHoldings_UnknownTicker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/include/ticker.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "aapl|320193\n")
	})
	mux.HandleFunc("/files/company_tickers_mf.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"fields": ["cik", "symbol"], "data": []}`)
	})

	svc := newTestService(t, mux)

	_, err := svc.GetFundHoldings(context.Background(), "NOPE", time.Now())
	require.Error(t, err)

	var unavailable UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestGetFundHoldings_WrongShareClass(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/include/ticker.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "\n")
	})
	mux.HandleFunc("/files/company_tickers_mf.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"fields": ["cik", "seriesId", "classId", "symbol"],
			"data": [[36405, "S000099999", "C000099999", "VFINX"]]
		}`)
	})
	mux.HandleFunc("/submissions/CIK0000036405.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"filings": {"recent": {
				"form": ["NPORT-P"],
				"accessionNumber": ["0001752724-24-000100"],
				"primaryDocument": ["primary_doc.xml"],
				"reportDate": ["2024-01-31"]
			}}
		}`)
	})
	mux.HandleFunc("/Archives/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleSubmission)
	})

	svc := newTestService(t, mux)

	_, err := svc.GetFundHoldings(context.Background(), "VFINX", time.Now())
	require.Error(t, err)

	var unavailable UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, unavailable.Reason, "share class")
}
