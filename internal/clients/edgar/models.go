package edgar

import "encoding/json"

// FundMetadata identifies a mutual fund or ETF share class in the
// fund registry: the filer's CIK plus the series and class identifiers
// that distinguish one tranche from its siblings under the same filing.
type FundMetadata struct {
	CIK      string `json:"cik"`
	SeriesID string `json:"series_id,omitempty"`
	ClassID  string `json:"class_id,omitempty"`
}

// NameEntry is one row of the company name index used for fuzzy
// name-to-ticker resolution.
type NameEntry struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// FactEntry is one dated observation of an XBRL concept. Which date
// field is populated varies by concept type, so all known variants are
// carried and the extractor picks the first present one.
type FactEntry struct {
	Val     json.Number `json:"val"`
	End     string      `json:"end,omitempty"`
	Instant string      `json:"instant,omitempty"`
	Report  string      `json:"report,omitempty"`
	Date    string      `json:"date,omitempty"`
}

// ConceptFact holds all reported values for one concept, grouped by unit.
type ConceptFact struct {
	Label string                 `json:"label,omitempty"`
	Units map[string][]FactEntry `json:"units"`
}

// CompanyFacts is the structured facts feed for one entity.
// Facts are grouped by taxonomy ("us-gaap", "dei") and then by concept.
type CompanyFacts struct {
	CIK        json.Number                       `json:"cik"`
	EntityName string                            `json:"entityName"`
	Facts      map[string]map[string]ConceptFact `json:"facts"`
}

// RecentFilings is the filing index: parallel arrays where index i
// across all slices describes one filing.
type RecentFilings struct {
	Form            []string `json:"form"`
	AccessionNumber []string `json:"accessionNumber"`
	PrimaryDocument []string `json:"primaryDocument"`
	ReportDate      []string `json:"reportDate"`
}

// Submissions is the per-entity submission history feed.
type Submissions struct {
	Name    string `json:"name"`
	Filings struct {
		Recent RecentFilings `json:"recent"`
	} `json:"filings"`
}

// mfRegistry is the wire shape of the fund registry: a column-name list
// plus rows of positional values.
type mfRegistry struct {
	Fields []string            `json:"fields"`
	Data   [][]json.RawMessage `json:"data"`
}

// companyTickersEntry is one record of the company name registry.
type companyTickersEntry struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}
