// Package valuation computes per-company liquidity metrics and
// per-fund weighted aggregates for a portfolio as of a historical date.
package valuation

import (
	"fmt"
	"strings"
	"time"
)

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate builds a Date from a time, truncated to the day.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CompanyInput is one direct equity position in the request.
type CompanyInput struct {
	Ticker string   `json:"ticker"`
	Shares *float64 `json:"shares,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

// FundInput is one fund or ETF position in the request.
type FundInput struct {
	Ticker string   `json:"ticker"`
	Amount *float64 `json:"amount,omitempty"`
}

// Request is a portfolio analysis request.
type Request struct {
	AsOfDate  Date           `json:"as_of_date"`
	Portfolio []CompanyInput `json:"portfolio"`
	Funds     []FundInput    `json:"funds"`
}

// CompanyValuation is the computed liquidity profile of one company.
type CompanyValuation struct {
	Ticker                string   `json:"ticker"`
	CompanyName           *string  `json:"company_name,omitempty"`
	Currency              *string  `json:"currency,omitempty"`
	DataDate              *Date    `json:"data_date,omitempty"`
	PriceDate             *Date    `json:"price_date,omitempty"`
	CashAndEquivalents    *float64 `json:"cash_and_equivalents,omitempty"`
	Receivables           *float64 `json:"receivables,omitempty"`
	Inventories           *float64 `json:"inventories,omitempty"`
	MarketPrice           *float64 `json:"market_price,omitempty"`
	SharesOutstanding     *float64 `json:"shares_outstanding,omitempty"`
	CriPerShare           *float64 `json:"cri_per_share,omitempty"`
	CriToMarketPriceRatio *float64 `json:"cri_to_market_price_ratio,omitempty"`
	Shares                *float64 `json:"shares,omitempty"`
	Warnings              []string `json:"warnings"`
}

// HoldingValuation is one fund constituent with its computed metrics.
type HoldingValuation struct {
	Ticker   *string           `json:"ticker"`
	Name     *string           `json:"name"`
	ISIN     *string           `json:"isin,omitempty"`
	CUSIP    *string           `json:"cusip,omitempty"`
	Weight   *float64          `json:"weight"`
	Company  *CompanyValuation `json:"company,omitempty"`
	Warnings []string          `json:"warnings"`
}

// FundValuation is the aggregate liquidity profile of one fund.
type FundValuation struct {
	Ticker                         string             `json:"ticker"`
	FundName                       *string            `json:"fund_name,omitempty"`
	Currency                       *string            `json:"currency,omitempty"`
	MarketPrice                    *float64           `json:"market_price,omitempty"`
	PriceDate                      *Date              `json:"price_date,omitempty"`
	AggregateCriPerShare           *float64           `json:"aggregate_cri_per_share,omitempty"`
	AggregateCriToMarketPriceRatio *float64           `json:"aggregate_cri_to_market_price_ratio,omitempty"`
	TotalWeightCovered             *float64           `json:"total_weight_covered,omitempty"`
	Holdings                       []HoldingValuation `json:"holdings"`
	Warnings                       []string           `json:"warnings"`
}

// Response is the full analysis result.
type Response struct {
	AnalysisID  string             `json:"analysis_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	AsOfDate    Date               `json:"as_of_date"`
	Portfolio   []CompanyValuation `json:"portfolio"`
	Funds       []FundValuation    `json:"funds"`
}

// Thresholds are the tunable heuristics of the metrics engine. The
// defaults mirror long-standing behavior; they are configuration, not
// derived values.
type Thresholds struct {
	// ShareStaleDays is how far a reported share count may predate the
	// as-of date before it is considered stale.
	ShareStaleDays int
	// OutlierRatioMin and OutlierWeightMax define the aggregate
	// exclusion rule: a holding is excluded when its ratio exceeds
	// OutlierRatioMin while its weight is below OutlierWeightMax.
	OutlierRatioMin  float64
	OutlierWeightMax float64
	// CoverageWarnBelow attaches a coverage warning when the included
	// weight sum falls under this fraction.
	CoverageWarnBelow float64
	// MaxConcurrent bounds simultaneous per-entity computations.
	MaxConcurrent int64
}

// DefaultThresholds returns the standard heuristic settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShareStaleDays:    540,
		OutlierRatioMin:   1.0,
		OutlierWeightMax:  0.02,
		CoverageWarnBelow: 0.95,
		MaxConcurrent:     10,
	}
}
