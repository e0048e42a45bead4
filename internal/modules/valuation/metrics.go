package valuation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
	"github.com/zakatools/cri-tracker/internal/modules/facts"
	"github.com/zakatools/cri-tracker/internal/modules/prices"
)

// UnavailableError signals that no financial data exists for a ticker:
// the registry has no identifier or the facts feed has no entry.
type UnavailableError struct {
	Reason string
}

func (e UnavailableError) Error() string {
	return e.Reason
}

// FactsSource is the regulatory data surface the engine needs.
type FactsSource interface {
	GetCIK(ctx context.Context, ticker string) (string, error)
	GetCompanyFacts(ctx context.Context, cik string) (*edgar.CompanyFacts, error)
	GetSubmissions(ctx context.Context, cik string) (*edgar.Submissions, error)
}

// SharesSource provides the fallback shares-outstanding figure.
type SharesSource interface {
	GetSharesOutstanding(ctx context.Context, symbol string) (*float64, error)
}

// PriceSource resolves a market price with its own fallback chain.
type PriceSource interface {
	Resolve(ctx context.Context, ticker string, asOf time.Time) prices.Quote
}

// Engine computes per-company liquidity metrics.
type Engine struct {
	facts      FactsSource
	shares     SharesSource
	prices     PriceSource
	thresholds Thresholds
	log        zerolog.Logger
}

// NewEngine creates a metrics engine.
func NewEngine(factsSource FactsSource, sharesSource SharesSource, priceSource PriceSource, thresholds Thresholds, log zerolog.Logger) *Engine {
	return &Engine{
		facts:      factsSource,
		shares:     sharesSource,
		prices:     priceSource,
		thresholds: thresholds,
		log:        log.With().Str("component", "valuation").Logger(),
	}
}

// ComputeCompanyMetrics builds the liquidity profile for one ticker as
// of a date. Missing balance-sheet components are treated as zero in
// the CRI sum, each with a warning. Returns UnavailableError when the
// ticker has no identifier or no facts at all.
func (e *Engine) ComputeCompanyMetrics(ctx context.Context, ticker string, asOf time.Time) (*CompanyValuation, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var warnings []string

	cik, err := e.facts.GetCIK(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if cik == "" {
		return nil, UnavailableError{Reason: "could not map ticker to a regulatory identifier"}
	}

	companyFacts, err := e.facts.GetCompanyFacts(ctx, cik)
	if err != nil {
		return nil, err
	}
	if companyFacts == nil {
		return nil, UnavailableError{Reason: "no structured financial facts available for this ticker"}
	}

	cash, cashDate := facts.Extract(companyFacts, facts.CashConcepts, facts.USDUnits, asOf)
	receivables, receivablesDate := facts.Extract(companyFacts, facts.ReceivablesConcepts, facts.USDUnits, asOf)
	inventories, inventoriesDate := facts.Extract(companyFacts, facts.InventoryConcepts, facts.USDUnits, asOf)
	shares, sharesDate := facts.Extract(companyFacts, facts.SharesConcepts, facts.ShareUnits, asOf)

	for _, component := range []struct {
		label string
		value *float64
	}{
		{"cash and equivalents", cash},
		{"receivables", receivables},
		{"inventories", inventories},
	} {
		if component.value == nil {
			warnings = append(warnings, fmt.Sprintf("%s unavailable in regulatory filings", component.label))
		}
	}

	shares, sharesDate, shareWarnings := e.resolveShares(ctx, ticker, asOf, shares, sharesDate)
	warnings = append(warnings, shareWarnings...)

	companyName := e.lookupCompanyName(ctx, cik)
	currency := "USD"

	quote := e.prices.Resolve(ctx, ticker, asOf)
	warnings = append(warnings, quote.Warnings...)

	var criPerShare, criRatio *float64
	numerator := 0.0
	for _, v := range []*float64{cash, receivables, inventories} {
		if v != nil {
			numerator += *v
		}
	}

	if shares != nil && *shares > 0 {
		perShare := numerator / *shares
		criPerShare = &perShare
		if quote.Price != nil && *quote.Price > 0 {
			ratio := perShare / *quote.Price
			criRatio = &ratio
		}
	} else {
		warnings = append(warnings, "shares outstanding unavailable; CRI per share not computed")
	}

	result := &CompanyValuation{
		Ticker:                ticker,
		CompanyName:           companyName,
		Currency:              &currency,
		DataDate:              latestDate(cashDate, receivablesDate, inventoriesDate),
		PriceDate:             toDate(quote.Date),
		CashAndEquivalents:    cash,
		Receivables:           receivables,
		Inventories:           inventories,
		MarketPrice:           quote.Price,
		SharesOutstanding:     shares,
		CriPerShare:           criPerShare,
		CriToMarketPriceRatio: criRatio,
		Warnings:              warnings,
	}

	e.log.Debug().
		Str("ticker", ticker).
		Str("as_of", asOf.Format("2006-01-02")).
		Msg("Computed company metrics")
	return result, nil
}

// resolveShares applies the staleness policy: the regulator-reported
// count is used unless absent or older than ShareStaleDays, in which
// case the secondary provider's reference figure replaces it. A stale
// figure with no working fallback yields no share count at all.
func (e *Engine) resolveShares(ctx context.Context, ticker string, asOf time.Time, shares *float64, sharesDate *time.Time) (*float64, *time.Time, []string) {
	var warnings []string

	stale := false
	if shares != nil && sharesDate != nil {
		age := asOf.Sub(*sharesDate)
		stale = age > time.Duration(e.thresholds.ShareStaleDays)*24*time.Hour
	}

	if shares != nil && !stale {
		return shares, sharesDate, nil
	}

	if stale {
		warnings = append(warnings, "regulator-reported shares outstanding appear stale; attempting reference data fallback")
	}

	fallback, err := e.shares.GetSharesOutstanding(ctx, ticker)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("shares fallback lookup failed: %v", err))
		fallback = nil
	}

	if fallback != nil {
		warnings = append(warnings, "shares outstanding sourced from market reference data")
		return fallback, nil, warnings
	}

	if stale {
		warnings = append(warnings, "stale regulator shares discarded and reference data unavailable")
		return nil, nil, warnings
	}
	return shares, sharesDate, warnings
}

func (e *Engine) lookupCompanyName(ctx context.Context, cik string) *string {
	subs, err := e.facts.GetSubmissions(ctx, cik)
	if err != nil || subs == nil || subs.Name == "" {
		return nil
	}
	name := subs.Name
	return &name
}

func latestDate(dates ...*time.Time) *Date {
	var latest *time.Time
	for _, d := range dates {
		if d == nil {
			continue
		}
		if latest == nil || d.After(*latest) {
			latest = d
		}
	}
	return toDate(latest)
}

func toDate(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := NewDate(*t)
	return &d
}
