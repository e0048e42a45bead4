package valuation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/zakatools/cri-tracker/internal/modules/holdings"
)

// HoldingsSource retrieves parsed fund holdings.
type HoldingsSource interface {
	GetFundHoldings(ctx context.Context, ticker string, asOf time.Time) (*holdings.Result, error)
}

// CacheClearer is implemented by components holding process-lifetime
// indices that must reset on clear_caches.
type CacheClearer interface {
	ClearCache()
}

// Purger drops the persistent cache tables.
type Purger interface {
	PurgeAll() error
}

// Service orchestrates portfolio analysis: fans out per-entity
// computation under a bounded admission gate, memoizes results per
// (ticker, as-of) key, and isolates per-entity failures as warnings.
type Service struct {
	engine     *Engine
	holdings   HoldingsSource
	facts      FactsSource
	prices     PriceSource
	thresholds Thresholds
	log        zerolog.Logger

	sem   *semaphore.Weighted
	group singleflight.Group

	mu   sync.Mutex
	memo map[string]*CompanyValuation

	clearers []CacheClearer
	purger   Purger
}

// NewService creates the orchestrator.
func NewService(engine *Engine, holdingsSource HoldingsSource, factsSource FactsSource, priceSource PriceSource, thresholds Thresholds, log zerolog.Logger) *Service {
	maxConcurrent := thresholds.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	return &Service{
		engine:     engine,
		holdings:   holdingsSource,
		facts:      factsSource,
		prices:     priceSource,
		thresholds: thresholds,
		log:        log.With().Str("component", "orchestrator").Logger(),
		sem:        semaphore.NewWeighted(maxConcurrent),
		memo:       make(map[string]*CompanyValuation),
	}
}

// RegisterClearer adds a component to the clear_caches fan-out.
func (s *Service) RegisterClearer(c CacheClearer) {
	s.clearers = append(s.clearers, c)
}

// RegisterPurger sets the persistent cache purger.
func (s *Service) RegisterPurger(p Purger) {
	s.purger = p
}

// AnalyzePortfolio computes metrics for all direct companies and all
// funds concurrently. Individual entity failures become warnings on
// that entity's result; the only whole-request failure is cancellation.
func (s *Service) AnalyzePortfolio(ctx context.Context, req Request) (*Response, error) {
	asOf := req.AsOfDate.Time

	var companies []CompanyValuation
	var funds []FundValuation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		companies, err = s.computeCompanies(gctx, req.Portfolio, asOf)
		return err
	})
	g.Go(func() error {
		var err error
		funds, err = s.computeFunds(gctx, req.Funds, asOf)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Response{
		AnalysisID:  uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		AsOfDate:    req.AsOfDate,
		Portfolio:   companies,
		Funds:       funds,
	}, nil
}

// ClearCaches resets every memoization layer: the computed-metrics
// cache, each registered component's in-memory indices, and the
// persistent response cache.
func (s *Service) ClearCaches() error {
	s.mu.Lock()
	s.memo = make(map[string]*CompanyValuation)
	s.mu.Unlock()

	for _, c := range s.clearers {
		c.ClearCache()
	}

	if s.purger != nil {
		if err := s.purger.PurgeAll(); err != nil {
			return fmt.Errorf("failed to purge persistent caches: %w", err)
		}
	}

	s.log.Info().Msg("All caches cleared")
	return nil
}

func (s *Service) computeCompanies(ctx context.Context, inputs []CompanyInput, asOf time.Time) ([]CompanyValuation, error) {
	results := make([]CompanyValuation, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i := range inputs {
		i := i
		input := inputs[i]
		g.Go(func() error {
			valuation, err := s.companyResult(gctx, input.Ticker, asOf)
			if err != nil {
				return err
			}
			valuation.Shares = input.Shares
			results[i] = valuation
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// companyResult computes one company under the admission gate,
// converting per-entity failures into warning-only results. Only a
// cancelled context propagates as an error.
func (s *Service) companyResult(ctx context.Context, ticker string, asOf time.Time) (CompanyValuation, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))

	valuation, err := s.companyValuation(ctx, normalized, asOf)
	if err != nil {
		if ctx.Err() != nil {
			return CompanyValuation{}, ctx.Err()
		}
		warning := fmt.Sprintf("unexpected error: %v", err)
		if unavailable, ok := err.(UnavailableError); ok {
			warning = unavailable.Reason
		}
		return CompanyValuation{
			Ticker:   normalized,
			Warnings: []string{warning},
		}, nil
	}

	copied := *valuation
	return copied, nil
}

// companyValuation is the memoized per-(ticker, as-of) computation
// path. Concurrent callers for the same key share one execution.
func (s *Service) companyValuation(ctx context.Context, ticker string, asOf time.Time) (*CompanyValuation, error) {
	key := ticker + "|" + asOf.Format("2006-01-02")

	s.mu.Lock()
	cached, ok := s.memo[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		s.mu.Lock()
		cached, ok := s.memo[key]
		s.mu.Unlock()
		if ok {
			return cached, nil
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)

		valuation, err := s.engine.ComputeCompanyMetrics(ctx, ticker, asOf)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.memo[key] = valuation
		s.mu.Unlock()
		return valuation, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*CompanyValuation), nil
}

func (s *Service) computeFunds(ctx context.Context, inputs []FundInput, asOf time.Time) ([]FundValuation, error) {
	results := make([]FundValuation, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i := range inputs {
		i := i
		input := inputs[i]
		g.Go(func() error {
			fund, err := s.analyzeFund(gctx, input, asOf)
			if err != nil {
				return err
			}
			results[i] = fund
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) analyzeFund(ctx context.Context, input FundInput, asOf time.Time) (FundValuation, error) {
	ticker := strings.ToUpper(strings.TrimSpace(input.Ticker))
	currency := "USD"

	fund := FundValuation{
		Ticker:   ticker,
		Currency: &currency,
	}

	raw, err := s.fetchFundInputs(ctx, ticker, asOf, &fund)
	if err != nil {
		return FundValuation{}, err
	}

	if len(raw) == 0 {
		fund.Warnings = append(fund.Warnings, "holdings unavailable; fund holdings table will be empty")
	}

	metricsMap, err := s.holdingMetrics(ctx, raw, asOf)
	if err != nil {
		return FundValuation{}, err
	}

	var inputs []aggregateInput
	for i := range raw {
		holding := raw[i]
		hv := HoldingValuation{
			ISIN:  holding.ISIN,
			CUSIP: holding.CUSIP,
		}
		weight := holding.Weight
		hv.Weight = &weight
		if holding.Name != "" {
			name := holding.Name
			hv.Name = &name
		}

		if holding.Ticker == nil {
			hv.Warnings = append(hv.Warnings, "ticker unavailable from filings; skipped CRI computation")
		} else {
			symbol := strings.ToUpper(*holding.Ticker)
			hv.Ticker = &symbol
			company := metricsMap[symbol]
			if company == nil {
				hv.Warnings = append(hv.Warnings, "unable to compute company metrics for this holding")
			} else {
				hv.Company = company
				hv.Warnings = append(hv.Warnings, company.Warnings...)
				if company.CriToMarketPriceRatio != nil {
					ratio := *company.CriToMarketPriceRatio
					if ratio > s.thresholds.OutlierRatioMin && weight < s.thresholds.OutlierWeightMax {
						hv.Warnings = append(hv.Warnings, "excluded from aggregate CRI/price (low weight, high ratio)")
					}
					displayName := symbol
					if hv.Name != nil {
						displayName = *hv.Name
					}
					inputs = append(inputs, aggregateInput{Name: displayName, Weight: weight, Ratio: ratio})
				}
			}
		}

		fund.Holdings = append(fund.Holdings, hv)
	}

	outcome := aggregate(inputs, fund.MarketPrice, s.thresholds)
	fund.AggregateCriToMarketPriceRatio = outcome.Ratio
	fund.AggregateCriPerShare = outcome.CriPerShare
	fund.TotalWeightCovered = outcome.WeightCovered
	fund.Warnings = append(fund.Warnings, outcome.Warnings...)

	if outcome.Ratio == nil && len(fund.Holdings) > 0 {
		fund.Warnings = append(fund.Warnings, "aggregate ratio unavailable due to missing holding metrics")
	}

	return fund, nil
}

// fetchFundInputs performs the provider-facing half of fund analysis
// under the admission gate: fund name lookup, fund price resolution and
// the holdings download. The permit is released before the per-holding
// fan-out so a fund never holds a slot while waiting on its own
// holdings' company computations.
func (s *Service) fetchFundInputs(ctx context.Context, ticker string, asOf time.Time, fund *FundValuation) ([]holdings.Holding, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	fund.FundName = s.lookupFundName(ctx, ticker, fund)

	quote := s.prices.Resolve(ctx, ticker, asOf)
	fund.MarketPrice = quote.Price
	fund.PriceDate = toDate(quote.Date)
	fund.Warnings = append(fund.Warnings, quote.Warnings...)

	holdingsResult, err := s.holdings.GetFundHoldings(ctx, ticker, asOf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if unavailable, ok := err.(holdings.UnavailableError); ok {
			fund.Warnings = append(fund.Warnings, unavailable.Reason)
		} else {
			fund.Warnings = append(fund.Warnings, fmt.Sprintf("holdings lookup failed: %v", err))
		}
		return nil, nil
	}
	if holdingsResult == nil {
		return nil, nil
	}

	if holdingsResult.SeriesName != "" {
		name := holdingsResult.SeriesName
		fund.FundName = &name
	} else if holdingsResult.ClassName != "" && fund.FundName == nil {
		name := holdingsResult.ClassName
		fund.FundName = &name
	}
	return holdingsResult.Holdings, nil
}

// holdingMetrics fans out company-metric computation for each uniquely
// resolved holding ticker, reusing the memoized per-company path.
func (s *Service) holdingMetrics(ctx context.Context, raw []holdings.Holding, asOf time.Time) (map[string]*CompanyValuation, error) {
	unique := make(map[string]bool)
	for _, h := range raw {
		if h.Ticker != nil {
			unique[strings.ToUpper(*h.Ticker)] = true
		}
	}

	var mapMu sync.Mutex
	metricsMap := make(map[string]*CompanyValuation, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	for symbol := range unique {
		symbol := symbol
		g.Go(func() error {
			valuation, err := s.companyValuation(gctx, symbol, asOf)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil // per-holding failure surfaces as a missing entry
			}
			mapMu.Lock()
			metricsMap[symbol] = valuation
			mapMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return metricsMap, nil
}

func (s *Service) lookupFundName(ctx context.Context, ticker string, fund *FundValuation) *string {
	cik, err := s.facts.GetCIK(ctx, ticker)
	if err != nil || cik == "" {
		if err != nil {
			fund.Warnings = append(fund.Warnings, fmt.Sprintf("fund profile lookup failed: %v", err))
		}
		return nil
	}
	subs, err := s.facts.GetSubmissions(ctx, cik)
	if err != nil || subs == nil || subs.Name == "" {
		if err != nil {
			fund.Warnings = append(fund.Warnings, fmt.Sprintf("fund profile lookup failed: %v", err))
		}
		return nil
	}
	name := subs.Name
	return &name
}
