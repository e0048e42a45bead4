package holdings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
	"github.com/zakatools/cri-tracker/internal/modules/universe"
)

// UnavailableError signals that holdings could not be retrieved for a
// fund: no identifier, no filings, or no filing matching the target
// share class. Callers convert it into a per-fund warning.
type UnavailableError struct {
	Reason string
}

func (e UnavailableError) Error() string {
	return e.Reason
}

// Holding is one constituent of a fund with its portfolio weight.
// Ticker is nil when name resolution found no match; such holdings are
// kept in output but excluded from aggregate math.
type Holding struct {
	Ticker *string `json:"ticker"`
	Name   string  `json:"name"`
	ISIN   *string `json:"isin,omitempty"`
	CUSIP  *string `json:"cusip,omitempty"`
	Weight float64 `json:"weight"`
}

// Result is the parsed holdings of one fund filing.
type Result struct {
	Holdings   []Holding
	SeriesName string
	ClassName  string
}

// FilingRef points at one filing in the EDGAR archive.
type FilingRef struct {
	Accession  string
	PrimaryDoc string
}

// Service retrieves and parses fund holdings filings.
type Service struct {
	edgar    *edgar.Client
	resolver *universe.Resolver
	log      zerolog.Logger
}

// NewService creates a holdings service.
func NewService(edgarClient *edgar.Client, resolver *universe.Resolver, log zerolog.Logger) *Service {
	return &Service{
		edgar:    edgarClient,
		resolver: resolver,
		log:      log.With().Str("component", "holdings").Logger(),
	}
}

// GetFundHoldings locates the applicable portfolio filing for a fund as
// of the given date and returns its parsed holdings.
func (s *Service) GetFundHoldings(ctx context.Context, ticker string, asOf time.Time) (*Result, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	cik, err := s.edgar.GetCIK(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if cik == "" {
		return nil, UnavailableError{Reason: "could not map fund ticker to a regulatory identifier"}
	}

	subs, err := s.edgar.GetSubmissions(ctx, cik)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		return nil, UnavailableError{Reason: "no submission history available for this fund"}
	}

	var targetSeries, targetClass string
	meta, err := s.edgar.GetFundMetadata(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		targetSeries = meta.SeriesID
		targetClass = meta.ClassID
	}

	candidates := CollectFilings(subs.Filings.Recent, asOf)
	if len(candidates) == 0 {
		return nil, UnavailableError{Reason: "no portfolio filings found for this fund"}
	}

	doc, err := s.selectTargetFiling(ctx, cik, candidates, targetSeries, targetClass)
	if err != nil {
		return nil, err
	}

	result := &Result{
		SeriesName: doc.SeriesName(),
		ClassName:  doc.ClassName(),
	}
	for i := range doc.Investments {
		if holding, ok := s.parseHolding(ctx, &doc.Investments[i]); ok {
			result.Holdings = append(result.Holdings, holding)
		}
	}

	s.log.Debug().
		Str("ticker", ticker).
		Int("holdings", len(result.Holdings)).
		Msg("Parsed fund holdings")
	return result, nil
}

// selectTargetFiling downloads and parses candidates in priority order
// until one matches the target share class. Individual parse failures
// are swallowed; only total failure is an error.
func (s *Service) selectTargetFiling(ctx context.Context, cik string, candidates []FilingRef, targetSeries, targetClass string) (*Document, error) {
	var lastErr error

	for _, ref := range candidates {
		text, err := s.edgar.DownloadSubmissionText(ctx, cik, ref.Accession)
		if err != nil {
			lastErr = err
			continue
		}
		payload, err := ExtractPayload(text)
		if err != nil {
			lastErr = err
			continue
		}
		doc, err := ParseDocument(payload)
		if err != nil {
			lastErr = err
			continue
		}
		if doc.MatchesTarget(targetSeries, targetClass) {
			return doc, nil
		}
	}

	if targetSeries != "" || targetClass != "" {
		return nil, UnavailableError{Reason: "no portfolio filing matched the requested share class"}
	}
	if lastErr != nil {
		return nil, UnavailableError{Reason: fmt.Sprintf("unable to retrieve fund holdings: %v", lastErr)}
	}
	return nil, UnavailableError{Reason: "no portfolio filings found for this fund"}
}

// parseHolding converts one raw investment record. Records without a
// parseable weight are dropped.
func (s *Service) parseHolding(ctx context.Context, inv *Investment) (Holding, bool) {
	pct, err := strconv.ParseFloat(strings.TrimSpace(inv.PctVal), 64)
	if err != nil {
		return Holding{}, false
	}
	weight := NormalizeWeight(pct / 100)

	name := strings.TrimSpace(inv.Name)
	if name == "" {
		name = strings.TrimSpace(inv.Title)
	}

	var isin, cusip *string
	if v := strings.TrimSpace(inv.Identifiers.ISIN.Value); v != "" {
		isin = &v
	}
	if v := strings.TrimSpace(inv.Identifiers.CUSIP.Value); v != "" {
		cusip = &v
	} else if v := strings.TrimSpace(inv.CUSIP); v != "" {
		cusip = &v
	}

	var resolvedTicker *string
	if name != "" {
		resolved, err := s.resolver.ResolveNameToTicker(ctx, name)
		if err != nil {
			s.log.Warn().Err(err).Str("name", name).Msg("Name resolution failed")
		} else if resolved != "" {
			resolvedTicker = &resolved
		}
	}

	display := name
	if display == "" && resolvedTicker != nil {
		display = *resolvedTicker
	}

	return Holding{
		Ticker: resolvedTicker,
		Name:   display,
		ISIN:   isin,
		CUSIP:  cusip,
		Weight: weight,
	}, true
}

// CollectFilings scans the filing index for portfolio filings.
// Filings dated on or before asOf come first, most recent first;
// undated or later filings follow in their original provider order.
func CollectFilings(recent edgar.RecentFilings, asOf time.Time) []FilingRef {
	type dated struct {
		date time.Time
		ref  FilingRef
	}

	var datedRefs []dated
	seen := make(map[FilingRef]bool)

	n := len(recent.Form)
	for i := 0; i < n; i++ {
		if i >= len(recent.AccessionNumber) || i >= len(recent.PrimaryDocument) {
			break
		}
		form := recent.Form[i]
		accession := recent.AccessionNumber[i]
		primaryDoc := recent.PrimaryDocument[i]
		if form == "" || accession == "" || primaryDoc == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(form), "NPORT") {
			continue
		}

		var reportDate time.Time
		if i < len(recent.ReportDate) {
			if parsed, err := time.Parse("2006-01-02", recent.ReportDate[i]); err == nil {
				reportDate = parsed
			}
		}
		if !reportDate.IsZero() && !reportDate.After(asOf) {
			datedRefs = append(datedRefs, dated{
				date: reportDate,
				ref:  FilingRef{Accession: accession, PrimaryDoc: primaryDoc},
			})
		}
	}

	sort.SliceStable(datedRefs, func(a, b int) bool {
		return datedRefs[a].date.After(datedRefs[b].date)
	})

	var results []FilingRef
	for _, d := range datedRefs {
		if !seen[d.ref] {
			results = append(results, d.ref)
			seen[d.ref] = true
		}
	}

	// Remaining portfolio filings in provider order, as a fallback when
	// nothing predates the as-of date.
	for i := 0; i < n; i++ {
		if i >= len(recent.AccessionNumber) || i >= len(recent.PrimaryDocument) {
			break
		}
		form := recent.Form[i]
		accession := recent.AccessionNumber[i]
		primaryDoc := recent.PrimaryDocument[i]
		if form == "" || accession == "" || primaryDoc == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToUpper(form), "NPORT") {
			continue
		}
		ref := FilingRef{Accession: accession, PrimaryDoc: primaryDoc}
		if !seen[ref] {
			results = append(results, ref)
			seen[ref] = true
		}
	}

	return results
}
