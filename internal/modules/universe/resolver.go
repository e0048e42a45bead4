// Package universe resolves market identifiers: ticker to regulatory
// CIK through the EDGAR registries, and free-text security names to
// tickers through fuzzy matching over the company name index.
package universe

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
)

// Match acceptance thresholds. A candidate qualifies on strong token
// overlap or near-identical similarity; the final floor keeps short
// or common names from producing false positives.
const (
	similarityAccept = 0.9
	similarityFloor  = 0.75
)

// overflowBucket collects every candidate and is scanned for all
// queries, so names whose first character was mangled still match.
const overflowBucket = "*"

type candidate struct {
	ticker     string
	normalized string
	tokens     map[string]bool
}

// Resolver maps tickers to CIKs and fuzzy-resolves names to tickers.
// The name index is built once, lazily, and lives until ClearCache.
type Resolver struct {
	edgar *edgar.Client
	log   zerolog.Logger

	mu    sync.Mutex
	index map[string][]candidate
}

// NewResolver creates a resolver backed by the EDGAR registries.
func NewResolver(edgarClient *edgar.Client, log zerolog.Logger) *Resolver {
	return &Resolver{
		edgar: edgarClient,
		log:   log.With().Str("component", "universe").Logger(),
	}
}

// GetCIK maps a ticker to its regulatory identifier, equities registry
// first, fund registry second. Returns "" when unmapped.
func (r *Resolver) GetCIK(ctx context.Context, ticker string) (string, error) {
	return r.edgar.GetCIK(ctx, ticker)
}

// FundMetadata returns series/class identifiers for a fund ticker, or
// nil when the ticker is not a registered fund share class.
func (r *Resolver) FundMetadata(ctx context.Context, ticker string) (*edgar.FundMetadata, error) {
	return r.edgar.GetFundMetadata(ctx, ticker)
}

// ResolveNameToTicker fuzzy-matches a free-text security name against
// the company name index. Returns "" when no candidate clears the
// similarity floor.
func (r *Resolver) ResolveNameToTicker(ctx context.Context, name string) (string, error) {
	normalized, tokens := NormalizeName(name)
	if normalized == "" || len(tokens) == 0 {
		return "", nil
	}

	index, err := r.loadIndex(ctx)
	if err != nil {
		return "", err
	}

	firstChar := normalized[:1]
	candidates := index[firstChar]
	if firstChar != overflowBucket {
		candidates = append(candidates, index[overflowBucket]...)
	}

	minOverlap := len(tokens)/2 + 1
	if minOverlap < 2 {
		minOverlap = 2
	}

	bestScore := 0.0
	bestTicker := ""
	for _, cand := range candidates {
		overlap := 0
		for token := range tokens {
			if cand.tokens[token] {
				overlap++
			}
		}

		similarity := Similarity(normalized, cand.normalized)
		if overlap >= minOverlap || similarity >= similarityAccept {
			if similarity > bestScore {
				bestScore = similarity
				bestTicker = cand.ticker
			}
		}
	}

	if bestScore >= similarityFloor {
		return bestTicker, nil
	}
	return "", nil
}

// ClearCache drops the name index so the next resolution rebuilds it.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = nil
}

// loadIndex builds the first-character bucketed candidate index from
// the company name registry.
func (r *Resolver) loadIndex(ctx context.Context) (map[string][]candidate, error) {
	r.mu.Lock()
	if r.index != nil {
		defer r.mu.Unlock()
		return r.index, nil
	}
	r.mu.Unlock()

	entries, err := r.edgar.GetNameIndex(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string][]candidate)
	overflow := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		normalized, tokens := NormalizeName(entry.Title)
		if normalized == "" || len(tokens) == 0 {
			continue
		}
		cand := candidate{
			ticker:     strings.ToUpper(entry.Ticker),
			normalized: normalized,
			tokens:     tokens,
		}
		firstChar := normalized[:1]
		index[firstChar] = append(index[firstChar], cand)
		overflow = append(overflow, cand)
	}
	index[overflowBucket] = overflow

	r.mu.Lock()
	r.index = index
	r.mu.Unlock()

	r.log.Info().Int("candidates", len(overflow)).Msg("Built name resolution index")
	return index, nil
}
