// Package prices resolves a market price for a ticker as of a date,
// trying the primary provider first and falling back to the secondary.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zakatools/cri-tracker/internal/clientdata"
)

// Source is a daily-close price provider.
type Source interface {
	GetDailyClose(ctx context.Context, symbol string, asOf time.Time, lookbackDays int) (*float64, *time.Time, error)
}

// Cache persists resolved quotes so a repeated (ticker, as-of) lookup
// skips the provider chain. Implemented by clientdata.Repository.
type Cache interface {
	GetIfFresh(table, key string) (json.RawMessage, error)
	Store(table, key string, data interface{}, ttl time.Duration) error
}

const cacheTable = "price_history"

// cachedQuote is the persisted form of a successful resolution.
type cachedQuote struct {
	Price float64   `json:"price"`
	Date  time.Time `json:"date"`
}

// Quote is a resolved price with its accumulated lookup warnings.
// Price and Date are nil when both providers failed; that is a valid
// outcome, never an error.
type Quote struct {
	Price    *float64
	Date     *time.Time
	Warnings []string
}

// Resolver chains the two price providers.
type Resolver struct {
	primary          Source
	fallback         Source
	primaryLookback  int
	fallbackLookback int
	cache            Cache
	log              zerolog.Logger
}

// NewResolver creates a price resolver. Lookbacks are in days.
func NewResolver(primary, fallback Source, primaryLookback, fallbackLookback int, log zerolog.Logger) *Resolver {
	return &Resolver{
		primary:          primary,
		fallback:         fallback,
		primaryLookback:  primaryLookback,
		fallbackLookback: fallbackLookback,
		log:              log.With().Str("component", "prices").Logger(),
	}
}

// SetCache enables persistent quote caching.
func (r *Resolver) SetCache(cache Cache) {
	r.cache = cache
}

// Resolve looks up the most recent close on or before asOf. Any primary
// failure, including exhausted rate-limit retries, records a warning and
// triggers the fallback provider. Successful resolutions are cached per
// (ticker, as-of) pair; historical closes never change.
func (r *Resolver) Resolve(ctx context.Context, ticker string, asOf time.Time) Quote {
	var quote Quote

	cacheKey := ticker + "|" + asOf.Format("2006-01-02")
	if cached := r.fromCache(cacheKey); cached != nil {
		return *cached
	}

	price, date, err := r.primary.GetDailyClose(ctx, ticker, asOf, r.primaryLookback)
	switch {
	case err != nil:
		quote.Warnings = append(quote.Warnings, fmt.Sprintf("primary price lookup failed: %v", err))
	case price == nil || date == nil:
		quote.Warnings = append(quote.Warnings, "no price data available on or before the requested date")
	default:
		quote.Price = price
		quote.Date = date
		r.toCache(cacheKey, quote)
		return quote
	}

	quote.Warnings = append(quote.Warnings, "falling back to secondary provider for price data")

	price, date, err = r.fallback.GetDailyClose(ctx, ticker, asOf, r.fallbackLookback)
	switch {
	case err != nil:
		quote.Warnings = append(quote.Warnings, fmt.Sprintf("fallback price lookup failed: %v", err))
	case price == nil || date == nil:
		quote.Warnings = append(quote.Warnings, "fallback provider had no price data on or before the requested date")
	default:
		quote.Price = price
		quote.Date = date
		r.toCache(cacheKey, quote)
	}

	if quote.Price == nil {
		r.log.Warn().Str("ticker", ticker).Msg("Price unavailable from both providers")
	}
	return quote
}

func (r *Resolver) fromCache(key string) *Quote {
	if r.cache == nil {
		return nil
	}

	raw, err := r.cache.GetIfFresh(cacheTable, key)
	if err != nil {
		r.log.Debug().Err(err).Str("key", key).Msg("Price cache read failed")
		return nil
	}
	if raw == nil {
		return nil
	}

	var cached cachedQuote
	if err := json.Unmarshal(raw, &cached); err != nil {
		r.log.Debug().Err(err).Str("key", key).Msg("Price cache entry malformed")
		return nil
	}

	price := cached.Price
	date := cached.Date
	return &Quote{Price: &price, Date: &date}
}

func (r *Resolver) toCache(key string, quote Quote) {
	if r.cache == nil || quote.Price == nil || quote.Date == nil {
		return
	}

	entry := cachedQuote{Price: *quote.Price, Date: *quote.Date}
	if err := r.cache.Store(cacheTable, key, entry, clientdata.TTLPriceHistory); err != nil {
		r.log.Debug().Err(err).Str("key", key).Msg("Price cache write failed")
	}
}
