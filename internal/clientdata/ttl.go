package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Registry feeds change when listings change; a daily refresh is plenty.
	TTLRegistry = 24 * time.Hour

	// Company facts and submissions update with filings.
	TTLFacts       = 24 * time.Hour
	TTLSubmissions = 24 * time.Hour

	// Historical closes for a fixed (ticker, as-of) pair never change,
	// but a bounded TTL keeps the cache from growing without limit.
	TTLPriceHistory = 7 * 24 * time.Hour
)
