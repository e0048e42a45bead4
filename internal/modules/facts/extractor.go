// Package facts extracts dated financial values from the structured
// company-facts feed, normalizing units to absolute amounts.
package facts

import (
	"sort"
	"time"

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
)

// USDUnits are the acceptable currency unit labels, in preference order.
var USDUnits = []string{
	"USD",
	"USDm",
	"USDmm",
	"USD$",
	"USDth",
	"USDThousands",
	"USDmillions",
	"USDMillions",
}

// ShareUnits are the acceptable share-count unit labels.
var ShareUnits = []string{
	"shares",
	"Shares",
	"SHARES",
	"sharesOutstanding",
}

// unitMultipliers scale reported values to absolute amounts.
// Units not listed here are taken at face value.
var unitMultipliers = map[string]float64{
	"USD":          1.0,
	"USD$":         1.0,
	"USDm":         1_000_000.0,
	"USDmm":        1_000_000.0,
	"USDmillions":  1_000_000.0,
	"USDMillions":  1_000_000.0,
	"USDth":        1_000.0,
	"USDThousands": 1_000.0,
}

// ConceptRef names one concept candidate within a taxonomy.
type ConceptRef struct {
	Taxonomy string
	Name     string
}

// Concept candidate lists for the liquidity components. Ordered by how
// directly each concept captures the component; the first concept with
// any reported values wins.
var (
	CashConcepts = []ConceptRef{
		{"us-gaap", "CashAndCashEquivalentsAtCarryingValue"},
		{"us-gaap", "CashAndCashEquivalentsIncludingRestrictedCash"},
		{"us-gaap", "CashAndShortTermInvestments"},
	}
	ReceivablesConcepts = []ConceptRef{
		{"us-gaap", "AccountsReceivableNetCurrent"},
		{"us-gaap", "AccountsReceivableTradeNetCurrent"},
		{"us-gaap", "ReceivablesNetCurrent"},
	}
	InventoryConcepts = []ConceptRef{
		{"us-gaap", "InventoryNet"},
		{"us-gaap", "InventoryFinishedGoods"},
		{"us-gaap", "InventoryRawMaterials"},
	}
	SharesConcepts = []ConceptRef{
		{"dei", "EntityCommonStockSharesOutstanding"},
		{"us-gaap", "EntityCommonStockSharesOutstanding"},
		{"us-gaap", "CommonStockSharesOutstanding"},
		{"us-gaap", "WeightedAverageNumberOfDilutedSharesOutstanding"},
		{"us-gaap", "WeightedAverageNumberOfSharesOutstandingBasic"},
	}
)

// Extract returns the best dated value for the first concept candidate
// with reported data, scaled to absolute units. Within the chosen unit
// it prefers the most recent entry dated on or before asOf; if none
// qualifies it falls back to the first entry in provider order, even if
// that entry postdates asOf. Returns (nil, nil) when no candidate has
// usable data.
func Extract(facts *edgar.CompanyFacts, concepts []ConceptRef, units []string, asOf time.Time) (*float64, *time.Time) {
	if facts == nil || facts.Facts == nil {
		return nil, nil
	}

	for _, ref := range concepts {
		taxonomy, ok := facts.Facts[ref.Taxonomy]
		if !ok {
			continue
		}
		concept, ok := taxonomy[ref.Name]
		if !ok || len(concept.Units) == 0 {
			continue
		}

		unitKey, entries := selectEntries(concept.Units, units)
		if len(entries) == 0 {
			continue
		}

		selected := selectEntry(entries, asOf)
		if selected == nil {
			continue
		}

		value, err := selected.Val.Float64()
		if err != nil {
			continue
		}

		multiplier, ok := unitMultipliers[unitKey]
		if !ok {
			multiplier = 1.0
		}
		scaled := value * multiplier
		date := parseFactDate(selected)
		return &scaled, date
	}

	return nil, nil
}

// selectEntries picks the first preferred unit with data, falling back
// to any unit that has entries. The fallback scans unit keys in sorted
// order so the choice is stable across runs.
func selectEntries(unitMap map[string][]edgar.FactEntry, preferred []string) (string, []edgar.FactEntry) {
	for _, unit := range preferred {
		if entries := unitMap[unit]; len(entries) > 0 {
			return unit, entries
		}
	}

	keys := make([]string, 0, len(unitMap))
	for unit := range unitMap {
		keys = append(keys, unit)
	}
	sort.Strings(keys)

	for _, unit := range keys {
		if entries := unitMap[unit]; len(entries) > 0 {
			return unit, entries
		}
	}
	return "", nil
}

// selectEntry prefers the most recent dated entry on or before asOf,
// else the first raw entry.
func selectEntry(entries []edgar.FactEntry, asOf time.Time) *edgar.FactEntry {
	var best *edgar.FactEntry
	var bestDate time.Time

	for i := range entries {
		date := parseFactDate(&entries[i])
		if date == nil || date.After(asOf) {
			continue
		}
		if best == nil || date.After(bestDate) {
			best = &entries[i]
			bestDate = *date
		}
	}

	if best != nil {
		return best
	}
	return &entries[0]
}

// parseFactDate tries the known date field variants in a fixed order.
func parseFactDate(entry *edgar.FactEntry) *time.Time {
	for _, raw := range []string{entry.End, entry.Instant, entry.Report, entry.Date} {
		if raw == "" {
			continue
		}
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			return &parsed
		}
	}
	return nil
}
