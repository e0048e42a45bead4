package facts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zakatools/cri-tracker/internal/clients/edgar"
)

func factsFromJSON(t *testing.T, raw string) *edgar.CompanyFacts {
	t.Helper()
	var facts edgar.CompanyFacts
	require.NoError(t, json.Unmarshal([]byte(raw), &facts))
	return &facts
}

func asOf(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return parsed
}

func TestExtract_PicksMostRecentBeforeAsOf(t *testing.T) {
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"InventoryNet": {"units": {"USD": [
			{"val": 10, "end": "2023-06-30"},
			{"val": 30, "end": "2024-06-30"},
			{"val": 20, "end": "2023-12-31"}
		]}}
	}}}`)

	value, date := Extract(facts, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
	require.NotNil(t, value)
	assert.InDelta(t, 20, *value, 1e-9)
	assert.Equal(t, "2023-12-31", date.Format("2006-01-02"))
}

func TestExtract_NeverFutureWhenPastExists(t *testing.T) {
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"InventoryNet": {"units": {"USD": [
			{"val": 99, "end": "2024-09-30"},
			{"val": 11, "end": "2024-01-31"}
		]}}
	}}}`)

	target := asOf(t, "2024-03-15")
	value, date := Extract(facts, InventoryConcepts, USDUnits, target)
	require.NotNil(t, value)
	assert.InDelta(t, 11, *value, 1e-9)
	assert.False(t, date.After(target))
}

func TestExtract_FallsBackToFirstRawEntry(t *testing.T) {
	// Every entry postdates as-of: best-effort fallback takes the first.
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"InventoryNet": {"units": {"USD": [
			{"val": 42, "end": "2025-06-30"},
			{"val": 43, "end": "2025-09-30"}
		]}}
	}}}`)

	value, date := Extract(facts, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
	require.NotNil(t, value)
	assert.InDelta(t, 42, *value, 1e-9)
	assert.Equal(t, "2025-06-30", date.Format("2006-01-02"))
}

func TestExtract_UnitScaling(t *testing.T) {
	tests := []struct {
		unit string
		val  float64
		want float64
	}{
		{"USD", 100, 100},
		{"USDth", 100, 100_000},
		{"USDThousands", 100, 100_000},
		{"USDm", 100, 100_000_000},
		{"USDMillions", 100, 100_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			facts := &edgar.CompanyFacts{
				Facts: map[string]map[string]edgar.ConceptFact{
					"us-gaap": {
						"InventoryNet": {Units: map[string][]edgar.FactEntry{
							tt.unit: {{Val: json.Number("100"), End: "2024-01-31"}},
						}},
					},
				},
			}

			value, _ := Extract(facts, InventoryConcepts, []string{tt.unit}, asOf(t, "2024-03-15"))
			require.NotNil(t, value)
			assert.InDelta(t, tt.want, *value, 1e-9)
		})
	}
}

func TestExtract_ConceptPriorityOrder(t *testing.T) {
	// The first concept with any data wins even if a later concept has
	// fresher entries.
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"CashAndCashEquivalentsAtCarryingValue": {"units": {"USD": [
			{"val": 500, "end": "2023-06-30"}
		]}},
		"CashAndShortTermInvestments": {"units": {"USD": [
			{"val": 900, "end": "2024-02-28"}
		]}}
	}}}`)

	value, _ := Extract(facts, CashConcepts, USDUnits, asOf(t, "2024-03-15"))
	require.NotNil(t, value)
	assert.InDelta(t, 500, *value, 1e-9)
}

func TestExtract_SharesFromDeiTaxonomy(t *testing.T) {
	facts := factsFromJSON(t, `{"facts": {"dei": {
		"EntityCommonStockSharesOutstanding": {"units": {"shares": [
			{"val": 1000000, "end": "2024-01-31"}
		]}}
	}}}`)

	value, date := Extract(facts, SharesConcepts, ShareUnits, asOf(t, "2024-03-15"))
	require.NotNil(t, value)
	assert.InDelta(t, 1_000_000, *value, 1e-9)
	assert.Equal(t, "2024-01-31", date.Format("2006-01-02"))
}

func TestExtract_InstantDateField(t *testing.T) {
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"InventoryNet": {"units": {"USD": [
			{"val": 7, "instant": "2024-01-31"}
		]}}
	}}}`)

	value, date := Extract(facts, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
	require.NotNil(t, value)
	assert.InDelta(t, 7, *value, 1e-9)
	assert.Equal(t, "2024-01-31", date.Format("2006-01-02"))
}

func TestExtract_NoData(t *testing.T) {
	value, date := Extract(nil, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
	assert.Nil(t, value)
	assert.Nil(t, date)

	empty := factsFromJSON(t, `{"facts": {"us-gaap": {}}}`)
	value, date = Extract(empty, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
	assert.Nil(t, value)
	assert.Nil(t, date)
}

func TestExtract_AnyUnitFallback(t *testing.T) {
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"InventoryNet": {"units": {"EUR": [
			{"val": 55, "end": "2024-01-31"}
		]}}
	}}}`)

	value, _ := Extract(facts, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
	require.NotNil(t, value)
	assert.InDelta(t, 55, *value, 1e-9)
}

func TestExtract_AnyUnitFallbackIsDeterministic(t *testing.T) {
	// Several non-preferred units with data: the fallback must pick the
	// same unit on every run, not whichever the map yields first.
	facts := factsFromJSON(t, `{"facts": {"us-gaap": {
		"InventoryNet": {"units": {
			"GBP": [{"val": 99, "end": "2024-01-31"}],
			"EUR": [{"val": 55, "end": "2024-01-31"}],
			"JPY": [{"val": 77, "end": "2024-01-31"}]
		}}
	}}}`)

	for i := 0; i < 20; i++ {
		value, _ := Extract(facts, InventoryConcepts, USDUnits, asOf(t, "2024-03-15"))
		require.NotNil(t, value)
		assert.InDelta(t, 55, *value, 1e-9, "sorted-first unit must win every time")
	}
}
