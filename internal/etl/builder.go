// Package etl orchestrates the incremental load of the sales star schema:
// extract, reconcile returns, synchronize dimensions, resolve keys, validate,
// and replace the fact batch.
package etl

import (
	"log/slog"

	"github.com/maugp/salescube/internal/model"
	"github.com/shopspring/decimal"
)

// currencyAliases maps legacy source currency codes to the canonical codes
// stored in dim_currency.
var currencyAliases = map[string]string{
	"COL": "CRC",
	"¢":   "CRC",
	"US$": "USD",
	"DOL": "USD",
}

// DimensionMaps carries the complete natural-key → entry mappings produced
// by dimension synchronization, keyed by normalized natural key.
type DimensionMaps struct {
	Customers    map[string]model.DimensionEntry
	Products     map[string]model.DimensionEntry
	Salespersons map[string]model.DimensionEntry
	Warehouses   map[string]model.DimensionEntry
	Countries    map[string]model.DimensionEntry
	Currencies   map[string]model.DimensionEntry
}

// BuildStats counts the fallback decisions taken while resolving keys.
type BuildStats struct {
	ProductFallbacks    int
	UnresolvedCustomers int
}

// FactBuilder resolves reconciled lines against the dimension maps and emits
// fact rows tagged with the feed's provenance string.
type FactBuilder struct {
	maps            DimensionMaps
	customerCountry map[string]string
	sourceTag       string
}

// NewFactBuilder creates a builder over synchronized dimension maps.
// customerCountry maps normalized customer codes to normalized ISO2 codes
// and may be nil.
func NewFactBuilder(maps DimensionMaps, customerCountry map[string]string, sourceTag string) *FactBuilder {
	return &FactBuilder{maps: maps, customerCountry: customerCountry, sourceTag: sourceTag}
}

// Build emits one fact row per reconciled line. Rows are never dropped here:
// an unresolvable product falls back to the lowest existing surrogate key,
// a missing warehouse code resolves to the sentinel, and optional keys stay
// null. Unresolvable required keys are left at zero for the validator to
// reject.
func (b *FactBuilder) Build(lines []model.ReconciledSalesLine) ([]model.FactRow, BuildStats) {
	var stats BuildStats
	fallbackProduct, haveFallback := lowestSurrogate(b.maps.Products)

	rows := make([]model.FactRow, 0, len(lines))
	for i := range lines {
		line := &lines[i]
		row := model.FactRow{
			DateKey:      model.DateKey(line.ResolvedDate),
			Quantity:     line.Quantity,
			TotalUSD:     line.Amount,
			TotalCRC:     decimal.NullDecimal{},
			SourceSystem: b.sourceTag,
			SourceDocID:  line.ResolvedDocID,
		}

		custKey := model.NormalizeKey(line.CustomerCode)
		if entry, ok := b.maps.Customers[custKey]; ok {
			row.CustomerSK = entry.SK
		} else {
			stats.UnresolvedCustomers++
		}

		if entry, ok := b.maps.Products[model.NormalizeKey(line.ItemCode)]; ok {
			row.ProductSK = entry.SK
		} else if haveFallback {
			row.ProductSK = fallbackProduct
			stats.ProductFallbacks++
			slog.Debug("Product key unresolved, using fallback surrogate",
				"item_code", line.ItemCode,
				"fallback", fallbackProduct)
		}

		if line.SalespersonCode != "" {
			if entry, ok := b.maps.Salespersons[model.NormalizeKey(line.SalespersonCode)]; ok {
				sk := entry.SK
				row.SalespersonSK = &sk
			}
		}

		row.WarehouseSK = model.WarehouseSentinel.SK
		if line.WarehouseCode != "" {
			if entry, ok := b.maps.Warehouses[model.NormalizeKey(line.WarehouseCode)]; ok {
				row.WarehouseSK = entry.SK
			}
		}

		if iso2, ok := b.customerCountry[custKey]; ok {
			if entry, ok := b.maps.Countries[iso2]; ok {
				sk := entry.SK
				row.CountrySK = &sk
			}
		}

		if code := CanonicalCurrency(line.CurrencyCode); code != "" {
			if entry, ok := b.maps.Currencies[code]; ok {
				sk := entry.SK
				row.CurrencySK = &sk
			}
		}

		rows = append(rows, row)
	}

	return rows, stats
}

// CanonicalCurrency normalizes a source currency code, mapping legacy
// aliases to their canonical dim_currency code.
func CanonicalCurrency(code string) string {
	norm := model.NormalizeKey(code)
	if canonical, ok := currencyAliases[norm]; ok {
		return canonical
	}
	return norm
}

func lowestSurrogate(entries map[string]model.DimensionEntry) (int64, bool) {
	var lowest int64
	found := false
	for _, entry := range entries {
		if !found || entry.SK < lowest {
			lowest = entry.SK
			found = true
		}
	}
	return lowest, found
}
