// Package aggfeed loads the monthly aggregated sales export, a JSON feed of
// per-item totals with no document identity. Its rows land in the same fact
// table as the transactional load, under their own provenance tag, attached
// to a synthetic customer and first-of-month dates.
package aggfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/etl"
	"github.com/maugp/salescube/internal/model"
	"github.com/maugp/salescube/internal/timedim"
	"github.com/maugp/salescube/internal/warehouse"
	"github.com/shopspring/decimal"
)

// SourceTag marks fact rows owned by this feed. Reruns replace only rows
// carrying it; the transactional load's tag is untouched.
const SourceTag = "AGG_VENTAS_USD_JSON"

const (
	syntheticCustomerCode = "C_JSON"
	syntheticCustomerName = "Aggregated JSON sales"
	productBrand          = "AGG_JSON"
	currencyCode          = "USD"
)

// MonthBlock is one month of aggregated sales. Field names follow the
// upstream export.
type MonthBlock struct {
	Sales []Entry `json:"ventas"`
	Year  int     `json:"anio"`
	Month int     `json:"mes"`
}

// Entry is one item's monthly total.
type Entry struct {
	Item     string          `json:"item"`
	Quantity decimal.Decimal `json:"cantidad"`
	Price    decimal.Decimal `json:"precio"`
}

// Report summarizes one feed load.
type Report struct {
	Months        int
	Entries       int
	NewProducts   int
	NewDates      int
	FactsDeleted  int64
	FactsInserted int
}

// Load reads the JSON export and replaces this feed's fact rows. Products it
// introduces are added to dim_product with the feed's brand; the synthetic
// customer and the USD currency row are created on first use.
func Load(ctx context.Context, wh *warehouse.Warehouse, path string) (*Report, error) {
	blocks, err := readFeed(path)
	if err != nil {
		return nil, err
	}

	report := &Report{Months: len(blocks)}
	for _, b := range blocks {
		report.Entries += len(b.Sales)
	}

	maps, err := syncDimensions(ctx, wh, blocks, report)
	if err != nil {
		return nil, err
	}

	dates := make([]time.Time, 0, len(blocks))
	for _, b := range blocks {
		dates = append(dates, time.Date(b.Year, time.Month(b.Month), 1, 0, 0, 0, 0, time.UTC))
	}
	newDates, err := timedim.EnsureDates(ctx, wh, dates)
	if err != nil {
		return nil, err
	}
	report.NewDates = newDates

	batch := buildFacts(blocks, maps)
	if err := etl.ValidateBatch(batch); err != nil {
		return nil, err
	}

	loadReport, err := wh.ReplaceFacts(ctx, SourceTag, batch)
	if loadReport != nil {
		report.FactsDeleted = loadReport.Deleted
		report.FactsInserted = loadReport.Inserted
	}
	if err != nil {
		return report, err
	}

	slog.Info("Aggregate feed loaded",
		"months", report.Months,
		"entries", report.Entries,
		"facts", report.FactsInserted)
	return report, nil
}

func readFeed(path string) ([]MonthBlock, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read feed %s: %v", common.ErrExtractionFailed, path, err)
	}

	var blocks []MonthBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("%w: failed to parse feed %s: %v", common.ErrExtractionFailed, path, err)
	}

	for i, b := range blocks {
		if b.Year < 1900 || b.Year > 9999 || b.Month < 1 || b.Month > 12 {
			return nil, fmt.Errorf("%w: block %d: invalid period %d-%d", common.ErrValidationFailed, i, b.Year, b.Month)
		}
		for j, e := range b.Sales {
			if e.Item == "" {
				return nil, fmt.Errorf("%w: block %d entry %d: empty item code", common.ErrValidationFailed, i, j)
			}
		}
	}
	return blocks, nil
}

// syncDimensions upserts the feed's products plus the synthetic customer, the
// warehouse sentinel, and the USD currency row.
func syncDimensions(ctx context.Context, wh *warehouse.Warehouse, blocks []MonthBlock, report *Report) (etl.DimensionMaps, error) {
	var maps etl.DimensionMaps

	var products []model.DimensionRecord
	seen := make(map[string]bool)
	for _, b := range blocks {
		for _, e := range b.Sales {
			norm := model.NormalizeKey(e.Item)
			if seen[norm] {
				continue
			}
			seen[norm] = true
			products = append(products, model.DimensionRecord{
				NaturalKey: e.Item,
				Attributes: []string{e.Item, productBrand},
			})
		}
	}

	before, err := wh.SyncDimension(ctx, model.DimProduct, nil)
	if err != nil {
		return maps, err
	}
	maps.Products, err = wh.SyncDimension(ctx, model.DimProduct, products)
	if err != nil {
		return maps, err
	}
	report.NewProducts = len(maps.Products) - len(before)

	maps.Customers, err = wh.SyncDimension(ctx, model.DimCustomer, []model.DimensionRecord{
		{NaturalKey: syntheticCustomerCode, Attributes: []string{syntheticCustomerName, ""}},
	})
	if err != nil {
		return maps, err
	}

	maps.Warehouses, err = wh.SyncDimension(ctx, model.DimWarehouse, nil)
	if err != nil {
		return maps, err
	}

	maps.Currencies, err = wh.SyncDimension(ctx, model.DimCurrency, []model.DimensionRecord{
		{NaturalKey: currencyCode, Attributes: []string{"US Dollar"}},
	})
	if err != nil {
		return maps, err
	}

	return maps, nil
}

func buildFacts(blocks []MonthBlock, maps etl.DimensionMaps) []model.FactRow {
	customer := maps.Customers[model.NormalizeKey(syntheticCustomerCode)]
	currency := maps.Currencies[currencyCode]

	var rows []model.FactRow
	for _, b := range blocks {
		date := time.Date(b.Year, time.Month(b.Month), 1, 0, 0, 0, 0, time.UTC)
		for _, e := range b.Sales {
			product := maps.Products[model.NormalizeKey(e.Item)]
			currencySK := currency.SK
			rows = append(rows, model.FactRow{
				DateKey:      model.DateKey(date),
				CustomerSK:   customer.SK,
				ProductSK:    product.SK,
				WarehouseSK:  model.WarehouseSentinel.SK,
				CurrencySK:   &currencySK,
				Quantity:     e.Quantity,
				TotalUSD:     e.Quantity.Mul(e.Price),
				SourceSystem: SourceTag,
				SourceDocID:  fmt.Sprintf("AGG-%04d%02d-%s", b.Year, b.Month, model.NormalizeKey(e.Item)),
			})
		}
	}
	return rows
}
