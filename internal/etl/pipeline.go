package etl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/maugp/salescube/internal/config"
	"github.com/maugp/salescube/internal/model"
	"github.com/maugp/salescube/internal/reconcile"
	"github.com/maugp/salescube/internal/source"
	"github.com/maugp/salescube/internal/warehouse"
)

// Stages in execution order, for progress reporting.
var Stages = []string{"extract", "reconcile", "dimensions", "build", "validate", "load"}

// Report summarizes one pipeline run.
type Report struct {
	DimensionSizes      map[string]int
	RunID               string
	SalesExtracted      int
	ReturnsExtracted    int
	LinkedReturns       int
	UnmatchedReturns    int
	SkippedZeroLines    int
	DroppedZeroGroups   int
	NetLines            int
	ProductFallbacks    int
	UnresolvedCustomers int
	FactsDeleted        int64
	FactsInserted       int
}

// Pipeline runs the full incremental load: extract, reconcile, synchronize
// dimensions, resolve keys, validate, and replace the fact batch. Stages run
// strictly in order on the caller's goroutine; dimension maps are complete
// before any fact key is resolved.
type Pipeline struct {
	// OnStage, when set, is called at the start of each stage.
	OnStage func(stage string)

	extractor  *source.Extractor
	wh         *warehouse.Warehouse
	reconciler *reconcile.Reconciler
	sourceTag  string
}

// New creates a pipeline over an operational-store extractor and a warehouse.
func New(extractor *source.Extractor, wh *warehouse.Warehouse, cfg config.Config) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		wh:         wh,
		reconciler: reconcile.New(cfg.Tolerances),
		sourceTag:  cfg.SourceTag,
	}
}

// Run executes the pipeline once and returns its report. Any stage error
// aborts the run; the report reflects the stages that completed.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:          uuid.NewString(),
		DimensionSizes: make(map[string]int),
	}
	slog.Info("Starting sales warehouse load", "run_id", report.RunID, "tag", p.sourceTag)

	p.stage("extract")
	data, err := p.extractor.Extract(ctx)
	if err != nil {
		return report, err
	}
	report.SalesExtracted = len(data.Sales)
	report.ReturnsExtracted = len(data.Returns)

	p.stage("reconcile")
	recRes := p.reconciler.Reconcile(data.Sales, data.Returns)
	report.LinkedReturns = recRes.LinkedReturns
	report.UnmatchedReturns = recRes.UnmatchedReturns
	report.SkippedZeroLines = recRes.SkippedZeroLines
	report.DroppedZeroGroups = recRes.DroppedZeroGroups
	report.NetLines = len(recRes.Lines)

	p.stage("dimensions")
	maps, err := p.syncDimensions(ctx, data, report)
	if err != nil {
		return report, err
	}

	p.stage("build")
	builder := NewFactBuilder(maps, data.CustomerCountry, p.sourceTag)
	batch, stats := builder.Build(recRes.Lines)
	report.ProductFallbacks = stats.ProductFallbacks
	report.UnresolvedCustomers = stats.UnresolvedCustomers

	p.stage("validate")
	if err := ValidateBatch(batch); err != nil {
		return report, err
	}

	p.stage("load")
	loadReport, err := p.wh.ReplaceFacts(ctx, p.sourceTag, batch)
	if loadReport != nil {
		report.FactsDeleted = loadReport.Deleted
		report.FactsInserted = loadReport.Inserted
	}
	if err != nil {
		return report, err
	}

	slog.Info("Sales warehouse load complete",
		"run_id", report.RunID,
		"net_lines", report.NetLines,
		"facts", report.FactsInserted,
		"unmatched_returns", report.UnmatchedReturns,
		"product_fallbacks", report.ProductFallbacks)
	return report, nil
}

// syncDimensions runs every dimension upsert and assembles the lookup maps.
// A failed dimension aborts the run: fact rows depending on it could not be
// resolved.
func (p *Pipeline) syncDimensions(ctx context.Context, data *source.Data, report *Report) (DimensionMaps, error) {
	var maps DimensionMaps

	sources := map[model.Dimension][]model.DimensionRecord{
		model.DimCustomer:    data.Customers,
		model.DimProduct:     data.Products,
		model.DimSalesperson: data.Salespersons,
		model.DimWarehouse:   data.Warehouses,
		model.DimCountry:     data.Countries,
		model.DimCurrency:    source.CurrencySeed(),
	}

	for _, dim := range model.AllDimensions {
		entries, err := p.wh.SyncDimension(ctx, dim, sources[dim])
		if err != nil {
			return maps, fmt.Errorf("dimension %s: %w", dim, err)
		}
		report.DimensionSizes[dim.String()] = len(entries)

		switch dim {
		case model.DimCustomer:
			maps.Customers = entries
		case model.DimProduct:
			maps.Products = entries
		case model.DimSalesperson:
			maps.Salespersons = entries
		case model.DimWarehouse:
			maps.Warehouses = entries
		case model.DimCountry:
			maps.Countries = entries
		case model.DimCurrency:
			maps.Currencies = entries
		}
	}

	return maps, nil
}

func (p *Pipeline) stage(name string) {
	if p.OnStage != nil {
		p.OnStage(name)
	}
	slog.Debug("Pipeline stage", "stage", name)
}
