package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/config"
	"github.com/maugp/salescube/internal/etl"
	"github.com/maugp/salescube/internal/source"
	"github.com/maugp/salescube/internal/warehouse"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/mattn/go-sqlite3"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the incremental sales load",
		Long: `Run the full pipeline: extract from the operational database, reconcile
returns against sales, synchronize dimensions, and replace the fact batch
for the configured source tag. Reruns are idempotent.`,
		RunE: runLoad,
	}

	cmd.Flags().String("source", "", "operational database DSN")
	cmd.Flags().String("warehouse", "", "warehouse database DSN")
	cmd.Flags().String("tag", "", "provenance tag for this feed's fact rows")
	_ = viper.BindPFlag("source.dsn", cmd.Flags().Lookup("source"))
	_ = viper.BindPFlag("warehouse.dsn", cmd.Flags().Lookup("warehouse"))
	_ = viper.BindPFlag("source.tag", cmd.Flags().Lookup("tag"))

	return cmd
}

func runLoad(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	srcDB, err := sql.Open("sqlite3", config.ExpandPath(cfg.SourceDSN))
	if err != nil {
		return fmt.Errorf("%w: failed to open source database: %v", common.ErrExtractionFailed, err)
	}
	defer func() { _ = srcDB.Close() }()
	if err := srcDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: failed to reach source database: %v", common.ErrExtractionFailed, err)
	}

	wh, err := openWarehouse(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = wh.Close() }()

	pipeline := etl.New(source.NewExtractor(srcDB), wh, cfg)

	bar := progressbar.NewOptions(len(etl.Stages),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("loading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
	pipeline.OnStage = func(stage string) {
		bar.Describe(stage)
		_ = bar.Add(1)
	}

	report, err := pipeline.Run(ctx)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		common.LogError(err, "Load failed", common.Fields{"run_id": report.RunID})
		return err
	}

	common.LogInfo("Load summary", common.Fields{
		"run_id":               report.RunID,
		"sales_extracted":      report.SalesExtracted,
		"returns_extracted":    report.ReturnsExtracted,
		"linked_returns":       report.LinkedReturns,
		"unmatched_returns":    report.UnmatchedReturns,
		"skipped_zero_lines":   report.SkippedZeroLines,
		"dropped_zero_groups":  report.DroppedZeroGroups,
		"net_lines":            report.NetLines,
		"product_fallbacks":    report.ProductFallbacks,
		"unresolved_customers": report.UnresolvedCustomers,
		"facts_deleted":        report.FactsDeleted,
		"facts_inserted":       report.FactsInserted,
	})
	return nil
}

// openWarehouse opens the warehouse from configuration and brings its schema
// up to date.
func openWarehouse(cmd *cobra.Command) (*warehouse.Warehouse, error) {
	dsn := viper.GetString("warehouse.dsn")
	if dsn == "" {
		return nil, fmt.Errorf("%w: warehouse.dsn", common.ErrMissingConfig)
	}

	wh, err := warehouse.Open(config.ExpandPath(dsn))
	if err != nil {
		return nil, err
	}

	if err := wh.Migrate(cmd.Context()); err != nil {
		_ = wh.Close()
		return nil, err
	}
	return wh, nil
}
