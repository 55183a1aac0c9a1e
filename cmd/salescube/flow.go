package main

import (
	"database/sql"
	"fmt"

	"github.com/maugp/salescube/internal/aggfeed"
	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/config"
	"github.com/maugp/salescube/internal/etl"
	"github.com/maugp/salescube/internal/source"
	"github.com/maugp/salescube/internal/timedim"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flowCmd chains every load step in its canonical order. Each step can be
// skipped independently; a failing step aborts the chain.
func flowCmd() *cobra.Command {
	var (
		reset       bool
		skipTimedim bool
		skipRun     bool
		skipAggjson bool
		skipConvert bool
	)

	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Run the full load chain end to end",
		Long: `Run every load step in order: optional schema reset, time dimension
from the exchange-rate workbook, the incremental sales load, the aggregated
JSON feed, and the secondary-currency conversion. Steps whose inputs are not
configured must be skipped explicitly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			wh, err := openWarehouse(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wh.Close() }()

			if reset {
				if err := wh.Reset(ctx); err != nil {
					return fmt.Errorf("schema reset: %w", err)
				}
			}

			if !skipTimedim {
				path := viper.GetString("timedim.workbook")
				if path == "" {
					return fmt.Errorf("%w: timedim.workbook (or --skip-timedim)", common.ErrMissingConfig)
				}
				if _, err := timedim.LoadWorkbook(ctx, wh, config.ExpandPath(path), viper.GetString("timedim.sheet")); err != nil {
					return fmt.Errorf("time dimension: %w", err)
				}
			}

			if !skipRun {
				cfg, cfgErr := config.Load()
				if cfgErr != nil {
					return cfgErr
				}
				srcDB, openErr := sql.Open("sqlite3", config.ExpandPath(cfg.SourceDSN))
				if openErr != nil {
					return fmt.Errorf("%w: failed to open source database: %v", common.ErrExtractionFailed, openErr)
				}
				defer func() { _ = srcDB.Close() }()

				pipeline := etl.New(source.NewExtractor(srcDB), wh, cfg)
				if _, runErr := pipeline.Run(ctx); runErr != nil {
					return fmt.Errorf("sales load: %w", runErr)
				}
			}

			if !skipAggjson {
				path := viper.GetString("aggjson.path")
				if path == "" {
					return fmt.Errorf("%w: aggjson.path (or --skip-aggjson)", common.ErrMissingConfig)
				}
				if _, err := aggfeed.Load(ctx, wh, config.ExpandPath(path)); err != nil {
					return fmt.Errorf("aggregate feed: %w", err)
				}
			}

			if !skipConvert {
				if _, _, err := timedim.ApplyCurrencyConversion(ctx, wh); err != nil {
					return fmt.Errorf("currency conversion: %w", err)
				}
			}

			common.LogInfo("Flow complete", common.Fields{
				"reset":      reset,
				"timedim":    !skipTimedim,
				"sales_load": !skipRun,
				"aggjson":    !skipAggjson,
				"conversion": !skipConvert,
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "drop and recreate the warehouse schema first")
	cmd.Flags().BoolVar(&skipTimedim, "skip-timedim", false, "skip the time dimension load")
	cmd.Flags().BoolVar(&skipRun, "skip-run", false, "skip the incremental sales load")
	cmd.Flags().BoolVar(&skipAggjson, "skip-aggjson", false, "skip the aggregated JSON feed")
	cmd.Flags().BoolVar(&skipConvert, "skip-convert", false, "skip the secondary-currency conversion")

	cmd.Flags().String("source", "", "operational database DSN")
	cmd.Flags().String("warehouse", "", "warehouse database DSN")
	cmd.Flags().String("tag", "", "provenance tag for the sales load")
	cmd.Flags().String("workbook", "", "path to the exchange-rate workbook (.xlsx)")
	cmd.Flags().String("aggjson-path", "", "path to the aggregated sales JSON export")
	_ = viper.BindPFlag("source.dsn", cmd.Flags().Lookup("source"))
	_ = viper.BindPFlag("warehouse.dsn", cmd.Flags().Lookup("warehouse"))
	_ = viper.BindPFlag("source.tag", cmd.Flags().Lookup("tag"))
	_ = viper.BindPFlag("timedim.workbook", cmd.Flags().Lookup("workbook"))
	_ = viper.BindPFlag("aggjson.path", cmd.Flags().Lookup("aggjson-path"))

	return cmd
}
