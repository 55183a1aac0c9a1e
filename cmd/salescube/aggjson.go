package main

import (
	"fmt"

	"github.com/maugp/salescube/internal/aggfeed"
	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func aggjsonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggjson",
		Short: "Load the monthly aggregated sales JSON feed",
		Long: `Read the monthly aggregated sales export and replace its fact rows.
The feed writes under its own provenance tag and never touches rows
loaded from the operational database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := viper.GetString("aggjson.path")
			if path == "" {
				return fmt.Errorf("%w: aggjson.path", common.ErrMissingConfig)
			}

			wh, err := openWarehouse(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wh.Close() }()

			report, err := aggfeed.Load(cmd.Context(), wh, config.ExpandPath(path))
			if err != nil {
				return err
			}

			common.LogInfo("Aggregate feed summary", common.Fields{
				"months":         report.Months,
				"entries":        report.Entries,
				"new_products":   report.NewProducts,
				"new_dates":      report.NewDates,
				"facts_deleted":  report.FactsDeleted,
				"facts_inserted": report.FactsInserted,
			})
			return nil
		},
	}

	cmd.Flags().String("path", "", "path to the aggregated sales JSON export")
	cmd.Flags().String("warehouse", "", "warehouse database DSN")
	_ = viper.BindPFlag("aggjson.path", cmd.Flags().Lookup("path"))
	_ = viper.BindPFlag("warehouse.dsn", cmd.Flags().Lookup("warehouse"))

	return cmd
}
