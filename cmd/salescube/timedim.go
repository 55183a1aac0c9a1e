package main

import (
	"fmt"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/config"
	"github.com/maugp/salescube/internal/timedim"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func timedimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timedim",
		Short: "Load the time dimension from the exchange-rate workbook",
		Long: `Read the exchange-rate workbook and insert any dates missing from
dim_time. Existing rows keep their stored rate.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := viper.GetString("timedim.workbook")
			if path == "" {
				return fmt.Errorf("%w: timedim.workbook", common.ErrMissingConfig)
			}

			wh, err := openWarehouse(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wh.Close() }()

			report, err := timedim.LoadWorkbook(cmd.Context(), wh, config.ExpandPath(path), viper.GetString("timedim.sheet"))
			if err != nil {
				return err
			}

			common.LogInfo("Time dimension load summary", common.Fields{
				"rows_read": report.RowsRead,
				"inserted":  report.Inserted,
				"skipped":   report.Skipped,
			})
			return nil
		},
	}

	cmd.Flags().String("workbook", "", "path to the exchange-rate workbook (.xlsx)")
	cmd.Flags().String("sheet", "", "sheet name (default: first sheet)")
	cmd.Flags().String("warehouse", "", "warehouse database DSN")
	_ = viper.BindPFlag("timedim.workbook", cmd.Flags().Lookup("workbook"))
	_ = viper.BindPFlag("timedim.sheet", cmd.Flags().Lookup("sheet"))
	_ = viper.BindPFlag("warehouse.dsn", cmd.Flags().Lookup("warehouse"))

	return cmd
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Fill secondary-currency totals from stored exchange rates",
		Long: `Compute total_crc for fact rows that have total_usd but no total_crc,
using the exchange rate stored on each row's date. Rows whose date has no
rate are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wh, err := openWarehouse(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wh.Close() }()

			converted, missingRate, err := timedim.ApplyCurrencyConversion(cmd.Context(), wh)
			if err != nil {
				return err
			}

			common.LogInfo("Currency conversion summary", common.Fields{
				"converted":    converted,
				"missing_rate": missingRate,
			})
			return nil
		},
	}

	cmd.Flags().String("warehouse", "", "warehouse database DSN")
	_ = viper.BindPFlag("warehouse.dsn", cmd.Flags().Lookup("warehouse"))

	return cmd
}
