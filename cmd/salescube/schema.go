package main

import (
	"github.com/maugp/salescube/internal/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the warehouse schema",
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the warehouse schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wh, err := openWarehouse(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wh.Close() }()

			common.LogInfo("Warehouse schema up to date", common.Fields{})
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the warehouse schema",
		Long: `Drop every warehouse table, including all loaded facts and dimension
rows, and recreate the schema from scratch. Destructive; intended for full
rebuilds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wh, err := openWarehouse(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wh.Close() }()

			if err := wh.Reset(cmd.Context()); err != nil {
				return err
			}

			common.LogInfo("Warehouse schema reset", common.Fields{})
			return nil
		},
	}

	for _, sub := range []*cobra.Command{migrate, reset} {
		sub.Flags().String("warehouse", "", "warehouse database DSN")
		_ = viper.BindPFlag("warehouse.dsn", sub.Flags().Lookup("warehouse"))
		cmd.AddCommand(sub)
	}

	return cmd
}
