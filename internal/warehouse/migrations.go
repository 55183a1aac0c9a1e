package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 2

// Migration represents a warehouse schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Star schema: reference dimensions and sales fact",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS dim_customer (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					card_code TEXT UNIQUE NOT NULL,
					name TEXT NOT NULL,
					zone TEXT
				)`,
				`CREATE TABLE IF NOT EXISTS dim_product (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					item_code TEXT UNIQUE NOT NULL,
					name TEXT NOT NULL,
					brand TEXT
				)`,
				`CREATE TABLE IF NOT EXISTS dim_salesperson (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					sp_code TEXT UNIQUE NOT NULL,
					name TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS dim_warehouse (
					id INTEGER PRIMARY KEY,
					whs_code TEXT UNIQUE NOT NULL,
					name TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS dim_country (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					iso2 TEXT UNIQUE NOT NULL,
					name TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS dim_currency (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					code TEXT UNIQUE NOT NULL,
					name TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS dim_time (
					id_date INTEGER PRIMARY KEY,
					date DATETIME NOT NULL,
					year INTEGER NOT NULL,
					month INTEGER NOT NULL,
					fx_usd_crc NUMERIC
				)`,
				// id_date intentionally carries no foreign key: the fact's
				// date key is derived from the transaction date, not looked
				// up in dim_time.
				`CREATE TABLE IF NOT EXISTS fact_sales (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					id_date INTEGER NOT NULL,
					id_customer INTEGER NOT NULL REFERENCES dim_customer(id),
					id_product INTEGER NOT NULL REFERENCES dim_product(id),
					id_salesperson INTEGER REFERENCES dim_salesperson(id),
					id_warehouse INTEGER NOT NULL REFERENCES dim_warehouse(id),
					id_country INTEGER REFERENCES dim_country(id),
					id_currency INTEGER REFERENCES dim_currency(id),
					quantity NUMERIC NOT NULL,
					total_usd NUMERIC,
					total_crc NUMERIC,
					source_system TEXT NOT NULL,
					source_doc_id TEXT
				)`,
				`CREATE INDEX idx_fact_sales_source ON fact_sales(source_system)`,
				`CREATE INDEX idx_fact_sales_date ON fact_sales(id_date)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Index fact foreign keys for dimension-side reporting",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE INDEX IF NOT EXISTS idx_fact_sales_customer ON fact_sales(id_customer)`,
				`CREATE INDEX IF NOT EXISTS idx_fact_sales_product ON fact_sales(id_product)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Reset drops every warehouse table and recreates the schema from scratch.
// All loaded facts and dimension rows are lost.
func (w *Warehouse) Reset(ctx context.Context) error {
	tables := []string{
		"fact_sales", "dim_time", "dim_currency", "dim_country",
		"dim_warehouse", "dim_salesperson", "dim_product", "dim_customer",
	}
	err := w.withRelaxedConstraints(ctx, func() error {
		for _, table := range tables {
			if _, execErr := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); execErr != nil {
				return fmt.Errorf("failed to drop %s: %w", table, execErr)
			}
		}
		if _, execErr := w.db.ExecContext(ctx, "PRAGMA user_version = 0"); execErr != nil {
			return fmt.Errorf("failed to reset schema version: %w", execErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Warehouse schema dropped, recreating")
	return w.Migrate(ctx)
}

// Migrate brings the warehouse schema up to the expected version.
func (w *Warehouse) Migrate(ctx context.Context) error {
	var currentVersion int
	err := w.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := w.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = w.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("warehouse schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
