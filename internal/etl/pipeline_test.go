package etl

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/maugp/salescube/internal/config"
	"github.com/maugp/salescube/internal/source"
	"github.com/maugp/salescube/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

const testSourceSchema = `
	CREATE TABLE zones (code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE customers (card_code TEXT PRIMARY KEY, name TEXT NOT NULL, zone_code TEXT, country TEXT);
	CREATE TABLE brands (code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE products (item_code TEXT PRIMARY KEY, name TEXT NOT NULL, brand_code TEXT);
	CREATE TABLE salespersons (sp_code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE warehouses (whs_code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE countries (iso2 TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE invoices (doc_id TEXT PRIMARY KEY, doc_date DATETIME NOT NULL, card_code TEXT NOT NULL, sp_code TEXT, currency TEXT);
	CREATE TABLE invoice_lines (doc_id TEXT NOT NULL, line_no INTEGER NOT NULL, item_code TEXT NOT NULL, whs_code TEXT, quantity NUMERIC NOT NULL, line_total NUMERIC NOT NULL);
	CREATE TABLE credit_notes (doc_id TEXT PRIMARY KEY, doc_date DATETIME NOT NULL, card_code TEXT NOT NULL, sp_code TEXT, currency TEXT);
	CREATE TABLE credit_note_lines (doc_id TEXT NOT NULL, line_no INTEGER NOT NULL, item_code TEXT NOT NULL, whs_code TEXT, quantity NUMERIC NOT NULL, line_total NUMERIC NOT NULL);
`

func newPipelineFixture(t *testing.T) (*sql.DB, *warehouse.Warehouse, *Pipeline) {
	t.Helper()

	srcDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	srcDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = srcDB.Close() })
	_, err = srcDB.Exec(testSourceSchema)
	require.NoError(t, err)

	whDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	whDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = whDB.Close() })
	wh := warehouse.OpenDB(whDB)
	require.NoError(t, wh.Migrate(context.Background()))

	cfg := config.Config{SourceTag: "DB_SALES", Tolerances: config.DefaultTolerances()}
	return srcDB, wh, New(source.NewExtractor(srcDB), wh, cfg)
}

func seedPipelineSource(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO zones VALUES ('Z1', 'North')`,
		`INSERT INTO customers VALUES ('C1', 'Alfa Corp', 'Z1', 'CR')`,
		`INSERT INTO brands VALUES ('B1', 'Acme')`,
		`INSERT INTO products VALUES ('P1', 'Widget', 'B1')`,
		`INSERT INTO salespersons VALUES ('SP1', 'Ana')`,
		`INSERT INTO warehouses VALUES ('W1', 'Main')`,
		`INSERT INTO countries VALUES ('CR', 'Costa Rica')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}

	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	jan10 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err := db.Exec(`INSERT INTO invoices VALUES ('INV1', ?, 'C1', 'SP1', 'USD')`, jan5)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO invoice_lines VALUES ('INV1', 1, 'P1', 'W1', 10, 100)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credit_notes VALUES ('CN1', ?, 'C1', 'SP1', 'USD')`, jan10)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credit_note_lines VALUES ('CN1', 1, 'P1', 'W1', 4, 40)`)
	require.NoError(t, err)
}

func TestPipeline_EndToEnd(t *testing.T) {
	srcDB, wh, pipeline := newPipelineFixture(t)
	seedPipelineSource(t, srcDB)
	ctx := context.Background()

	var stages []string
	pipeline.OnStage = func(stage string) { stages = append(stages, stage) }

	report, err := pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, Stages, stages)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.SalesExtracted)
	assert.Equal(t, 1, report.ReturnsExtracted)
	assert.Equal(t, 1, report.LinkedReturns)
	assert.Equal(t, 1, report.NetLines)
	assert.Equal(t, 1, report.FactsInserted)

	// The single fact carries the netted movement under the sale's date.
	var dateKey int
	var quantity, totalUSD float64
	err = wh.DB().QueryRowContext(ctx,
		`SELECT id_date, quantity, total_usd FROM fact_sales WHERE source_system = 'DB_SALES'`).
		Scan(&dateKey, &quantity, &totalUSD)
	require.NoError(t, err)
	assert.Equal(t, 20240105, dateKey)
	assert.InDelta(t, 6.0, quantity, 1e-9)
	assert.InDelta(t, 60.0, totalUSD, 1e-9)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	srcDB, wh, pipeline := newPipelineFixture(t)
	seedPipelineSource(t, srcDB)
	ctx := context.Background()

	first, err := pipeline.Run(ctx)
	require.NoError(t, err)
	second, err := pipeline.Run(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, int64(1), second.FactsDeleted)
	assert.Equal(t, first.FactsInserted, second.FactsInserted)

	count, err := wh.FactCountByTag(ctx, "DB_SALES")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Dimension rows are not duplicated either.
	var customers int
	require.NoError(t, wh.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM dim_customer").Scan(&customers))
	assert.Equal(t, 1, customers)
}

func TestPipeline_EmptySourceLoadsNothing(t *testing.T) {
	_, wh, pipeline := newPipelineFixture(t)
	ctx := context.Background()

	report, err := pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.NetLines)
	assert.Equal(t, 0, report.FactsInserted)

	count, err := wh.FactCountByTag(ctx, "DB_SALES")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
