package source

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/maugp/salescube/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

const sourceSchema = `
	CREATE TABLE zones (code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE customers (
		card_code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		zone_code TEXT,
		country TEXT
	);
	CREATE TABLE brands (code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE products (
		item_code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		brand_code TEXT
	);
	CREATE TABLE salespersons (sp_code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE warehouses (whs_code TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE countries (iso2 TEXT PRIMARY KEY, name TEXT NOT NULL);
	CREATE TABLE invoices (
		doc_id TEXT PRIMARY KEY,
		doc_date DATETIME NOT NULL,
		card_code TEXT NOT NULL,
		sp_code TEXT,
		currency TEXT
	);
	CREATE TABLE invoice_lines (
		doc_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		item_code TEXT NOT NULL,
		whs_code TEXT,
		quantity NUMERIC NOT NULL,
		line_total NUMERIC NOT NULL
	);
	CREATE TABLE credit_notes (
		doc_id TEXT PRIMARY KEY,
		doc_date DATETIME NOT NULL,
		card_code TEXT NOT NULL,
		sp_code TEXT,
		currency TEXT
	);
`

const creditNoteLinesLinked = `
	CREATE TABLE credit_note_lines (
		doc_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		item_code TEXT NOT NULL,
		whs_code TEXT,
		quantity NUMERIC NOT NULL,
		line_total NUMERIC NOT NULL,
		base_doc_id TEXT,
		base_line_no INTEGER
	);
`

const creditNoteLinesUnlinked = `
	CREATE TABLE credit_note_lines (
		doc_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		item_code TEXT NOT NULL,
		whs_code TEXT,
		quantity NUMERIC NOT NULL,
		line_total NUMERIC NOT NULL
	);
`

func newTestSource(t *testing.T, linked bool) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	})

	_, err = db.Exec(sourceSchema)
	require.NoError(t, err)
	if linked {
		_, err = db.Exec(creditNoteLinesLinked)
	} else {
		_, err = db.Exec(creditNoteLinesUnlinked)
	}
	require.NoError(t, err)
	return db
}

func seedMasters(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO zones VALUES ('Z1', 'North')`,
		`INSERT INTO customers VALUES ('C1', 'Alfa Corp', 'Z1', 'CR')`,
		`INSERT INTO customers VALUES ('C2', 'Beta SA', NULL, NULL)`,
		`INSERT INTO brands VALUES ('B1', 'Acme')`,
		`INSERT INTO products VALUES ('P1', 'Widget', 'B1')`,
		`INSERT INTO products VALUES ('P2', 'Gadget', NULL)`,
		`INSERT INTO salespersons VALUES ('SP1', 'Ana')`,
		`INSERT INTO warehouses VALUES ('W1', 'Main')`,
		`INSERT INTO countries VALUES ('CR', 'Costa Rica')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
}

func TestExtract_MastersAndCountryMap(t *testing.T) {
	db := newTestSource(t, false)
	seedMasters(t, db)

	data, err := NewExtractor(db).Extract(context.Background())
	require.NoError(t, err)

	require.Len(t, data.Customers, 2)
	assert.Equal(t, []string{"Alfa Corp", "North"}, data.Customers[0].Attributes)
	assert.Equal(t, []string{"Beta SA", ""}, data.Customers[1].Attributes)
	assert.Equal(t, map[string]string{"C1": "CR"}, data.CustomerCountry)

	require.Len(t, data.Products, 2)
	assert.Equal(t, []string{"Widget", "Acme"}, data.Products[0].Attributes)
	// No brand row: the raw brand code is empty and stays empty.
	assert.Equal(t, []string{"Gadget", ""}, data.Products[1].Attributes)

	require.Len(t, data.Salespersons, 1)
	require.Len(t, data.Warehouses, 1)
	require.Len(t, data.Countries, 1)
}

func TestExtract_SalesLinesSignedPositive(t *testing.T) {
	db := newTestSource(t, false)
	seedMasters(t, db)

	_, err := db.Exec(`INSERT INTO invoices VALUES ('INV1', ?, 'C1', 'SP1', 'USD')`,
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO invoice_lines VALUES ('INV1', 1, 'P1', 'W1', 10, 100)`)
	require.NoError(t, err)

	data, err := NewExtractor(db).Extract(context.Background())
	require.NoError(t, err)

	require.Len(t, data.Sales, 1)
	line := data.Sales[0]
	assert.Equal(t, model.KindSale, line.Kind)
	assert.Equal(t, "INV1", line.DocID)
	assert.Equal(t, 1, line.LineNo)
	assert.True(t, line.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, line.Amount.Equal(decimal.NewFromInt(100)))
}

func TestExtract_ReturnsNegatedWithoutBaseColumns(t *testing.T) {
	db := newTestSource(t, false)
	seedMasters(t, db)

	_, err := db.Exec(`INSERT INTO credit_notes VALUES ('CN1', ?, 'C1', NULL, 'USD')`,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credit_note_lines VALUES ('CN1', 1, 'P1', 'W1', 4, 40)`)
	require.NoError(t, err)

	data, err := NewExtractor(db).Extract(context.Background())
	require.NoError(t, err)

	require.Len(t, data.Returns, 1)
	line := data.Returns[0]
	assert.Equal(t, model.KindReturn, line.Kind)
	assert.True(t, line.Quantity.Equal(decimal.NewFromInt(-4)))
	assert.True(t, line.Amount.Equal(decimal.NewFromInt(-40)))
	assert.False(t, line.HasBaseRef)
}

func TestExtract_BaseReferencesWhenColumnsPresent(t *testing.T) {
	db := newTestSource(t, true)
	seedMasters(t, db)

	_, err := db.Exec(`INSERT INTO credit_notes VALUES ('CN1', ?, 'C1', NULL, 'USD')`,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credit_note_lines VALUES ('CN1', 1, 'P1', 'W1', 4, 40, 'INV1', 2)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO credit_note_lines VALUES ('CN1', 2, 'P2', 'W1', 1, 10, NULL, NULL)`)
	require.NoError(t, err)

	data, err := NewExtractor(db).Extract(context.Background())
	require.NoError(t, err)

	require.Len(t, data.Returns, 2)
	assert.True(t, data.Returns[0].HasBaseRef)
	assert.Equal(t, "INV1", data.Returns[0].BaseDocID)
	assert.Equal(t, 2, data.Returns[0].BaseLineNo)
	// A null base reference on a linked store falls back to matching.
	assert.False(t, data.Returns[1].HasBaseRef)
}

func TestCurrencySeed(t *testing.T) {
	seed := CurrencySeed()
	require.Len(t, seed, 2)
	assert.Equal(t, "CRC", seed[0].NaturalKey)
	assert.Equal(t, "USD", seed[1].NaturalKey)
}
