// Package source extracts invoice and credit-note lines plus dimension
// masters from the operational sales database. All access is read-only.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/model"
)

// Data is the normalized in-memory row set pulled from the operational
// store: one record set per dimension master plus the signed sale and
// return lines.
type Data struct {
	CustomerCountry map[string]string
	Customers       []model.DimensionRecord
	Products        []model.DimensionRecord
	Salespersons    []model.DimensionRecord
	Warehouses      []model.DimensionRecord
	Countries       []model.DimensionRecord
	Sales           []model.RawSalesLine
	Returns         []model.RawSalesLine
}

// Extractor reads from the operational store. Any query error is fatal for
// the run; no partial row sets are returned.
type Extractor struct {
	db *sql.DB
}

// NewExtractor creates an extractor over a read-only source connection.
func NewExtractor(db *sql.DB) *Extractor {
	return &Extractor{db: db}
}

// Extract pulls every master and transaction row set. Credit-note lines are
// returned with negated quantity and amount; whether they carry explicit
// base-document references depends on a runtime capability probe.
func (e *Extractor) Extract(ctx context.Context) (*Data, error) {
	data := &Data{CustomerCountry: make(map[string]string)}

	var err error
	if data.Customers, err = e.queryCustomers(ctx, data.CustomerCountry); err != nil {
		return nil, fmt.Errorf("%w: customers: %v", common.ErrExtractionFailed, err)
	}
	if data.Products, err = e.queryTwoAttr(ctx, `
		SELECT p.item_code, p.name, COALESCE(b.name, COALESCE(p.brand_code, ''))
		FROM products p
		LEFT JOIN brands b ON p.brand_code = b.code
		ORDER BY p.item_code
	`); err != nil {
		return nil, fmt.Errorf("%w: products: %v", common.ErrExtractionFailed, err)
	}
	if data.Salespersons, err = e.queryOneAttr(ctx, `SELECT sp_code, name FROM salespersons ORDER BY sp_code`); err != nil {
		return nil, fmt.Errorf("%w: salespersons: %v", common.ErrExtractionFailed, err)
	}
	if data.Warehouses, err = e.queryOneAttr(ctx, `SELECT whs_code, name FROM warehouses ORDER BY whs_code`); err != nil {
		return nil, fmt.Errorf("%w: warehouses: %v", common.ErrExtractionFailed, err)
	}
	if data.Countries, err = e.queryOneAttr(ctx, `SELECT iso2, name FROM countries ORDER BY iso2`); err != nil {
		return nil, fmt.Errorf("%w: countries: %v", common.ErrExtractionFailed, err)
	}

	if data.Sales, err = e.querySales(ctx); err != nil {
		return nil, fmt.Errorf("%w: invoice lines: %v", common.ErrExtractionFailed, err)
	}

	linked, err := e.hasBaseRefColumns(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: base reference probe: %v", common.ErrExtractionFailed, err)
	}
	if data.Returns, err = e.queryReturns(ctx, linked); err != nil {
		return nil, fmt.Errorf("%w: credit-note lines: %v", common.ErrExtractionFailed, err)
	}

	slog.Info("Source extraction complete",
		"sales", len(data.Sales),
		"returns", len(data.Returns),
		"base_refs", linked)

	return data, nil
}

func (e *Extractor) queryCustomers(ctx context.Context, countryByCode map[string]string) ([]model.DimensionRecord, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT c.card_code, c.name, COALESCE(z.name, ''), COALESCE(c.country, '')
		FROM customers c
		LEFT JOIN zones z ON c.zone_code = z.code
		ORDER BY c.card_code
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []model.DimensionRecord
	for rows.Next() {
		var code, name, zone, country string
		if err := rows.Scan(&code, &name, &zone, &country); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		records = append(records, model.DimensionRecord{NaturalKey: code, Attributes: []string{name, zone}})
		if country != "" {
			countryByCode[model.NormalizeKey(code)] = model.NormalizeKey(country)
		}
	}
	return records, rows.Err()
}

func (e *Extractor) queryTwoAttr(ctx context.Context, query string) ([]model.DimensionRecord, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []model.DimensionRecord
	for rows.Next() {
		var key, a, b string
		if err := rows.Scan(&key, &a, &b); err != nil {
			return nil, fmt.Errorf("failed to scan dimension row: %w", err)
		}
		records = append(records, model.DimensionRecord{NaturalKey: key, Attributes: []string{a, b}})
	}
	return records, rows.Err()
}

func (e *Extractor) queryOneAttr(ctx context.Context, query string) ([]model.DimensionRecord, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []model.DimensionRecord
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, fmt.Errorf("failed to scan dimension row: %w", err)
		}
		records = append(records, model.DimensionRecord{NaturalKey: key, Attributes: []string{name}})
	}
	return records, rows.Err()
}

func (e *Extractor) querySales(ctx context.Context) ([]model.RawSalesLine, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT i.doc_date, i.card_code, COALESCE(i.sp_code, ''), i.doc_id,
		       l.line_no, l.item_code, COALESCE(l.whs_code, ''),
		       l.quantity, l.line_total, COALESCE(i.currency, '')
		FROM invoices i
		INNER JOIN invoice_lines l ON i.doc_id = l.doc_id
		ORDER BY i.doc_id, l.line_no
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lines []model.RawSalesLine
	for rows.Next() {
		var line model.RawSalesLine
		if err := rows.Scan(&line.Date, &line.CustomerCode, &line.SalespersonCode, &line.DocID,
			&line.LineNo, &line.ItemCode, &line.WarehouseCode,
			&line.Quantity, &line.Amount, &line.CurrencyCode); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		line.Kind = model.KindSale
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (e *Extractor) queryReturns(ctx context.Context, linked bool) ([]model.RawSalesLine, error) {
	query := `
		SELECT n.doc_date, n.card_code, COALESCE(n.sp_code, ''), n.doc_id,
		       l.line_no, l.item_code, COALESCE(l.whs_code, ''),
		       l.quantity, l.line_total, COALESCE(n.currency, '')%s
		FROM credit_notes n
		INNER JOIN credit_note_lines l ON n.doc_id = l.doc_id
		ORDER BY n.doc_id, l.line_no
	`
	baseCols := ""
	if linked {
		baseCols = ", COALESCE(l.base_doc_id, ''), COALESCE(l.base_line_no, 0)"
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(query, baseCols))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lines []model.RawSalesLine
	for rows.Next() {
		var line model.RawSalesLine
		dest := []any{&line.Date, &line.CustomerCode, &line.SalespersonCode, &line.DocID,
			&line.LineNo, &line.ItemCode, &line.WarehouseCode,
			&line.Quantity, &line.Amount, &line.CurrencyCode}
		if linked {
			dest = append(dest, &line.BaseDocID, &line.BaseLineNo)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan credit-note line: %w", err)
		}
		line.Kind = model.KindReturn
		line.Quantity = line.Quantity.Neg()
		line.Amount = line.Amount.Neg()
		line.HasBaseRef = linked && line.BaseDocID != ""
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// hasBaseRefColumns probes whether the store exposes explicit base-document
// linkage on credit-note lines. Absence selects the reconciliation path; it
// is not an error. A failing probe query is fatal like any other query.
func (e *Extractor) hasBaseRefColumns(ctx context.Context) (bool, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT * FROM credit_note_lines LIMIT 0`)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}

	var hasDoc, hasLine bool
	for _, c := range cols {
		switch c {
		case "base_doc_id":
			hasDoc = true
		case "base_line_no":
			hasLine = true
		}
	}
	return hasDoc && hasLine, rows.Err()
}

// CurrencySeed is the static currency master the operational store does not
// expose as a table.
func CurrencySeed() []model.DimensionRecord {
	return []model.DimensionRecord{
		{NaturalKey: "CRC", Attributes: []string{"Colones"}},
		{NaturalKey: "USD", Attributes: []string{"US Dollar"}},
	}
}
