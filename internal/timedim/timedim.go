// Package timedim maintains the time dimension from the exchange-rate
// workbook and applies the secondary-currency conversion to loaded facts.
package timedim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/model"
	"github.com/maugp/salescube/internal/warehouse"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Workbook column headers are matched case-insensitively after trimming.
// The rate header follows the finance team's export naming.
const (
	rateHeaderFragment = "TIPOCAMBIO"
	rateHeaderAlt      = "USD_CRC"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01-02-06",
	"1/2/06",
	"01/02/2006",
	"1/2/06 15:04",
	"02/01/2006",
}

// LoadReport summarizes one workbook load.
type LoadReport struct {
	RowsRead int
	Inserted int
	Skipped  int
}

// LoadWorkbook reads the exchange-rate workbook and inserts any dates not yet
// present in dim_time. Existing rows keep their stored rate; the dimension is
// insert-only like the reference dimensions. A date appearing twice in the
// workbook is an error.
func LoadWorkbook(ctx context.Context, wh *warehouse.Warehouse, path, sheet string) (*LoadReport, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook %s: %v", common.ErrExtractionFailed, path, err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", common.ErrExtractionFailed, sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", common.ErrExtractionFailed, sheet)
	}

	dateCol, rateCol, err := locateColumns(rows[0])
	if err != nil {
		return nil, err
	}

	parsed, err := parseRows(rows[1:], dateCol, rateCol)
	if err != nil {
		return nil, err
	}

	existing, err := wh.ReadTimeRows(ctx)
	if err != nil {
		return nil, err
	}

	report := &LoadReport{RowsRead: len(parsed)}
	var missing []warehouse.TimeRow
	for _, row := range parsed {
		if _, ok := existing[row.DateKey]; ok {
			report.Skipped++
			continue
		}
		missing = append(missing, row)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].DateKey < missing[j].DateKey })

	if err := wh.InsertTimeRows(ctx, missing); err != nil {
		return nil, err
	}
	report.Inserted = len(missing)

	slog.Info("Time dimension loaded from workbook",
		"sheet", sheet,
		"rows", report.RowsRead,
		"inserted", report.Inserted,
		"skipped", report.Skipped)
	return report, nil
}

// EnsureDates inserts bare dim_time rows, without a rate, for any of the
// given dates not yet present.
func EnsureDates(ctx context.Context, wh *warehouse.Warehouse, dates []time.Time) (int, error) {
	existing, err := wh.ReadTimeRows(ctx)
	if err != nil {
		return 0, err
	}

	var missing []warehouse.TimeRow
	seen := make(map[int]bool)
	for _, d := range dates {
		key := model.DateKey(d)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := existing[key]; ok {
			continue
		}
		missing = append(missing, warehouse.TimeRow{
			DateKey: key,
			Date:    d,
			Year:    d.Year(),
			Month:   int(d.Month()),
		})
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].DateKey < missing[j].DateKey })

	if err := wh.InsertTimeRows(ctx, missing); err != nil {
		return 0, err
	}
	return len(missing), nil
}

// ApplyCurrencyConversion fills total_crc for fact rows that have total_usd
// but no total_crc yet, multiplying by the day's exchange rate. A total_crc
// of zero counts as unset and is recomputed. Rows whose date has no stored
// rate, or a zero rate, are left untouched and counted.
func ApplyCurrencyConversion(ctx context.Context, wh *warehouse.Warehouse) (converted, missingRate int64, err error) {
	times, err := wh.ReadTimeRows(ctx)
	if err != nil {
		return 0, 0, err
	}

	db := wh.DB()
	rows, err := db.QueryContext(ctx, `
		SELECT id, id_date, total_usd FROM fact_sales
		WHERE total_usd IS NOT NULL AND (total_crc IS NULL OR total_crc = 0)
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select unconverted facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type pending struct {
		crc decimal.Decimal
		id  int64
	}
	var updates []pending
	for rows.Next() {
		var (
			id       int64
			dateKey  int
			totalUSD decimal.Decimal
		)
		if scanErr := rows.Scan(&id, &dateKey, &totalUSD); scanErr != nil {
			return 0, 0, fmt.Errorf("failed to scan fact row: %w", scanErr)
		}
		t, ok := times[dateKey]
		if !ok || !t.FxUSDCRC.Valid || t.FxUSDCRC.Decimal.IsZero() {
			missingRate++
			continue
		}
		updates = append(updates, pending{
			id:  id,
			crc: totalUSD.Mul(t.FxUSDCRC.Decimal).Round(10),
		})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return 0, 0, rowsErr
	}

	if len(updates) == 0 {
		return 0, missingRate, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, missingRate, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "UPDATE fact_sales SET total_crc = ? WHERE id = ?")
	if err != nil {
		return 0, missingRate, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range updates {
		if _, execErr := stmt.ExecContext(ctx, u.crc, u.id); execErr != nil {
			return 0, missingRate, fmt.Errorf("failed to update fact %d: %w", u.id, execErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, missingRate, err
	}

	slog.Info("Secondary currency amounts converted",
		"converted", len(updates),
		"missing_rate", missingRate)
	return int64(len(updates)), missingRate, nil
}

// locateColumns finds the date and rate columns by header.
func locateColumns(header []string) (dateCol, rateCol int, err error) {
	dateCol, rateCol = -1, -1
	for i, h := range header {
		norm := strings.ToUpper(strings.TrimSpace(h))
		switch {
		case norm == "FECHA" || norm == "DATE":
			if dateCol == -1 {
				dateCol = i
			}
		case strings.Contains(norm, rateHeaderFragment) || strings.Contains(norm, rateHeaderAlt):
			if rateCol == -1 {
				rateCol = i
			}
		}
	}
	if dateCol == -1 || rateCol == -1 {
		return 0, 0, fmt.Errorf("%w: workbook header missing date or rate column: %v", common.ErrExtractionFailed, header)
	}
	return dateCol, rateCol, nil
}

func parseRows(rows [][]string, dateCol, rateCol int) ([]warehouse.TimeRow, error) {
	var out []warehouse.TimeRow
	seen := make(map[int]int)
	for i, cells := range rows {
		rowNum := i + 2
		if dateCol >= len(cells) || strings.TrimSpace(cells[dateCol]) == "" {
			continue
		}

		date, err := parseCellDate(cells[dateCol])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", common.ErrValidationFailed, rowNum, err)
		}
		key := model.DateKey(date)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: date %d appears on rows %d and %d", common.ErrValidationFailed, key, prev, rowNum)
		}
		seen[key] = rowNum

		var rate decimal.NullDecimal
		if rateCol < len(cells) && strings.TrimSpace(cells[rateCol]) != "" {
			d, err := decimal.NewFromString(strings.TrimSpace(cells[rateCol]))
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: bad rate %q: %v", common.ErrValidationFailed, rowNum, cells[rateCol], err)
			}
			rate = decimal.NullDecimal{Decimal: d, Valid: true}
		}

		out = append(out, warehouse.TimeRow{
			DateKey:  key,
			Date:     date,
			Year:     date.Year(),
			Month:    int(date.Month()),
			FxUSDCRC: rate,
		})
	}
	return out, nil
}

// parseCellDate accepts the formatted strings excelize yields for date cells,
// plus raw serial numbers from unformatted cells.
func parseCellDate(cell string) (time.Time, error) {
	cell = strings.TrimSpace(cell)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(cell, 64); err == nil {
		if t, convErr := excelize.ExcelDateToTime(serial, false); convErr == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", cell)
}
