package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimeRow is one dim_time entry. Its key is the YYYYMMDD date encoding, not
// a warehouse-assigned surrogate.
type TimeRow struct {
	Date     time.Time
	FxUSDCRC decimal.NullDecimal
	DateKey  int
	Year     int
	Month    int
}

// ReadTimeRows returns the current time dimension keyed by date key.
func (w *Warehouse) ReadTimeRows(ctx context.Context) (map[int]TimeRow, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT id_date, date, year, month, fx_usd_crc FROM dim_time`)
	if err != nil {
		return nil, fmt.Errorf("failed to read time dimension: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]TimeRow)
	for rows.Next() {
		var row TimeRow
		if err := rows.Scan(&row.DateKey, &row.Date, &row.Year, &row.Month, &row.FxUSDCRC); err != nil {
			return nil, fmt.Errorf("failed to scan time row: %w", err)
		}
		out[row.DateKey] = row
	}
	return out, rows.Err()
}

// InsertTimeRows adds the given rows to dim_time. Like the reference
// dimensions, the time dimension is insert-only: callers pass only keys not
// already present.
func (w *Warehouse) InsertTimeRows(ctx context.Context, rows []TimeRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dim_time (id_date, date, year, month, fx_usd_crc)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.DateKey, row.Date, row.Year, row.Month, row.FxUSDCRC); err != nil {
			return fmt.Errorf("failed to insert time row %d: %w", row.DateKey, err)
		}
	}

	return tx.Commit()
}
