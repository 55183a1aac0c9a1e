package warehouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/model"
)

const insertFactSQL = `
	INSERT INTO fact_sales
	(id_date, id_customer, id_product, id_salesperson, id_warehouse,
	 id_country, id_currency, quantity, total_usd, total_crc,
	 source_system, source_doc_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// maxReportedFailures bounds how many per-row errors a LoadError carries in
// full detail.
const maxReportedFailures = 10

// RowFailure records one fact row the per-row fallback could not insert.
type RowFailure struct {
	Err         string
	SourceDocID string
	Index       int
}

// LoadError aggregates per-row insert failures after the bulk path failed.
// Every row is attempted before this is raised.
type LoadError struct {
	Tag       string
	Failures  []RowFailure
	Attempted int
	Succeeded int
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("fact load for tag %q: %d of %d rows failed", e.Tag, len(e.Failures), e.Attempted)
	for i, f := range e.Failures {
		if i >= maxReportedFailures {
			msg += fmt.Sprintf("; and %d more", len(e.Failures)-maxReportedFailures)
			break
		}
		msg += fmt.Sprintf("; row %d (doc %s): %s", f.Index, f.SourceDocID, f.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return common.ErrFactLoadFailed
}

// LoadReport summarizes a fact replacement.
type LoadReport struct {
	Tag      string
	Deleted  int64
	Inserted int
}

// ReplaceFacts makes the fact table reflect exactly the given batch for the
// given provenance tag: prior rows under the tag are deleted, then the batch
// is bulk-inserted with referential checks relaxed for the duration. If the
// bulk insert fails it is rolled back and rows are inserted one by one to
// identify the offenders; a LoadError carrying every failure is returned
// after all rows have been attempted.
//
// The delete-then-insert step is what makes reruns idempotent. It is not
// guarded against concurrent runs using the same tag: two such runs race and
// the last writer wins.
func (w *Warehouse) ReplaceFacts(ctx context.Context, tag string, batch []model.FactRow) (*LoadReport, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: provenance tag cannot be empty", common.ErrFactLoadFailed)
	}

	report := &LoadReport{Tag: tag}
	err := w.withRelaxedConstraints(ctx, func() error {
		deleted, err := w.deleteFactsByTag(ctx, tag)
		if err != nil {
			return err
		}
		report.Deleted = deleted

		if len(batch) == 0 {
			return nil
		}

		bulkErr := w.bulkInsertFacts(ctx, batch)
		if bulkErr == nil {
			report.Inserted = len(batch)
			return nil
		}

		slog.Warn("Bulk fact insert failed, falling back to per-row inserts",
			"tag", tag,
			"rows", len(batch),
			"error", bulkErr)

		succeeded, failures := w.insertFactsRowByRow(ctx, batch)
		report.Inserted = succeeded
		if len(failures) > 0 {
			return &LoadError{Tag: tag, Attempted: len(batch), Succeeded: succeeded, Failures: failures}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	slog.Info("Fact table replaced",
		"tag", tag,
		"deleted", report.Deleted,
		"inserted", report.Inserted)
	return report, nil
}

// deleteFactsByTag removes only rows carrying the given provenance tag;
// sibling feeds writing under other tags are untouched.
func (w *Warehouse) deleteFactsByTag(ctx context.Context, tag string) (int64, error) {
	res, err := w.db.ExecContext(ctx, "DELETE FROM fact_sales WHERE source_system = ?", tag)
	if err != nil {
		return 0, fmt.Errorf("%w: delete for tag %q: %v", common.ErrFactLoadFailed, tag, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete count for tag %q: %v", common.ErrFactLoadFailed, tag, err)
	}
	return deleted, nil
}

func (w *Warehouse) bulkInsertFacts(ctx context.Context, batch []model.FactRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertFactSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range batch {
		if _, err := stmt.ExecContext(ctx, factArgs(&batch[i])...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// insertFactsRowByRow attempts every row in its own implicit transaction and
// collects failures instead of stopping at the first one.
func (w *Warehouse) insertFactsRowByRow(ctx context.Context, batch []model.FactRow) (int, []RowFailure) {
	succeeded := 0
	var failures []RowFailure
	for i := range batch {
		if _, err := w.db.ExecContext(ctx, insertFactSQL, factArgs(&batch[i])...); err != nil {
			failures = append(failures, RowFailure{
				Index:       i,
				SourceDocID: batch[i].SourceDocID,
				Err:         err.Error(),
			})
			continue
		}
		succeeded++
	}
	return succeeded, failures
}

func factArgs(row *model.FactRow) []any {
	return []any{
		row.DateKey,
		row.CustomerSK,
		row.ProductSK,
		row.SalespersonSK,
		row.WarehouseSK,
		row.CountrySK,
		row.CurrencySK,
		row.Quantity,
		row.TotalUSD,
		row.TotalCRC,
		row.SourceSystem,
		row.SourceDocID,
	}
}

// FactCountByTag reports how many fact rows a provenance tag currently owns.
func (w *Warehouse) FactCountByTag(ctx context.Context, tag string) (int, error) {
	var count int
	err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fact_sales WHERE source_system = ?", tag).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count facts for tag %q: %w", tag, err)
	}
	return count, nil
}
