package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/model"
)

// SyncDimension brings one reference dimension up to date with the source
// row set and returns the complete natural-key → entry mapping, keyed by the
// normalized natural key. The policy is insert-only: keys already present
// keep their surrogate key and attributes untouched, whatever the source now
// says about them.
func (w *Warehouse) SyncDimension(ctx context.Context, dim model.Dimension, records []model.DimensionRecord) (map[string]model.DimensionEntry, error) {
	spec := dim.Spec()
	if spec.Table == "" {
		return nil, fmt.Errorf("%w: unknown dimension %d", common.ErrDimensionSync, dim)
	}

	if spec.Sentinel != nil {
		if err := w.ensureSentinel(ctx, spec); err != nil {
			return nil, fmt.Errorf("%w: %s sentinel: %v", common.ErrDimensionSync, dim, err)
		}
	}

	existing, err := w.readDimension(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrDimensionSync, dim, err)
	}

	// Set difference on normalized keys; first occurrence of a duplicated
	// source key wins, and blank keys are never dimension members.
	var missing []model.DimensionRecord
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		norm := model.NormalizeKey(rec.NaturalKey)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		if _, ok := existing[norm]; ok {
			continue
		}
		missing = append(missing, rec)
	}

	if len(missing) == 0 {
		return existing, nil
	}

	// Deterministic surrogate assignment order for a given source set.
	sort.Slice(missing, func(i, j int) bool {
		return model.NormalizeKey(missing[i].NaturalKey) < model.NormalizeKey(missing[j].NaturalKey)
	})

	inserted := make(map[string]model.DimensionEntry, len(missing))
	op := func() error {
		clear(inserted)
		return w.insertDimensionBatch(ctx, spec, missing, inserted)
	}
	if err := common.WithRetry(ctx, op, common.RetryOptions{MaxAttempts: 3}); err != nil {
		return nil, fmt.Errorf("%w: %s insert: %v", common.ErrDimensionSync, dim, err)
	}

	slog.Info("Dimension synchronized",
		"dimension", dim.String(),
		"existing", len(existing),
		"inserted", len(inserted))

	for k, v := range inserted {
		existing[k] = v
	}
	return existing, nil
}

// ensureSentinel creates the reserved entry with its fixed surrogate key if
// it is not already present. Idempotent by pre-check.
func (w *Warehouse) ensureSentinel(ctx context.Context, spec model.DimensionSpec) error {
	var id int64
	query := fmt.Sprintf("SELECT id FROM %s WHERE id = ?", spec.Table)
	err := w.db.QueryRowContext(ctx, query, spec.Sentinel.SK).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check sentinel: %w", err)
	}

	cols := append([]string{"id", spec.KeyColumn}, spec.AttributeColumns...)
	args := append([]any{spec.Sentinel.SK, spec.Sentinel.NaturalKey}, attributeArgs(spec, spec.Sentinel.Attributes)...)
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := w.db.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("failed to insert sentinel: %w", err)
	}
	return nil
}

func (w *Warehouse) readDimension(ctx context.Context, spec model.DimensionSpec) (map[string]model.DimensionEntry, error) {
	cols := append([]string{"id", spec.KeyColumn}, spec.AttributeColumns...)
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), spec.Table)

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimension: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[string]model.DimensionEntry)
	for rows.Next() {
		entry := model.DimensionEntry{Attributes: make([]string, len(spec.AttributeColumns))}
		dest := []any{&entry.SK, &entry.NaturalKey}
		for i := range entry.Attributes {
			dest = append(dest, &entry.Attributes[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan dimension row: %w", err)
		}
		entries[model.NormalizeKey(entry.NaturalKey)] = entry
	}
	return entries, rows.Err()
}

// insertDimensionBatch inserts the missing rows in one transaction, letting
// the warehouse assign surrogate keys.
func (w *Warehouse) insertDimensionBatch(ctx context.Context, spec model.DimensionSpec, records []model.DimensionRecord, out map[string]model.DimensionEntry) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cols := append([]string{spec.KeyColumn}, spec.AttributeColumns...)
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Table, strings.Join(cols, ", "), placeholders(len(cols))))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		args := append([]any{rec.NaturalKey}, attributeArgs(spec, rec.Attributes)...)
		res, execErr := stmt.ExecContext(ctx, args...)
		if execErr != nil {
			return fmt.Errorf("failed to insert %q: %w", rec.NaturalKey, execErr)
		}
		sk, idErr := res.LastInsertId()
		if idErr != nil {
			return fmt.Errorf("failed to read surrogate key for %q: %w", rec.NaturalKey, idErr)
		}
		out[model.NormalizeKey(rec.NaturalKey)] = model.DimensionEntry{
			SK:         sk,
			NaturalKey: rec.NaturalKey,
			Attributes: rec.Attributes,
		}
	}

	return tx.Commit()
}

// attributeArgs pads or truncates record attributes to the dimension's
// attribute column count.
func attributeArgs(spec model.DimensionSpec, attrs []string) []any {
	args := make([]any, len(spec.AttributeColumns))
	for i := range args {
		if i < len(attrs) {
			args[i] = attrs[i]
		} else {
			args[i] = ""
		}
	}
	return args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
