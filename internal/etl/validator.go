package etl

import (
	"fmt"
	"math"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/model"
	"github.com/shopspring/decimal"
)

// Destination numeric limits. Keys land in 32-bit integer columns; decimal
// columns are DECIMAL(38,10), leaving 28 integer digits.
const (
	maxIntegerKey = int64(math.MaxInt32)
	// decimalScale is the destination's fixed decimal scale.
	decimalScale = 10
	// maxViolationSamples bounds how many offending rows a violation reports.
	maxViolationSamples = 5
)

var maxDecimalMagnitude = decimal.New(1, 28).Sub(decimal.New(1, 0))

// SampleRow identifies one offending row within a violation.
type SampleRow struct {
	SourceDocID string
	Value       string
	Index       int
}

// Violation is one constraint breached somewhere in the batch.
type Violation struct {
	Column  string
	Reason  string
	Samples []SampleRow
	Count   int
}

// ValidationError carries every violation found in a batch. The batch gate
// is all-or-nothing: one violation rejects the whole batch.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("fact batch rejected: %d constraint violations", len(e.Violations))
	for _, v := range e.Violations {
		msg += fmt.Sprintf("; %s: %s (%d rows)", v.Column, v.Reason, v.Count)
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return common.ErrValidationFailed
}

// violationSet accumulates per-column/reason violations with sampled rows.
type violationSet struct {
	byKey map[string]*Violation
	order []string
}

func (s *violationSet) add(column, reason string, index int, docID, value string) {
	key := column + "\x00" + reason
	v, ok := s.byKey[key]
	if !ok {
		v = &Violation{Column: column, Reason: reason}
		s.byKey[key] = v
		s.order = append(s.order, key)
	}
	v.Count++
	if len(v.Samples) < maxViolationSamples {
		v.Samples = append(v.Samples, SampleRow{Index: index, SourceDocID: docID, Value: value})
	}
}

// ValidateBatch enforces the destination's required-field and numeric-range
// constraints over the whole batch before any write. Decimal columns are
// rounded in place to the destination scale; no other repair is performed.
// All violations are collected and reported together.
func ValidateBatch(batch []model.FactRow) error {
	set := &violationSet{byKey: make(map[string]*Violation)}

	for i := range batch {
		row := &batch[i]

		if row.DateKey <= 0 {
			set.add("id_date", "required key missing", i, row.SourceDocID, fmt.Sprint(row.DateKey))
		}
		if row.CustomerSK <= 0 {
			set.add("id_customer", "required key missing", i, row.SourceDocID, fmt.Sprint(row.CustomerSK))
		}
		if row.ProductSK <= 0 {
			set.add("id_product", "required key missing", i, row.SourceDocID, fmt.Sprint(row.ProductSK))
		}

		checkIntRange(set, "id_date", int64(row.DateKey), i, row.SourceDocID)
		checkIntRange(set, "id_customer", row.CustomerSK, i, row.SourceDocID)
		checkIntRange(set, "id_product", row.ProductSK, i, row.SourceDocID)
		checkIntRange(set, "id_warehouse", row.WarehouseSK, i, row.SourceDocID)
		if row.SalespersonSK != nil {
			checkIntRange(set, "id_salesperson", *row.SalespersonSK, i, row.SourceDocID)
		}
		if row.CountrySK != nil {
			checkIntRange(set, "id_country", *row.CountrySK, i, row.SourceDocID)
		}
		if row.CurrencySK != nil {
			checkIntRange(set, "id_currency", *row.CurrencySK, i, row.SourceDocID)
		}

		row.Quantity = row.Quantity.Round(decimalScale)
		checkDecimalRange(set, "quantity", row.Quantity, i, row.SourceDocID)

		row.TotalUSD = row.TotalUSD.Round(decimalScale)
		checkDecimalRange(set, "total_usd", row.TotalUSD, i, row.SourceDocID)

		if row.TotalCRC.Valid {
			row.TotalCRC.Decimal = row.TotalCRC.Decimal.Round(decimalScale)
			checkDecimalRange(set, "total_crc", row.TotalCRC.Decimal, i, row.SourceDocID)
		}
	}

	if len(set.order) == 0 {
		return nil
	}

	violations := make([]Violation, 0, len(set.order))
	for _, key := range set.order {
		violations = append(violations, *set.byKey[key])
	}
	return &ValidationError{Violations: violations}
}

func checkIntRange(set *violationSet, column string, value int64, index int, docID string) {
	if value > maxIntegerKey || value < -maxIntegerKey {
		set.add(column, "exceeds integer range", index, docID, fmt.Sprint(value))
	}
}

func checkDecimalRange(set *violationSet, column string, value decimal.Decimal, index int, docID string) {
	if value.Abs().GreaterThan(maxDecimalMagnitude) {
		set.add(column, "exceeds decimal range", index, docID, value.String())
	}
}
