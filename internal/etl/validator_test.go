package etl

import (
	"testing"

	"github.com/maugp/salescube/internal/common"
	"github.com/maugp/salescube/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRow(docID string) model.FactRow {
	return model.FactRow{
		DateKey:      20240315,
		CustomerSK:   1,
		ProductSK:    1,
		WarehouseSK:  0,
		Quantity:     decimal.NewFromInt(10),
		TotalUSD:     decimal.NewFromInt(100),
		SourceSystem: "DB_SALES",
		SourceDocID:  docID,
	}
}

func TestValidateBatch_AcceptsValidBatch(t *testing.T) {
	batch := []model.FactRow{validRow("INV1"), validRow("INV2")}
	require.NoError(t, ValidateBatch(batch))
}

func TestValidateBatch_RoundsDecimalsInPlace(t *testing.T) {
	row := validRow("INV1")
	row.Quantity = decimal.RequireFromString("1.123456789012345")
	row.TotalUSD = decimal.RequireFromString("99.99999999995")
	row.TotalCRC = decimal.NullDecimal{Decimal: decimal.RequireFromString("5.00000000004"), Valid: true}
	batch := []model.FactRow{row}

	require.NoError(t, ValidateBatch(batch))

	assert.Equal(t, "1.123456789", batch[0].Quantity.String())
	assert.Equal(t, "100", batch[0].TotalUSD.String())
	assert.Equal(t, "5", batch[0].TotalCRC.Decimal.String())
}

func TestValidateBatch_MissingRequiredKeysRejectWholeBatch(t *testing.T) {
	bad := validRow("INV2")
	bad.CustomerSK = 0
	batch := []model.FactRow{validRow("INV1"), bad}

	err := ValidateBatch(batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "id_customer", verr.Violations[0].Column)
	require.Len(t, verr.Violations[0].Samples, 1)
	assert.Equal(t, "INV2", verr.Violations[0].Samples[0].SourceDocID)
	assert.Equal(t, 1, verr.Violations[0].Samples[0].Index)
}

func TestValidateBatch_ReportsAllViolationsTogether(t *testing.T) {
	noDate := validRow("INV1")
	noDate.DateKey = 0
	bigKey := validRow("INV2")
	bigKey.ProductSK = int64(1) << 40
	bigDecimal := validRow("INV3")
	bigDecimal.TotalUSD = decimal.New(1, 29)

	err := ValidateBatch([]model.FactRow{noDate, bigKey, bigDecimal})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	columns := make(map[string]bool)
	for _, v := range verr.Violations {
		columns[v.Column] = true
	}
	assert.True(t, columns["id_date"])
	assert.True(t, columns["id_product"])
	assert.True(t, columns["total_usd"])
}

func TestValidateBatch_DecimalBoundaryIsInclusive(t *testing.T) {
	atLimit := validRow("INV1")
	atLimit.TotalUSD = decimal.New(1, 28).Sub(decimal.New(1, 0))
	require.NoError(t, ValidateBatch([]model.FactRow{atLimit}))

	over := validRow("INV2")
	over.TotalUSD = decimal.New(1, 28)
	require.Error(t, ValidateBatch([]model.FactRow{over}))
}

func TestValidateBatch_SamplesAreCapped(t *testing.T) {
	batch := make([]model.FactRow, 8)
	for i := range batch {
		batch[i] = validRow("INV")
		batch[i].CustomerSK = 0
	}

	err := ValidateBatch(batch)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, 8, verr.Violations[0].Count)
	assert.Len(t, verr.Violations[0].Samples, 5)
}

func TestValidateBatch_NegativeValuesAllowed(t *testing.T) {
	row := validRow("CN1")
	row.Quantity = decimal.NewFromInt(-4)
	row.TotalUSD = decimal.NewFromInt(-40)
	require.NoError(t, ValidateBatch([]model.FactRow{row}))
}
