package warehouse

import (
	"context"
	"testing"

	"github.com/maugp/salescube/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncDimension_InsertsAndReturnsAllEntries(t *testing.T) {
	wh := newTestWarehouse(t)
	ctx := context.Background()

	entries, err := wh.SyncDimension(ctx, model.DimCustomer, []model.DimensionRecord{
		{NaturalKey: "C001", Attributes: []string{"Alfa Corp", "NORTH"}},
		{NaturalKey: "C002", Attributes: []string{"Beta SA", "SOUTH"}},
	})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "C001", entries["C001"].NaturalKey)
	assert.Positive(t, entries["C001"].SK)
	assert.NotEqual(t, entries["C001"].SK, entries["C002"].SK)
}

func TestSyncDimension_IdempotentSurrogateKeys(t *testing.T) {
	wh := newTestWarehouse(t)
	ctx := context.Background()

	records := []model.DimensionRecord{
		{NaturalKey: "P1", Attributes: []string{"Widget", "ACME"}},
		{NaturalKey: "P2", Attributes: []string{"Gadget", "ACME"}},
	}

	first, err := wh.SyncDimension(ctx, model.DimProduct, records)
	require.NoError(t, err)
	second, err := wh.SyncDimension(ctx, model.DimProduct, records)
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.Equal(t, first["P1"].SK, second["P1"].SK)
	assert.Equal(t, first["P2"].SK, second["P2"].SK)
}

func TestSyncDimension_InsertOnlyKeepsStoredAttributes(t *testing.T) {
	wh := newTestWarehouse(t)
	ctx := context.Background()

	_, err := wh.SyncDimension(ctx, model.DimProduct, []model.DimensionRecord{
		{NaturalKey: "P1", Attributes: []string{"Widget", "ACME"}},
	})
	require.NoError(t, err)

	// Source renames the product; the stored row must not change.
	entries, err := wh.SyncDimension(ctx, model.DimProduct, []model.DimensionRecord{
		{NaturalKey: "P1", Attributes: []string{"Widget v2", "ACME"}},
	})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "Widget", entries["P1"].Attributes[0])
}

func TestSyncDimension_NormalizesKeysForComparisonOnly(t *testing.T) {
	wh := newTestWarehouse(t)
	ctx := context.Background()

	first, err := wh.SyncDimension(ctx, model.DimSalesperson, []model.DimensionRecord{
		{NaturalKey: "sp1", Attributes: []string{"Ana"}},
	})
	require.NoError(t, err)

	// Same key in different casing and padding must not create a new row.
	second, err := wh.SyncDimension(ctx, model.DimSalesperson, []model.DimensionRecord{
		{NaturalKey: " SP1 ", Attributes: []string{"Ana Maria"}},
	})
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first["SP1"].SK, second["SP1"].SK)
	// Stored value keeps its original casing.
	assert.Equal(t, "sp1", second["SP1"].NaturalKey)
}

func TestSyncDimension_SkipsBlankAndDuplicateKeys(t *testing.T) {
	wh := newTestWarehouse(t)
	ctx := context.Background()

	entries, err := wh.SyncDimension(ctx, model.DimCountry, []model.DimensionRecord{
		{NaturalKey: "CR", Attributes: []string{"Costa Rica"}},
		{NaturalKey: "  ", Attributes: []string{"Blank"}},
		{NaturalKey: "cr", Attributes: []string{"Duplicate"}},
	})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "Costa Rica", entries["CR"].Attributes[0])
}

func TestSyncDimension_WarehouseSentinelStable(t *testing.T) {
	wh := newTestWarehouse(t)
	ctx := context.Background()

	first, err := wh.SyncDimension(ctx, model.DimWarehouse, nil)
	require.NoError(t, err)
	second, err := wh.SyncDimension(ctx, model.DimWarehouse, []model.DimensionRecord{
		{NaturalKey: "W1", Attributes: []string{"Main"}},
	})
	require.NoError(t, err)

	require.Contains(t, first, "UNK")
	assert.Equal(t, model.WarehouseSentinel.SK, first["UNK"].SK)
	assert.Equal(t, model.WarehouseSentinel.SK, second["UNK"].SK)
	// Real rows never collide with the sentinel's reserved key.
	assert.NotEqual(t, model.WarehouseSentinel.SK, second["W1"].SK)
}
