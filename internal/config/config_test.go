package config

import (
	"testing"

	"github.com/maugp/salescube/internal/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	resetViper(t)
	viper.Set("source.dsn", "source.db")
	viper.Set("warehouse.dsn", "warehouse.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DB_SALES", cfg.SourceTag)
	assert.True(t, cfg.Tolerances.AbsolutePrice.Equal(decimal.NewFromFloat(0.01)))
	assert.True(t, cfg.Tolerances.RelativePrice.Equal(decimal.NewFromFloat(0.005)))
	assert.True(t, cfg.Tolerances.QuantityEpsilon.Equal(decimal.NewFromFloat(0.0001)))
}

func TestLoad_MissingDSNRejected(t *testing.T) {
	resetViper(t)
	viper.Set("warehouse.dsn", "warehouse.db")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestLoad_TolerancesOverridden(t *testing.T) {
	resetViper(t)
	viper.Set("source.dsn", "source.db")
	viper.Set("warehouse.dsn", "warehouse.db")
	viper.Set("matching.absolute_price_tolerance", "0.05")
	viper.Set("matching.relative_price_tolerance", "0.01")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Tolerances.AbsolutePrice.Equal(decimal.NewFromFloat(0.05)))
	assert.True(t, cfg.Tolerances.RelativePrice.Equal(decimal.NewFromFloat(0.01)))
}

func TestLoad_InvalidToleranceRejected(t *testing.T) {
	resetViper(t)
	viper.Set("source.dsn", "source.db")
	viper.Set("warehouse.dsn", "warehouse.db")

	viper.Set("matching.absolute_price_tolerance", "not-a-number")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	viper.Set("matching.absolute_price_tolerance", "-0.01")
	_, err = Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
