package config

import (
	"fmt"

	"github.com/maugp/salescube/internal/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Tolerances are the matching constants for return reconciliation. They are
// explicit parameters so tests and operators can tune them per dataset.
type Tolerances struct {
	// AbsolutePrice is the flat unit-price difference allowed when matching
	// a return against a candidate sale line.
	AbsolutePrice decimal.Decimal
	// RelativePrice is the fractional unit-price difference allowed,
	// taken against the candidate's unit price.
	RelativePrice decimal.Decimal
	// QuantityEpsilon bounds what counts as a zero quantity or amount.
	QuantityEpsilon decimal.Decimal
}

// DefaultTolerances returns the matching constants used when none are
// configured.
func DefaultTolerances() Tolerances {
	return Tolerances{
		AbsolutePrice:   decimal.NewFromFloat(0.01),
		RelativePrice:   decimal.NewFromFloat(0.005),
		QuantityEpsilon: decimal.NewFromFloat(0.0001),
	}
}

// Config is the full runtime configuration, resolved from viper (flags, env,
// config file). Nothing in the pipeline reads viper directly.
type Config struct {
	SourceDSN    string
	WarehouseDSN string
	SourceTag    string
	Tolerances   Tolerances
}

// Load resolves the configuration from viper.
func Load() (Config, error) {
	cfg := Config{
		SourceDSN:    viper.GetString("source.dsn"),
		WarehouseDSN: viper.GetString("warehouse.dsn"),
		SourceTag:    viper.GetString("source.tag"),
		Tolerances:   DefaultTolerances(),
	}

	if cfg.SourceDSN == "" {
		return Config{}, fmt.Errorf("%w: source.dsn", common.ErrMissingConfig)
	}
	if cfg.WarehouseDSN == "" {
		return Config{}, fmt.Errorf("%w: warehouse.dsn", common.ErrMissingConfig)
	}
	if cfg.SourceTag == "" {
		cfg.SourceTag = "DB_SALES"
	}

	for key, dst := range map[string]*decimal.Decimal{
		"matching.absolute_price_tolerance": &cfg.Tolerances.AbsolutePrice,
		"matching.relative_price_tolerance": &cfg.Tolerances.RelativePrice,
		"matching.quantity_epsilon":         &cfg.Tolerances.QuantityEpsilon,
	} {
		raw := viper.GetString(key)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", common.ErrInvalidConfig, key, raw, err)
		}
		if d.IsNegative() {
			return Config{}, fmt.Errorf("%w: %s must not be negative", common.ErrInvalidConfig, key)
		}
		*dst = d
	}

	return cfg, nil
}
