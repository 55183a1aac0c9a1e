package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FactRow is one measurable net sales movement, fully resolved to warehouse
// surrogate keys. Salesperson, country, and currency are optional in the
// destination schema; the warehouse key always resolves, falling back to the
// sentinel when the source carries no warehouse code.
type FactRow struct {
	SalespersonSK *int64
	CountrySK     *int64
	CurrencySK    *int64
	SourceSystem  string
	SourceDocID   string
	Quantity      decimal.Decimal
	TotalUSD      decimal.Decimal
	TotalCRC      decimal.NullDecimal
	DateKey       int
	CustomerSK    int64
	ProductSK     int64
	WarehouseSK   int64
}

// DateKey encodes a date as a YYYYMMDD integer. The fact table carries this
// value directly; it is not looked up in dim_time.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
