package model

import "strings"

// Dimension enumerates the reference dimensions of the star schema. Behavior
// that varies per dimension lives in the DimensionSpec returned by Spec, not
// in string-keyed tables.
type Dimension int

// Warehouse dimensions.
const (
	DimCustomer Dimension = iota
	DimProduct
	DimSalesperson
	DimWarehouse
	DimCountry
	DimCurrency
)

// AllDimensions lists every dimension in sync order.
var AllDimensions = []Dimension{
	DimCustomer, DimProduct, DimSalesperson, DimWarehouse, DimCountry, DimCurrency,
}

func (d Dimension) String() string {
	switch d {
	case DimCustomer:
		return "customer"
	case DimProduct:
		return "product"
	case DimSalesperson:
		return "salesperson"
	case DimWarehouse:
		return "warehouse"
	case DimCountry:
		return "country"
	case DimCurrency:
		return "currency"
	default:
		return "unknown"
	}
}

// DimensionEntry is one warehouse dimension row: a natural key with its
// assigned surrogate key and attribute values. Surrogate keys are assigned
// once and never reassigned.
type DimensionEntry struct {
	NaturalKey string
	Attributes []string
	SK         int64
}

// DimensionRecord is a source-side dimension row awaiting synchronization.
type DimensionRecord struct {
	NaturalKey string
	Attributes []string
}

// DimensionSpec is the fixed configuration of one dimension variant.
type DimensionSpec struct {
	Sentinel         *DimensionEntry
	Table            string
	KeyColumn        string
	AttributeColumns []string
}

// WarehouseSentinel is the reserved "unknown warehouse" row. It has a fixed
// surrogate key and is never matched by real source data.
var WarehouseSentinel = DimensionEntry{
	SK:         0,
	NaturalKey: "UNK",
	Attributes: []string{"Unknown warehouse"},
}

// Spec returns the warehouse-side configuration for the dimension.
func (d Dimension) Spec() DimensionSpec {
	switch d {
	case DimCustomer:
		return DimensionSpec{Table: "dim_customer", KeyColumn: "card_code", AttributeColumns: []string{"name", "zone"}}
	case DimProduct:
		return DimensionSpec{Table: "dim_product", KeyColumn: "item_code", AttributeColumns: []string{"name", "brand"}}
	case DimSalesperson:
		return DimensionSpec{Table: "dim_salesperson", KeyColumn: "sp_code", AttributeColumns: []string{"name"}}
	case DimWarehouse:
		return DimensionSpec{Table: "dim_warehouse", KeyColumn: "whs_code", AttributeColumns: []string{"name"}, Sentinel: &WarehouseSentinel}
	case DimCountry:
		return DimensionSpec{Table: "dim_country", KeyColumn: "iso2", AttributeColumns: []string{"name"}}
	case DimCurrency:
		return DimensionSpec{Table: "dim_currency", KeyColumn: "code", AttributeColumns: []string{"name"}}
	default:
		return DimensionSpec{}
	}
}

// NormalizeKey canonicalizes a natural key for comparison. Stored values keep
// their original casing; only lookups and set differences use this form.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
