// Package model defines the typed records that flow through the sales
// warehouse pipeline.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes invoice lines from credit-note lines.
type TransactionKind string

// Transaction kinds.
const (
	KindSale   TransactionKind = "SALE"
	KindReturn TransactionKind = "RETURN"
)

// RawSalesLine is one extracted invoice or credit-note line. Quantity and
// Amount are signed: positive for sales, negative for returns. A line is
// immutable once read from the source.
type RawSalesLine struct {
	Date            time.Time
	DocID           string
	CustomerCode    string
	SalespersonCode string
	ItemCode        string
	WarehouseCode   string
	CurrencyCode    string
	BaseDocID       string
	Quantity        decimal.Decimal
	Amount          decimal.Decimal
	LineNo          int
	BaseLineNo      int
	HasBaseRef      bool
	Kind            TransactionKind
}

// UnitPrice returns Amount / Quantity. Callers must not invoke it on a line
// whose quantity is zero within tolerance.
func (l *RawSalesLine) UnitPrice() decimal.Decimal {
	return l.Amount.Div(l.Quantity)
}

// ReconciledSalesLine is a net fact candidate: a sale line with any linked
// returns summed in, or an unmatched return standing alone. Quantity and
// Amount hold the net values; ResolvedDate is the date of the earliest
// contributing row.
type ReconciledSalesLine struct {
	ResolvedDate    time.Time
	ResolvedDocID   string
	CustomerCode    string
	SalespersonCode string
	ItemCode        string
	WarehouseCode   string
	CurrencyCode    string
	Quantity        decimal.Decimal
	Amount          decimal.Decimal
	ResolvedLineNo  int
}
