// Package reconcile nets credit-note lines against their originating invoice
// lines. When the source carries no explicit base-document linkage, returns
// are matched to candidate sales by a greedy first-fit heuristic under a
// configurable unit-price tolerance.
package reconcile

import (
	"log/slog"
	"sort"
	"time"

	"github.com/maugp/salescube/internal/config"
	"github.com/maugp/salescube/internal/model"
	"github.com/shopspring/decimal"
)

// Reconciler matches unlinked returns and collapses movements into net fact
// candidates. It performs no global cross-group optimization: each return is
// resolved independently, in input order, against the first candidate that
// can absorb it. That simplification is part of the contract, not an
// approximation to be improved.
type Reconciler struct {
	tol config.Tolerances
}

// New creates a reconciler with the given matching tolerances.
func New(tol config.Tolerances) *Reconciler {
	return &Reconciler{tol: tol}
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Lines             []model.ReconciledSalesLine
	LinkedReturns     int
	UnmatchedReturns  int
	SkippedZeroLines  int
	DroppedZeroGroups int
}

// ledger tracks the unconsumed quantity of every sale line. The arena owns
// the mutable state; the index maps the (customer, item, currency) match
// dimensions to arena positions. It never escapes the reconciliation pass.
type ledger struct {
	arena []candidate
	index map[matchKey][]int
}

type candidate struct {
	line      *model.RawSalesLine
	remaining decimal.Decimal
}

type matchKey struct {
	customer string
	item     string
	currency string
}

func newLedger(sales []model.RawSalesLine) *ledger {
	l := &ledger{
		arena: make([]candidate, len(sales)),
		index: make(map[matchKey][]int),
	}
	for i := range sales {
		l.arena[i] = candidate{line: &sales[i], remaining: sales[i].Quantity}
		k := matchKeyFor(&sales[i])
		l.index[k] = append(l.index[k], i)
	}
	return l
}

func matchKeyFor(line *model.RawSalesLine) matchKey {
	return matchKey{
		customer: model.NormalizeKey(line.CustomerCode),
		item:     model.NormalizeKey(line.ItemCode),
		currency: model.NormalizeKey(line.CurrencyCode),
	}
}

// Reconcile links every return line to an originating sale line where
// possible, then groups all movements into net rows. Unmatched returns are
// kept as independent rows under their own document identity; they are
// counted, not rejected.
func (r *Reconciler) Reconcile(sales, returns []model.RawSalesLine) Result {
	var res Result
	led := newLedger(sales)

	type resolved struct {
		line    *model.RawSalesLine
		docID   string
		lineNo  int
		date    time.Time
		spCode  string
	}

	resolvedReturns := make([]resolved, 0, len(returns))
	for i := range returns {
		ret := &returns[i]
		if r.withinEpsilon(ret.Quantity) || r.withinEpsilon(ret.Amount) {
			res.SkippedZeroLines++
			continue
		}

		if ret.HasBaseRef {
			resolvedReturns = append(resolvedReturns, resolved{
				line: ret, docID: ret.BaseDocID, lineNo: ret.BaseLineNo,
				date: ret.Date, spCode: ret.SalespersonCode,
			})
			res.LinkedReturns++
			continue
		}

		if cand := r.match(led, ret); cand != nil {
			resolvedReturns = append(resolvedReturns, resolved{
				line: ret, docID: cand.line.DocID, lineNo: cand.line.LineNo,
				date: cand.line.Date, spCode: r.inheritSalesperson(ret, cand.line),
			})
			res.LinkedReturns++
		} else {
			resolvedReturns = append(resolvedReturns, resolved{
				line: ret, docID: ret.DocID, lineNo: ret.LineNo,
				date: ret.Date, spCode: ret.SalespersonCode,
			})
			res.UnmatchedReturns++
		}
	}

	if res.UnmatchedReturns > 0 {
		slog.Warn("Returns left unmatched after reconciliation",
			"unmatched", res.UnmatchedReturns,
			"linked", res.LinkedReturns)
	}

	// Net grouping: sales under their own identity, returns under their
	// resolved identity. The earliest contributing date wins.
	type groupKey struct {
		docID       string
		lineNo      int
		item        string
		customer    string
		salesperson string
		currency    string
	}

	groups := make(map[groupKey]*model.ReconciledSalesLine)
	order := make([]groupKey, 0, len(sales))

	add := func(key groupKey, line *model.RawSalesLine, date time.Time, spCode string) {
		g, ok := groups[key]
		if !ok {
			groups[key] = &model.ReconciledSalesLine{
				ResolvedDate:    date,
				ResolvedDocID:   key.docID,
				ResolvedLineNo:  key.lineNo,
				CustomerCode:    line.CustomerCode,
				SalespersonCode: spCode,
				ItemCode:        line.ItemCode,
				WarehouseCode:   line.WarehouseCode,
				CurrencyCode:    line.CurrencyCode,
				Quantity:        line.Quantity,
				Amount:          line.Amount,
			}
			order = append(order, key)
			return
		}
		g.Quantity = g.Quantity.Add(line.Quantity)
		g.Amount = g.Amount.Add(line.Amount)
		if date.Before(g.ResolvedDate) {
			g.ResolvedDate = date
		}
		if g.WarehouseCode == "" {
			g.WarehouseCode = line.WarehouseCode
		}
	}

	keyFor := func(docID string, lineNo int, line *model.RawSalesLine, spCode string) groupKey {
		return groupKey{
			docID:       docID,
			lineNo:      lineNo,
			item:        model.NormalizeKey(line.ItemCode),
			customer:    model.NormalizeKey(line.CustomerCode),
			salesperson: model.NormalizeKey(spCode),
			currency:    model.NormalizeKey(line.CurrencyCode),
		}
	}

	for i := range sales {
		s := &sales[i]
		add(keyFor(s.DocID, s.LineNo, s, s.SalespersonCode), s, s.Date, s.SalespersonCode)
	}
	for _, rr := range resolvedReturns {
		add(keyFor(rr.docID, rr.lineNo, rr.line, rr.spCode), rr.line, rr.date, rr.spCode)
	}

	res.Lines = make([]model.ReconciledSalesLine, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if r.withinEpsilon(g.Quantity) && r.withinEpsilon(g.Amount) {
			res.DroppedZeroGroups++
			continue
		}
		res.Lines = append(res.Lines, *g)
	}

	sort.SliceStable(res.Lines, func(i, j int) bool {
		a, b := &res.Lines[i], &res.Lines[j]
		if a.ResolvedDocID != b.ResolvedDocID {
			return a.ResolvedDocID < b.ResolvedDocID
		}
		if a.ResolvedLineNo != b.ResolvedLineNo {
			return a.ResolvedLineNo < b.ResolvedLineNo
		}
		return a.ItemCode < b.ItemCode
	})

	return res
}

// match finds the first sale line that can absorb the return, preferring the
// most recent eligible prior sale and falling back to the nearest later one.
// Ties on date break by ascending document id, then line number, so a fixed
// input always resolves identically.
func (r *Reconciler) match(led *ledger, ret *model.RawSalesLine) *candidate {
	needed := ret.Quantity.Neg()
	retUnit := ret.UnitPrice()

	var eligible []*candidate
	for _, idx := range led.index[matchKeyFor(ret)] {
		cand := &led.arena[idx]
		if ret.SalespersonCode != "" &&
			model.NormalizeKey(cand.line.SalespersonCode) != model.NormalizeKey(ret.SalespersonCode) {
			continue
		}
		if cand.remaining.LessThanOrEqual(r.tol.QuantityEpsilon) {
			continue
		}
		if r.withinEpsilon(cand.line.Quantity) {
			continue
		}
		candUnit := cand.line.UnitPrice()
		allowed := decimal.Max(r.tol.AbsolutePrice, r.tol.RelativePrice.Mul(candUnit.Abs()))
		if retUnit.Sub(candUnit).Abs().GreaterThan(allowed) {
			continue
		}
		eligible = append(eligible, cand)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].line, eligible[j].line
		aPrior := !a.Date.After(ret.Date)
		bPrior := !b.Date.After(ret.Date)
		if aPrior != bPrior {
			return aPrior
		}
		if !a.Date.Equal(b.Date) {
			if aPrior {
				return a.Date.After(b.Date)
			}
			return a.Date.Before(b.Date)
		}
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		return a.LineNo < b.LineNo
	})

	for _, cand := range eligible {
		if cand.remaining.GreaterThanOrEqual(needed) {
			cand.remaining = cand.remaining.Sub(needed)
			return cand
		}
	}
	return nil
}

// inheritSalesperson keeps net groups together when the credit note omits the
// salesperson the originating invoice carried.
func (r *Reconciler) inheritSalesperson(ret, sale *model.RawSalesLine) string {
	if ret.SalespersonCode != "" {
		return ret.SalespersonCode
	}
	return sale.SalespersonCode
}

func (r *Reconciler) withinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(r.tol.QuantityEpsilon)
}
