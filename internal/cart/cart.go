// Package cart holds the live sale of a terminal as an immutable value
// advanced by Reduce.
//
// Edits never fail. Quantities above the stock ceiling are capped, a zero or
// negative quantity removes the line, and actions that reference a missing
// line are ignored. Only terminal operations (hold, checkout, return) report
// errors, and they do so outside this package.
package cart

import (
	"slices"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

// DefaultTaxRate is the flat rate applied to the cart subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.08")

type Cart struct {
	lines []domain.CartLine
}

func New(lines ...domain.CartLine) Cart {
	return Reduce(Cart{}, Restore{Lines: lines})
}

// Lines returns a copy of the cart lines in insertion order.
func (c Cart) Lines() []domain.CartLine {
	return slices.Clone(c.lines)
}

func (c Cart) Len() int {
	return len(c.lines)
}

func (c Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c Cart) Line(variantID string) (domain.CartLine, bool) {
	if i := c.index(variantID); i >= 0 {
		return c.lines[i], true
	}
	return domain.CartLine{}, false
}

func (c Cart) index(variantID string) int {
	return slices.IndexFunc(c.lines, func(l domain.CartLine) bool {
		return l.VariantID == variantID
	})
}

type Totals struct {
	ItemCount     int
	SubtotalCents int64
	TaxCents      int64
	TotalCents    int64
}

// Totals derives subtotal, tax and total. Tax is rounded half away from zero
// to whole minor units.
func (c Cart) Totals(rate decimal.Decimal) Totals {
	var t Totals
	for _, l := range c.lines {
		t.ItemCount += l.Qty
		t.SubtotalCents += l.NetCents()
	}
	t.TaxCents = TaxCents(t.SubtotalCents, rate)
	t.TotalCents = t.SubtotalCents + t.TaxCents
	return t
}

func TaxCents(subtotalCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(subtotalCents).Mul(rate).Round(0).IntPart()
}

// ClampDiscount bounds a requested line discount to [0, unit price × qty].
// Reduce stores discounts as given, so callers clamp before dispatching.
func ClampDiscount(line domain.CartLine, amountCents int64) int64 {
	if amountCents < 0 {
		return 0
	}
	if gross := line.GrossCents(); amountCents > gross {
		return gross
	}
	return amountCents
}
