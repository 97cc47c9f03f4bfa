package cart

import "retailpos/backend/internal/domain"

// CeilingFunc reports current on-hand stock for a variant. ok is false when
// the variant or its product no longer resolves.
type CeilingFunc func(variantID string) (qty int, ok bool)

// Sync reconciles c against current stock in a single pass. Unresolved lines
// and lines whose ceiling fell to zero are dropped. Other lines are lowered to
// the new ceiling, with any discount capped to the reduced subtotal, and record
// that ceiling. Applying Sync twice without a stock change yields the same
// cart. The second result counts dropped lines.
func Sync(c Cart, ceilings CeilingFunc) (Cart, int) {
	next := make([]domain.CartLine, 0, len(c.lines))
	dropped := 0
	for _, l := range c.lines {
		ceiling, ok := ceilings(l.VariantID)
		if !ok || ceiling <= 0 {
			dropped++
			continue
		}
		l.StockCeiling = ceiling
		if l.Qty > ceiling {
			l.Qty = ceiling
			l.DiscountCents = ClampDiscount(l, l.DiscountCents)
		}
		next = append(next, l)
	}
	if len(next) == 0 {
		return Cart{}, dropped
	}
	return Cart{lines: next}, dropped
}
