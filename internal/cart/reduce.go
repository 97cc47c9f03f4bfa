package cart

import (
	"slices"

	"retailpos/backend/internal/domain"
)

// Action is one of AddItem, RemoveItem, UpdateQuantity, UpdateDiscount,
// Clear or Restore.
type Action interface {
	isAction()
}

// AddItem inserts Line with quantity 1, or bumps an existing line of the same
// variant by one up to its ceiling.
type AddItem struct {
	Line domain.CartLine
}

type RemoveItem struct {
	VariantID string
}

// UpdateQuantity sets the line quantity, capped at the line's ceiling. A
// discount larger than the new line subtotal is lowered to it.
type UpdateQuantity struct {
	VariantID string
	Qty       int
}

// UpdateDiscount stores AmountCents on the line without re-checking it
// against the line subtotal. See ClampDiscount.
type UpdateDiscount struct {
	VariantID   string
	AmountCents int64
}

type Clear struct{}

// Restore replaces every line, as used by hold-resume.
type Restore struct {
	Lines []domain.CartLine
}

func (AddItem) isAction()        {}
func (RemoveItem) isAction()     {}
func (UpdateQuantity) isAction() {}
func (UpdateDiscount) isAction() {}
func (Clear) isAction()          {}
func (Restore) isAction()        {}

// Reduce applies a to c and returns the resulting cart. c is left untouched.
func Reduce(c Cart, a Action) Cart {
	switch act := a.(type) {
	case AddItem:
		return c.add(act.Line)
	case RemoveItem:
		return c.without(act.VariantID)
	case UpdateQuantity:
		if act.Qty <= 0 {
			return c.without(act.VariantID)
		}
		return c.withLine(act.VariantID, func(l *domain.CartLine) {
			l.Qty = min(act.Qty, l.StockCeiling)
			if gross := l.GrossCents(); l.DiscountCents > gross {
				l.DiscountCents = gross
			}
		})
	case UpdateDiscount:
		return c.withLine(act.VariantID, func(l *domain.CartLine) {
			l.DiscountCents = act.AmountCents
		})
	case Clear:
		return Cart{}
	case Restore:
		return restore(act.Lines)
	}
	return c
}

func (c Cart) add(line domain.CartLine) Cart {
	if line.VariantID == "" {
		return c
	}
	if c.index(line.VariantID) >= 0 {
		return c.withLine(line.VariantID, func(l *domain.CartLine) {
			if l.StockCeiling <= 0 {
				return
			}
			l.Qty = min(l.Qty+1, l.StockCeiling)
		})
	}
	if line.StockCeiling <= 0 {
		return c
	}
	line.Qty = 1
	line.DiscountCents = 0
	next := make([]domain.CartLine, 0, len(c.lines)+1)
	next = append(next, c.lines...)
	next = append(next, line)
	return Cart{lines: next}
}

func (c Cart) without(variantID string) Cart {
	i := c.index(variantID)
	if i < 0 {
		return c
	}
	next := slices.Delete(slices.Clone(c.lines), i, i+1)
	if len(next) == 0 {
		return Cart{}
	}
	return Cart{lines: next}
}

func (c Cart) withLine(variantID string, edit func(*domain.CartLine)) Cart {
	i := c.index(variantID)
	if i < 0 {
		return c
	}
	next := slices.Clone(c.lines)
	edit(&next[i])
	return Cart{lines: next}
}

func restore(lines []domain.CartLine) Cart {
	next := make([]domain.CartLine, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.VariantID == "" || l.Qty <= 0 {
			continue
		}
		if _, dup := seen[l.VariantID]; dup {
			continue
		}
		seen[l.VariantID] = struct{}{}
		next = append(next, l)
	}
	if len(next) == 0 {
		return Cart{}
	}
	return Cart{lines: next}
}
