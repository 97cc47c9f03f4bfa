// Package catalog is a read-only index over products, variants and
// per-branch stock.
package catalog

import (
	"slices"
	"strings"

	"retailpos/backend/internal/domain"
)

type entry struct {
	product domain.Product
	variant domain.Variant
}

type Index struct {
	products  []domain.Product
	byVariant map[string]entry
	bySKU     map[string]string
}

// New builds an index over a snapshot of products. Inactive products are
// kept out so their variants stop resolving.
func New(products []domain.Product) *Index {
	idx := &Index{
		products:  make([]domain.Product, 0, len(products)),
		byVariant: make(map[string]entry, len(products)),
		bySKU:     make(map[string]string, len(products)),
	}
	for _, p := range products {
		if !p.Active {
			continue
		}
		idx.products = append(idx.products, p)
		for _, v := range p.Variants {
			idx.byVariant[v.ID] = entry{product: p, variant: v}
			idx.bySKU[normalizeSKU(v.SKU)] = v.ID
		}
	}
	return idx
}

func (i *Index) Products() []domain.Product {
	return slices.Clone(i.products)
}

func (i *Index) Lookup(variantID string) (domain.Product, domain.Variant, bool) {
	e, ok := i.byVariant[variantID]
	return e.product, e.variant, ok
}

// FindBySKU resolves a scanned or typed SKU.
func (i *Index) FindBySKU(sku string) (domain.Product, domain.Variant, bool) {
	variantID, ok := i.bySKU[normalizeSKU(sku)]
	if !ok {
		return domain.Product{}, domain.Variant{}, false
	}
	return i.Lookup(variantID)
}

// StockCeiling returns the on-hand quantity of a variant at a branch. The
// second result is false when the variant no longer resolves.
func (i *Index) StockCeiling(variantID string, branchID string) (int, bool) {
	e, ok := i.byVariant[variantID]
	if !ok {
		return 0, false
	}
	qty := e.variant.StockByBranch[branchID]
	if qty < 0 {
		qty = 0
	}
	return qty, true
}

// Ceilings binds StockCeiling to one branch.
func (i *Index) Ceilings(branchID string) func(variantID string) (int, bool) {
	return func(variantID string) (int, bool) {
		return i.StockCeiling(variantID, branchID)
	}
}

// NewLine captures the display fields and the branch ceiling of a variant
// for insertion into a cart.
func NewLine(p domain.Product, v domain.Variant, branchID string) domain.CartLine {
	name := p.Name
	if label := variantLabel(p, v); label != "" {
		name = name + " (" + label + ")"
	}
	ceiling := v.StockByBranch[branchID]
	if ceiling < 0 {
		ceiling = 0
	}
	return domain.CartLine{
		VariantID:      v.ID,
		ProductID:      p.ID,
		Name:           name,
		SKU:            v.SKU,
		ImageURL:       p.ImageURL,
		UnitPriceCents: v.PriceCents,
		UnitCostCents:  v.CostCents,
		Qty:            1,
		StockCeiling:   ceiling,
	}
}

// LowStock lists variants at or below their threshold for a branch.
func (i *Index) LowStock(branchID string) []domain.LowStockItem {
	items := make([]domain.LowStockItem, 0)
	for _, p := range i.products {
		for _, v := range p.Variants {
			if v.LowStockThreshold <= 0 {
				continue
			}
			onHand := v.StockByBranch[branchID]
			if onHand > v.LowStockThreshold {
				continue
			}
			items = append(items, domain.LowStockItem{
				ProductID: p.ID,
				VariantID: v.ID,
				Name:      NewLine(p, v, branchID).Name,
				SKU:       v.SKU,
				OnHand:    onHand,
				Threshold: v.LowStockThreshold,
			})
		}
	}
	slices.SortFunc(items, func(a, b domain.LowStockItem) int {
		if a.OnHand != b.OnHand {
			return a.OnHand - b.OnHand
		}
		return strings.Compare(a.SKU, b.SKU)
	})
	return items
}

func variantLabel(p domain.Product, v domain.Variant) string {
	if len(v.Options) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v.Options))
	for _, axis := range p.Axes {
		if opt, ok := v.Options[axis.Name]; ok {
			parts = append(parts, opt)
		}
	}
	return strings.Join(parts, " / ")
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
