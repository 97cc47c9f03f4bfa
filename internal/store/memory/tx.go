package memory

import (
	"context"
	"maps"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// lockedSinks writes straight into the store. Callers hold s.mu.
type lockedSinks struct {
	s *Store
}

func (s *Store) sinks() lockedSinks {
	return lockedSinks{s: s}
}

func (l lockedSinks) AdjustStock(_ context.Context, variantID string, branchID string, delta int) error {
	if _, ok := l.s.variantProduct[variantID]; !ok {
		return store.ErrNotFound
	}
	if strings.TrimSpace(branchID) == "" {
		return store.ErrInvalidRecord
	}
	if l.s.stock[variantID] == nil {
		l.s.stock[variantID] = make(map[string]int)
	}
	l.s.stock[variantID][branchID] += delta
	return nil
}

func (l lockedSinks) AdjustCustomerCredit(_ context.Context, customerID string, deltaCents int64) error {
	c, ok := l.s.customers[customerID]
	if !ok {
		return store.ErrNotFound
	}
	c.CreditBalanceCents += deltaCents
	l.s.customers[customerID] = c
	return nil
}

func (l lockedSinks) RecordSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidRecord
	}
	if _, dup := l.s.salesByID[sale.ID]; dup {
		return store.ErrInvalidRecord
	}
	l.s.sales = append(l.s.sales, cloneSale(sale))
	l.s.salesByID[sale.ID] = len(l.s.sales) - 1
	return nil
}

type snapshot struct {
	stock     map[string]map[string]int
	customers map[string]domain.Customer
	salesLen  int
}

func (s *Store) takeSnapshot() snapshot {
	stock := make(map[string]map[string]int, len(s.stock))
	for id, byBranch := range s.stock {
		stock[id] = maps.Clone(byBranch)
	}
	return snapshot{
		stock:     stock,
		customers: maps.Clone(s.customers),
		salesLen:  len(s.sales),
	}
}

func (s *Store) restore(snap snapshot) {
	s.stock = snap.stock
	s.customers = snap.customers
	for _, sale := range s.sales[snap.salesLen:] {
		delete(s.salesByID, sale.ID)
	}
	s.sales = s.sales[:snap.salesLen]
}

// WithinTx holds the write lock for the duration of fn and rolls stock,
// customer balances and recorded sales back when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Sinks) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.takeSnapshot()
	if err := fn(ctx, s.sinks()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}
