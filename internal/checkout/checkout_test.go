package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/catalog"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/payment"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
)

var session = domain.Session{
	BranchID:    memory.MainBranchID,
	BranchName:  "Main Branch",
	TerminalID:  "T1",
	CashierName: "Ayu",
}

func coffeeCart(t *testing.T, repo *memory.Store, qty int) cart.Cart {
	t.Helper()
	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	idx := catalog.New(products)
	p, v, ok := idx.Lookup("var-coffee")
	require.True(t, ok)

	c := cart.Reduce(cart.Cart{}, cart.AddItem{Line: catalog.NewLine(p, v, memory.MainBranchID)})
	return cart.Reduce(c, cart.UpdateQuantity{VariantID: "var-coffee", Qty: qty})
}

func customer(t *testing.T, repo *memory.Store, id string) domain.Customer {
	t.Helper()
	c, err := repo.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return *c
}

func TestFinalizeCashSaleDeductsStockAndRecords(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	c := coffeeCart(t, repo, 2)
	walkIn := customer(t, repo, memory.WalkInID)

	totals := c.Totals(cart.DefaultTaxRate)
	require.Equal(t, int64(864), totals.TotalCents)

	res, err := payment.Reconcile(payment.Input{
		TotalCents: totals.TotalCents,
		Tenders:    []domain.Payment{{Method: domain.PaymentCash, AmountCents: 1000}},
		Customer:   walkIn,
		WalkInID:   memory.WalkInID,
	})
	require.NoError(t, err)

	sale, err := New(repo, nil, nil).Finalize(ctx, Request{
		Session: session, Cart: c, Customer: walkIn, Result: res,
		TaxRate: cart.DefaultTaxRate, WalkInID: memory.WalkInID,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SalePaid, sale.Status)
	assert.Equal(t, int64(800), sale.SubtotalCents)
	assert.Equal(t, int64(64), sale.TaxCents)
	assert.Equal(t, int64(864), sale.AmountCents)
	assert.Equal(t, int64(136), sale.ChangeCents)
	assert.Equal(t, "Main Branch", sale.BranchName)
	assert.Equal(t, "Ayu", sale.CashierName)
	assert.Equal(t, 38, repo.StockOf("var-coffee", memory.MainBranchID))

	stored, err := repo.FindSaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.AmountCents, stored.AmountCents)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, domain.PaymentCash, stored.Payments[0].Method)
}

func TestFinalizeCreditSaleMovesBalance(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	c := coffeeCart(t, repo, 2)
	rina := customer(t, repo, "cust-rina")

	res, err := payment.Reconcile(payment.Input{
		TotalCents:    864,
		Tenders:       []domain.Payment{{Method: domain.PaymentCash, AmountCents: 500}},
		Customer:      rina,
		WalkInID:      memory.WalkInID,
		ConfirmCredit: true,
	})
	require.NoError(t, err)

	sale, err := New(repo, nil, nil).Finalize(ctx, Request{
		Session: session, Cart: c, Customer: rina, Result: res,
		TaxRate: cart.DefaultTaxRate, WalkInID: memory.WalkInID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCredit, sale.Status)
	assert.Equal(t, int64(364), customer(t, repo, "cust-rina").CreditBalanceCents)
}

// spyRepo counts every sink call, whether made directly or inside WithinTx.
type spyRepo struct {
	*memory.Store
	calls int
}

func (s *spyRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Sinks) error) error {
	s.calls++
	return s.Store.WithinTx(ctx, fn)
}

func (s *spyRepo) AdjustStock(ctx context.Context, variantID string, branchID string, delta int) error {
	s.calls++
	return s.Store.AdjustStock(ctx, variantID, branchID, delta)
}

func (s *spyRepo) AdjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error {
	s.calls++
	return s.Store.AdjustCustomerCredit(ctx, customerID, deltaCents)
}

func (s *spyRepo) RecordSale(ctx context.Context, sale domain.Sale) error {
	s.calls++
	return s.Store.RecordSale(ctx, sale)
}

func TestFinalizeRefusesWalkInCreditWithoutTouchingSinks(t *testing.T) {
	repo := &spyRepo{Store: memory.NewSeeded()}
	c := coffeeCart(t, repo.Store, 2)
	walkIn := customer(t, repo.Store, memory.WalkInID)

	// A result that would put the balance on the walk-in account.
	res := payment.Result{
		TotalCents: 864, PaidCents: 500, BalanceCents: 364,
		Status:           domain.SaleCredit,
		Payments:         []domain.Payment{{Method: domain.PaymentCash, AmountCents: 500}, {Method: domain.PaymentCredit, AmountCents: 364}},
		CreditDeltaCents: 364,
	}
	_, err := New(repo, nil, nil).Finalize(context.Background(), Request{
		Session: session, Cart: c, Customer: walkIn, Result: res,
		TaxRate: cart.DefaultTaxRate, WalkInID: memory.WalkInID,
	})
	require.ErrorIs(t, err, domain.ErrBusinessRule)
	assert.Zero(t, repo.calls)
	assert.Equal(t, 40, repo.StockOf("var-coffee", memory.MainBranchID))
}

func TestFinalizeRejectsEmptyCartAndPendingPayment(t *testing.T) {
	repo := &spyRepo{Store: memory.NewSeeded()}
	f := New(repo, nil, nil)
	walkIn := customer(t, repo.Store, memory.WalkInID)

	_, err := f.Finalize(context.Background(), Request{
		Session: session, Cart: cart.Cart{}, Customer: walkIn,
		Result:  payment.Result{Status: domain.SalePaid},
		TaxRate: cart.DefaultTaxRate, WalkInID: memory.WalkInID,
	})
	require.ErrorIs(t, err, domain.ErrBusinessRule)

	_, err = f.Finalize(context.Background(), Request{
		Session: session, Cart: coffeeCart(t, repo.Store, 1), Customer: walkIn,
		Result:  payment.Result{TotalCents: 432, Status: domain.SalePending, BalanceCents: 432},
		TaxRate: cart.DefaultTaxRate, WalkInID: memory.WalkInID,
	})
	require.ErrorIs(t, err, domain.ErrBusinessRule)
	assert.Zero(t, repo.calls)
}

// faultySinks fails the first call to the named sink.
type faultySinks struct {
	store.Sinks
	failOn string
}

var errSinkDown = errors.New("sink unavailable")

func (f faultySinks) AdjustStock(ctx context.Context, variantID string, branchID string, delta int) error {
	if f.failOn == "stock" {
		return errSinkDown
	}
	return f.Sinks.AdjustStock(ctx, variantID, branchID, delta)
}

func (f faultySinks) AdjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error {
	if f.failOn == "credit" {
		return errSinkDown
	}
	return f.Sinks.AdjustCustomerCredit(ctx, customerID, deltaCents)
}

func (f faultySinks) RecordSale(ctx context.Context, sale domain.Sale) error {
	if f.failOn == "record" {
		return errSinkDown
	}
	return f.Sinks.RecordSale(ctx, sale)
}

// noRollbackRepo hands out sinks that write straight through, so only the
// saga's compensation can undo partial work.
type noRollbackRepo struct {
	*memory.Store
	failOn string
}

func (r *noRollbackRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Sinks) error) error {
	return fn(ctx, faultySinks{Sinks: r.Store, failOn: r.failOn})
}

// txRepo wraps the memory transaction, which also rolls back.
type txRepo struct {
	*memory.Store
	failOn string
}

func (r *txRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Sinks) error) error {
	return r.Store.WithinTx(ctx, func(ctx context.Context, tx store.Sinks) error {
		return fn(ctx, faultySinks{Sinks: tx, failOn: r.failOn})
	})
}

func TestFinalizeLeavesNoPartialEffectsWhenASinkFails(t *testing.T) {
	for _, failOn := range []string{"stock", "credit", "record"} {
		for _, wrap := range []struct {
			name string
			repo func(*memory.Store) store.Repository
		}{
			{"saga only", func(s *memory.Store) store.Repository { return &noRollbackRepo{Store: s, failOn: failOn} }},
			{"saga in tx", func(s *memory.Store) store.Repository { return &txRepo{Store: s, failOn: failOn} }},
		} {
			t.Run(failOn+"/"+wrap.name, func(t *testing.T) {
				mem := memory.NewSeeded()
				ctx := context.Background()
				c := coffeeCart(t, mem, 2)
				rina := customer(t, mem, "cust-rina")
				res, err := payment.Reconcile(payment.Input{
					TotalCents:    864,
					Tenders:       []domain.Payment{{Method: domain.PaymentCash, AmountCents: 500}},
					Customer:      rina,
					WalkInID:      memory.WalkInID,
					ConfirmCredit: true,
				})
				require.NoError(t, err)

				_, err = New(wrap.repo(mem), nil, nil).Finalize(ctx, Request{
					Session: session, Cart: c, Customer: rina, Result: res,
					TaxRate: cart.DefaultTaxRate, WalkInID: memory.WalkInID,
				})
				require.ErrorIs(t, err, domain.ErrExternal)
				require.ErrorIs(t, err, errSinkDown)

				assert.Equal(t, 40, mem.StockOf("var-coffee", memory.MainBranchID))
				assert.Zero(t, customer(t, mem, "cust-rina").CreditBalanceCents)
				sales, err := mem.ListSales(ctx, "", 10)
				require.NoError(t, err)
				assert.Empty(t, sales)
			})
		}
	}
}
