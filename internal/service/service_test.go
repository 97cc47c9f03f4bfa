package service

import (
	"context"
	"errors"
	"testing"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/hold"
	"retailpos/backend/internal/payment"
	"retailpos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, hold.NewMemory(), Options{WalkInID: memory.WalkInID, DefaultBranchID: memory.MainBranchID}), repo
}

func sessionFor(terminalID string) domain.Session {
	return domain.Session{
		BranchID:        memory.MainBranchID,
		BranchName:      "Main Branch",
		TerminalID:      terminalID,
		CashierUsername: "cashier",
		CashierName:     "cashier",
		Role:            "cashier",
	}
}

func TestResolveSessionUsesDefaultBranch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, err := svc.ResolveSession(ctx, domain.Actor{Username: "ayu", Role: "cashier"}, "", "T1")
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if session.BranchID != memory.MainBranchID || session.BranchName != "Main Branch" || session.CashierName != "ayu" {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := svc.ResolveSession(ctx, domain.Actor{Username: "ayu"}, "moon-branch", "T1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown branch to be not found, got %v", err)
	}
	if _, err := svc.ResolveSession(ctx, domain.Actor{Username: "ayu"}, "", " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected missing terminal to be rejected, got %v", err)
	}
}

func TestResolveSessionEnforcesBranchAssignment(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	northDesk := domain.Actor{Username: "desk", Role: "cashier", BranchIDs: []string{memory.NorthBranchID}}

	session, err := svc.ResolveSession(ctx, northDesk, "", "T1")
	if err != nil {
		t.Fatalf("resolve home branch: %v", err)
	}
	if session.BranchID != memory.NorthBranchID {
		t.Fatalf("expected session on home branch, got %s", session.BranchID)
	}
	if _, err := svc.ResolveSession(ctx, northDesk, memory.MainBranchID, "T1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected unassigned branch to be forbidden, got %v", err)
	}

	admin := domain.Actor{Username: "admin", Role: "admin", BranchIDs: []string{memory.NorthBranchID}}
	if _, err := svc.ResolveSession(ctx, admin, memory.MainBranchID, "T1"); err != nil {
		t.Fatalf("expected admin on any branch, got %v", err)
	}
}

func TestScanAndAddBuildCartTotals(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	if _, err := svc.ScanSKU(ctx, session, " cof-250 "); err != nil {
		t.Fatalf("scan: %v", err)
	}
	view, err := svc.AddVariant(ctx, session, "var-coffee")
	if err != nil {
		t.Fatalf("add variant: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Qty != 2 {
		t.Fatalf("expected one coffee line with qty 2, got %+v", view.Lines)
	}
	if view.SubtotalCents != 800 || view.TaxCents != 64 || view.TotalCents != 864 {
		t.Fatalf("unexpected totals: %+v", view)
	}

	if _, err := svc.ScanSKU(ctx, session, "NOPE-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown sku to be not found, got %v", err)
	}
	if _, err := svc.AddVariant(ctx, session, "var-tote"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected inactive product variant to be not found, got %v", err)
	}
}

func TestOutOfStockAndCeilingAreClampedSilently(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	view, err := svc.AddVariant(ctx, session, "var-tee-l")
	if err != nil {
		t.Fatalf("add out of stock variant: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected out of stock variant to be ignored, got %+v", view.Lines)
	}

	if _, err := svc.AddVariant(ctx, session, "var-tee-m"); err != nil {
		t.Fatalf("add: %v", err)
	}
	view, err = svc.UpdateQuantity(ctx, session, "var-tee-m", 10)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if view.Lines[0].Qty != 2 {
		t.Fatalf("expected qty clamped to stock 2, got %d", view.Lines[0].Qty)
	}

	view, err = svc.UpdateDiscount(ctx, session, "var-tee-m", 999999)
	if err != nil {
		t.Fatalf("update discount: %v", err)
	}
	if view.Lines[0].DiscountCents != 24000 {
		t.Fatalf("expected discount clamped to line subtotal 24000, got %d", view.Lines[0].DiscountCents)
	}
}

func TestLoweringQuantityRecapsLineDiscount(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	_, _ = svc.AddVariant(ctx, session, "var-tee-s")
	_, _ = svc.UpdateQuantity(ctx, session, "var-tee-s", 3)
	if _, err := svc.UpdateDiscount(ctx, session, "var-tee-s", 36000); err != nil {
		t.Fatalf("update discount: %v", err)
	}
	_, _ = svc.AddVariant(ctx, session, "var-mug-white")

	view, err := svc.UpdateQuantity(ctx, session, "var-tee-s", 1)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if view.Lines[0].DiscountCents != 12000 {
		t.Fatalf("expected discount lowered to the new line subtotal 12000, got %d", view.Lines[0].DiscountCents)
	}
	if view.SubtotalCents != 5500 {
		t.Fatalf("expected the tee discount not to spill onto the mug, subtotal %d", view.SubtotalCents)
	}
}

func TestAddProductRequiresVariantSelection(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	if _, err := svc.AddProduct(ctx, session, "prod-tee"); !errors.Is(err, domain.ErrBusinessRule) {
		t.Fatalf("expected multi-variant product to need selection, got %v", err)
	}
	view, err := svc.AddProduct(ctx, session, "prod-coffee")
	if err != nil {
		t.Fatalf("add single-variant product: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].VariantID != "var-coffee" {
		t.Fatalf("expected coffee line, got %+v", view.Lines)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	var recorded []domain.Sale
	if err := svc.Subscribe(TopicSaleRecorded, func(sale domain.Sale) {
		recorded = append(recorded, sale)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_, _ = svc.AddVariant(ctx, session, "var-coffee")
	_, _ = svc.UpdateQuantity(ctx, session, "var-coffee", 2)

	resp, err := svc.Checkout(ctx, session, domain.CheckoutRequest{
		Tenders: []domain.Payment{{Method: domain.PaymentCash, AmountCents: 864}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if resp.Sale.Status != domain.SalePaid || resp.Sale.AmountCents != 864 || resp.ChangeCents != 0 {
		t.Fatalf("unexpected sale: %+v", resp.Sale)
	}
	for _, p := range resp.Sale.Payments {
		if p.Method == domain.PaymentCredit {
			t.Fatalf("expected no credit payment on a paid sale")
		}
	}
	if got := repo.StockOf("var-coffee", memory.MainBranchID); got != 38 {
		t.Fatalf("expected stock 38 after sale, got %d", got)
	}

	view, _ := svc.Snapshot(ctx, session)
	if len(view.Lines) != 0 {
		t.Fatalf("expected cart to be cleared after checkout")
	}
	if len(recorded) != 1 || recorded[0].ID != resp.Sale.ID {
		t.Fatalf("expected sale:recorded event for %s, got %+v", resp.Sale.ID, recorded)
	}

	logs, err := svc.ListAuditLogs(ctx, memory.MainBranchID, "", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != "sale_finalize" {
		t.Fatalf("expected sale_finalize audit entry, got %+v", logs)
	}
}

func TestCheckoutShortfallNeedsConfirmedCredit(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")
	_, _ = svc.AddVariant(ctx, session, "var-coffee")
	_, _ = svc.AddVariant(ctx, session, "var-coffee")

	req := domain.CheckoutRequest{
		CustomerID: "cust-rina",
		Tenders:    []domain.Payment{{Method: domain.PaymentCash, AmountCents: 500}},
	}
	quote, err := svc.Quote(ctx, session, req)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.BalanceCents != 364 || !quote.RequiresCreditConfirmation || !quote.CreditAllowed {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	if _, err := svc.Checkout(ctx, session, req); !errors.Is(err, payment.ErrCreditConfirmationRequired) {
		t.Fatalf("expected confirmation to be required, got %v", err)
	}
	if view, _ := svc.Snapshot(ctx, session); len(view.Lines) != 1 {
		t.Fatalf("expected cart to survive an unconfirmed checkout")
	}

	req.ConfirmCredit = true
	resp, err := svc.Checkout(ctx, session, req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if resp.Sale.Status != domain.SaleCredit {
		t.Fatalf("expected credit sale, got %s", resp.Sale.Status)
	}
	rina, _ := repo.GetCustomer(ctx, "cust-rina")
	if rina.CreditBalanceCents != 364 {
		t.Fatalf("expected credit balance 364, got %d", rina.CreditBalanceCents)
	}
}

func TestWalkInShortfallIsRejectedWithoutSideEffects(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")
	_, _ = svc.AddVariant(ctx, session, "var-coffee")

	_, err := svc.Checkout(ctx, session, domain.CheckoutRequest{
		Tenders:       []domain.Payment{{Method: domain.PaymentCash, AmountCents: 100}},
		ConfirmCredit: true,
	})
	if !errors.Is(err, domain.ErrBusinessRule) {
		t.Fatalf("expected business rule error, got %v", err)
	}
	if _, err := svc.ChargeToAccount(ctx, session, ""); !errors.Is(err, domain.ErrBusinessRule) {
		t.Fatalf("expected walk-in charge to account to fail, got %v", err)
	}
	if got := repo.StockOf("var-coffee", memory.MainBranchID); got != 40 {
		t.Fatalf("expected untouched stock, got %d", got)
	}
	if sales, _ := repo.ListSales(ctx, "", 10); len(sales) != 0 {
		t.Fatalf("expected no recorded sales, got %d", len(sales))
	}
}

func TestChargeToAccountPutsTotalOnCustomer(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")
	_, _ = svc.AddVariant(ctx, session, "var-mug-white")

	resp, err := svc.ChargeToAccount(ctx, session, "cust-budi")
	if err != nil {
		t.Fatalf("charge to account: %v", err)
	}
	if len(resp.Sale.Payments) != 1 || resp.Sale.Payments[0].Method != domain.PaymentCredit || resp.Sale.Payments[0].AmountCents != 5940 {
		t.Fatalf("expected a single credit payment of 5940, got %+v", resp.Sale.Payments)
	}
	budi, _ := repo.GetCustomer(ctx, "cust-budi")
	if budi.CreditBalanceCents != 5940 {
		t.Fatalf("expected balance 5940, got %d", budi.CreditBalanceCents)
	}
}

func TestHoldAndResumeRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	_, _ = svc.AddVariant(ctx, session, "var-tee-s")
	_, _ = svc.AddVariant(ctx, session, "var-tee-s")
	before, _ := svc.AddVariant(ctx, session, "var-mug-white")

	held, err := svc.HoldCart(ctx, session, "  customer fetching wallet ")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Note != "customer fetching wallet" || held.TotalCents != before.TotalCents {
		t.Fatalf("unexpected held sale: %+v", held)
	}
	if view, _ := svc.Snapshot(ctx, session); len(view.Lines) != 0 {
		t.Fatalf("expected live cart cleared after hold")
	}

	list, err := svc.ListHeld(ctx, session)
	if err != nil || len(list.Items) != 1 {
		t.Fatalf("expected one held sale, got %d (%v)", len(list.Items), err)
	}
	if other, _ := svc.ListHeld(ctx, sessionFor("T2")); len(other.Items) != 0 {
		t.Fatalf("expected held sales scoped to terminal")
	}

	resumed, err := svc.ResumeHeld(ctx, session, held.ID, false)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(resumed.Cart.Lines) != 2 || resumed.Cart.Lines[0].Qty != 2 || resumed.Cart.Lines[1].Qty != 1 {
		t.Fatalf("expected [tee-s x2, mug x1], got %+v", resumed.Cart.Lines)
	}
	if list, _ := svc.ListHeld(ctx, session); len(list.Items) != 0 {
		t.Fatalf("expected held sale removed after resume")
	}
	if _, err := svc.ResumeHeld(ctx, session, held.ID, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected second resume to fail, got %v", err)
	}
}

func TestHoldEmptyCartAndResumeIntoBusyCart(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	if _, err := svc.HoldCart(ctx, session, ""); !errors.Is(err, domain.ErrBusinessRule) {
		t.Fatalf("expected empty hold to be rejected, got %v", err)
	}

	_, _ = svc.AddVariant(ctx, session, "var-coffee")
	held, err := svc.HoldCart(ctx, session, "")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	_, _ = svc.AddVariant(ctx, session, "var-mug-black")

	if _, err := svc.ResumeHeld(ctx, session, held.ID, false); !errors.Is(err, ErrCartNotEmpty) {
		t.Fatalf("expected busy cart to block resume, got %v", err)
	}
	resumed, err := svc.ResumeHeld(ctx, session, held.ID, true)
	if err != nil {
		t.Fatalf("forced resume: %v", err)
	}
	if len(resumed.Cart.Lines) != 1 || resumed.Cart.Lines[0].VariantID != "var-coffee" {
		t.Fatalf("expected resume to replace the cart, got %+v", resumed.Cart.Lines)
	}
}

func TestHeldSaleBelongsToItsTerminal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := sessionFor("T1")
	neighbour := sessionFor("T2")
	elsewhere := sessionFor("T1")
	elsewhere.BranchID = memory.NorthBranchID
	elsewhere.BranchName = "North Branch"

	_, _ = svc.AddVariant(ctx, owner, "var-coffee")
	held, err := svc.HoldCart(ctx, owner, "")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	for _, session := range []domain.Session{neighbour, elsewhere} {
		if _, err := svc.ResumeHeld(ctx, session, held.ID, false); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected %s to miss held sale of T1, got %v", session.TerminalKey(), err)
		}
		if err := svc.DiscardHeld(ctx, session, held.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected %s discard to miss held sale of T1, got %v", session.TerminalKey(), err)
		}
		if view, _ := svc.Snapshot(ctx, session); len(view.Lines) != 0 {
			t.Fatalf("expected %s cart to stay empty, got %+v", session.TerminalKey(), view.Lines)
		}
	}

	resumed, err := svc.ResumeHeld(ctx, owner, held.ID, false)
	if err != nil {
		t.Fatalf("owner resume: %v", err)
	}
	if len(resumed.Cart.Lines) != 1 || resumed.Cart.Lines[0].VariantID != "var-coffee" {
		t.Fatalf("expected owner to get the held coffee back, got %+v", resumed.Cart.Lines)
	}
}

func TestSaleResyncsOtherTerminalsOfBranch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	t1 := sessionFor("T1")
	t2 := sessionFor("T2")

	_, _ = svc.AddVariant(ctx, t2, "var-tee-m")
	_, _ = svc.UpdateQuantity(ctx, t2, "var-tee-m", 2)
	_, _ = svc.AddVariant(ctx, t1, "var-tee-m")

	var changed []domain.CartView
	_ = svc.Subscribe(TopicCartChanged, func(view domain.CartView) {
		changed = append(changed, view)
	})

	if _, err := svc.Checkout(ctx, t1, domain.CheckoutRequest{
		Tenders: []domain.Payment{{Method: domain.PaymentCard, AmountCents: 12960}},
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	view, _ := svc.Snapshot(ctx, t2)
	if len(view.Lines) != 1 || view.Lines[0].Qty != 1 || view.Lines[0].StockCeiling != 1 {
		t.Fatalf("expected T2 cart clamped to remaining stock 1, got %+v", view.Lines)
	}
	found := false
	for _, v := range changed {
		if v.TerminalID == "T2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cart:changed event for T2")
	}
}

func TestReturnFlow(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")

	_, _ = svc.AddVariant(ctx, session, "var-coffee")
	_, _ = svc.UpdateQuantity(ctx, session, "var-coffee", 5)
	resp, err := svc.Checkout(ctx, session, domain.CheckoutRequest{
		Tenders: []domain.Payment{{Method: domain.PaymentCash, AmountCents: 5000}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := svc.FindReturn(ctx, session, resp.Sale.ID); err != nil {
		t.Fatalf("find return: %v", err)
	}
	view, err := svc.SetReturnQuantity(ctx, session, "var-coffee", 7)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if view.Lines[0].ReturnQty != 5 || view.RefundTotalCents != 2000 {
		t.Fatalf("expected clamp to 5 and refund 2000, got %+v", view)
	}

	refund, err := svc.ConfirmReturn(ctx, session)
	if err != nil {
		t.Fatalf("confirm return: %v", err)
	}
	if refund.AmountCents != -2000 || refund.OriginalSaleID != resp.Sale.ID {
		t.Fatalf("unexpected refund: %+v", refund)
	}
	if got := repo.StockOf("var-coffee", memory.MainBranchID); got != 40 {
		t.Fatalf("expected stock restored to 40, got %d", got)
	}

	if _, err := svc.FindReturn(ctx, session, refund.ID); !errors.Is(err, domain.ErrAlreadyRefunded) {
		t.Fatalf("expected refund sale to be rejected, got %v", err)
	}
	if _, err := svc.FindReturn(ctx, session, "sale-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing sale to be not found, got %v", err)
	}
}

func TestReceiptRendersRecordedSale(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := sessionFor("T1")
	_, _ = svc.AddVariant(ctx, session, "var-coffee")

	resp, err := svc.Checkout(ctx, session, domain.CheckoutRequest{
		Tenders: []domain.Payment{{Method: domain.PaymentCash, AmountCents: 1000}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	r, err := svc.Receipt(ctx, resp.Sale.ID, 0)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r.SaleID != resp.Sale.ID || r.PreviewText == "" || r.EscposBase64 == "" {
		t.Fatalf("unexpected receipt: %+v", r)
	}
	if _, err := svc.Receipt(ctx, "sale-missing", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected missing sale receipt to be not found, got %v", err)
	}
}

func TestLowStockListsBranchVariants(t *testing.T) {
	svc, _ := newTestService()

	items, err := svc.LowStock(context.Background(), sessionFor("T1"))
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	seen := map[string]bool{}
	for _, item := range items {
		seen[item.VariantID] = true
	}
	for _, id := range []string{"var-tee-m", "var-tee-l", "var-mug-black"} {
		if !seen[id] {
			t.Fatalf("expected %s in low stock list, got %+v", id, items)
		}
	}
	if seen["var-coffee"] {
		t.Fatalf("did not expect coffee in low stock list")
	}
}
