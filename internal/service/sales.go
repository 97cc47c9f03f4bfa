package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/checkout"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/payment"
	"retailpos/backend/internal/receipt"
	"retailpos/backend/internal/store"
)

// Quote reports what the tenders cover without recording anything.
func (s *Service) Quote(ctx context.Context, session domain.Session, req domain.CheckoutRequest) (domain.QuoteResponse, error) {
	if err := session.Validate(); err != nil {
		return domain.QuoteResponse{}, err
	}
	customer, err := s.customer(ctx, req.CustomerID)
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	s.mu.Lock()
	totals := s.terminalLocked(session).cart.Totals(s.taxRate)
	s.mu.Unlock()

	res, err := payment.Quote(payment.Input{
		TotalCents: totals.TotalCents,
		Tenders:    req.Tenders,
		Customer:   customer,
		WalkInID:   s.walkInID,
	})
	if err != nil {
		return domain.QuoteResponse{}, err
	}

	resp := domain.QuoteResponse{
		TotalCents:   res.TotalCents,
		PaidCents:    res.PaidCents,
		BalanceCents: res.BalanceCents,
		ChangeCents:  res.ChangeCents,
		Status:       res.Status,
	}
	if res.BalanceCents > 0 {
		resp.RequiresCreditConfirmation = true
		resp.CreditAllowed = payment.CheckCredit(customer, s.walkInID, res.BalanceCents) == nil
	}
	return resp, nil
}

// Checkout settles the live cart with the given tenders. A shortfall on an
// identified customer needs ConfirmCredit and is charged to the account.
func (s *Service) Checkout(ctx context.Context, session domain.Session, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	return s.settle(ctx, session, req.CustomerID, func(totalCents int64, customer domain.Customer) (payment.Result, error) {
		return payment.Reconcile(payment.Input{
			TotalCents:    totalCents,
			Tenders:       req.Tenders,
			Customer:      customer,
			WalkInID:      s.walkInID,
			ConfirmCredit: req.ConfirmCredit,
		})
	})
}

// ChargeToAccount puts the whole cart total on the customer's account.
func (s *Service) ChargeToAccount(ctx context.Context, session domain.Session, customerID string) (domain.CheckoutResponse, error) {
	return s.settle(ctx, session, customerID, func(totalCents int64, customer domain.Customer) (payment.Result, error) {
		return payment.ChargeToAccount(totalCents, customer, s.walkInID)
	})
}

func (s *Service) settle(
	ctx context.Context,
	session domain.Session,
	customerID string,
	reconcile func(totalCents int64, customer domain.Customer) (payment.Result, error),
) (domain.CheckoutResponse, error) {
	if err := session.Validate(); err != nil {
		return domain.CheckoutResponse{}, err
	}
	customer, err := s.customer(ctx, customerID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.mu.Lock()
	t := s.terminalLocked(session)
	if t.cart.IsEmpty() {
		s.mu.Unlock()
		return domain.CheckoutResponse{}, domain.BusinessRulef("cannot finalize an empty cart")
	}
	live := t.cart
	res, err := reconcile(live.Totals(s.taxRate).TotalCents, customer)
	if err != nil {
		s.mu.Unlock()
		return domain.CheckoutResponse{}, err
	}

	sale, err := s.finalizer.Finalize(ctx, checkout.Request{
		Session:  session,
		Cart:     live,
		Customer: customer,
		Result:   res,
		TaxRate:  s.taxRate,
		WalkInID: s.walkInID,
	})
	if err != nil {
		s.mu.Unlock()
		return domain.CheckoutResponse{}, err
	}
	t.cart = cart.Reduce(t.cart, cart.Clear{})
	cleared := s.viewLocked(t)
	views, refreshErr := s.refreshLocked(ctx, session.BranchID)
	s.mu.Unlock()

	if refreshErr != nil {
		s.logger.Warn("stock refresh after sale failed", zap.Error(refreshErr))
	}
	s.logAudit(ctx, session.BranchID, "sale_finalize", "sale", sale.ID,
		fmt.Sprintf("total=%d,status=%s,payments=%d,customer=%s", sale.AmountCents, sale.Status, len(sale.Payments), sale.CustomerID))
	s.bus.Publish(TopicSaleRecorded, sale)
	s.bus.Publish(TopicCartChanged, cleared)
	s.publishCarts(views)

	return domain.CheckoutResponse{Sale: sale, ChangeCents: sale.ChangeCents}, nil
}

func (s *Service) customer(ctx context.Context, id string) (domain.Customer, error) {
	id = defaultString(strings.TrimSpace(id), s.walkInID)
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if id == s.walkInID {
				return domain.Customer{ID: s.walkInID, Name: "Walk-in Customer"}, nil
			}
			return domain.Customer{}, domain.NotFoundf("customer %s", id)
		}
		return domain.Customer{}, domain.External("get customer", err)
	}
	return *c, nil
}

func (s *Service) FindReturn(ctx context.Context, session domain.Session, saleID string) (domain.ReturnView, error) {
	if err := session.Validate(); err != nil {
		return domain.ReturnView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalLocked(session).returns.FindSale(ctx, saleID)
}

func (s *Service) SetReturnQuantity(_ context.Context, session domain.Session, variantID string, qty int) (domain.ReturnView, error) {
	if err := session.Validate(); err != nil {
		return domain.ReturnView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.terminalLocked(session).returns
	if _, err := p.SetReturnQuantity(strings.TrimSpace(variantID), qty); err != nil {
		return domain.ReturnView{}, err
	}
	return p.View(), nil
}

func (s *Service) ReturnView(_ context.Context, session domain.Session) (domain.ReturnView, error) {
	if err := session.Validate(); err != nil {
		return domain.ReturnView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalLocked(session).returns.View(), nil
}

func (s *Service) CancelReturn(_ context.Context, session domain.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminalLocked(session).returns.Reset()
	return nil
}

// ConfirmReturn records the refund of the selected quantities and restocks
// them at the session's branch.
func (s *Service) ConfirmReturn(ctx context.Context, session domain.Session) (domain.Sale, error) {
	if err := session.Validate(); err != nil {
		return domain.Sale{}, err
	}

	s.mu.Lock()
	refund, err := s.terminalLocked(session).returns.Confirm(ctx, session)
	if err != nil {
		s.mu.Unlock()
		return domain.Sale{}, err
	}
	views, refreshErr := s.refreshLocked(ctx, session.BranchID)
	s.mu.Unlock()

	if refreshErr != nil {
		s.logger.Warn("stock refresh after refund failed", zap.Error(refreshErr))
	}
	s.logAudit(ctx, session.BranchID, "sale_refund", "sale", refund.ID,
		fmt.Sprintf("original=%s,amount=%d,items=%d", refund.OriginalSaleID, refund.AmountCents, len(refund.Items)))
	s.bus.Publish(TopicSaleRecorded, refund)
	s.publishCarts(views)
	return refund, nil
}

func (s *Service) Receipt(ctx context.Context, saleID string, width int) (domain.ReceiptResponse, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ReceiptResponse{}, domain.Validationf("sale id is required")
	}
	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ReceiptResponse{}, domain.NotFoundf("sale %s", saleID)
		}
		return domain.ReceiptResponse{}, domain.External("find sale", err)
	}
	return receipt.Render(*sale, receipt.Options{Title: s.receiptTitle, Width: width}), nil
}
