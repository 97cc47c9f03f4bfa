// Package payment reconciles tendered amounts against a sale total.
package payment

import (
	"fmt"

	"retailpos/backend/internal/domain"
)

// ErrCreditConfirmationRequired is returned with a Pending result when the
// tenders leave a balance that could be put on the customer's account but the
// operator has not confirmed it yet.
var ErrCreditConfirmationRequired = fmt.Errorf("%w: unpaid balance must be confirmed as a credit sale", domain.ErrBusinessRule)

type Input struct {
	TotalCents    int64
	Tenders       []domain.Payment
	Customer      domain.Customer
	WalkInID      string
	ConfirmCredit bool
}

type Result struct {
	TotalCents       int64
	PaidCents        int64
	BalanceCents     int64
	ChangeCents      int64
	Payments         []domain.Payment
	Status           domain.SaleStatus
	CreditDeltaCents int64
}

// Quote sums the tenders without deciding how a shortfall is settled. A
// positive balance yields a Pending status.
func Quote(in Input) (Result, error) {
	if in.TotalCents < 0 {
		return Result{}, domain.Validationf("sale total must not be negative")
	}

	res := Result{
		TotalCents: in.TotalCents,
		Payments:   make([]domain.Payment, 0, len(in.Tenders)+1),
	}
	for _, tender := range in.Tenders {
		if !tender.Method.Valid() {
			return Result{}, domain.Validationf("unsupported payment method %q", tender.Method)
		}
		if tender.Method == domain.PaymentCredit && tender.AmountCents > 0 {
			return Result{}, domain.Validationf("credit is derived from the unpaid balance and cannot be tendered")
		}
		res.PaidCents += tender.AmountCents
		if tender.AmountCents > 0 {
			res.Payments = append(res.Payments, tender)
		}
	}

	res.BalanceCents = in.TotalCents - res.PaidCents
	if res.BalanceCents <= 0 {
		res.Status = domain.SalePaid
		res.ChangeCents = -res.BalanceCents
		return res, nil
	}
	res.Status = domain.SalePending
	return res, nil
}

// Reconcile resolves the final payments and status of a sale.
//
// A non-positive balance is Paid and any excess is change. A positive
// balance becomes a Credit sale with a synthesized credit payment for the
// balance, provided the customer is not the walk-in customer, the credit limit
// allows it and ConfirmCredit is set. Without confirmation the Pending result
// is returned together with ErrCreditConfirmationRequired.
func Reconcile(in Input) (Result, error) {
	res, err := Quote(in)
	if err != nil {
		return Result{}, err
	}
	if res.BalanceCents <= 0 {
		return res, nil
	}

	if err := CheckCredit(in.Customer, in.WalkInID, res.BalanceCents); err != nil {
		return Result{}, err
	}
	if !in.ConfirmCredit {
		return res, ErrCreditConfirmationRequired
	}

	res.Status = domain.SaleCredit
	res.Payments = append(res.Payments, domain.Payment{Method: domain.PaymentCredit, AmountCents: res.BalanceCents})
	res.CreditDeltaCents = res.BalanceCents
	return res, nil
}

// ChargeToAccount puts the whole total on the customer's account.
func ChargeToAccount(totalCents int64, customer domain.Customer, walkInID string) (Result, error) {
	return Reconcile(Input{
		TotalCents:    totalCents,
		Customer:      customer,
		WalkInID:      walkInID,
		ConfirmCredit: true,
	})
}

// CheckCredit reports whether amountCents may be added to the customer's
// running balance.
func CheckCredit(customer domain.Customer, walkInID string, amountCents int64) error {
	if customer.ID == "" || customer.ID == walkInID {
		return domain.BusinessRulef("credit sales require an identified customer")
	}
	if limit := customer.CreditLimitCents; limit != nil && customer.CreditBalanceCents+amountCents > *limit {
		return domain.BusinessRulef("credit limit of customer %s exceeded: balance %d + %d > %d",
			customer.ID, customer.CreditBalanceCents, amountCents, *limit)
	}
	return nil
}
