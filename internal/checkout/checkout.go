// Package checkout turns a reconciled cart into a recorded sale.
package checkout

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/payment"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Request struct {
	Session  domain.Session
	Cart     cart.Cart
	Customer domain.Customer
	Result   payment.Result
	TaxRate  decimal.Decimal
	WalkInID string
}

type Finalizer struct {
	repo    store.Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(repo store.Repository, logger *zap.Logger, m *metrics.Metrics) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		repo:    repo,
		logger:  logger.Named("checkout"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Finalize records the sale and applies its stock and credit effects as one
// unit. Nothing is written when validation fails, and a failing sink leaves
// every sink as it was.
func (f *Finalizer) Finalize(ctx context.Context, req Request) (domain.Sale, error) {
	if err := req.Session.Validate(); err != nil {
		return domain.Sale{}, err
	}
	if req.Cart.IsEmpty() {
		return domain.Sale{}, domain.BusinessRulef("cannot finalize an empty cart")
	}
	if req.Result.CreditDeltaCents > 0 && (req.Customer.ID == "" || req.Customer.ID == req.WalkInID) {
		return domain.Sale{}, domain.BusinessRulef("credit sales require an identified customer")
	}
	switch req.Result.Status {
	case domain.SalePaid, domain.SaleCredit:
	default:
		return domain.Sale{}, domain.BusinessRulef("payment is not settled (status %q)", req.Result.Status)
	}

	totals := req.Cart.Totals(req.TaxRate)
	if totals.TotalCents != req.Result.TotalCents {
		return domain.Sale{}, domain.Validationf("payment total %d does not match cart total %d", req.Result.TotalCents, totals.TotalCents)
	}

	sale := f.buildSale(req, totals)

	steps := make([]Step, 0, len(sale.Items)+2)
	for _, item := range sale.Items {
		steps = append(steps, StockStep(item.VariantID, sale.BranchID, -item.Qty))
	}
	if req.Result.CreditDeltaCents > 0 {
		steps = append(steps, CreditStep(sale.CustomerID, req.Result.CreditDeltaCents))
	}
	steps = append(steps, RecordStep(sale))

	if err := RunSaga(ctx, f.repo, f.logger, steps); err != nil {
		f.metrics.FinalizeFailed(failedStage(err))
		f.logger.Error("sale finalization failed",
			zap.String("sale_id", sale.ID),
			zap.String("branch_id", sale.BranchID),
			zap.Error(err),
		)
		return domain.Sale{}, domain.External("finalize sale", err)
	}

	for _, line := range req.Cart.Lines() {
		if line.Qty > line.StockCeiling {
			f.logger.Warn("sale deducted more than the last known stock",
				zap.String("variant_id", line.VariantID),
				zap.Int("qty", line.Qty),
				zap.Int("known_stock", line.StockCeiling),
			)
		}
	}
	f.metrics.SaleRecorded(string(sale.Status), sale.AmountCents)
	f.logger.Info("sale finalized",
		zap.String("sale_id", sale.ID),
		zap.String("status", string(sale.Status)),
		zap.Int64("amount_cents", sale.AmountCents),
	)
	return sale, nil
}

func (f *Finalizer) buildSale(req Request, totals cart.Totals) domain.Sale {
	items := req.Cart.Lines()
	for i := range items {
		items[i].StockCeiling = 0
	}
	customerName := req.Customer.Name
	if customerName == "" {
		customerName = "Walk-in Customer"
	}
	customerID := req.Customer.ID
	if customerID == "" {
		customerID = req.WalkInID
	}

	return domain.Sale{
		ID:            xid.New("sale"),
		CustomerID:    customerID,
		CustomerName:  customerName,
		CashierName:   req.Session.CashierName,
		BranchID:      req.Session.BranchID,
		BranchName:    req.Session.BranchName,
		TerminalID:    req.Session.TerminalID,
		CreatedAt:     f.now(),
		SubtotalCents: totals.SubtotalCents,
		TaxCents:      totals.TaxCents,
		AmountCents:   totals.TotalCents,
		ChangeCents:   req.Result.ChangeCents,
		Status:        req.Result.Status,
		Items:         items,
		Payments:      slices.Clone(req.Result.Payments),
	}
}

// RecordStep persists the sale. It is always the last step so it needs no
// compensation.
func RecordStep(sale domain.Sale) Step {
	return Step{
		Stage: "record",
		Do: func(ctx context.Context, tx store.Sinks) error {
			return tx.RecordSale(ctx, sale)
		},
	}
}

func failedStage(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Stage
	}
	return "commit"
}
