// Package returns implements the refund workflow for a recorded sale.
package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/checkout"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type State string

const (
	StateIdle      State = "idle"
	StateFound     State = "found"
	StateConfirmed State = "confirmed"
)

// Processor walks one terminal through Idle, Found and Confirmed. It is not
// safe for concurrent use.
type Processor struct {
	repo    store.Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	state  State
	sale   domain.Sale
	lines  []domain.ReturnLine
	refund domain.Sale
}

func New(repo store.Repository, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		repo:    repo,
		logger:  logger.Named("returns"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		state:   StateIdle,
	}
}

func (p *Processor) State() State {
	return p.state
}

// FindSale loads a sale for return. Any previous selection is discarded,
// and a failed lookup leaves the processor Idle.
func (p *Processor) FindSale(ctx context.Context, saleID string) (domain.ReturnView, error) {
	p.Reset()

	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ReturnView{}, domain.Validationf("sale id is required")
	}

	sale, err := p.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ReturnView{}, domain.NotFoundf("sale %s", saleID)
		}
		return domain.ReturnView{}, domain.External("find sale", err)
	}
	if sale.IsRefund() {
		return domain.ReturnView{}, fmt.Errorf("%w: %s", domain.ErrAlreadyRefunded, sale.ID)
	}

	returned, err := p.repo.ReturnedQuantities(ctx, sale.ID)
	if err != nil {
		return domain.ReturnView{}, domain.External("load returned quantities", err)
	}

	lines := make([]domain.ReturnLine, 0, len(sale.Items))
	for _, item := range sale.Items {
		remaining := max(item.Qty-returned[item.VariantID], 0)
		lines = append(lines, domain.ReturnLine{
			VariantID:          item.VariantID,
			Name:               item.Name,
			SKU:                item.SKU,
			UnitPriceCents:     item.UnitPriceCents,
			PurchasedQty:       item.Qty,
			PreviouslyReturned: returned[item.VariantID],
			MaxReturnable:      remaining,
		})
	}

	p.sale = *sale
	p.lines = lines
	p.state = StateFound
	return p.View(), nil
}

// SetReturnQuantity clamps qty into [0, purchased - previously returned] and
// returns the stored value.
func (p *Processor) SetReturnQuantity(variantID string, qty int) (int, error) {
	if p.state != StateFound {
		return 0, domain.BusinessRulef("no sale is selected for return")
	}
	for i := range p.lines {
		line := &p.lines[i]
		if line.VariantID != variantID {
			continue
		}
		line.ReturnQty = min(max(qty, 0), line.MaxReturnable)
		return line.ReturnQty, nil
	}
	return 0, domain.NotFoundf("variant %s is not on sale %s", variantID, p.sale.ID)
}

// RefundTotal sums unit price times return quantity. Line discounts of the
// original sale are not prorated.
func (p *Processor) RefundTotal() int64 {
	var total int64
	for _, line := range p.lines {
		if line.ReturnQty > 0 {
			total += line.UnitPriceCents * int64(line.ReturnQty)
		}
	}
	return total
}

// Confirm records the refund sale and puts the returned units back into the
// stock of the session's branch.
func (p *Processor) Confirm(ctx context.Context, session domain.Session) (domain.Sale, error) {
	if p.state != StateFound {
		return domain.Sale{}, domain.BusinessRulef("no sale is selected for return")
	}
	if err := session.Validate(); err != nil {
		return domain.Sale{}, err
	}
	total := p.RefundTotal()
	if total <= 0 {
		return domain.Sale{}, domain.BusinessRulef("select at least one item to return")
	}

	refund := p.buildRefund(session, total)

	steps := make([]checkout.Step, 0, len(refund.Items)+1)
	for _, item := range refund.Items {
		steps = append(steps, checkout.StockStep(item.VariantID, session.BranchID, item.Qty))
	}
	steps = append(steps, checkout.RecordStep(refund))

	if err := checkout.RunSaga(ctx, p.repo, p.logger, steps); err != nil {
		p.metrics.FinalizeFailed("refund")
		p.logger.Error("refund failed",
			zap.String("original_sale_id", p.sale.ID),
			zap.Error(err),
		)
		return domain.Sale{}, domain.External("confirm return", err)
	}

	p.metrics.SaleRecorded(string(refund.Status), refund.AmountCents)
	p.logger.Info("refund recorded",
		zap.String("refund_id", refund.ID),
		zap.String("original_sale_id", p.sale.ID),
		zap.Int64("amount_cents", refund.AmountCents),
	)
	p.refund = refund
	p.state = StateConfirmed
	return refund, nil
}

func (p *Processor) buildRefund(session domain.Session, total int64) domain.Sale {
	items := make([]domain.CartLine, 0, len(p.lines))
	for _, line := range p.lines {
		if line.ReturnQty <= 0 {
			continue
		}
		var productID, imageURL string
		var unitCost int64
		for _, item := range p.sale.Items {
			if item.VariantID == line.VariantID {
				productID, imageURL, unitCost = item.ProductID, item.ImageURL, item.UnitCostCents
				break
			}
		}
		items = append(items, domain.CartLine{
			VariantID:      line.VariantID,
			ProductID:      productID,
			Name:           line.Name,
			SKU:            line.SKU,
			ImageURL:       imageURL,
			UnitPriceCents: -line.UnitPriceCents,
			UnitCostCents:  unitCost,
			Qty:            line.ReturnQty,
		})
	}

	return domain.Sale{
		ID:             xid.New("refund"),
		CustomerID:     p.sale.CustomerID,
		CustomerName:   p.sale.CustomerName,
		CashierName:    session.CashierName,
		BranchID:       session.BranchID,
		BranchName:     session.BranchName,
		TerminalID:     session.TerminalID,
		CreatedAt:      p.now(),
		SubtotalCents:  -total,
		AmountCents:    -total,
		Status:         domain.SaleRefunded,
		Items:          items,
		Payments:       []domain.Payment{{Method: domain.PaymentCash, AmountCents: -total}},
		OriginalSaleID: p.sale.ID,
	}
}

// Reset returns the processor to Idle.
func (p *Processor) Reset() {
	p.state = StateIdle
	p.sale = domain.Sale{}
	p.lines = nil
	p.refund = domain.Sale{}
}

func (p *Processor) View() domain.ReturnView {
	view := domain.ReturnView{
		State:            string(p.state),
		RefundTotalCents: p.RefundTotal(),
		Lines:            make([]domain.ReturnLine, len(p.lines)),
	}
	copy(view.Lines, p.lines)
	if p.state != StateIdle {
		view.SaleID = p.sale.ID
		view.CustomerName = p.sale.CustomerName
		view.SaleCreatedAt = p.sale.CreatedAt
	}
	return view
}

// Refund is the sale recorded by the last successful Confirm.
func (p *Processor) Refund() (domain.Sale, bool) {
	return p.refund, p.state == StateConfirmed
}
