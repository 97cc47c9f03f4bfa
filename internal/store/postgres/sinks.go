package postgres

import (
	"context"
	"errors"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// sinks runs the sale and return writes against q. Inside a transaction each
// write is bracketed by a savepoint so a failed statement leaves the
// transaction usable for the compensating writes that follow it.
type sinks struct {
	q          queryer
	savepoints bool
}

func (k sinks) guarded(ctx context.Context, write func() error) error {
	if !k.savepoints {
		return write()
	}
	if _, err := k.q.ExecContext(ctx, `SAVEPOINT sink_write`); err != nil {
		return err
	}
	if err := write(); err != nil {
		if _, rbErr := k.q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT sink_write`); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := k.q.ExecContext(ctx, `RELEASE SAVEPOINT sink_write`)
	return err
}

func (k sinks) AdjustStock(ctx context.Context, variantID string, branchID string, delta int) error {
	return k.guarded(ctx, func() error { return k.adjustStock(ctx, variantID, branchID, delta) })
}

func (k sinks) adjustStock(ctx context.Context, variantID string, branchID string, delta int) error {
	_, err := k.q.ExecContext(ctx, `
		INSERT INTO variant_stocks (variant_id, branch_id, qty, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (variant_id, branch_id)
		DO UPDATE SET qty = variant_stocks.qty + EXCLUDED.qty, updated_at = now()
	`, variantID, branchID, delta)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (k sinks) AdjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error {
	return k.guarded(ctx, func() error { return k.adjustCustomerCredit(ctx, customerID, deltaCents) })
}

func (k sinks) adjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error {
	res, err := k.q.ExecContext(ctx, `
		UPDATE customers
		SET credit_balance_cents = credit_balance_cents + $2
		WHERE id = $1
	`, customerID, deltaCents)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (k sinks) RecordSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || len(sale.Items) == 0 {
		return store.ErrInvalidRecord
	}
	return k.guarded(ctx, func() error { return k.recordSale(ctx, sale) })
}

func (k sinks) recordSale(ctx context.Context, sale domain.Sale) error {

	_, err := k.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, customer_name, cashier_name, branch_id, branch_name, terminal_id,
			subtotal_cents, tax_cents, amount_cents, change_cents, status, original_sale_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.CustomerID, sale.CustomerName, sale.CashierName, sale.BranchID, sale.BranchName, sale.TerminalID,
		sale.SubtotalCents, sale.TaxCents, sale.AmountCents, sale.ChangeCents, string(sale.Status), nullIfEmpty(sale.OriginalSaleID), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}

	for i, item := range sale.Items {
		if _, err := k.q.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, line_no, variant_id, product_id, name, sku, image_url,
				unit_price_cents, unit_cost_cents, qty, discount_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, sale.ID, i+1, item.VariantID, item.ProductID, item.Name, item.SKU, item.ImageURL,
			item.UnitPriceCents, item.UnitCostCents, item.Qty, item.DiscountCents); err != nil {
			return err
		}
	}

	for i, p := range sale.Payments {
		if _, err := k.q.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, seq, method, amount_cents)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, i+1, string(p.Method), p.AmountCents); err != nil {
			return err
		}
	}
	return nil
}
