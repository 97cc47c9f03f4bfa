package receipt

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func TestRenderLaysOutSaleWithinWidth(t *testing.T) {
	sale := domain.Sale{
		ID:            "sale-1",
		BranchName:    "Main Branch",
		CashierName:   "Ayu",
		CustomerName:  "Walk-in Customer",
		CreatedAt:     time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC),
		SubtotalCents: 750,
		TaxCents:      60,
		AmountCents:   810,
		ChangeCents:   190,
		Status:        domain.SalePaid,
		Items: []domain.CartLine{
			{Name: "House Coffee Beans 250g", UnitPriceCents: 400, Qty: 2, DiscountCents: 50},
		},
		Payments: []domain.Payment{{Method: domain.PaymentCash, AmountCents: 1000}},
	}

	r := Render(sale, Options{Title: "Corner Store"})

	assert.Equal(t, "receipt-sale-1.bin", r.FileName)
	for _, line := range strings.Split(r.PreviewText, "\n") {
		assert.LessOrEqual(t, len([]rune(line)), DefaultWidth, line)
	}
	assert.Contains(t, r.PreviewText, "  2 x 4.00")
	assert.Contains(t, r.PreviewText, "-0.50")
	assert.Contains(t, r.PreviewText, "Change")
	assert.Contains(t, r.PreviewText, "1.90")
	assert.Contains(t, r.PreviewText, "8.10")

	raw, err := base64.StdEncoding.DecodeString(r.EscposBase64)
	require.NoError(t, err)
	assert.Equal(t, escposInit, raw[:2])
	assert.Equal(t, escposCut, raw[len(raw)-4:])
}

func TestRenderMarksRefundsAndAccountSales(t *testing.T) {
	refund := Render(domain.Sale{
		ID: "refund-1", OriginalSaleID: "sale-1", AmountCents: -20, SubtotalCents: -20,
		Status:   domain.SaleRefunded,
		Items:    []domain.CartLine{{Name: "Mug", UnitPriceCents: -10, Qty: 2}},
		Payments: []domain.Payment{{Method: domain.PaymentCash, AmountCents: -20}},
	}, Options{})
	assert.Contains(t, refund.PreviewText, "REFUND")
	assert.Contains(t, refund.PreviewText, "-0.20")

	credit := Render(domain.Sale{
		ID: "sale-2", AmountCents: 864, Status: domain.SaleCredit,
		Payments: []domain.Payment{{Method: domain.PaymentCredit, AmountCents: 864}},
	}, Options{})
	assert.Contains(t, credit.PreviewText, "On account")
	assert.Contains(t, credit.PreviewText, "CHARGED TO ACCOUNT")
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "8.64", Money(864))
	assert.Equal(t, "0.05", Money(5))
	assert.Equal(t, "-0.20", Money(-20))
}
