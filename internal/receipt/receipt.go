// Package receipt renders a finalized sale for thermal printers.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

const DefaultWidth = 32

var (
	escposInit = []byte{0x1b, 0x40}
	escposCut  = []byte{0x1d, 0x56, 0x41, 0x10}
)

type Options struct {
	Title string
	Width int
}

// Render lays a sale out as fixed-width text and the equivalent ESC/POS
// byte stream.
func Render(sale domain.Sale, opts Options) domain.ReceiptResponse {
	if opts.Width < 24 {
		opts.Width = DefaultWidth
	}
	if opts.Title == "" {
		opts.Title = "Retail POS"
	}
	rule := strings.Repeat("=", opts.Width)
	thin := strings.Repeat("-", opts.Width)

	lines := []string{
		center(opts.Title, opts.Width),
		rule,
	}
	if sale.IsRefund() {
		lines = append(lines, center("REFUND", opts.Width), "Original: "+sale.OriginalSaleID)
	}
	lines = append(lines,
		"Sale: "+sale.ID,
		"Branch: "+sale.BranchName,
		"Cashier: "+sale.CashierName,
		"Customer: "+sale.CustomerName,
		"Date: "+sale.CreatedAt.Format("2006-01-02 15:04:05"),
		thin,
	)

	for _, item := range sale.Items {
		lines = append(lines, truncate(item.Name, opts.Width))
		lines = append(lines, columns(
			fmt.Sprintf("  %d x %s", item.Qty, Money(item.UnitPriceCents)),
			Money(item.GrossCents()),
			opts.Width,
		))
		if item.DiscountCents > 0 {
			lines = append(lines, columns("  Discount", "-"+Money(item.DiscountCents), opts.Width))
		}
	}

	lines = append(lines,
		thin,
		columns("Subtotal", Money(sale.SubtotalCents), opts.Width),
		columns("Tax", Money(sale.TaxCents), opts.Width),
		columns("Total", Money(sale.AmountCents), opts.Width),
	)
	for _, p := range sale.Payments {
		lines = append(lines, columns(methodLabel(p.Method), Money(p.AmountCents), opts.Width))
	}
	if sale.ChangeCents > 0 {
		lines = append(lines, columns("Change", Money(sale.ChangeCents), opts.Width))
	}
	if sale.Status == domain.SaleCredit {
		lines = append(lines, center("CHARGED TO ACCOUNT", opts.Width))
	}
	lines = append(lines, rule, center("Thank you", opts.Width), "")

	escpos := append([]byte{}, escposInit...)
	for _, line := range lines {
		escpos = append(escpos, line...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, escposCut...)

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", sale.ID),
	}
}

// Money formats minor units with two decimals.
func Money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func methodLabel(m domain.PaymentMethod) string {
	switch m {
	case domain.PaymentCash:
		return "Cash"
	case domain.PaymentCard:
		return "Card"
	case domain.PaymentTransfer:
		return "Transfer"
	case domain.PaymentCredit:
		return "On account"
	}
	return string(m)
}

func columns(left string, right string, width int) string {
	gap := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		left = truncate(left, width-utf8.RuneCountInString(right)-1)
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func center(text string, width int) string {
	text = truncate(text, width)
	pad := (width - utf8.RuneCountInString(text)) / 2
	return strings.Repeat(" ", pad) + text
}

func truncate(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= width {
		return text
	}
	return string([]rune(text)[:width])
}
