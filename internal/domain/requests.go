package domain

import "time"

type AddItemRequest struct {
	VariantID string `json:"variant_id"`
}

type ScanRequest struct {
	SKU string `json:"sku"`
}

type QuantityRequest struct {
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type DiscountRequest struct {
	VariantID   string `json:"variant_id"`
	AmountCents int64  `json:"amount_cents"`
}

type CartView struct {
	BranchID      string     `json:"branch_id"`
	TerminalID    string     `json:"terminal_id"`
	Lines         []CartLine `json:"lines"`
	ItemCount     int        `json:"item_count"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	TotalCents    int64      `json:"total_cents"`
}

type HoldRequest struct {
	Note string `json:"note"`
}

type ResumeRequest struct {
	Force bool `json:"force"`
}

type HeldSaleListResponse struct {
	Items []HeldSale `json:"items"`
}

type ResumeResponse struct {
	HeldSaleID string   `json:"held_sale_id"`
	Cart       CartView `json:"cart"`
}

type CheckoutRequest struct {
	CustomerID    string    `json:"customer_id"`
	Tenders       []Payment `json:"tenders"`
	ConfirmCredit bool      `json:"confirm_credit"`
}

type QuoteResponse struct {
	TotalCents                 int64      `json:"total_cents"`
	PaidCents                  int64      `json:"paid_cents"`
	BalanceCents               int64      `json:"balance_cents"`
	ChangeCents                int64      `json:"change_cents"`
	Status                     SaleStatus `json:"status"`
	RequiresCreditConfirmation bool       `json:"requires_credit_confirmation"`
	CreditAllowed              bool       `json:"credit_allowed"`
}

type CheckoutResponse struct {
	Sale        Sale  `json:"sale"`
	ChangeCents int64 `json:"change_cents"`
}

type ChargeAccountRequest struct {
	CustomerID string `json:"customer_id"`
}

type ReturnLookupRequest struct {
	SaleID string `json:"sale_id"`
}

type ReturnLine struct {
	VariantID          string `json:"variant_id"`
	Name               string `json:"name"`
	SKU                string `json:"sku"`
	UnitPriceCents     int64  `json:"unit_price_cents"`
	PurchasedQty       int    `json:"purchased_qty"`
	PreviouslyReturned int    `json:"previously_returned"`
	MaxReturnable      int    `json:"max_returnable"`
	ReturnQty          int    `json:"return_qty"`
}

type ReturnView struct {
	State            string       `json:"state"`
	SaleID           string       `json:"sale_id"`
	CustomerName     string       `json:"customer_name"`
	SaleCreatedAt    time.Time    `json:"sale_created_at"`
	Lines            []ReturnLine `json:"lines"`
	RefundTotalCents int64        `json:"refund_total_cents"`
}

type ConfirmReturnRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type ReceiptResponse struct {
	SaleID       string `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type LowStockItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	OnHand    int    `json:"on_hand"`
	Threshold int    `json:"threshold"`
}
