package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type VariantAxis struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

type Variant struct {
	ID                string            `json:"id"`
	ProductID         string            `json:"product_id"`
	SKU               string            `json:"sku"`
	Options           map[string]string `json:"options,omitempty"`
	PriceCents        int64             `json:"price_cents"`
	CostCents         int64             `json:"cost_cents"`
	LowStockThreshold int               `json:"low_stock_threshold"`
	StockByBranch     map[string]int    `json:"stock_by_branch"`
}

type Product struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Category string        `json:"category"`
	ImageURL string        `json:"image_url,omitempty"`
	Favorite bool          `json:"favorite"`
	Active   bool          `json:"active"`
	Axes     []VariantAxis `json:"axes,omitempty"`
	Variants []Variant     `json:"variants"`
}

// RequiresVariantSelection reports whether the operator must pick a variant
// before the product can enter a cart.
func (p Product) RequiresVariantSelection() bool {
	return len(p.Variants) > 1
}

// Validate checks that every variant carries a distinct option combination.
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" || len(p.Variants) == 0 {
		return Validationf("product requires id, name and at least one variant")
	}
	seen := make(map[string]string, len(p.Variants))
	for _, v := range p.Variants {
		if strings.TrimSpace(v.ID) == "" || strings.TrimSpace(v.SKU) == "" {
			return Validationf("product %s has a variant without id or sku", p.ID)
		}
		if v.PriceCents < 0 || v.CostCents < 0 {
			return Validationf("variant %s has a negative price or cost", v.ID)
		}
		key := optionKey(v.Options)
		if other, dup := seen[key]; dup {
			return Validationf("variants %s and %s of product %s share options %q", other, v.ID, p.ID, key)
		}
		seen[key] = v.ID
	}
	return nil
}

func optionKey(options map[string]string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, options[k]))
	}
	return strings.Join(parts, ";")
}

// CartLine is a variant captured into a cart together with the display fields
// and stock ceiling observed when it was added. Refund sales reuse it with a
// negated unit price.
type CartLine struct {
	VariantID      string `json:"variant_id"`
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	ImageURL       string `json:"image_url,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
	Qty            int    `json:"qty"`
	DiscountCents  int64  `json:"discount_cents"`
	StockCeiling   int    `json:"stock_ceiling"`
}

func (l CartLine) GrossCents() int64 {
	return l.UnitPriceCents * int64(l.Qty)
}

func (l CartLine) NetCents() int64 {
	return l.GrossCents() - l.DiscountCents
}

type HeldSale struct {
	ID          string     `json:"id"`
	BranchID    string     `json:"branch_id"`
	TerminalID  string     `json:"terminal_id"`
	CashierName string     `json:"cashier_name"`
	Note        string     `json:"note,omitempty"`
	Lines       []CartLine `json:"lines"`
	TotalCents  int64      `json:"total_cents"`
	HeldAt      time.Time  `json:"held_at"`
}

type Customer struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Phone              string `json:"phone,omitempty"`
	Email              string `json:"email,omitempty"`
	CreditBalanceCents int64  `json:"credit_balance_cents"`
	CreditLimitCents   *int64 `json:"credit_limit_cents,omitempty"`
}

type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCredit   PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentCredit:
		return true
	}
	return false
}

type Payment struct {
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
}

type SaleStatus string

const (
	SalePaid     SaleStatus = "paid"
	SalePending  SaleStatus = "pending"
	SaleCredit   SaleStatus = "credit"
	SaleRefunded SaleStatus = "refunded"
)

// Sale is immutable once recorded. Refunds are separate sales with a negative
// amount that point back at the sale they reverse.
type Sale struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customer_id"`
	CustomerName   string     `json:"customer_name"`
	CashierName    string     `json:"cashier_name"`
	BranchID       string     `json:"branch_id"`
	BranchName     string     `json:"branch_name"`
	TerminalID     string     `json:"terminal_id"`
	CreatedAt      time.Time  `json:"created_at"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxCents       int64      `json:"tax_cents"`
	AmountCents    int64      `json:"amount_cents"`
	ChangeCents    int64      `json:"change_cents"`
	Status         SaleStatus `json:"status"`
	Items          []CartLine `json:"items"`
	Payments       []Payment  `json:"payments"`
	OriginalSaleID string     `json:"original_sale_id,omitempty"`
}

func (s Sale) IsRefund() bool {
	return s.Status == SaleRefunded || s.AmountCents < 0
}

// Session is the operator context every terminal operation runs under.
type Session struct {
	BranchID        string `json:"branch_id"`
	BranchName      string `json:"branch_name"`
	TerminalID      string `json:"terminal_id"`
	CashierUsername string `json:"cashier_username"`
	CashierName     string `json:"cashier_name"`
	Role            string `json:"role"`
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.BranchID) == "" || strings.TrimSpace(s.TerminalID) == "" {
		return Validationf("session requires branch and terminal")
	}
	return nil
}

// TerminalKey identifies the live cart and held sales of one terminal.
func (s Session) TerminalKey() string {
	return s.BranchID + "/" + s.TerminalID
}

// Actor is the authenticated operator. BranchIDs lists the branches a
// cashier may open terminals on; empty means every branch.
type Actor struct {
	Username  string
	Role      string
	BranchIDs []string
}

// MayUseBranch reports whether the actor may open a session on branchID.
func (a Actor) MayUseBranch(branchID string) bool {
	if a.Role == "admin" || len(a.BranchIDs) == 0 {
		return true
	}
	for _, id := range a.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}

// HomeBranch is the first assigned branch, or "" for unrestricted actors.
func (a Actor) HomeBranch() string {
	if len(a.BranchIDs) == 0 {
		return ""
	}
	return a.BranchIDs[0]
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	BranchIDs   []string `json:"branch_ids,omitempty"`
	ExpiresAt   string   `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	BranchIDs []string `json:"branch_ids"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	BranchIDs []string  `json:"branch_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	BranchIDs []string
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
