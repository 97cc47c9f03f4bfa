package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/catalog"
	"retailpos/backend/internal/checkout"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/hold"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/returns"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// Event bus topics. Cart events carry a domain.CartView, sale events a
// domain.Sale. Handlers run after the service lock is released.
const (
	TopicCartChanged  = "cart:changed"
	TopicSaleRecorded = "sale:recorded"
)

// ErrCartNotEmpty guards resume against silently replacing a live cart.
var ErrCartNotEmpty = fmt.Errorf("%w: live cart is not empty", domain.ErrBusinessRule)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	TaxRate         decimal.Decimal
	WalkInID        string
	DefaultBranchID string
	ReceiptTitle    string
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	Bus             EventBus.Bus
}

// terminal is the live state of one branch terminal.
type terminal struct {
	branchID   string
	terminalID string
	cart       cart.Cart
	returns    *returns.Processor
}

type Service struct {
	repo      store.Repository
	holds     hold.Store
	finalizer *checkout.Finalizer
	logger    *zap.Logger
	metrics   *metrics.Metrics
	bus       EventBus.Bus

	taxRate         decimal.Decimal
	walkInID        string
	defaultBranchID string
	receiptTitle    string

	mu        sync.Mutex
	catalog   *catalog.Index
	terminals map[string]*terminal
}

func New(repo store.Repository, holds hold.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = EventBus.New()
	}
	if opts.TaxRate.IsZero() {
		opts.TaxRate = cart.DefaultTaxRate
	}
	if opts.WalkInID == "" {
		opts.WalkInID = "walk-in"
	}
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "main-branch"
	}

	return &Service{
		repo:            repo,
		holds:           holds,
		finalizer:       checkout.New(repo, opts.Logger, opts.Metrics),
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		bus:             opts.Bus,
		taxRate:         opts.TaxRate,
		walkInID:        opts.WalkInID,
		defaultBranchID: opts.DefaultBranchID,
		receiptTitle:    opts.ReceiptTitle,
		terminals:       make(map[string]*terminal),
	}
}

// Subscribe registers fn for one of the Topic constants.
func (s *Service) Subscribe(topic string, fn any) error {
	return s.bus.Subscribe(topic, fn)
}

func (s *Service) WalkInID() string {
	return s.walkInID
}

func (s *Service) TaxRate() decimal.Decimal {
	return s.taxRate
}

// ResolveSession builds the operator session for an authenticated actor on
// a terminal. An empty branch selects the actor's home branch, falling back to
// the default branch. A branch the actor is not assigned to is forbidden.
func (s *Service) ResolveSession(ctx context.Context, actor domain.Actor, branchID string, terminalID string) (domain.Session, error) {
	branchID = defaultString(strings.TrimSpace(branchID), defaultString(actor.HomeBranch(), s.defaultBranchID))
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return domain.Session{}, domain.Validationf("terminal id is required")
	}

	branch, err := s.repo.GetBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, domain.NotFoundf("branch %s", branchID)
		}
		return domain.Session{}, domain.External("get branch", err)
	}
	if !actor.MayUseBranch(branch.ID) {
		return domain.Session{}, domain.Forbiddenf("%s is not assigned to branch %s", actor.Username, branch.ID)
	}

	return domain.Session{
		BranchID:        branch.ID,
		BranchName:      branch.Name,
		TerminalID:      terminalID,
		CashierUsername: actor.Username,
		CashierName:     defaultString(actor.Username, "system"),
		Role:            actor.Role,
	}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.catalogLocked(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Products(), nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) ListSales(ctx context.Context, branchID string, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListSales(ctx, branchID, limit)
}

func (s *Service) LowStock(ctx context.Context, session domain.Session) ([]domain.LowStockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.catalogLocked(ctx)
	if err != nil {
		return nil, err
	}
	return idx.LowStock(session.BranchID), nil
}

// RefreshCatalog reloads products and stock and re-syncs every live cart.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	s.mu.Lock()
	views, err := s.refreshLocked(ctx, "")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publishCarts(views)
	return nil
}

// SyncStock reloads stock and returns the reconciled cart of the terminal.
func (s *Service) SyncStock(ctx context.Context, session domain.Session) (domain.CartView, error) {
	if err := session.Validate(); err != nil {
		return domain.CartView{}, err
	}
	s.mu.Lock()
	views, err := s.refreshLocked(ctx, session.BranchID)
	view := s.viewLocked(s.terminalLocked(session))
	s.mu.Unlock()
	if err != nil {
		return domain.CartView{}, err
	}
	s.publishCarts(views)
	return view, nil
}

func (s *Service) Snapshot(_ context.Context, session domain.Session) (domain.CartView, error) {
	if err := session.Validate(); err != nil {
		return domain.CartView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(s.terminalLocked(session)), nil
}

func (s *Service) AddVariant(ctx context.Context, session domain.Session, variantID string) (domain.CartView, error) {
	variantID = strings.TrimSpace(variantID)
	return s.editCart(ctx, session, func(idx *catalog.Index, c cart.Cart) (cart.Cart, error) {
		p, v, ok := idx.Lookup(variantID)
		if !ok {
			return c, domain.NotFoundf("variant %s", variantID)
		}
		return cart.Reduce(c, cart.AddItem{Line: catalog.NewLine(p, v, session.BranchID)}), nil
	})
}

// AddProduct adds a product that has a single variant. Products with several
// variants need the variant chosen first.
func (s *Service) AddProduct(ctx context.Context, session domain.Session, productID string) (domain.CartView, error) {
	productID = strings.TrimSpace(productID)
	return s.editCart(ctx, session, func(idx *catalog.Index, c cart.Cart) (cart.Cart, error) {
		for _, p := range idx.Products() {
			if p.ID != productID {
				continue
			}
			if p.RequiresVariantSelection() {
				return c, domain.BusinessRulef("product %s requires a variant selection", productID)
			}
			if len(p.Variants) == 0 {
				return c, domain.NotFoundf("product %s has no variants", productID)
			}
			return cart.Reduce(c, cart.AddItem{Line: catalog.NewLine(p, p.Variants[0], session.BranchID)}), nil
		}
		return c, domain.NotFoundf("product %s", productID)
	})
}

// ScanSKU resolves a scanned code and adds its variant like AddVariant.
func (s *Service) ScanSKU(ctx context.Context, session domain.Session, sku string) (domain.CartView, error) {
	return s.editCart(ctx, session, func(idx *catalog.Index, c cart.Cart) (cart.Cart, error) {
		p, v, ok := idx.FindBySKU(sku)
		if !ok {
			return c, domain.NotFoundf("sku %q", strings.TrimSpace(sku))
		}
		return cart.Reduce(c, cart.AddItem{Line: catalog.NewLine(p, v, session.BranchID)}), nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, session domain.Session, variantID string) (domain.CartView, error) {
	return s.reduce(ctx, session, cart.RemoveItem{VariantID: variantID})
}

func (s *Service) UpdateQuantity(ctx context.Context, session domain.Session, variantID string, qty int) (domain.CartView, error) {
	return s.reduce(ctx, session, cart.UpdateQuantity{VariantID: variantID, Qty: qty})
}

// UpdateDiscount clamps the amount to the line subtotal before it reaches
// the cart.
func (s *Service) UpdateDiscount(ctx context.Context, session domain.Session, variantID string, amountCents int64) (domain.CartView, error) {
	return s.editCart(ctx, session, func(_ *catalog.Index, c cart.Cart) (cart.Cart, error) {
		line, ok := c.Line(variantID)
		if !ok {
			return c, nil
		}
		return cart.Reduce(c, cart.UpdateDiscount{VariantID: variantID, AmountCents: cart.ClampDiscount(line, amountCents)}), nil
	})
}

func (s *Service) ClearCart(ctx context.Context, session domain.Session) (domain.CartView, error) {
	return s.reduce(ctx, session, cart.Clear{})
}

func (s *Service) reduce(ctx context.Context, session domain.Session, action cart.Action) (domain.CartView, error) {
	return s.editCart(ctx, session, func(_ *catalog.Index, c cart.Cart) (cart.Cart, error) {
		return cart.Reduce(c, action), nil
	})
}

func (s *Service) editCart(ctx context.Context, session domain.Session, edit func(idx *catalog.Index, c cart.Cart) (cart.Cart, error)) (domain.CartView, error) {
	if err := session.Validate(); err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	idx, err := s.catalogLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return domain.CartView{}, err
	}
	t := s.terminalLocked(session)
	next, err := edit(idx, t.cart)
	if err != nil {
		s.mu.Unlock()
		return domain.CartView{}, err
	}
	t.cart = next
	view := s.viewLocked(t)
	s.mu.Unlock()

	s.bus.Publish(TopicCartChanged, view)
	return view, nil
}

func (s *Service) HoldCart(ctx context.Context, session domain.Session, note string) (domain.HeldSale, error) {
	if err := session.Validate(); err != nil {
		return domain.HeldSale{}, err
	}

	s.mu.Lock()
	t := s.terminalLocked(session)
	totals := t.cart.Totals(s.taxRate)
	held, err := s.holds.Hold(ctx, domain.HeldSale{
		BranchID:    session.BranchID,
		TerminalID:  session.TerminalID,
		CashierName: session.CashierName,
		Note:        note,
		Lines:       t.cart.Lines(),
		TotalCents:  totals.TotalCents,
	})
	if err != nil {
		s.mu.Unlock()
		return domain.HeldSale{}, err
	}
	t.cart = cart.Reduce(t.cart, cart.Clear{})
	view := s.viewLocked(t)
	s.mu.Unlock()

	s.logAudit(ctx, session.BranchID, "cart_hold", "held_sale", held.ID, fmt.Sprintf("items=%d,total=%d", len(held.Lines), held.TotalCents))
	s.bus.Publish(TopicCartChanged, view)
	return held, nil
}

func (s *Service) ListHeld(ctx context.Context, session domain.Session) (domain.HeldSaleListResponse, error) {
	if err := session.Validate(); err != nil {
		return domain.HeldSaleListResponse{}, err
	}
	items, err := s.holds.List(ctx, session.BranchID, session.TerminalID)
	if err != nil {
		return domain.HeldSaleListResponse{}, err
	}
	return domain.HeldSaleListResponse{Items: items}, nil
}

// ResumeHeld replaces the live cart with a held sale. A non-empty live cart
// is only replaced when force is set. Resumed lines are re-synced against
// current stock.
func (s *Service) ResumeHeld(ctx context.Context, session domain.Session, heldID string, force bool) (domain.ResumeResponse, error) {
	if err := session.Validate(); err != nil {
		return domain.ResumeResponse{}, err
	}
	heldID = strings.TrimSpace(heldID)
	if heldID == "" {
		return domain.ResumeResponse{}, domain.Validationf("held sale id is required")
	}

	s.mu.Lock()
	t := s.terminalLocked(session)
	if !t.cart.IsEmpty() && !force {
		s.mu.Unlock()
		return domain.ResumeResponse{}, ErrCartNotEmpty
	}
	idx, err := s.catalogLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return domain.ResumeResponse{}, err
	}
	held, err := s.holds.Resume(ctx, session.BranchID, session.TerminalID, heldID)
	if err != nil {
		s.mu.Unlock()
		return domain.ResumeResponse{}, err
	}
	restored, dropped := cart.Sync(cart.Reduce(t.cart, cart.Restore{Lines: held.Lines}), idx.Ceilings(session.BranchID))
	t.cart = restored
	view := s.viewLocked(t)
	s.mu.Unlock()

	s.metrics.CartLinesDropped(dropped)
	s.logAudit(ctx, session.BranchID, "cart_resume", "held_sale", held.ID, fmt.Sprintf("items=%d,dropped=%d,force=%t", len(held.Lines), dropped, force))
	s.bus.Publish(TopicCartChanged, view)
	return domain.ResumeResponse{HeldSaleID: held.ID, Cart: view}, nil
}

func (s *Service) DiscardHeld(ctx context.Context, session domain.Session, heldID string) error {
	if err := session.Validate(); err != nil {
		return err
	}
	heldID = strings.TrimSpace(heldID)
	if heldID == "" {
		return domain.Validationf("held sale id is required")
	}
	if err := s.holds.Discard(ctx, session.BranchID, session.TerminalID, heldID); err != nil {
		return err
	}
	s.logAudit(ctx, session.BranchID, "cart_discard", "held_sale", heldID, "discarded")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.Validationf("date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}

// catalogLocked returns the cached catalog, loading it on first use.
func (s *Service) catalogLocked(ctx context.Context) (*catalog.Index, error) {
	if s.catalog != nil {
		return s.catalog, nil
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, domain.External("list products", err)
	}
	s.catalog = catalog.New(products)
	return s.catalog, nil
}

// refreshLocked reloads the catalog and syncs the carts of branchID, or of
// every branch when branchID is empty. It returns the views of carts that
// changed.
func (s *Service) refreshLocked(ctx context.Context, branchID string) ([]domain.CartView, error) {
	s.catalog = nil
	idx, err := s.catalogLocked(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]domain.CartView, 0)
	for _, t := range s.terminals {
		if branchID != "" && t.branchID != branchID {
			continue
		}
		if t.cart.IsEmpty() {
			continue
		}
		synced, dropped := cart.Sync(t.cart, idx.Ceilings(t.branchID))
		if dropped > 0 {
			s.metrics.CartLinesDropped(dropped)
			s.logger.Info("stock sync dropped cart lines",
				zap.String("branch_id", t.branchID),
				zap.String("terminal_id", t.terminalID),
				zap.Int("dropped", dropped),
			)
		}
		t.cart = synced
		views = append(views, s.viewLocked(t))
	}
	return views, nil
}

func (s *Service) terminalLocked(session domain.Session) *terminal {
	key := session.TerminalKey()
	t, ok := s.terminals[key]
	if !ok {
		t = &terminal{
			branchID:   session.BranchID,
			terminalID: session.TerminalID,
			returns:    returns.New(s.repo, s.logger, s.metrics),
		}
		s.terminals[key] = t
	}
	return t
}

func (s *Service) viewLocked(t *terminal) domain.CartView {
	totals := t.cart.Totals(s.taxRate)
	return domain.CartView{
		BranchID:      t.branchID,
		TerminalID:    t.terminalID,
		Lines:         t.cart.Lines(),
		ItemCount:     totals.ItemCount,
		SubtotalCents: totals.SubtotalCents,
		TaxCents:      totals.TaxCents,
		TotalCents:    totals.TotalCents,
	}
}

func (s *Service) publishCarts(views []domain.CartView) {
	for _, view := range views {
		s.bus.Publish(TopicCartChanged, view)
	}
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
