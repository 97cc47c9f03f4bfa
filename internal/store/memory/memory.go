package memory

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const (
	MainBranchID  = "main-branch"
	NorthBranchID = "north-branch"
	WalkInID      = "walk-in"
)

type Store struct {
	mu              sync.RWMutex
	productOrder    []string
	products        map[string]domain.Product
	variantProduct  map[string]string
	stock           map[string]map[string]int
	customers       map[string]domain.Customer
	branches        map[string]domain.Branch
	sales           []domain.Sale
	salesByID       map[string]int
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store. Products carry their initial stock in
// Variant.StockByBranch.
func New(branches []domain.Branch, products []domain.Product, customers []domain.Customer) *Store {
	s := &Store{
		products:        make(map[string]domain.Product, len(products)),
		variantProduct:  make(map[string]string),
		stock:           make(map[string]map[string]int),
		customers:       make(map[string]domain.Customer, len(customers)),
		branches:        make(map[string]domain.Branch, len(branches)),
		salesByID:       make(map[string]int),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
	for _, b := range branches {
		s.branches[b.ID] = b
	}
	for _, p := range products {
		stored := p
		stored.Variants = make([]domain.Variant, len(p.Variants))
		for i, v := range p.Variants {
			v.ProductID = p.ID
			s.stock[v.ID] = maps.Clone(v.StockByBranch)
			if s.stock[v.ID] == nil {
				s.stock[v.ID] = make(map[string]int)
			}
			v.StockByBranch = nil
			stored.Variants[i] = v
			s.variantProduct[v.ID] = p.ID
		}
		s.products[p.ID] = stored
		s.productOrder = append(s.productOrder, p.ID)
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD and
// fall back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		branches []string
	}{
		{"admin", adminPwd, "admin", nil},
		{"cashier", cashierPwd, "cashier", []string{MainBranchID}},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			BranchIDs: u.branches,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a demo store with two branches, a walk-in customer and a
// small apparel and grocery catalog.
func NewSeeded() *Store {
	creditLimit := int64(500000)
	s := New(
		[]domain.Branch{
			{ID: MainBranchID, Name: "Main Branch"},
			{ID: NorthBranchID, Name: "North Branch"},
		},
		[]domain.Product{
			{
				ID: "prod-tee", Name: "Basic Tee", Category: "apparel", Active: true,
				Axes: []domain.VariantAxis{{Name: "Size", Options: []string{"S", "M", "L"}}},
				Variants: []domain.Variant{
					{ID: "var-tee-s", SKU: "TEE-S", Options: map[string]string{"Size": "S"}, PriceCents: 12000, CostCents: 7000, LowStockThreshold: 3, StockByBranch: map[string]int{MainBranchID: 10, NorthBranchID: 4}},
					{ID: "var-tee-m", SKU: "TEE-M", Options: map[string]string{"Size": "M"}, PriceCents: 12000, CostCents: 7000, LowStockThreshold: 3, StockByBranch: map[string]int{MainBranchID: 2, NorthBranchID: 6}},
					{ID: "var-tee-l", SKU: "TEE-L", Options: map[string]string{"Size": "L"}, PriceCents: 13000, CostCents: 7500, LowStockThreshold: 3, StockByBranch: map[string]int{MainBranchID: 0, NorthBranchID: 5}},
				},
			},
			{
				ID: "prod-coffee", Name: "House Coffee Beans 250g", Category: "grocery", Active: true, Favorite: true,
				Variants: []domain.Variant{
					{ID: "var-coffee", SKU: "COF-250", PriceCents: 400, CostCents: 250, LowStockThreshold: 5, StockByBranch: map[string]int{MainBranchID: 40, NorthBranchID: 12}},
				},
			},
			{
				ID: "prod-mug", Name: "Ceramic Mug", Category: "homeware", Active: true,
				Axes: []domain.VariantAxis{{Name: "Color", Options: []string{"White", "Black"}}},
				Variants: []domain.Variant{
					{ID: "var-mug-white", SKU: "MUG-WHT", Options: map[string]string{"Color": "White"}, PriceCents: 5500, CostCents: 2000, LowStockThreshold: 2, StockByBranch: map[string]int{MainBranchID: 8}},
					{ID: "var-mug-black", SKU: "MUG-BLK", Options: map[string]string{"Color": "Black"}, PriceCents: 5500, CostCents: 2000, LowStockThreshold: 2, StockByBranch: map[string]int{MainBranchID: 1}},
				},
			},
			{
				ID: "prod-tote", Name: "Canvas Tote", Category: "apparel", Active: false,
				Variants: []domain.Variant{
					{ID: "var-tote", SKU: "TOTE-01", PriceCents: 9000, CostCents: 3000, StockByBranch: map[string]int{MainBranchID: 20}},
				},
			},
		},
		[]domain.Customer{
			{ID: WalkInID, Name: "Walk-in Customer"},
			{ID: "cust-rina", Name: "Rina Hartono", Phone: "+62-811-0001", CreditLimitCents: &creditLimit},
			{ID: "cust-budi", Name: "Budi Santoso", Email: "budi@example.com"},
		},
	)
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		products = append(products, s.productLocked(id))
	}
	slices.SortStableFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) productLocked(id string) domain.Product {
	p := s.products[id]
	p.Axes = slices.Clone(p.Axes)
	variants := make([]domain.Variant, len(p.Variants))
	for i, v := range p.Variants {
		v.Options = maps.Clone(v.Options)
		v.StockByBranch = maps.Clone(s.stock[v.ID])
		variants[i] = v
	}
	p.Variants = variants
	return p
}

// StockOf reports the on-hand quantity of a variant at a branch.
func (s *Store) StockOf(variantID string, branchID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stock[variantID][branchID]
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := slices.Collect(maps.Values(s.branches))
	slices.SortFunc(branches, func(a, b domain.Branch) int { return strings.Compare(a.ID, b.ID) })
	return branches, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale := cloneSale(s.sales[idx])
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, branchID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for i := len(s.sales) - 1; i >= 0; i-- {
		if branchID != "" && s.sales[i].BranchID != branchID {
			continue
		}
		result = append(result, cloneSale(s.sales[i]))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ReturnedQuantities(_ context.Context, saleID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returned := make(map[string]int)
	for _, sale := range s.sales {
		if sale.OriginalSaleID != saleID {
			continue
		}
		for _, item := range sale.Items {
			returned[item.VariantID] += item.Qty
		}
	}
	return returned, nil
}

func (s *Store) AdjustStock(ctx context.Context, variantID string, branchID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks().AdjustStock(ctx, variantID, branchID, delta)
}

func (s *Store) AdjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks().AdjustCustomerCredit(ctx, customerID, deltaCents)
}

func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks().RecordSale(ctx, sale)
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	user.BranchIDs = slices.Clone(user.BranchIDs)
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		user.BranchIDs = slices.Clone(user.BranchIDs)
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	src.Items = slices.Clone(src.Items)
	src.Payments = slices.Clone(src.Payments)
	return src
}
