package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Seed upserts master data, including per-branch stock from
// Variant.StockByBranch.
func (s *Store) Seed(ctx context.Context, branches []domain.Branch, products []domain.Product, customers []domain.Customer) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, b := range branches {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO branches (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, b.ID, b.Name); err != nil {
			return err
		}
	}

	for _, p := range products {
		if err := p.Validate(); err != nil {
			return err
		}
		axes, err := json.Marshal(p.Axes)
		if err != nil {
			return err
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO products (id, name, category, image_url, favorite, active, axes, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, category = EXCLUDED.category, image_url = EXCLUDED.image_url,
				favorite = EXCLUDED.favorite, active = EXCLUDED.active, axes = EXCLUDED.axes, updated_at = now()
		`, p.ID, p.Name, p.Category, p.ImageURL, p.Favorite, p.Active, string(axes)); err != nil {
			return err
		}
		for _, v := range p.Variants {
			options, err := json.Marshal(nonNilOptions(v.Options))
			if err != nil {
				return err
			}
			if _, err := pgTx.ExecContext(ctx, `
				INSERT INTO variants (id, product_id, sku, options, price_cents, cost_cents, low_stock_threshold)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (id) DO UPDATE
				SET sku = EXCLUDED.sku, options = EXCLUDED.options, price_cents = EXCLUDED.price_cents,
					cost_cents = EXCLUDED.cost_cents, low_stock_threshold = EXCLUDED.low_stock_threshold
			`, v.ID, p.ID, v.SKU, string(options), v.PriceCents, v.CostCents, v.LowStockThreshold); err != nil {
				return err
			}
			for branchID, qty := range v.StockByBranch {
				if _, err := pgTx.ExecContext(ctx, `
					INSERT INTO variant_stocks (variant_id, branch_id, qty, updated_at)
					VALUES ($1,$2,$3,now())
					ON CONFLICT (variant_id, branch_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = now()
				`, v.ID, branchID, qty); err != nil {
					return err
				}
			}
		}
	}

	for _, c := range customers {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO customers (id, name, phone, email, credit_balance_cents, credit_limit_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email,
				credit_limit_cents = EXCLUDED.credit_limit_cents
		`, c.ID, c.Name, c.Phone, c.Email, c.CreditBalanceCents, c.CreditLimitCents); err != nil {
			return err
		}
	}

	return pgTx.Commit()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, image_url, favorite, active, axes
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	index := make(map[string]int, 128)
	for rows.Next() {
		var p domain.Product
		var axes []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.ImageURL, &p.Favorite, &p.Active, &axes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(axes, &p.Axes); err != nil {
			return nil, err
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stock, err := s.stockByVariant(ctx)
	if err != nil {
		return nil, err
	}

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, sku, options, price_cents, cost_cents, low_stock_threshold
		FROM variants
		ORDER BY product_id, sku
	`)
	if err != nil {
		return nil, err
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var v domain.Variant
		var options []byte
		if err := variantRows.Scan(&v.ID, &v.ProductID, &v.SKU, &options, &v.PriceCents, &v.CostCents, &v.LowStockThreshold); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &v.Options); err != nil {
			return nil, err
		}
		v.StockByBranch = stock[v.ID]
		if v.StockByBranch == nil {
			v.StockByBranch = map[string]int{}
		}
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	if err := variantRows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) stockByVariant(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant_id, branch_id, qty FROM variant_stocks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stock := make(map[string]map[string]int, 128)
	for rows.Next() {
		var variantID, branchID string
		var qty int
		if err := rows.Scan(&variantID, &branchID, &qty); err != nil {
			return nil, err
		}
		if stock[variantID] == nil {
			stock[variantID] = make(map[string]int)
		}
		stock[variantID][branchID] = qty
	}
	return stock, rows.Err()
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, credit_balance_cents, credit_limit_cents
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, credit_balance_cents, credit_limit_cents
		FROM customers
		WHERE id = $1
	`, id)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	var limit sql.NullInt64
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.CreditBalanceCents, &limit); err != nil {
		return domain.Customer{}, err
	}
	if limit.Valid {
		value := limit.Int64
		c.CreditLimitCents = &value
	}
	return c, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM branches WHERE id = $1`, id).Scan(&b.ID, &b.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM branches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id)
}

func (s *Store) ListSales(ctx context.Context, branchID string, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	sales := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := loadSale(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func loadSale(ctx context.Context, q queryer, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var status string
	var original sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, customer_id, customer_name, cashier_name, branch_id, branch_name, terminal_id,
			subtotal_cents, tax_cents, amount_cents, change_cents, status, original_sale_id, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&sale.ID, &sale.CustomerID, &sale.CustomerName, &sale.CashierName, &sale.BranchID, &sale.BranchName, &sale.TerminalID,
		&sale.SubtotalCents, &sale.TaxCents, &sale.AmountCents, &sale.ChangeCents, &status, &original, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Status = domain.SaleStatus(status)
	sale.OriginalSaleID = original.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemRows, err := q.QueryContext(ctx, `
		SELECT variant_id, product_id, name, sku, image_url, unit_price_cents, unit_cost_cents, qty, discount_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, err
	}
	for itemRows.Next() {
		var item domain.CartLine
		if err := itemRows.Scan(&item.VariantID, &item.ProductID, &item.Name, &item.SKU, &item.ImageURL,
			&item.UnitPriceCents, &item.UnitCostCents, &item.Qty, &item.DiscountCents); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	paymentRows, err := q.QueryContext(ctx, `
		SELECT method, amount_cents
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var p domain.Payment
		var method string
		if err := paymentRows.Scan(&method, &p.AmountCents); err != nil {
			return nil, err
		}
		p.Method = domain.PaymentMethod(method)
		sale.Payments = append(sale.Payments, p)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.variant_id, COALESCE(SUM(si.qty), 0)
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		WHERE s.original_sale_id = $1
		GROUP BY si.variant_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returned := make(map[string]int)
	for rows.Next() {
		var variantID string
		var qty int
		if err := rows.Scan(&variantID, &qty); err != nil {
			return nil, err
		}
		returned[variantID] = qty
	}
	return returned, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, variantID string, branchID string, delta int) error {
	return sinks{q: s.db}.AdjustStock(ctx, variantID, branchID, delta)
}

func (s *Store) AdjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error {
	return sinks{q: s.db}.AdjustCustomerCredit(ctx, customerID, deltaCents)
}

// RecordSale writes the sale with its items and payments in one transaction.
func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx store.Sinks) error {
		return tx.RecordSale(ctx, sale)
	})
}

// WithinTx runs fn inside a serializable transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Sinks) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, sinks{q: pgTx, savepoints: true}); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, branch_ids, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.Active, strings.Join(user.BranchIDs, ","), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, branch_ids, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var branchIDs string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &branchIDs, &user.CreatedAt); err != nil {
			return nil, err
		}
		if branchIDs != "" {
			user.BranchIDs = strings.Split(branchIDs, ",")
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func nonNilOptions(options map[string]string) map[string]string {
	if options == nil {
		return map[string]string{}
	}
	return options
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
