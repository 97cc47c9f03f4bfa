package store

import (
	"context"
	"fmt"
	"time"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound      = domain.ErrNotFound
	ErrInvalidRecord = fmt.Errorf("%w: invalid record", domain.ErrValidation)
)

// Sinks are the only writes the sale and return workflows perform.
type Sinks interface {
	// AdjustStock adds delta to the on-hand quantity of a variant at a
	// branch. The result is not bounds-checked and may go negative.
	AdjustStock(ctx context.Context, variantID string, branchID string, delta int) error
	AdjustCustomerCredit(ctx context.Context, customerID string, deltaCents int64) error
	RecordSale(ctx context.Context, sale domain.Sale) error
}

type Repository interface {
	Sinks

	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, branchID string, limit int) ([]domain.Sale, error)
	// ReturnedQuantities sums, per variant, what refund sales referencing
	// saleID have already taken back.
	ReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error)

	// WithinTx runs fn against sinks whose writes become visible together
	// when fn returns nil and are discarded when it returns an error.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Sinks) error) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
