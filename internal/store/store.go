package store

import (
	"context"
	"fmt"
	"time"

	"clinicstock/backend/internal/domain"
)

var (
	ErrNotFound        = domain.ErrNotFound
	ErrInvalidInput    = fmt.Errorf("%w: invalid input", domain.ErrValidation)
	ErrUnknownProduct  = fmt.Errorf("%w: unknown product", domain.ErrValidation)
	ErrUnknownSupplier = fmt.Errorf("%w: unknown supplier", domain.ErrValidation)
	ErrDuplicate       = fmt.Errorf("%w: already exists", domain.ErrStateConflict)
)

// OrderMutation computes the next state of an order and the stock adjustments
// that must be committed with it. Stores call it while holding an exclusive
// lock on the order, so it must not call back into the store.
type OrderMutation func(current domain.Order) (domain.Order, []domain.StockAdjustment, error)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, query domain.OrderQuery) (domain.OrderPage, error)
	DeleteOrder(ctx context.Context, id int64) error
	UpdateOrder(ctx context.Context, id int64, mutate OrderMutation) (*domain.OrderUpdate, error)
	GetOrderStats(ctx context.Context) (domain.OrderStats, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// NormalizeQuery applies paging defaults shared by every implementation.
func NormalizeQuery(q domain.OrderQuery) domain.OrderQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
	switch q.SortBy {
	case "created_at", "total_price", "id":
	default:
		q.SortBy = "created_at"
		q.Desc = true
	}
	return q
}

func TotalPages(totalItems int, pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	pages := (totalItems + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}
