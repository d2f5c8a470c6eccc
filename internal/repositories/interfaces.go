package repositories

import (
	"context"
	"time"

	domain "github.com/mediashop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PaymentTransactions() PaymentTransactionRepository
	Products() ProductRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Reads performed inside fn observe a consistent snapshot and writes commit atomically.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders. Update is an optimistic write: the stored Version must equal
// order.Version, and the persisted document carries Version+1. A mismatch returns a conflict.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentTransactionRepository persists payment attempts keyed by their merchant reference.
// Update follows the same optimistic contract as OrderRepository.Update.
type PaymentTransactionRepository interface {
	Insert(ctx context.Context, txn domain.PaymentTransaction) error
	Update(ctx context.Context, txn domain.PaymentTransaction) error
	FindByID(ctx context.Context, txnID string) (domain.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
	ListPending(ctx context.Context, filter PendingPaymentFilter) ([]domain.PaymentTransaction, error)
}

// ProductRepository reads the catalogue.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}

// CounterRepository provides sequential counters.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// PendingPaymentFilter selects pending transactions created before CreatedBefore, oldest first.
type PendingPaymentFilter struct {
	CreatedBefore time.Time
	Provider      string
	Limit         int
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
