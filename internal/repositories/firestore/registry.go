package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/mediashop/api/internal/platform/firestore"
	"github.com/mediashop/api/internal/repositories"
)

// Registry wires the Firestore repositories behind one provider. RunInTx binds a Firestore
// transaction to the context, and every repository call made with that context joins it.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	txns     *PaymentTransactionRepository
	products *ProductRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	txns, err := NewPaymentTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		txns:     txns,
		products: products,
		counters: counters,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentTransactions() repositories.PaymentTransactionRepository { return r.txns }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx runs fn in a Firestore transaction. fn may be retried on contention.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInContext(ctx, fn)
}

// Close releases the shared client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
