package memory

import (
	"context"
	"strings"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/repositories"
)

// ProductRepository implements repositories.ProductRepository.
type ProductRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// FindByID returns the product.
func (r *ProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get", productID)
	}
	return product, nil
}

// Upsert stores product unconditionally.
func (r *ProductRepository) Upsert(_ context.Context, product domain.Product) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.products[product.ID] = product
	return nil
}

// CounterRepository implements repositories.CounterRepository.
type CounterRepository struct {
	store *Store
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// Next increments the counter by step, or by one when step is not positive.
func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, repositories.NewCounterError("", repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.counters[counterID] += step
	return r.store.counters[counterID], nil
}
