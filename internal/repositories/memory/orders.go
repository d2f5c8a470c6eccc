package memory

import (
	"context"
	"slices"
	"sort"
	"strings"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/platform/pagination"
	"github.com/mediashop/api/internal/repositories"
)

const defaultPageSize = 20

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert stores a new order at version 1.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	order = cloneOrder(order)
	order.Version = 1
	if tx := txFromContext(ctx); tx != nil {
		if _, ok := tx.orders[order.ID]; ok {
			return conflict("orders.insert", "order "+order.ID+" already exists")
		}
		r.store.mu.RLock()
		_, exists := r.store.orders[order.ID]
		r.store.mu.RUnlock()
		if exists {
			return conflict("orders.insert", "order "+order.ID+" already exists")
		}
		tx.orders[order.ID] = stagedOrder{order: order, insert: true}
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.orders[order.ID]; exists {
		return conflict("orders.insert", "order "+order.ID+" already exists")
	}
	r.store.orders[order.ID] = order
	return nil
}

// Update replaces the order when its version matches.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	next := cloneOrder(order)
	next.Version = order.Version + 1
	if tx := txFromContext(ctx); tx != nil {
		if staged, ok := tx.orders[order.ID]; ok {
			if staged.order.Version != order.Version {
				return conflict("orders.update", "stale order version")
			}
			staged.order = next
			tx.orders[order.ID] = staged
			return nil
		}
		r.store.mu.RLock()
		current, exists := r.store.orders[order.ID]
		r.store.mu.RUnlock()
		if !exists {
			return notFound("orders.update", order.ID)
		}
		if current.Version != order.Version {
			return conflict("orders.update", "stale order version")
		}
		tx.orders[order.ID] = stagedOrder{order: next, baseVersion: current.Version}
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, exists := r.store.orders[order.ID]
	if !exists {
		return notFound("orders.update", order.ID)
	}
	if current.Version != order.Version {
		return conflict("orders.update", "stale order version")
	}
	r.store.orders[order.ID] = next
	return nil
}

// FindByID returns the order, preferring writes staged in the current transaction.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if tx := txFromContext(ctx); tx != nil {
		if staged, ok := tx.orders[orderID]; ok {
			return cloneOrder(staged.order), nil
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get", orderID)
	}
	return cloneOrder(order), nil
}

// List returns orders newest first, paging with the same keyset cursor as the Firestore store.
func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.store.mu.RLock()
	matches := make([]domain.Order, 0, len(r.store.orders))
	for _, order := range r.store.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	r.store.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	cursor, hasCursor, err := pagination.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	offset := 0
	if hasCursor {
		offset = len(matches)
		for i, order := range matches {
			if cursor.After(order.CreatedAt, order.ID) {
				offset = i
				break
			}
		}
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	end := offset + size
	if end > len(matches) {
		end = len(matches)
	}

	page := domain.CursorPage[domain.Order]{Items: matches[offset:end]}
	if end < len(matches) {
		last := matches[end-1]
		token, err := pagination.EncodeOrderCursor(pagination.OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.ConfirmedAt = cloneTime(order.ConfirmedAt)
	order.ShippedAt = cloneTime(order.ShippedAt)
	order.DeliveredAt = cloneTime(order.DeliveredAt)
	order.CancelledAt = cloneTime(order.CancelledAt)
	order.ReturnedAt = cloneTime(order.ReturnedAt)
	order.Delivery.DeliveredAt = cloneTime(order.Delivery.DeliveredAt)
	return order
}
