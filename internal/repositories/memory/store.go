// Package memory implements the repository contracts in process. It backs the memory store
// driver used for local development and the service level tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("memory.%s: %s", e.op, e.msg)
}

// IsNotFound reports whether the entity was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports a duplicate insert or a stale version.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable is always false for the in-process store.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, id string) error {
	return &Error{op: op, msg: fmt.Sprintf("%s not found", id), notFound: true}
}

func conflict(op, msg string) error {
	return &Error{op: op, msg: msg, conflict: true}
}

// Store holds every collection. Transactions are serialised and their writes are staged until
// commit, so a failing transaction leaves no trace.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	orders   map[string]domain.Order
	txns     map[string]domain.PaymentTransaction
	products map[string]domain.Product
	counters map[string]int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]domain.Order),
		txns:     make(map[string]domain.PaymentTransaction),
		products: make(map[string]domain.Product),
		counters: make(map[string]int64),
	}
}

type txKey struct{}

type stagedOrder struct {
	order       domain.Order
	baseVersion int64
	insert      bool
}

type stagedTxn struct {
	txn         domain.PaymentTransaction
	baseVersion int64
	insert      bool
}

type txState struct {
	orders map[string]stagedOrder
	txns   map[string]stagedTxn
}

func txFromContext(ctx context.Context) *txState {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txState{
		orders: make(map[string]stagedOrder),
		txns:   make(map[string]stagedTxn),
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *txState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, staged := range tx.orders {
		current, exists := s.orders[id]
		switch {
		case staged.insert && exists:
			return conflict("orders.commit", fmt.Sprintf("order %s already exists", id))
		case !staged.insert && (!exists || current.Version != staged.baseVersion):
			return conflict("orders.commit", fmt.Sprintf("order %s was modified concurrently", id))
		}
	}
	for id, staged := range tx.txns {
		current, exists := s.txns[id]
		switch {
		case staged.insert && exists:
			return conflict("payment_transactions.commit", fmt.Sprintf("transaction %s already exists", id))
		case !staged.insert && (!exists || current.Version != staged.baseVersion):
			return conflict("payment_transactions.commit", fmt.Sprintf("transaction %s was modified concurrently", id))
		}
	}

	for id, staged := range tx.orders {
		s.orders[id] = staged.order
	}
	for id, staged := range tx.txns {
		s.txns[id] = staged.txn
	}
	return nil
}

// Registry adapts the store to repositories.Registry.
type Registry struct {
	store *Store
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps store.
func NewRegistry(store *Store) *Registry {
	if store == nil {
		store = NewStore()
	}
	return &Registry{store: store}
}

// Close is a no-op.
func (r *Registry) Close(context.Context) error { return nil }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return &OrderRepository{store: r.store} }

// PaymentTransactions returns the payment transaction repository.
func (r *Registry) PaymentTransactions() repositories.PaymentTransactionRepository {
	return &PaymentTransactionRepository{store: r.store}
}

// Products returns the catalogue repository.
func (r *Registry) Products() repositories.ProductRepository {
	return &ProductRepository{store: r.store}
}

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository {
	return &CounterRepository{store: r.store}
}

// RunInTx delegates to the store.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.RunInTx(ctx, fn)
}
