package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/repositories"
)

// PaymentTransactionRepository implements repositories.PaymentTransactionRepository.
type PaymentTransactionRepository struct {
	store *Store
}

var _ repositories.PaymentTransactionRepository = (*PaymentTransactionRepository)(nil)

// Insert stores a new transaction at version 1.
func (r *PaymentTransactionRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) error {
	txn = cloneTxn(txn)
	txn.Version = 1
	if tx := txFromContext(ctx); tx != nil {
		if _, ok := tx.txns[txn.ID]; ok {
			return conflict("payment_transactions.insert", "transaction "+txn.ID+" already exists")
		}
		r.store.mu.RLock()
		_, exists := r.store.txns[txn.ID]
		r.store.mu.RUnlock()
		if exists {
			return conflict("payment_transactions.insert", "transaction "+txn.ID+" already exists")
		}
		tx.txns[txn.ID] = stagedTxn{txn: txn, insert: true}
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.txns[txn.ID]; exists {
		return conflict("payment_transactions.insert", "transaction "+txn.ID+" already exists")
	}
	r.store.txns[txn.ID] = txn
	return nil
}

// Update replaces the transaction when its version matches.
func (r *PaymentTransactionRepository) Update(ctx context.Context, txn domain.PaymentTransaction) error {
	next := cloneTxn(txn)
	next.Version = txn.Version + 1
	if tx := txFromContext(ctx); tx != nil {
		if staged, ok := tx.txns[txn.ID]; ok {
			if staged.txn.Version != txn.Version {
				return conflict("payment_transactions.update", "stale transaction version")
			}
			staged.txn = next
			tx.txns[txn.ID] = staged
			return nil
		}
		r.store.mu.RLock()
		current, exists := r.store.txns[txn.ID]
		r.store.mu.RUnlock()
		if !exists {
			return notFound("payment_transactions.update", txn.ID)
		}
		if current.Version != txn.Version {
			return conflict("payment_transactions.update", "stale transaction version")
		}
		tx.txns[txn.ID] = stagedTxn{txn: next, baseVersion: current.Version}
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, exists := r.store.txns[txn.ID]
	if !exists {
		return notFound("payment_transactions.update", txn.ID)
	}
	if current.Version != txn.Version {
		return conflict("payment_transactions.update", "stale transaction version")
	}
	r.store.txns[txn.ID] = next
	return nil
}

// FindByID returns the transaction, preferring writes staged in the current transaction.
func (r *PaymentTransactionRepository) FindByID(ctx context.Context, txnID string) (domain.PaymentTransaction, error) {
	txnID = strings.TrimSpace(txnID)
	if tx := txFromContext(ctx); tx != nil {
		if staged, ok := tx.txns[txnID]; ok {
			return cloneTxn(staged.txn), nil
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	txn, ok := r.store.txns[txnID]
	if !ok {
		return domain.PaymentTransaction{}, notFound("payment_transactions.get", txnID)
	}
	return cloneTxn(txn), nil
}

// ListByOrder returns the transactions of an order, oldest first.
func (r *PaymentTransactionRepository) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	r.store.mu.RLock()
	var out []domain.PaymentTransaction
	for _, txn := range r.store.txns {
		if txn.OrderID == orderID {
			out = append(out, cloneTxn(txn))
		}
	}
	r.store.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

// ListPending returns pending transactions older than the cutoff, oldest first.
func (r *PaymentTransactionRepository) ListPending(_ context.Context, filter repositories.PendingPaymentFilter) ([]domain.PaymentTransaction, error) {
	r.store.mu.RLock()
	var out []domain.PaymentTransaction
	for _, txn := range r.store.txns {
		if txn.Status != domain.PaymentStatusPending {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !txn.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if filter.Provider != "" && txn.Provider != filter.Provider {
			continue
		}
		out = append(out, cloneTxn(txn))
	}
	r.store.mu.RUnlock()
	sortByCreated(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortByCreated(txns []domain.PaymentTransaction) {
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}

func cloneTxn(txn domain.PaymentTransaction) domain.PaymentTransaction {
	txn.PayDate = cloneTime(txn.PayDate)
	txn.RefundedAt = cloneTime(txn.RefundedAt)
	return txn
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
