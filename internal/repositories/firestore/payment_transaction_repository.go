package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mediashop/api/internal/domain"
	pfirestore "github.com/mediashop/api/internal/platform/firestore"
	"github.com/mediashop/api/internal/repositories"
)

const paymentTransactionsCollection = "paymentTransactions"

type paymentTransactionDocument struct {
	OrderID       string     `firestore:"orderId"`
	CustomerID    string     `firestore:"customerId,omitempty"`
	Provider      string     `firestore:"provider"`
	ProviderTxnNo string     `firestore:"providerTxnNo,omitempty"`
	GatewayTxnID  string     `firestore:"gatewayTxnId,omitempty"`
	Amount        int64      `firestore:"amount"`
	Currency      string     `firestore:"currency"`
	BankCode      string     `firestore:"bankCode,omitempty"`
	ResponseCode  string     `firestore:"responseCode,omitempty"`
	Status        string     `firestore:"status"`
	PayDate       *time.Time `firestore:"payDate,omitempty"`
	RefundedAt    *time.Time `firestore:"refundedAt,omitempty"`
	Version       int64      `firestore:"version"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

// PaymentTransactionRepository stores payment attempts keyed by merchant reference.
type PaymentTransactionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[paymentTransactionDocument]
}

var _ repositories.PaymentTransactionRepository = (*PaymentTransactionRepository)(nil)

// NewPaymentTransactionRepository constructs the Firestore payment transaction repository.
func NewPaymentTransactionRepository(provider *pfirestore.Provider) (*PaymentTransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment transaction repository requires firestore provider")
	}
	return &PaymentTransactionRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[paymentTransactionDocument](provider, paymentTransactionsCollection, nil, nil),
	}, nil
}

func (r *PaymentTransactionRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) error {
	ref, err := r.base.DocumentRef(ctx, txn.ID)
	if err != nil {
		return err
	}
	doc := encodePaymentTransaction(txn)
	doc.Version = 1
	if err := createDocument(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("paymentTransactions.insert", err)
	}
	return nil
}

func (r *PaymentTransactionRepository) Update(ctx context.Context, txn domain.PaymentTransaction) error {
	ref, err := r.base.DocumentRef(ctx, txn.ID)
	if err != nil {
		return err
	}
	doc := encodePaymentTransaction(txn)
	doc.Version = txn.Version + 1
	return writeVersioned(ctx, r.provider, ref, txn.Version, doc, "paymentTransactions.update")
}

func (r *PaymentTransactionRepository) FindByID(ctx context.Context, txnID string) (domain.PaymentTransaction, error) {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(txnID))
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	snap, err := getSnapshot(ctx, ref)
	if err != nil {
		return domain.PaymentTransaction{}, pfirestore.WrapError("paymentTransactions.get", err)
	}
	var doc paymentTransactionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PaymentTransaction{}, fmt.Errorf("paymentTransactions.get: decode %s: %w", ref.ID, err)
	}
	observe(ctx, ref, doc.Version)
	return decodePaymentTransaction(ref.ID, doc), nil
}

func (r *PaymentTransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	orderID = strings.TrimSpace(orderID)
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentTransaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodePaymentTransaction(doc.ID, doc.Data))
	}
	return out, nil
}

// ListPending returns pending transactions created before the cutoff, oldest first.
func (r *PaymentTransactionRepository) ListPending(ctx context.Context, filter repositories.PendingPaymentFilter) ([]domain.PaymentTransaction, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.PaymentStatusPending))
		if provider := strings.TrimSpace(filter.Provider); provider != "" {
			q = q.Where("provider", "==", provider)
		}
		if !filter.CreatedBefore.IsZero() {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Asc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentTransaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodePaymentTransaction(doc.ID, doc.Data))
	}
	return out, nil
}

func encodePaymentTransaction(txn domain.PaymentTransaction) paymentTransactionDocument {
	return paymentTransactionDocument{
		OrderID:       txn.OrderID,
		CustomerID:    txn.CustomerID,
		Provider:      txn.Provider,
		ProviderTxnNo: txn.ProviderTxnNo,
		GatewayTxnID:  txn.GatewayTxnID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		BankCode:      txn.BankCode,
		ResponseCode:  txn.ResponseCode,
		Status:        string(txn.Status),
		PayDate:       txn.PayDate,
		RefundedAt:    txn.RefundedAt,
		CreatedAt:     txn.CreatedAt,
		UpdatedAt:     txn.UpdatedAt,
	}
}

func decodePaymentTransaction(id string, doc paymentTransactionDocument) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:            id,
		OrderID:       doc.OrderID,
		CustomerID:    doc.CustomerID,
		Provider:      doc.Provider,
		ProviderTxnNo: doc.ProviderTxnNo,
		GatewayTxnID:  doc.GatewayTxnID,
		Amount:        doc.Amount,
		Currency:      doc.Currency,
		BankCode:      doc.BankCode,
		ResponseCode:  doc.ResponseCode,
		Status:        domain.PaymentStatus(doc.Status),
		PayDate:       utcPointer(doc.PayDate),
		RefundedAt:    utcPointer(doc.RefundedAt),
		Version:       doc.Version,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
}
